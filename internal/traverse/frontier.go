package traverse

// Order selects the traversal order.
type Order int

const (
	// OrderBFS visits all entries at one depth before any entry at the
	// next depth. This is the default.
	OrderBFS Order = iota
	// OrderDFS visits a directory's contents immediately after the
	// directory itself, before its siblings (pre-order).
	OrderDFS
	// OrderPostOrder visits a directory only after all of its
	// descendants have been visited.
	OrderPostOrder
)

func (o Order) String() string {
	switch o {
	case OrderBFS:
		return "bfs"
	case OrderDFS:
		return "dfs"
	case OrderPostOrder:
		return "postorder"
	default:
		return "unknown"
	}
}

// frontierEntry is a pending-work item: an ancestor chain reference plus
// the type hint from enumeration. A closing entry is the post-order
// marker that delivers a directory after its descendants.
type frontierEntry struct {
	node    *node
	typ     Type
	closing bool
}

// frontier is the ordered collection of discovered-but-not-yet-visited
// entries. BFS mode treats it as a FIFO queue; both DFS modes treat it as
// a stack with each pushed batch kept in directory order on top.
type frontier struct {
	order Order
	items []*frontierEntry
	head  int
}

func newFrontier(order Order) *frontier {
	return &frontier{order: order}
}

func (f *frontier) push(batch []*frontierEntry) {
	if f.order == OrderBFS {
		f.items = append(f.items, batch...)
		return
	}
	// Reversed append so batch[0] pops first.
	for i := len(batch) - 1; i >= 0; i-- {
		f.items = append(f.items, batch[i])
	}
}

func (f *frontier) pop() *frontierEntry {
	if f.order == OrderBFS {
		if f.head >= len(f.items) {
			return nil
		}
		e := f.items[f.head]
		f.items[f.head] = nil
		f.head++
		// Reclaim the drained prefix once it dominates the queue.
		if f.head >= 1024 && f.head*2 >= len(f.items) {
			f.items = append(f.items[:0], f.items[f.head:]...)
			f.head = 0
		}
		return e
	}
	if len(f.items) == 0 {
		return nil
	}
	e := f.items[len(f.items)-1]
	f.items[len(f.items)-1] = nil
	f.items = f.items[:len(f.items)-1]
	return e
}
