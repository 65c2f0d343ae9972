// Package traverse walks directory trees breadth-first by default, under a
// strict budget of open directory handles.
//
// The walk enumerates each directory through a cached handle opened
// relative to its parent, so a handle evicted under descriptor pressure is
// reacquired without ever re-resolving a full path from the root. Symlink
// cycles are detected along the active descent chain when link-following
// is enabled.
package traverse

import (
	"context"
	"errors"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Action is the visitor's directive after each delivery.
type Action int

const (
	// Continue proceeds with the traversal.
	Continue Action = iota
	// Prune skips the entry's descendants but continues elsewhere.
	Prune
	// Stop ends the traversal immediately.
	Stop
)

// VisitFunc is invoked synchronously once per delivered entry. Exactly one
// of the two outcomes is meaningful per call: a readable view of the entry
// (err == nil), or a typed *Error carrying the entry's best-known path.
type VisitFunc func(v *Visit, err error) Action

// Stats counts the work a traversal performed. All fields are updated by
// the single driver goroutine; read them after the walk returns.
type Stats struct {
	Delivered       int // entries delivered to the visitor
	Directories     int // directories enumerated
	Errors          int // entry-scoped errors reported
	StatCalls       int // underlying status fetches
	HandleAcquires  int // handle cache lookups, hits included
	HandleOpens     int // descriptors actually opened
	HandleEvictions int // idle handles closed under budget pressure
	PeakOpenHandles int // high-water mark of concurrently open handles
}

// Options configures a traversal. The zero value walks breadth-first,
// never follows symlinks, has no depth window, and sizes the handle
// budget from the process descriptor limit.
type Options struct {
	// Order selects BFS (default), pre-order DFS, or post-order DFS.
	Order Order

	// FollowRoots resolves symlinks given as root paths.
	FollowRoots bool
	// FollowAll resolves every symlink, including descending into
	// symlinked directories. Implies FollowRoots.
	FollowAll bool

	// MinDepth and MaxDepth bound which entries are delivered. Entries
	// outside the window are still traversed through, just not
	// delivered. MaxDepth 0 means unbounded.
	MinDepth int
	MaxDepth int

	// MaxOpenDirs caps concurrently open directory handles. 0 derives
	// the budget from RLIMIT_NOFILE headroom.
	MaxOpenDirs int

	// IgnoreRaces silently skips entries that vanish between discovery
	// and use, instead of reporting them.
	IgnoreRaces bool

	// ContinueOnRootError reports an unreachable root to the visitor
	// and moves on to the next root instead of aborting the walk.
	ContinueOnRootError bool

	// Logger receives debug-level traversal tracing. Defaults to a nop
	// logger.
	Logger *zap.Logger

	// Stats, when non-nil, is filled in as the traversal runs.
	Stats *Stats
}

// Walk traverses root breadth-first with default options.
func Walk(root string, fn VisitFunc) error {
	return WalkWithOptions(context.Background(), []string{root}, Options{}, fn)
}

// WalkWithOptions traverses the given roots and delivers every entry to
// fn. The traversal is single-threaded and synchronous: fn runs between
// filesystem operations, never concurrently with them. Cancellation is
// cooperative; ctx is checked between deliveries.
//
// Entry-scoped failures are delivered to fn and the walk continues. The
// returned error is non-nil only for an unreachable root (unless
// ContinueOnRootError is set) or a canceled context.
func WalkWithOptions(ctx context.Context, roots []string, opts Options, fn VisitFunc) error {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	stats := opts.Stats
	if stats == nil {
		stats = &Stats{}
	}

	d := &driver{
		opts:  opts,
		fn:    fn,
		log:   log,
		stats: stats,
		front: newFrontier(opts.Order),
	}
	d.cache = newHandleCache(opts.MaxOpenDirs, log, stats)
	d.meta = &metadata{cache: d.cache, stats: stats}
	defer d.cache.closeAll()

	if err := d.seed(roots); err != nil {
		return err
	}
	return d.run(ctx)
}

// driver owns all traversal state. Single-threaded, so none of it needs
// locking.
type driver struct {
	opts    Options
	fn      VisitFunc
	cache   *handleCache
	meta    *metadata
	front   *frontier
	log     *zap.Logger
	stats   *Stats
	stopped bool
}

// seed classifies each root and pushes it at depth 0.
func (d *driver) seed(roots []string) error {
	follow := d.opts.FollowRoots || d.opts.FollowAll
	flags := unix.AT_SYMLINK_NOFOLLOW
	if follow {
		flags = 0
	}

	var batch []*frontierEntry
	for _, root := range roots {
		n := newRootNode(filepath.Clean(root))
		var st unix.Stat_t
		if err := unix.Fstatat(unix.AT_FDCWD, n.path, &st, flags); err != nil {
			rerr := newError(KindRootUnreachable, n.path, err)
			if !d.opts.ContinueOnRootError {
				return rerr
			}
			d.deliver(&Visit{node: n, meta: d.meta}, rerr)
			continue
		}
		typ := typeFromMode(modeFromUnix(uint32(st.Mode)))
		if follow {
			n.viaLink = true
		}
		if typ == TypeDir {
			n.key = cycleKey{dev: uint64(st.Dev), ino: uint64(st.Ino)}
			n.hasKey = true
		}
		batch = append(batch, &frontierEntry{node: n, typ: typ})
	}
	d.front.push(batch)
	return nil
}

func (d *driver) run(ctx context.Context) error {
	for !d.stopped {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := d.front.pop()
		if e == nil {
			break
		}
		if err := d.process(e); err != nil {
			return err
		}
	}
	d.log.Debug("traversal done",
		zap.Int("delivered", d.stats.Delivered),
		zap.Int("directories", d.stats.Directories),
		zap.Int("errors", d.stats.Errors),
		zap.Int("peak_handles", d.stats.PeakOpenHandles))
	return nil
}

// process handles one frontier entry: classify, deliver, and expand per
// the traversal order. The returned error is fatal (root loss only);
// everything else is delivered entry-scoped.
func (d *driver) process(e *frontierEntry) error {
	n := e.node
	if e.closing {
		// Post-order marker: all descendants are done.
		d.deliver(&Visit{node: n, meta: d.meta, typ: TypeDir}, nil)
		return nil
	}

	v := &Visit{node: n, meta: d.meta, typ: e.typ}

	if v.typ == TypeUnknown {
		if _, err := v.resolveType(false); err != nil {
			// fetch already typed the error with the entry's path.
			var terr *Error
			if errors.As(err, &terr) && terr.Kind == KindVanished && d.opts.IgnoreRaces {
				return nil
			}
			d.deliver(v, err)
			return nil
		}
	}

	expandable := v.typ == TypeDir

	// A symlink becomes descendable only under the follow policy, and
	// only when its target does not close a loop with an ancestor.
	if v.typ == TypeSymlink && d.opts.FollowAll {
		st, err := v.Stat(true)
		if err == nil && st.Type() == TypeDir {
			key := cycleKey{dev: st.Dev, ino: st.Ino}
			if detectLoop(n.parent, key) {
				d.deliver(v, newError(KindSymlinkLoop, n.path, nil))
				return nil
			}
			n.viaLink = true
			n.key, n.hasKey = key, true
			expandable = true
		}
		// A broken link is still a deliverable symlink.
	}

	canDescend := expandable && (d.opts.MaxDepth <= 0 || n.depth < d.opts.MaxDepth)

	if d.opts.Order == OrderPostOrder {
		if !canDescend {
			d.deliver(v, nil)
			return nil
		}
		children, err := d.expand(v)
		if err != nil {
			return err
		}
		d.front.push([]*frontierEntry{{node: n, closing: true}})
		d.front.push(children)
		return nil
	}

	act := d.deliver(v, nil)
	if act == Stop || act == Prune || !canDescend {
		return nil
	}
	children, err := d.expand(v)
	if err != nil {
		return err
	}
	d.front.push(children)
	return nil
}

// expand enumerates v's directory and returns its children as frontier
// entries in directory order.
func (d *driver) expand(v *Visit) ([]*frontierEntry, error) {
	n := v.node
	h, err := d.cache.acquire(n)
	if err != nil {
		if n.parent == nil {
			// Losing the handle for a traversal root is fatal.
			return nil, newError(KindRootUnreachable, n.path, err)
		}
		if isVanished(err) {
			if d.opts.IgnoreRaces {
				return nil, nil
			}
			d.deliver(v, newError(KindVanished, n.path, err))
			return nil, nil
		}
		var terr *Error
		if errors.As(err, &terr) {
			// Budget exhaustion, or a failed ancestor in the
			// reacquire chain: one error for the whole subtree.
			d.deliver(v, terr)
		} else {
			d.deliver(v, newError(KindEnumeration, n.path, err))
		}
		return nil, nil
	}
	defer d.cache.release(h)
	d.stats.Directories++
	d.log.Debug("expanding directory", zap.String("path", n.path), zap.Int("depth", n.depth))

	if d.opts.FollowAll && !n.hasKey {
		var st unix.Stat_t
		if unix.Fstat(h.fd(), &st) == nil {
			n.key = cycleKey{dev: uint64(st.Dev), ino: uint64(st.Ino)}
			n.hasKey = true
		}
	}

	var children []*frontierEntry
	for {
		ent, err := d.cache.readNext(h)
		if err != nil {
			d.deliver(v, newError(KindEnumeration, n.path, err))
			break
		}
		if ent == nil {
			break
		}
		child := n.child(ent.Name())
		children = append(children, &frontierEntry{node: child, typ: typeFromMode(ent.Type())})
	}
	return children, nil
}

// deliver invokes the visitor for one outcome, applying the depth window
// to successful deliveries. Errors are always reported.
func (d *driver) deliver(v *Visit, err error) Action {
	if err == nil {
		depth := v.node.depth
		if depth < d.opts.MinDepth || (d.opts.MaxDepth > 0 && depth > d.opts.MaxDepth) {
			return Continue
		}
		d.stats.Delivered++
	} else {
		d.stats.Errors++
	}
	act := d.fn(v, err)
	if act == Stop {
		d.stopped = true
	}
	return act
}
