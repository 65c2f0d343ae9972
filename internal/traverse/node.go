package traverse

import "path/filepath"

// node is one link in an ancestor chain. Nodes form a tree rooted at each
// traversal root; frontier entries and cached directory handles hold
// references into it, and the garbage collector frees a node once nothing
// on the frontier or in the handle cache can reach it.
type node struct {
	parent *node
	name   string // base name; for roots, the path as given
	path   string // logical path, built from the ancestor chain
	depth  int

	// viaLink is set when this directory was entered by following a
	// symlink, so reopening it must not use O_NOFOLLOW.
	viaLink bool

	// Enumeration resume state, kept here rather than on the handle so
	// it survives eviction.
	consumed  int
	exhausted bool

	// Cycle key, once known.
	key    cycleKey
	hasKey bool
}

// newRootNode seeds an ancestor chain for a traversal root.
func newRootNode(path string) *node {
	return &node{name: path, path: path, depth: 0}
}

// child extends the chain by one name. The logical path is constructed from
// the parent chain, never re-derived from the physical filesystem.
func (n *node) child(name string) *node {
	return &node{
		parent: n,
		name:   name,
		path:   filepath.Join(n.path, name),
		depth:  n.depth + 1,
	}
}
