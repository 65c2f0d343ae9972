package traverse

import "path/filepath"

// Visit is the read-only view of one entry delivered to the visitor.
// Status fetches are memoized per follow policy, so repeated Stat calls
// with the same policy cost at most one system call.
type Visit struct {
	node *node
	meta *metadata
	typ  Type

	status    [2]*Status
	statusErr [2]error
}

// Path returns the logical path, as constructed from the ancestor chain.
func (v *Visit) Path() string {
	return v.node.path
}

// Name returns the base name of the entry.
func (v *Visit) Name() string {
	if v.node.parent == nil {
		return filepath.Base(v.node.path)
	}
	return v.node.name
}

// Depth returns the depth below the traversal root, which is depth 0.
func (v *Visit) Depth() int {
	return v.node.depth
}

// Type returns the file type as discovered, without resolving symlinks.
// It may be TypeUnknown if enumeration supplied no hint and no status
// fetch has happened yet.
func (v *Visit) Type() Type {
	return v.typ
}

// Stat returns the entry's status metadata, following the symlink or not
// per the follow argument. Both policies are cached independently.
func (v *Visit) Stat(follow bool) (*Status, error) {
	idx := 0
	if follow {
		idx = 1
	}
	if v.status[idx] == nil && v.statusErr[idx] == nil {
		v.status[idx], v.statusErr[idx] = v.meta.fetch(v.node, follow)
	}
	return v.status[idx], v.statusErr[idx]
}

// ReadLink returns the raw target of a symlink, read relative to the
// parent directory handle.
func (v *Visit) ReadLink() (string, error) {
	return v.meta.readlink(v.node)
}

// resolveType fills in the type from a status fetch when enumeration gave
// no hint, or when the caller needs a symlink's target type.
func (v *Visit) resolveType(follow bool) (Type, error) {
	st, err := v.Stat(follow)
	if err != nil {
		return TypeUnknown, err
	}
	t := st.Type()
	if !follow && v.typ == TypeUnknown {
		v.typ = t
	}
	return t, nil
}
