package traverse

// cycleKey identifies a directory uniquely regardless of path.
type cycleKey struct {
	dev uint64
	ino uint64
}

// detectLoop reports whether key already appears on the active descent
// chain above n. Cycles only matter along the current root-to-leaf chain,
// so the check is an O(depth) scan of the ancestor keys rather than a
// global visited set; memory stays bounded by maximum depth, not tree size.
// Only called when link-following is enabled, since the physical directory
// tree is acyclic.
func detectLoop(n *node, key cycleKey) bool {
	for a := n; a != nil; a = a.parent {
		if a.hasKey && a.key == key {
			return true
		}
	}
	return false
}
