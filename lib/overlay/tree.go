package overlay

// InsertChild inserts child under parent, resolving name collisions by
// precedence: MODULE > SKEL > INTER > DUMMY (spec.md §4.A). If no sibling
// shares child's Name, child is appended and returned. Otherwise the
// existing sibling's Kind is compared to child's Kind:
//   - if child's Kind is strictly higher, the existing subtree is destroyed
//     and child takes its place in the sibling list (preserving position);
//     child is returned.
//   - otherwise child is destroyed and the existing sibling is returned.
//
// Ties (equal Kind) resolve to the first-inserted node, i.e. the existing
// sibling wins.
func InsertChild(parent, child *Node) *Node {
	child.Parent = parent

	idx := childIndex(parent, child.Name)
	if idx < 0 {
		parent.Children = append(parent.Children, child)
		return child
	}

	existing := parent.Children[idx]
	if child.Status.Kind > existing.Status.Kind {
		DestroySubtree(existing)
		child.Parent = parent
		parent.Children[idx] = child
		return child
	}

	DestroySubtree(child)
	return existing
}

// DestroySubtree recursively releases node and all its descendants,
// post-order. Go's GC reclaims the memory; this clears the Children slice
// and Parent back-links so that stray references (e.g. held by a caller
// mid-iteration) cannot observe a half-torn-down tree.
func DestroySubtree(node *Node) {
	if node == nil {
		return
	}
	for _, c := range node.Children {
		DestroySubtree(c)
	}
	node.Children = nil
	node.Parent = nil
}

// ReplaceChild substitutes replacement for the child of parent with the
// given name, preserving the child's slot in the ordered sequence. Used by
// the vendor splinter (spec.md §4.G step 9), which must mutate a sibling
// slot directly rather than through InsertChild's precedence rules. The
// original child is returned (not destroyed — the caller re-parents it).
func ReplaceChild(parent *Node, name string, replacement *Node) *Node {
	idx := childIndex(parent, name)
	if idx < 0 {
		return nil
	}
	original := parent.Children[idx]
	replacement.Parent = parent
	parent.Children[idx] = replacement
	original.Parent = nil
	return original
}

// Child returns the child of parent with the given name, or nil.
func Child(parent *Node, name string) *Node {
	if idx := childIndex(parent, name); idx >= 0 {
		return parent.Children[idx]
	}
	return nil
}
