package core

import "vgraph/protocol"

// PathBetween returns the hop sequence that carries a packet from one
// vertex to another in the same tree: PARENT hops up to just below the
// common ancestor, one SIBLING hop across, then CHILD hops down.
func PathBetween(from, to *Vertex) (protocol.Route, error) {
	if from.Root() != to.Root() {
		return protocol.Route{}, ErrUnroutable
	}

	// Bring both sides to the same depth, remembering the way down
	var down []*Vertex
	a, b := from, to
	da, db := a.Depth(), b.Depth()
	var up int
	for ; da > db; da-- {
		a = a.parent
		up++
	}
	for ; db > da; db-- {
		down = append(down, b)
		b = b.parent
	}
	for a != b && a.parent != b.parent {
		a = a.parent
		up++
		down = append(down, b)
		b = b.parent
	}

	var r protocol.Route
	for range up {
		if err := r.Push(protocol.Parent()); err != nil {
			return protocol.Route{}, err
		}
	}
	if a != b {
		// a and b are distinct children of one parent
		if err := r.Push(protocol.Sibling(b.index)); err != nil {
			return protocol.Route{}, err
		}
	}
	for i := len(down) - 1; i >= 0; i-- {
		if err := r.Push(protocol.Child(down[i].index)); err != nil {
			return protocol.Route{}, err
		}
	}
	return r, nil
}
