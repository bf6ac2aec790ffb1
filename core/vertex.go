package core

import "strings"

// MaxChildren bounds the fan-out of a single vertex
const MaxChildren = 16

// VertexType tags the behavior a vertex has in the fabric. The value is
// carried on the wire in scope responses.
type VertexType uint8

const (
	TypeRoot VertexType = iota
	TypeModule
	TypeEndpoint
	TypeEndpointMultiSegment
	TypePort
	TypeBus
	TypeGeneric
)

func (t VertexType) String() string {
	switch t {
	case TypeRoot:
		return "root"
	case TypeModule:
		return "module"
	case TypeEndpoint:
		return "endpoint"
	case TypeEndpointMultiSegment:
		return "endpoint-multisegment"
	case TypePort:
		return "port"
	case TypeBus:
		return "bus"
	case TypeGeneric:
		return "generic"
	}
	return "type(" + utoa(uint32(t)) + ")"
}

// ParseVertexType is the inverse of VertexType.String
func ParseVertexType(s string) (VertexType, bool) {
	for t := TypeRoot; t <= TypeGeneric; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// Vertex is one node of the routing tree. Vertices are built at
// configuration time and never removed.
type Vertex struct {
	Name        string
	Type        VertexType
	Origin      *SlotQueue // packets entering the fabric here
	Destination *SlotQueue // packets routed to this vertex

	index      uint16
	parent     *Vertex
	children   []*Vertex
	scopeEpoch uint16
	lastScope  uint32
	behavior   any
}

// NewVertex creates a detached vertex with slots entries per queue
func NewVertex(name string, typ VertexType, slots int) *Vertex {
	return &Vertex{
		Name:        name,
		Type:        typ,
		Origin:      NewSlotQueue(slots),
		Destination: NewSlotQueue(slots),
	}
}

// AddChild attaches c as the next child of v and returns c.
// It panics if c already has a parent or v is full.
func (v *Vertex) AddChild(c *Vertex) *Vertex {
	switch {
	case c.parent != nil || c == v:
		panic("vertex " + c.Name + " is already attached")
	case len(v.children) >= MaxChildren:
		panic("vertex " + v.Name + " has too many children")
	}
	c.parent = v
	c.index = uint16(len(v.children))
	v.children = append(v.children, c)
	return c
}

// Attach installs the behavior of v: an *Endpoint, a Transport, a Poller
// or a ScopeObserver. The scheduler dispatches on Type and the
// capabilities b implements.
func (v *Vertex) Attach(b any) { v.behavior = b }

// Behavior returns the value installed by Attach
func (v *Vertex) Behavior() any { return v.behavior }

// Index returns the position of v among its siblings
func (v *Vertex) Index() uint16 { return v.index }

// Parent returns the parent of v, or nil for the root
func (v *Vertex) Parent() *Vertex { return v.parent }

// Child returns child i, or nil if there is none
func (v *Vertex) Child(i int) *Vertex {
	if i < 0 || i >= len(v.children) {
		return nil
	}
	return v.children[i]
}

// Children returns the number of children of v
func (v *Vertex) Children() int { return len(v.children) }

// Sibling returns the child i of the parent of v
func (v *Vertex) Sibling(i int) *Vertex {
	if v.parent == nil {
		return nil
	}
	return v.parent.Child(i)
}

// Siblings returns the number of other children of the parent of v
func (v *Vertex) Siblings() int {
	if v.parent == nil {
		return 0
	}
	return len(v.parent.children) - 1
}

// ScopeEpoch returns the last discovery epoch seen by v
func (v *Vertex) ScopeEpoch() uint16 { return v.scopeEpoch }

// LastScope returns the tick time of the last scope request v answered
func (v *Vertex) LastScope() uint32 { return v.lastScope }

// Depth returns the number of edges between v and the root
func (v *Vertex) Depth() int {
	d := 0
	for p := v.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// Root returns the root of the tree containing v
func (v *Vertex) Root() *Vertex {
	for v.parent != nil {
		v = v.parent
	}
	return v
}

// Path returns the slash-separated names from the root down to v
func (v *Vertex) Path() string {
	var parts []string
	for p := v; p != nil; p = p.parent {
		parts = append(parts, p.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Walk visits v and its descendants depth-first, parents before children.
// It stops early if fn returns false.
func (v *Vertex) Walk(fn func(*Vertex) bool) bool {
	if !fn(v) {
		return false
	}
	for _, c := range v.children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}
