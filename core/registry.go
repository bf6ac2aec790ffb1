package core

import (
	"errors"
	"slices"
	"sync"

	"vgraph/protocol"
)

// Registry indexes the vertices of one tree by their slash-separated
// name path. It is built at configuration time and read by host tooling.
type Registry struct {
	mu     sync.RWMutex
	byPath map[string]*Vertex
	root   *Vertex
}

// NewRegistry indexes every vertex under root
func NewRegistry(root *Vertex) *Registry {
	r := &Registry{byPath: make(map[string]*Vertex), root: root}
	r.Refresh()
	return r
}

// Refresh re-indexes the tree after vertices were added
func (r *Registry) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.byPath)
	r.root.Walk(func(v *Vertex) bool {
		r.byPath[v.Path()] = v
		return true
	})
}

// Lookup returns the vertex at path
func (r *Registry) Lookup(path string) (*Vertex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byPath[path]
	return v, ok
}

// Count returns the number of indexed vertices
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPath)
}

// Paths returns every indexed path in sorted order
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byPath))
	for p := range r.byPath {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Route returns the hop sequence between two indexed vertices
func (r *Registry) Route(from, to string) (protocol.Route, error) {
	a, ok := r.Lookup(from)
	if !ok {
		return protocol.Route{}, errors.New("unknown vertex: " + from)
	}
	b, ok := r.Lookup(to)
	if !ok {
		return protocol.Route{}, errors.New("unknown vertex: " + to)
	}
	return PathBetween(a, b)
}
