package discover

import (
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("discover: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("discover: CBOR decoder initialization failed: " + err.Error())
	}
}

// Node is one vertex found by a walk
type Node struct {
	ID       int    `cbor:"id"`
	Name     string `cbor:"name"`
	Type     string `cbor:"type"`
	Index    uint16 `cbor:"index"`
	Siblings uint16 `cbor:"siblings"`
	Children uint16 `cbor:"children"`
	LinkOpen bool   `cbor:"link_open,omitempty"`

	// Route reaches the vertex from the walking vertex
	Route string `cbor:"route"`

	// From is the ID of the node the probe extended, -1 for the walker
	From int `cbor:"from"`

	// Via is the last hop of Route
	Via string `cbor:"via,omitempty"`
}

// Graph is the result of one walk. Nodes are in discovery order, so every
// From refers to an earlier node.
type Graph struct {
	Epoch    uint16   `cbor:"epoch"`
	Nodes    []Node   `cbor:"nodes"`
	Lost     []string `cbor:"lost,omitempty"`
	Revisits int      `cbor:"revisits"`
	Stray    int      `cbor:"stray"`
	Complete bool     `cbor:"complete"`
}

// Find returns the nodes named name
func (g *Graph) Find(name string) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Name == name {
			out = append(out, n)
		}
	}
	return out
}

// Children returns the nodes discovered through id
func (g *Graph) Children(id int) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.From == id {
			out = append(out, n)
		}
	}
	return out
}

// Marshal encodes g in deterministic CBOR
func (g *Graph) Marshal() ([]byte, error) { return encMode.Marshal(g) }

// Unmarshal decodes a graph written by Marshal
func Unmarshal(data []byte) (*Graph, error) {
	g := new(Graph)
	if err := decMode.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return g, nil
}

// WriteTo writes g as CBOR to w
func (g *Graph) WriteTo(w io.Writer) (int64, error) {
	data, err := g.Marshal()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// ReadFrom reads one graph from r
func ReadFrom(r io.Reader) (*Graph, error) {
	g := new(Graph)
	if err := decMode.NewDecoder(r).Decode(g); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return g, nil
}

// WriteText prints the discovery tree of g, one node per line, indented
// below the node it was found through
func (g *Graph) WriteText(w io.Writer) error {
	var walk func(id, depth int) error
	walk = func(id, depth int) error {
		for _, n := range g.Children(id) {
			link := ""
			if n.LinkOpen {
				link = " [open]"
			}
			_, err := fmt.Fprintf(w, "%s%s (%s #%d)%s  %s\n",
				strings.Repeat("  ", depth), n.Name, n.Type, n.Index, link, routeText(n.Route))
			if err != nil {
				return err
			}
			if err := walk(n.ID, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(-1, 0); err != nil {
		return err
	}
	for _, r := range g.Lost {
		if _, err := fmt.Fprintf(w, "lost: %s\n", routeText(r)); err != nil {
			return err
		}
	}
	return nil
}

func routeText(r string) string {
	if r == "" {
		return "(self)"
	}
	return r
}
