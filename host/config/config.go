// Package config loads fabric topology files.
//
// A topology file describes one device: the vertex tree, the endpoints and
// their routes, and the links that connect the tree to other devices.
// Routes may be written as hop text ("parent port:0 child:1") or as the
// slash path of a vertex in the same tree, in which case the hop route is
// computed when the fabric is built.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"vgraph/core"
	"vgraph/link"
	"vgraph/protocol"
)

// Link kinds
const (
	KindSerial = "serial"
	KindBus    = "bus"
)

// File is the top-level topology document
type File struct {
	// Name identifies the device in logs
	Name string `yaml:"name"`

	// Tick is the scheduler period.
	// Default: 1ms
	Tick time.Duration `yaml:"tick"`

	// Stale is the per-queue staleness threshold in ticks.
	// Default: core.DefaultStaleTicks
	Stale uint32 `yaml:"stale"`

	// Slots is the queue capacity of vertices that do not set their own.
	// Default: core.DefaultSlots
	Slots int `yaml:"slots"`

	// Tree is the root vertex
	Tree Vertex `yaml:"tree"`

	// Links are the transports named by port and bus vertices
	Links []Link `yaml:"links"`
}

// Vertex describes one vertex and its subtree
type Vertex struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Slots    int      `yaml:"slots,omitempty"`
	Cell     int      `yaml:"cell,omitempty"`   // endpoint cell size
	Link     string   `yaml:"link,omitempty"`   // port and bus vertices
	Routes   []Route  `yaml:"routes,omitempty"` // endpoints
	Children []Vertex `yaml:"children,omitempty"`
}

// Route is one outbound endpoint route. To names a vertex of the same
// tree; Hops is hop text appended after it, used to continue across a
// link. At least one must be set.
type Route struct {
	To      string `yaml:"to,omitempty"`
	Hops    string `yaml:"hops,omitempty"`
	Acked   bool   `yaml:"acked,omitempty"`
	Timeout uint32 `yaml:"timeout,omitempty"`
	Retries uint8  `yaml:"retries,omitempty"`
}

// UnmarshalYAML accepts a bare string as shorthand for a route by path
func (r *Route) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		r.To = value.Value
		return nil
	}
	type plain Route
	return value.Decode((*plain)(r))
}

// Link describes a transport
type Link struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// Device is the serial device carrying the link
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud,omitempty"`

	// Serial port link timing, in ticks
	KeepAlive uint32 `yaml:"keep_alive,omitempty"`
	Timeout   uint32 `yaml:"timeout,omitempty"`

	// Bus membership
	Addr   uint8  `yaml:"addr,omitempty"`
	Next   uint8  `yaml:"next,omitempty"`
	Hold   uint32 `yaml:"hold,omitempty"`
	Lost   uint32 `yaml:"lost,omitempty"`
	Master bool   `yaml:"master,omitempty"`
}

// PortConfig returns the link settings for a serial port link
func (l *Link) PortConfig() link.PortConfig {
	return link.PortConfig{KeepAlive: l.KeepAlive, Timeout: l.Timeout}
}

// BusConfig returns the link settings for a bus link
func (l *Link) BusConfig() link.BusConfig {
	return link.BusConfig{Addr: l.Addr, Next: l.Next, Hold: l.Hold, Lost: l.Lost, Master: l.Master}
}

// Default returns a topology with every default applied and a bare root
func Default() *File {
	return &File{
		Name:  "vgraph",
		Tick:  time.Millisecond,
		Stale: core.DefaultStaleTicks,
		Slots: core.DefaultSlots,
		Tree:  Vertex{Name: "root", Type: core.TypeRoot.String()},
	}
}

// LoadFile reads and validates the topology at path
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a topology document
func Parse(data []byte) (*File, error) {
	f := Default()
	f.Tree = Vertex{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// applyDefaults fills zero fields left by the document
func (f *File) applyDefaults() {
	if f.Tick <= 0 {
		f.Tick = time.Millisecond
	}
	if f.Stale == 0 {
		f.Stale = core.DefaultStaleTicks
	}
	if f.Slots == 0 {
		f.Slots = core.DefaultSlots
	}
	if f.Tree.Type == "" {
		f.Tree.Type = core.TypeRoot.String()
	}
	var fill func(v *Vertex)
	fill = func(v *Vertex) {
		if v.Type == "" {
			v.Type = core.TypeGeneric.String()
		}
		if v.Slots == 0 {
			v.Slots = f.Slots
		}
		for i := range v.Children {
			fill(&v.Children[i])
		}
	}
	fill(&f.Tree)
}

// Validate checks the topology for errors that would prevent building it.
// Every problem found is reported, each naming the offending vertex or
// link.
func (f *File) Validate() error {
	var errs []error
	links := make(map[string]*Link)
	for i := range f.Links {
		l := &f.Links[i]
		switch {
		case l.Name == "":
			errs = append(errs, fmt.Errorf("link %d: missing name", i))
			continue
		case links[l.Name] != nil:
			errs = append(errs, fmt.Errorf("link %q: duplicate name", l.Name))
		case l.Kind != KindSerial && l.Kind != KindBus:
			errs = append(errs, fmt.Errorf("link %q: unknown kind %q", l.Name, l.Kind))
		case l.Device == "":
			errs = append(errs, fmt.Errorf("link %q: missing device", l.Name))
		case l.Kind == KindBus && (l.Addr == 0 || l.Next == 0):
			errs = append(errs, fmt.Errorf("link %q: bus address and successor must be non-zero", l.Name))
		}
		links[l.Name] = l
	}

	if f.Tree.Type != core.TypeRoot.String() {
		errs = append(errs, fmt.Errorf("vertex %q: tree must start at a root, not %q", f.Tree.Name, f.Tree.Type))
	}
	var check func(path string, v *Vertex, depth int)
	check = func(path string, v *Vertex, depth int) {
		typ, ok := core.ParseVertexType(v.Type)
		switch {
		case v.Name == "":
			errs = append(errs, fmt.Errorf("vertex under %q: missing name", path))
		case !ok:
			errs = append(errs, fmt.Errorf("vertex %q: unknown type %q", path, v.Type))
		case depth > 0 && typ == core.TypeRoot:
			errs = append(errs, fmt.Errorf("vertex %q: root type below the top", path))
		case v.Slots < core.MinSlots || v.Slots > core.MaxSlots:
			errs = append(errs, fmt.Errorf("vertex %q: slots %d out of range [%d, %d]", path, v.Slots, core.MinSlots, core.MaxSlots))
		case len(v.Children) > core.MaxChildren:
			errs = append(errs, fmt.Errorf("vertex %q: %d children exceed %d", path, len(v.Children), core.MaxChildren))
		}
		isEndpoint := typ == core.TypeEndpoint || typ == core.TypeEndpointMultiSegment
		if isEndpoint && (v.Cell <= 0 || v.Cell > core.MaxCell) {
			errs = append(errs, fmt.Errorf("vertex %q: cell size %d out of range [1, %d]", path, v.Cell, core.MaxCell))
		}
		if !isEndpoint && len(v.Routes) > 0 {
			errs = append(errs, fmt.Errorf("vertex %q: only endpoints have routes", path))
		}
		if len(v.Routes) > core.MaxRoutes {
			errs = append(errs, fmt.Errorf("vertex %q: %d routes exceed %d", path, len(v.Routes), core.MaxRoutes))
		}
		for i, r := range v.Routes {
			if r.To == "" && r.Hops == "" {
				errs = append(errs, fmt.Errorf("vertex %q: route %d sets neither to nor hops", path, i))
			} else if r.Hops != "" {
				if _, err := protocol.ParseRoute(r.Hops); err != nil {
					errs = append(errs, fmt.Errorf("vertex %q: route %d: %w", path, i, err))
				}
			}
		}
		if typ == core.TypePort || typ == core.TypeBus {
			l := links[v.Link]
			want := KindSerial
			if typ == core.TypeBus {
				want = KindBus
			}
			if l == nil {
				errs = append(errs, fmt.Errorf("vertex %q: unknown link %q", path, v.Link))
			} else if l.Kind != want {
				errs = append(errs, fmt.Errorf("vertex %q: %s vertex on %s link %q", path, v.Type, l.Kind, l.Name))
			}
		}
		seen := make(map[string]bool)
		for i := range v.Children {
			c := &v.Children[i]
			if seen[c.Name] {
				errs = append(errs, fmt.Errorf("vertex %q: duplicate child %q", path, c.Name))
			}
			seen[c.Name] = true
			check(path+"/"+c.Name, c, depth+1)
		}
	}
	check(f.Tree.Name, &f.Tree, 0)
	return errors.Join(errs...)
}

// LinkByName returns the link called name
func (f *File) LinkByName(name string) (*Link, bool) {
	for i := range f.Links {
		if f.Links[i].Name == name {
			return &f.Links[i], true
		}
	}
	return nil, false
}
