package config

import (
	"fmt"

	"vgraph/core"
	"vgraph/protocol"
)

// Fabric is a topology built into live vertices. Links are not yet
// attached; the caller opens the devices and binds the vertices listed in
// Links.
type Fabric struct {
	Root      *core.Vertex
	Registry  *core.Registry
	Endpoints map[string]*core.Endpoint // by path
	Links     map[string][]*core.Vertex // link name to the vertices it serves
}

// Build creates the vertex tree described by f. appFor supplies the
// application of each endpoint by path; it may be nil, and may return
// nil, for endpoints that accept every write.
func (f *File) Build(appFor func(path string) core.App) (*Fabric, error) {
	fab := &Fabric{
		Endpoints: make(map[string]*core.Endpoint),
		Links:     make(map[string][]*core.Vertex),
	}
	routes := make(map[*core.Endpoint][]Route)

	var build func(vc *Vertex, path string) *core.Vertex
	build = func(vc *Vertex, path string) *core.Vertex {
		typ, _ := core.ParseVertexType(vc.Type)
		var v *core.Vertex
		switch typ {
		case core.TypeEndpoint, core.TypeEndpointMultiSegment:
			var app core.App
			if appFor != nil {
				app = appFor(path)
			}
			e := core.NewEndpoint(vc.Name, vc.Cell, vc.Slots, app)
			e.Vertex().Type = typ
			fab.Endpoints[path] = e
			routes[e] = vc.Routes
			v = e.Vertex()
		default:
			v = core.NewVertex(vc.Name, typ, vc.Slots)
		}
		for i := range vc.Children {
			c := &vc.Children[i]
			v.AddChild(build(c, path+"/"+c.Name))
		}
		if vc.Link != "" {
			fab.Links[vc.Link] = append(fab.Links[vc.Link], v)
		}
		return v
	}
	fab.Root = build(&f.Tree, f.Tree.Name)
	fab.Registry = core.NewRegistry(fab.Root)

	for path, e := range fab.Endpoints {
		for i, r := range routes[e] {
			hops, err := fab.Resolve(path, r)
			if err != nil {
				return nil, fmt.Errorf("vertex %q: route %d: %w", path, i, err)
			}
			opts := core.RouteOptions{Acked: r.Acked, Timeout: r.Timeout, Retries: r.Retries}
			if _, err := e.AddRoute(hops, opts); err != nil {
				return nil, fmt.Errorf("vertex %q: route %d: %w", path, i, err)
			}
		}
	}
	return fab, nil
}

// Resolve turns a configured route of the endpoint at path from into hops
func (fab *Fabric) Resolve(from string, r Route) (protocol.Route, error) {
	var head protocol.Route
	if r.To != "" {
		var err error
		if head, err = fab.Registry.Route(from, r.To); err != nil {
			return protocol.Route{}, err
		}
	}
	if r.Hops == "" {
		return head, nil
	}
	tail, err := protocol.ParseRoute(r.Hops)
	if err != nil {
		return protocol.Route{}, err
	}
	return head.Concat(tail)
}

// Endpoint returns the endpoint at path
func (fab *Fabric) Endpoint(path string) (*core.Endpoint, bool) {
	e, ok := fab.Endpoints[path]
	return e, ok
}
