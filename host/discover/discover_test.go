package discover

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"vgraph/core"
	"vgraph/host/config"
	"vgraph/host/node"
	"vgraph/host/serial"
	"vgraph/link"
	"vgraph/protocol"
)

// localTree builds
//
//	root
//	├── m0
//	│   ├── a
//	│   └── b
//	│       └── c
//	└── m1
//	    └── d
func localTree() *core.Vertex {
	root := core.NewVertex("root", core.TypeRoot, 4)
	m0 := root.AddChild(core.NewVertex("m0", core.TypeModule, 2))
	m1 := root.AddChild(core.NewVertex("m1", core.TypeModule, 2))
	m0.AddChild(core.NewVertex("a", core.TypeGeneric, 2))
	b := m0.AddChild(core.NewVertex("b", core.TypeModule, 2))
	b.AddChild(core.NewVertex("c", core.TypeGeneric, 2))
	m1.AddChild(core.NewVertex("d", core.TypeGeneric, 2))
	return root
}

// run ticks s until p finishes
func run(t *testing.T, s *core.Scheduler, clk *uint32, p *Prober, limit int) {
	t.Helper()
	for range limit {
		*clk++
		s.Tick()
		select {
		case <-p.Done():
			return
		default:
		}
	}
	t.Fatalf("Walk not finished after %d ticks", limit)
}

func names(g *Graph) []string {
	var out []string
	for _, n := range g.Nodes {
		out = append(out, n.Name)
	}
	slices.Sort(out)
	return out
}

func TestWalkLocalTree(t *testing.T) {
	root := localTree()
	var clk uint32
	s := core.NewScheduler(root)
	s.SetTimeSource(func() uint32 { return clk })
	var faults []core.Report
	s.SetReporter(func(r core.Report) { faults = append(faults, r) })

	p := NewProber(&Options{Epoch: 7})
	root.Attach(p)
	run(t, s, &clk, p, 100)

	g := p.Graph()
	if diff := cmp.Diff([]string{"a", "b", "c", "d", "m0", "m1", "root"}, names(g)); diff != "" {
		t.Errorf("Discovered (-want, +got):\n%s", diff)
	}
	if !g.Complete || g.Revisits != 0 || g.Stray != 0 {
		t.Errorf("Walk: complete=%v revisits=%d stray=%d lost=%v", g.Complete, g.Revisits, g.Stray, g.Lost)
	}
	if g.Nodes[0].Name != "root" || g.Nodes[0].From != -1 || g.Nodes[0].Route != "" {
		t.Errorf("First node: got %+v, want the walker itself", g.Nodes[0])
	}
	c := g.Find("c")
	if len(c) != 1 || c[0].Route != "child:0 child:1 child:0" || c[0].Via != "child:0" {
		t.Errorf("Node c: got %+v", c)
	}
	if b := g.Nodes[c[0].From]; b.Name != "b" || b.Children != 1 || b.Siblings != 1 {
		t.Errorf("Parent of c: got %+v", b)
	}
	if d := g.Find("d"); len(d) != 1 || d[0].Type != core.TypeGeneric.String() {
		t.Errorf("Node d: got %+v", d)
	}
	if len(faults) != 0 {
		t.Errorf("Unexpected faults: %v", faults)
	}

	// The same epoch again stops at the walker
	again := NewProber(&Options{Epoch: 7})
	root.Attach(again)
	run(t, s, &clk, again, 100)
	if n := len(again.Graph().Nodes); n != 0 || again.Graph().Revisits != 1 {
		t.Errorf("Repeat walk: got %d nodes, %d revisits, want 0/1", n, again.Graph().Revisits)
	}

	fresh := NewProber(&Options{Epoch: 8})
	root.Attach(fresh)
	run(t, s, &clk, fresh, 100)
	if n := len(fresh.Graph().Nodes); n != 7 {
		t.Errorf("New epoch: got %d nodes, want 7", n)
	}
}

func TestWalkFromLeaf(t *testing.T) {
	root := localTree()
	var clk uint32
	s := core.NewScheduler(root)
	s.SetTimeSource(func() uint32 { return clk })

	// c sits three levels down; the walk climbs out through its parents
	c := root.Child(0).Child(1).Child(0)
	p := NewProber(&Options{Epoch: 1})
	c.Attach(p)
	run(t, s, &clk, p, 100)

	g := p.Graph()
	if diff := cmp.Diff([]string{"a", "b", "c", "d", "m0", "m1", "root"}, names(g)); diff != "" {
		t.Errorf("Discovered (-want, +got):\n%s", diff)
	}
	if g.Revisits != 0 {
		t.Errorf("Revisits: got %d, want 0", g.Revisits)
	}
	if d := g.Find("d"); len(d) != 1 || d[0].Route != "parent parent parent child:1 child:0" {
		t.Errorf("Node d: got %+v", d)
	}
}

// sink is an open transport that drops everything
type sink struct{}

func (sink) ClearToSend(uint16) bool   { return true }
func (sink) Send([]byte, uint16) error { return nil }
func (sink) IsOpen(uint16) bool        { return true }
func (sink) Address() uint8            { return 0 }

func TestWalkRecordsLostProbes(t *testing.T) {
	root := core.NewVertex("root", core.TypeRoot, 2)
	root.AddChild(core.NewVertex("void", core.TypePort, 2)).Attach(sink{})
	var clk uint32
	s := core.NewScheduler(root)
	s.SetTimeSource(func() uint32 { return clk })

	p := NewProber(&Options{Epoch: 3, Timeout: 20})
	root.Attach(p)
	run(t, s, &clk, p, 100)

	g := p.Graph()
	if diff := cmp.Diff([]string{"child:0 port:65535"}, g.Lost); diff != "" {
		t.Errorf("Lost (-want, +got):\n%s", diff)
	}
	if g.Complete {
		t.Error("Walk with a lost probe reported complete")
	}
	if v := g.Find("void"); len(v) != 1 || !v[0].LinkOpen {
		t.Errorf("Port node: got %+v", v)
	}
}

type side struct {
	s    *core.Scheduler
	root *core.Vertex
	port *link.Port
	out  bytes.Buffer
}

func newSide(name string, clk *uint32) *side {
	sd := new(side)
	sd.root = core.NewVertex(name, core.TypeRoot, 4)
	lv := sd.root.AddChild(core.NewVertex(name+"-link", core.TypePort, 2))
	sd.root.AddChild(core.NewEndpoint(name+"-ep", 4, 2, nil).Vertex())
	sd.port = link.NewPort(&protocol.WriterOutput{W: &sd.out}, link.PortConfig{KeepAlive: 10, Timeout: 100})
	sd.port.Attach(lv)
	sd.s = core.NewScheduler(sd.root)
	sd.s.SetTimeSource(func() uint32 { return *clk })
	return sd
}

func TestWalkAcrossPort(t *testing.T) {
	var clk uint32
	a, b := newSide("a", &clk), newSide("b", &clk)
	round := func() {
		clk++
		a.s.Tick()
		b.s.Tick()
		b.port.Receive(protocol.NewSliceInputBuffer(a.out.Bytes()), clk)
		a.port.Receive(protocol.NewSliceInputBuffer(b.out.Bytes()), clk)
		a.out.Reset()
		b.out.Reset()
	}
	for range 3 {
		round()
	}
	if !a.port.IsOpen(core.AnyAddress) {
		t.Fatal("Link did not open")
	}

	p := NewProber(&Options{Epoch: 11})
	a.root.Attach(p)
	for i := 0; ; i++ {
		if i == 300 {
			t.Fatal("Walk across the link did not finish")
		}
		round()
		select {
		case <-p.Done():
		default:
			continue
		}
		break
	}

	g := p.Graph()
	if diff := cmp.Diff([]string{"a", "a-ep", "a-link", "b", "b-ep", "b-link"}, names(g)); diff != "" {
		t.Errorf("Discovered (-want, +got):\n%s", diff)
	}
	want := map[string]string{
		"b-link": "child:0 port:0",
		"b":      "child:0 port:0 parent",
		"b-ep":   "child:0 port:0 parent child:1",
	}
	for name, route := range want {
		if n := g.Find(name); len(n) != 1 || n[0].Route != route {
			t.Errorf("Node %s: got %+v, want route %q", name, n, route)
		}
	}
	if !g.Complete || g.Revisits != 0 {
		t.Errorf("Walk: complete=%v revisits=%d lost=%v", g.Complete, g.Revisits, g.Lost)
	}

	// The far tree is addressable over the discovered route
	r, err := protocol.ParseRoute(g.Find("b-ep")[0].Route)
	if err != nil {
		t.Fatalf("ParseRoute: %v", err)
	}
	if r.At(1) != protocol.Port(0) {
		t.Errorf("Discovered port hop: got %v, want a concrete address", r.At(1))
	}
}

func TestGraphEncoding(t *testing.T) {
	g := &Graph{
		Epoch: 9,
		Nodes: []Node{
			{ID: 0, Name: "root", Type: "root", Children: 1, From: -1},
			{ID: 1, Name: "uart", Type: "port", LinkOpen: true, Route: "child:0", From: 0, Via: "child:0"},
		},
		Lost:     []string{"child:0 port:65535"},
		Complete: false,
	}
	data, err := g.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := g.Marshal()
	if err != nil || !bytes.Equal(data, again) {
		t.Errorf("Encoding is not deterministic: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(g, got); diff != "" {
		t.Errorf("Decoded graph (-want, +got):\n%s", diff)
	}

	var buf bytes.Buffer
	if _, err := g.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if _, err := ReadFrom(&buf); err != nil {
		t.Errorf("ReadFrom: %v", err)
	}
	if _, err := Unmarshal([]byte{0xFF}); err == nil {
		t.Error("Unmarshal of garbage should fail")
	}

	var text bytes.Buffer
	if err := g.WriteText(&text); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	const wantText = "root (root #0)  (self)\n" +
		"  uart (port #0) [open]  child:0\n" +
		"lost: child:0 port:65535\n"
	if diff := cmp.Diff(wantText, text.String()); diff != "" {
		t.Errorf("WriteText (-want, +got):\n%s", diff)
	}
}

const walker = `
name: a
tick: 1ms
links:
  - {name: wire, kind: serial, device: pipe, keep_alive: 20, timeout: 200}
tree:
  name: root
  children:
    - {name: uart, type: port, link: wire}
    - {name: out, type: endpoint, cell: 4}
`

const remote = `
name: b
tick: 1ms
links:
  - {name: wire, kind: serial, device: pipe, keep_alive: 20, timeout: 200}
tree:
  name: root
  children:
    - {name: uart, type: port, link: wire}
    - name: sensors
      type: module
      children:
        - {name: accel, type: endpoint, cell: 6}
`

func mustNode(t *testing.T, doc string, dev serial.Port) *node.Node {
	t.Helper()
	f, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	n, err := node.New(f, &node.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dial:   func(*config.Link) (serial.Port, error) { return dev, nil },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func TestWalkRunningNodes(t *testing.T) {
	defer leaktest.Check(t)()

	da, db := serial.Pipe()
	na := mustNode(t, walker, da)
	nb := mustNode(t, remote, db)

	ctx, cancel := context.WithCancel(context.Background())
	g := taskgroup.New(nil)
	g.Go(func() error { return na.Run(ctx) })
	g.Go(func() error { return nb.Run(ctx) })
	defer func() {
		cancel()
		g.Wait()
	}()

	uart, _ := na.Fabric().Registry.Lookup("root/uart")
	deadline := time.Now().Add(5 * time.Second)
	for {
		var open bool
		na.Do(ctx, func(*core.Scheduler) { open = uart.Behavior().(core.Transport).IsOpen(core.AnyAddress) })
		if open {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Link did not open")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := Walk(ctx, na, "root/uart", nil); err == nil {
		t.Error("Walk from a transport vertex should fail")
	}

	wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
	defer wcancel()
	graph, err := Walk(wctx, na, "root", &Options{Epoch: 42, Timeout: 500})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	accel := graph.Find("accel")
	if len(accel) != 1 || accel[0].Route != "child:0 port:0 parent child:1 child:0" {
		t.Errorf("Remote endpoint: got %+v", accel)
	}
	if len(graph.Nodes) != 7 || !graph.Complete {
		t.Errorf("Walk: %d nodes complete=%v lost=%v", len(graph.Nodes), graph.Complete, graph.Lost)
	}

	// The prober is gone again
	root, _ := na.Fabric().Registry.Lookup("root")
	var left any
	na.Do(ctx, func(*core.Scheduler) { left = root.Behavior() })
	if left != nil {
		t.Errorf("Prober still attached: %T", left)
	}
}
