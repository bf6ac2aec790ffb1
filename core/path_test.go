package core

import (
	"testing"

	"github.com/creachadair/mds/mtest"
	"github.com/google/go-cmp/cmp"
	"vgraph/protocol"
)

// testTree builds
//
//	root
//	├── m0
//	│   ├── a
//	│   └── b
//	│       └── c
//	└── m1
//	    └── d
func testTree() (*Vertex, map[string]*Vertex) {
	byName := make(map[string]*Vertex)
	mk := func(name string, typ VertexType) *Vertex {
		v := NewVertex(name, typ, 2)
		byName[name] = v
		return v
	}
	root := mk("root", TypeRoot)
	m0 := root.AddChild(mk("m0", TypeModule))
	m1 := root.AddChild(mk("m1", TypeModule))
	m0.AddChild(mk("a", TypeGeneric))
	b := m0.AddChild(mk("b", TypeModule))
	b.AddChild(mk("c", TypeGeneric))
	m1.AddChild(mk("d", TypeGeneric))
	return root, byName
}

func TestPathBetween(t *testing.T) {
	_, vs := testTree()
	tests := []struct {
		from, to string
		want     string
	}{
		{"a", "a", ""},
		{"root", "c", "child:0 child:1 child:0"},
		{"c", "root", "parent parent parent"},
		{"a", "b", "sibling:1"},
		{"a", "c", "sibling:1 child:0"},
		{"c", "d", "parent parent sibling:1 child:0"},
		{"d", "a", "parent sibling:0 child:0"},
	}
	for _, tc := range tests {
		r, err := PathBetween(vs[tc.from], vs[tc.to])
		if err != nil {
			t.Errorf("PathBetween(%s, %s): %v", tc.from, tc.to, err)
			continue
		}
		if got := r.Text(); got != tc.want {
			t.Errorf("PathBetween(%s, %s): got %q, want %q", tc.from, tc.to, got, tc.want)
		}
	}

	other := NewVertex("other", TypeRoot, 2)
	if _, err := PathBetween(vs["a"], other); err == nil {
		t.Error("PathBetween across trees should fail")
	}
}

// Every packet routed between two vertices arrives at the target, and a
// reply built by reversing its consumed header arrives back at the source.
func TestRouteReversalRoundTrip(t *testing.T) {
	root, vs := testTree()
	taps := make(map[*Vertex]*tap)
	root.Walk(func(v *Vertex) bool {
		tp := new(tap)
		taps[v] = tp
		v.Attach(tp)
		return true
	})
	s, _, f := newTestScheduler(root)

	names := []string{"root", "m0", "m1", "a", "b", "c", "d"}
	for _, from := range names {
		for _, to := range names {
			src, dst := vs[from], vs[to]
			r, err := PathBetween(src, dst)
			if err != nil {
				t.Fatalf("PathBetween(%s, %s): %v", from, to, err)
			}
			for _, tp := range taps {
				tp.seen = nil
			}

			load(t, src.Origin, packet(t, r, 0xEE), s.Now())
			ticks(s, 2*protocol.MaxHops)
			if len(taps[dst].seen) != 1 {
				t.Fatalf("%s -> %s: target saw %d packets, want 1", from, to, len(taps[dst].seen))
			}
			if from == to {
				continue
			}

			// Reply over the reversed header
			fwd := taps[dst].seen[0]
			ptr, err := protocol.LocatePointer(fwd, 0)
			if err != nil {
				t.Fatalf("%s -> %s: %v", from, to, err)
			}
			var hdr [protocol.MaxHeader]byte
			n, err := protocol.ReverseRoute(fwd, ptr, hdr[:])
			if err != nil {
				t.Fatalf("ReverseRoute: %v", err)
			}
			buf := make([]byte, protocol.MaxPacket)
			m, _ := protocol.BuildPacket(buf, hdr[:n], protocol.Segment{Data: []byte{0xDD}})
			taps[src].seen = nil

			load(t, dst.Origin, buf[:m], s.Now())
			ticks(s, 2*protocol.MaxHops)
			if len(taps[src].seen) != 1 {
				t.Fatalf("%s -> %s: reply reached source %d times, want 1", from, to, len(taps[src].seen))
			}

			// The reply history spells the forward route again
			back := taps[src].seen[0]
			bptr, _ := protocol.LocatePointer(back, 0)
			consumed, err := protocol.Consumed(back, bptr)
			if err != nil {
				t.Fatalf("Consumed: %v", err)
			}
			if got := consumed.Reverse().Text(); got != r.Text() {
				t.Errorf("%s -> %s: reply history reversed is %q, want %q", from, to, got, r.Text())
			}
		}
	}
	if len(f.got) != 0 {
		t.Errorf("Unexpected faults: %v", f.got)
	}
}

func TestVertexTree(t *testing.T) {
	root, vs := testTree()
	if got := vs["c"].Path(); got != "root/m0/b/c" {
		t.Errorf("Path: got %q", got)
	}
	if vs["c"].Depth() != 3 || vs["c"].Root() != root {
		t.Errorf("Depth/Root of c: %d, %v", vs["c"].Depth(), vs["c"].Root().Name)
	}
	if vs["b"].Siblings() != 1 || vs["b"].Children() != 1 || vs["b"].Index() != 1 {
		t.Errorf("b: siblings=%d children=%d index=%d", vs["b"].Siblings(), vs["b"].Children(), vs["b"].Index())
	}
	if vs["a"].Sibling(1) != vs["b"] || root.Sibling(0) != nil || root.Child(9) != nil {
		t.Error("Sibling/Child lookup mismatch")
	}

	var order []string
	root.Walk(func(v *Vertex) bool {
		order = append(order, v.Name)
		return v.Name != "c"
	})
	if diff := cmp.Diff([]string{"root", "m0", "a", "b", "c"}, order); diff != "" {
		t.Errorf("Walk order (-want, +got):\n%s", diff)
	}

	mtest.MustPanic(t, func() { root.AddChild(vs["a"]) })
	mtest.MustPanic(t, func() {
		v := NewVertex("wide", TypeModule, 2)
		for range MaxChildren + 1 {
			v.AddChild(NewVertex("leaf", TypeGeneric, 2))
		}
	})

	for typ := TypeRoot; typ <= TypeGeneric; typ++ {
		if got, ok := ParseVertexType(typ.String()); !ok || got != typ {
			t.Errorf("ParseVertexType(%q): got %v, %v", typ.String(), got, ok)
		}
	}
}

func TestRegistry(t *testing.T) {
	root, _ := testTree()
	reg := NewRegistry(root)

	if reg.Count() != 7 {
		t.Errorf("Count: got %d, want 7", reg.Count())
	}
	want := []string{"root", "root/m0", "root/m0/a", "root/m0/b", "root/m0/b/c", "root/m1", "root/m1/d"}
	if diff := cmp.Diff(want, reg.Paths()); diff != "" {
		t.Errorf("Paths (-want, +got):\n%s", diff)
	}
	r, err := reg.Route("root/m1/d", "root/m0/b/c")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if got := r.Text(); got != "parent sibling:0 child:1 child:0" {
		t.Errorf("Route: got %q", got)
	}
	if _, err := reg.Route("root", "root/nonesuch"); err == nil {
		t.Error("Route to unknown vertex should fail")
	}

	root.Child(1).AddChild(NewVertex("e", TypeGeneric, 2))
	reg.Refresh()
	if _, ok := reg.Lookup("root/m1/e"); !ok {
		t.Error("Refresh did not index the new vertex")
	}
}
