package link

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"vgraph/core"
	"vgraph/protocol"
)

type busNet struct {
	clk    uint32
	nodes  []*fabric
	buses  []*Bus
	medium *Medium
}

// newBusNet puts one fabric per address on a shared medium, in a ring
// following the order of addrs. The first address is the master.
func newBusNet(addrs ...uint8) *busNet {
	bn := &busNet{medium: NewMedium()}
	for i, addr := range addrs {
		f := newFabric("n"+string(rune('0'+addr)), core.TypeBus, &bn.clk)
		b := NewBus(bn.medium.Tap(), BusConfig{
			Addr:   addr,
			Next:   addrs[(i+1)%len(addrs)],
			Lost:   20,
			Master: i == 0,
		})
		b.Attach(f.link)
		bn.nodes = append(bn.nodes, f)
		bn.buses = append(bn.buses, b)
	}
	return bn
}

func (bn *busNet) round(n int) {
	for range n {
		bn.clk++
		for _, f := range bn.nodes {
			f.s.Tick()
		}
	}
}

func TestBusTokenRotation(t *testing.T) {
	bn := newBusNet(1, 2, 3)
	bn.round(30)

	for i, b := range bn.buses {
		st := b.Stats()
		if st.Tokens == 0 {
			t.Errorf("Node %d never received the token", i+1)
		}
		if st.Errors != 0 {
			t.Errorf("Node %d: %d frame errors", i+1, st.Errors)
		}
		if !b.IsOpen(core.AnyAddress) {
			t.Errorf("Node %d sees no live peer", i+1)
		}
	}
	if got := bn.buses[0].Stats().Regenerated; got != 1 {
		t.Errorf("Regenerated tokens: got %d, want only the initial one", got)
	}

	holders := 0
	for _, b := range bn.buses {
		if b.Holding() {
			holders++
		}
	}
	if holders > 1 {
		t.Errorf("Token held by %d nodes at once", holders)
	}
}

func TestBusAckedWrite(t *testing.T) {
	bn := newBusNet(1, 2, 3)
	src, dst := bn.nodes[0], bn.nodes[2]

	route, err := protocol.ParseRoute("sibling:0 bus:3/0 sibling:1")
	if err != nil {
		t.Fatalf("ParseRoute: %v", err)
	}
	if _, err := src.ep.AddRoute(route, core.RouteOptions{Acked: true, Timeout: 200}); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	src.ep.Write([]byte{0x10, 0x20, 0x30})
	bn.round(60)

	if diff := cmp.Diff([]byte{0x10, 0x20, 0x30}, dst.ep.Data()); diff != "" {
		t.Errorf("Cell at node 3 (-want, +got):\n%s", diff)
	}
	if st := src.ep.State(0); st != core.Idle {
		t.Errorf("Route state at node 1: got %v, want %v", st, core.Idle)
	}
	if !bn.buses[0].IsOpen(protocol.Bus(3, 0).Operand) {
		t.Error("Node 3 not reported open from node 1")
	}
	for _, f := range bn.nodes {
		if len(f.errs) != 0 {
			t.Errorf("Unexpected faults: %v", f.errs)
		}
	}
}

func TestBusWaitsForReadiness(t *testing.T) {
	bn := newBusNet(1, 2)
	b := bn.buses[0]
	addr := protocol.Bus(2, 0).Operand

	bn.clk++
	bn.nodes[0].s.Tick() // master takes the token
	if !b.Holding() {
		t.Fatal("Master did not take the token")
	}
	if b.ClearToSend(addr) {
		t.Error("Clear to send before node 2 advertised readiness")
	}

	bn.round(10)
	// Every node has now passed the token at least once
	for i := 0; !b.Holding() && i < 20; i++ {
		bn.round(1)
	}
	if !b.ClearToSend(addr) {
		t.Error("Not clear to send to a ready vertex while holding the token")
	}
	if !b.ClearToSend(protocol.Bus(2, AnyIndex).Operand) {
		t.Error("Wildcard index did not resolve to the attached vertex")
	}
	if err := b.Send([]byte{0x01, 0x02, 0, 0, 0}, addr); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if b.ClearToSend(addr) {
		t.Error("Second send allowed in the same hold")
	}
}

func TestBusRegeneratesLostToken(t *testing.T) {
	// Node 2 is configured in the ring but absent
	m := NewMedium()
	var clk uint32
	f := newFabric("n1", core.TypeBus, &clk)
	b := NewBus(m.Tap(), BusConfig{Addr: 1, Next: 2, Lost: 10, Master: true})
	b.Attach(f.link)

	for range 50 {
		clk++
		f.s.Tick()
	}
	if got := b.Stats().Regenerated; got < 3 {
		t.Errorf("Regenerated: got %d, want at least 3", got)
	}
	if b.IsOpen(core.AnyAddress) {
		t.Error("Lone node reports a live peer")
	}
}
