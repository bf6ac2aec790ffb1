package link

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"vgraph/core"
	"vgraph/protocol"
)

// fabric is a root with a link vertex at index 0 and an endpoint at 1
type fabric struct {
	s    *core.Scheduler
	link *core.Vertex
	ep   *core.Endpoint
	out  bytes.Buffer
	errs []core.Report
}

func newFabric(name string, typ core.VertexType, clk *uint32) *fabric {
	f := new(fabric)
	root := core.NewVertex(name, core.TypeRoot, 2)
	f.link = root.AddChild(core.NewVertex(name+"-link", typ, 2))
	f.ep = core.NewEndpoint(name+"-ep", 8, 2, nil)
	root.AddChild(f.ep.Vertex())
	f.s = core.NewScheduler(root)
	f.s.SetTimeSource(func() uint32 { return *clk })
	f.s.SetReporter(func(r core.Report) { f.errs = append(f.errs, r) })
	return f
}

type portPair struct {
	clk     uint32
	a, b    *fabric
	pa, pb  *Port
	severed bool
}

func newPortPair(t *testing.T) *portPair {
	t.Helper()
	pp := new(portPair)
	pp.a = newFabric("a", core.TypePort, &pp.clk)
	pp.b = newFabric("b", core.TypePort, &pp.clk)
	pp.pa = NewPort(&protocol.WriterOutput{W: &pp.a.out}, PortConfig{KeepAlive: 10, Timeout: 30})
	pp.pb = NewPort(&protocol.WriterOutput{W: &pp.b.out}, PortConfig{KeepAlive: 10, Timeout: 30})
	pp.pa.Attach(pp.a.link)
	pp.pb.Attach(pp.b.link)
	return pp
}

// round advances the clock, ticks both sides and carries their output
// across the wire
func (pp *portPair) round(n int) {
	for range n {
		pp.clk++
		pp.a.s.Tick()
		pp.b.s.Tick()
		if pp.severed {
			pp.a.out.Reset()
			pp.b.out.Reset()
			continue
		}
		pp.pb.Receive(protocol.NewSliceInputBuffer(pp.a.out.Bytes()), pp.clk)
		pp.pa.Receive(protocol.NewSliceInputBuffer(pp.b.out.Bytes()), pp.clk)
		pp.a.out.Reset()
		pp.b.out.Reset()
	}
}

func TestPortOpens(t *testing.T) {
	pp := newPortPair(t)
	if pp.pa.IsOpen(0) {
		t.Fatal("Link open before any traffic")
	}
	pp.round(3)
	if !pp.pa.IsOpen(0) || !pp.pb.IsOpen(0) {
		t.Fatalf("Link not open after HELLO exchange: a=%v b=%v", pp.pa.IsOpen(0), pp.pb.IsOpen(0))
	}
	if got := pp.pa.Credit(0); got != 2 {
		t.Errorf("Initial credit: got %d, want the far queue size 2", got)
	}
	if pp.pa.Credit(1) != 0 {
		t.Error("Credit granted for a vertex that is not attached")
	}
	if !pp.pa.ClearToSend(core.AnyAddress) || pp.pa.Credit(core.AnyAddress) != 2 {
		t.Error("Wildcard address did not resolve to the announced far vertex")
	}
}

func TestPortAckedWriteAcrossLink(t *testing.T) {
	pp := newPortPair(t)
	pp.round(3)

	route, err := protocol.ParseRoute("sibling:0 port:0 sibling:1")
	if err != nil {
		t.Fatalf("ParseRoute: %v", err)
	}
	if _, err := pp.a.ep.AddRoute(route, core.RouteOptions{Acked: true, Timeout: 100}); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	pp.a.ep.Write([]byte{0xCA, 0xFE})
	pp.round(12)

	if diff := cmp.Diff([]byte{0xCA, 0xFE}, pp.b.ep.Data()); diff != "" {
		t.Errorf("Cell at b (-want, +got):\n%s", diff)
	}
	if st := pp.a.ep.State(0); st != core.Idle {
		t.Errorf("Route state at a: got %v, want %v", st, core.Idle)
	}
	if pp.a.s.Stats().Sent != 1 || pp.b.s.Stats().Sent != 1 {
		t.Errorf("Transport sends: a=%d b=%d, want one each way", pp.a.s.Stats().Sent, pp.b.s.Stats().Sent)
	}
	// Freed ingress slots flowed back as credit
	if pp.pa.Credit(0) != 2 || pp.pb.Credit(0) != 2 {
		t.Errorf("Credit after exchange: a=%d b=%d, want 2/2", pp.pa.Credit(0), pp.pb.Credit(0))
	}
	if len(pp.a.errs)+len(pp.b.errs) != 0 {
		t.Errorf("Unexpected faults: %v %v", pp.a.errs, pp.b.errs)
	}
}

func TestPortHoldsWithoutCredit(t *testing.T) {
	pp := newPortPair(t)
	var hdr [protocol.MaxHeader]byte
	route, _ := protocol.ParseRoute("port:0")
	pkt := make([]byte, protocol.MaxPacket)
	n, _ := protocol.BuildPacket(pkt, hdr[:route.Encode(hdr[:])], protocol.Segment{Data: []byte{1}})

	// Link still closed: the packet waits in the port vertex
	h, err := pp.a.link.Destination.Inject(pkt[:n], 0)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	pp.clk++
	pp.a.s.Tick()
	if !pp.a.link.Destination.Occupied(h) {
		t.Fatal("Packet left without credit")
	}
	if err := pp.pa.Send(pkt[:n], 0); !errors.Is(err, ErrNoCredit) {
		t.Errorf("Send without credit: got %v, want %v", err, ErrNoCredit)
	}

	pp.round(4)
	if pp.a.link.Destination.Len() != 0 {
		t.Error("Packet still queued after the link opened")
	}
	if got := pp.b.s.Stats().Delivered; got != 1 {
		t.Errorf("Deliveries at b: got %d, want 1", got)
	}
}

func TestPortClosesAndReopens(t *testing.T) {
	pp := newPortPair(t)
	pp.round(3)

	pp.severed = true
	pp.round(40)
	if pp.pa.IsOpen(0) || pp.pa.Credit(0) != 0 {
		t.Errorf("Silent link: open=%v credit=%d, want closed without credit", pp.pa.IsOpen(0), pp.pa.Credit(0))
	}

	pp.severed = false
	pp.round(25)
	if !pp.pa.IsOpen(0) || !pp.pb.IsOpen(0) {
		t.Errorf("Link did not reopen: a=%v b=%v", pp.pa.IsOpen(0), pp.pb.IsOpen(0))
	}
	if pp.pa.Credit(0) != 2 {
		t.Errorf("Credit after reopen: got %d, want 2", pp.pa.Credit(0))
	}
}

func TestPortRejectsBadIngress(t *testing.T) {
	pp := newPortPair(t)
	var enc [MaxEncoded]byte
	var wire []byte
	for _, frame := range [][]byte{
		{kindData, 0, 5, 0x01, 0x02, 0, 0, 0}, // no vertex at 5
		{kindData, 0},                         // truncated
	} {
		n, _ := EncodeFrame(enc[:], frame)
		wire = append(wire, enc[:n]...)
	}
	wire = append(wire, 0x07, 0x99, 0x00) // garbage

	pp.pa.Receive(protocol.NewSliceInputBuffer(wire), 0)
	st := pp.pa.Stats()
	if st.Rejected != 2 || st.Errors != 1 {
		t.Errorf("Stats: got %+v, want 2 rejected and 1 error", st)
	}
	if err := pp.pa.Send([]byte{1}, 99); !errors.Is(err, ErrBadAddress) {
		t.Errorf("Send to address 99: got %v, want %v", err, ErrBadAddress)
	}
}
