package core

import (
	"testing"

	"vgraph/protocol"
)

// clock is a manual tick source for schedulers under test
type clock struct{ t uint32 }

func (c *clock) now() uint32 { return c.t }

// faults collects reports delivered to a scheduler
type faults struct{ got []Report }

func (f *faults) report(r Report) { f.got = append(f.got, r) }

func (f *faults) count(kind Fault) int {
	n := 0
	for _, r := range f.got {
		if r.Fault == kind {
			n++
		}
	}
	return n
}

func newTestScheduler(root *Vertex) (*Scheduler, *clock, *faults) {
	c := new(clock)
	f := new(faults)
	s := NewScheduler(root)
	s.SetTimeSource(c.now)
	s.SetReporter(f.report)
	return s, c, f
}

// tap records packets sitting at DEST in the queues of a vertex at the
// start of its visit
type tap struct {
	seen [][]byte
}

func (tp *tap) Poll(s *Scheduler, v *Vertex, now uint32) {
	for _, q := range []*SlotQueue{v.Origin, v.Destination} {
		for _, h := range q.Ready(nil) {
			pkt := q.Bytes(h)
			ptr, err := protocol.LocatePointer(pkt, 0)
			if err != nil {
				continue
			}
			if in, _ := protocol.Current(pkt, ptr); in.Op == protocol.OpDest {
				tp.seen = append(tp.seen, append([]byte(nil), pkt...))
			}
		}
	}
}

// mustRoute parses a route or fails the test
func mustRoute(t *testing.T, text string) protocol.Route {
	t.Helper()
	r, err := protocol.ParseRoute(text)
	if err != nil {
		t.Fatalf("ParseRoute(%q): %v", text, err)
	}
	return r
}

// packet builds route + DEST + an ackless segment carrying data
func packet(t *testing.T, route protocol.Route, data ...byte) []byte {
	t.Helper()
	return segmentPacket(t, route, protocol.Segment{Mode: protocol.ModeAckless, Data: data})
}

func segmentPacket(t *testing.T, route protocol.Route, seg protocol.Segment) []byte {
	t.Helper()
	var hdr [protocol.MaxHeader]byte
	n := route.Encode(hdr[:])
	buf := make([]byte, protocol.MaxPacket)
	m, err := protocol.BuildPacket(buf, hdr[:n], seg)
	if err != nil {
		t.Fatalf("BuildPacket: %v", err)
	}
	return buf[:m]
}

// load puts pkt into q at time now
func load(t *testing.T, q *SlotQueue, pkt []byte, now uint32) Handle {
	t.Helper()
	h, err := q.Inject(pkt, now)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	return h
}

func ticks(s *Scheduler, n int) {
	for range n {
		s.Tick()
	}
}
