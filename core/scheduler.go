package core

import "vgraph/protocol"

// DefaultStaleTicks is how long a packet may wait in one queue
const DefaultStaleTicks = 1000

// Stats counts scheduler activity since construction
type Stats struct {
	Ticks     uint32
	Hops      uint32 // moves between vertices of this tree
	Sent      uint32 // handoffs to a transport
	Delivered uint32 // DEST dispatches that freed the slot
	Scopes    uint32 // scope requests answered
	Drops     [numFaults]uint32
}

// Dropped returns the number of drops of class f
func (st Stats) Dropped(f Fault) uint32 {
	if f >= numFaults {
		return 0
	}
	return st.Drops[f]
}

// Scheduler drives one vertex tree. All methods must be called from the
// tick goroutine; only SlotQueue.Inject may run concurrently.
type Scheduler struct {
	root       *Vertex
	staleTicks uint32
	report     Reporter
	now        func() uint32
	stats      Stats
	events     eventRing

	// Scratch space owned by the tick in progress
	scratch [protocol.MaxPacket]byte
	header  [protocol.MaxHeader]byte
	ready   [MaxSlots]Handle
}

// NewScheduler creates a scheduler for the tree rooted at root
func NewScheduler(root *Vertex) *Scheduler {
	return &Scheduler{
		root:       root,
		staleTicks: DefaultStaleTicks,
		now:        GetTime,
	}
}

// SetStaleTicks sets the staleness threshold
func (s *Scheduler) SetStaleTicks(n uint32) { s.staleTicks = n }

// SetReporter installs the fault sink
func (s *Scheduler) SetReporter(r Reporter) { s.report = r }

// SetTimeSource replaces GetTime as the tick clock
func (s *Scheduler) SetTimeSource(now func() uint32) { s.now = now }

// Root returns the root of the scheduled tree
func (s *Scheduler) Root() *Vertex { return s.root }

// Stats returns a copy of the activity counters
func (s *Scheduler) Stats() Stats { return s.stats }

// Events returns the faults recorded by s, oldest first. Only the most
// recent EventRingSize are kept.
func (s *Scheduler) Events() []Event { return s.events.events() }

// DumpEvents writes the recorded faults of s to w
func (s *Scheduler) DumpEvents(w DebugWriter) { s.events.dump(w) }

// Now returns the current tick time
func (s *Scheduler) Now() uint32 { return s.now() }

// Tick runs one pass over the tree: depth-first, root first. At each
// vertex the local behavior polls, then the origin queue drains, then the
// destination queue drains.
func (s *Scheduler) Tick() {
	now := s.now()
	s.stats.Ticks++
	s.visit(s.root, now)
}

func (s *Scheduler) visit(v *Vertex, now uint32) {
	if p, ok := v.behavior.(Poller); ok {
		p.Poll(s, v, now)
	}
	s.drain(v, v.Origin, now)
	s.drain(v, v.Destination, now)
	for _, c := range v.children {
		s.visit(c, now)
	}
}

func (s *Scheduler) drain(v *Vertex, q *SlotQueue, now uint32) {
	for _, h := range q.Ready(s.ready[:0]) {
		s.step(v, q, h, now)
	}
}

// step examines one queued packet and either resolves it or leaves it
// for the next tick
func (s *Scheduler) step(v *Vertex, q *SlotQueue, h Handle, now uint32) {
	if Expired(q.Arrival(h), now, s.staleTicks) {
		s.drop(v, q, h, FaultStale, ErrStale)
		return
	}
	pkt := q.Bytes(h)
	ptr, err := protocol.LocatePointer(pkt, 0)
	if err != nil {
		s.drop(v, q, h, FaultMalformed, err)
		return
	}
	in, err := protocol.Current(pkt, ptr)
	if err != nil {
		s.drop(v, q, h, FaultMalformed, err)
		return
	}

	switch in.Op {
	case protocol.OpDest:
		s.deliver(v, q, h, ptr, now)
	case protocol.OpParent, protocol.OpChild, protocol.OpSibling:
		s.hop(v, q, h, ptr, in, now)
	case protocol.OpPort, protocol.OpBus:
		s.forward(v, q, h, ptr, in)
	case protocol.OpScopeRequest:
		s.answerScope(v, q, h, ptr, now)
	case protocol.OpScopeResponse:
		s.observeScope(v, q, h, ptr)
	default:
		s.drop(v, q, h, FaultProtocol, ErrProtocol)
	}
}

// hop moves the packet to a relative of v. The copy is advanced in
// scratch so the source stays untouched until the target slot is loaded.
func (s *Scheduler) hop(v *Vertex, q *SlotQueue, h Handle, ptr int, in protocol.Instruction, now uint32) {
	var target *Vertex
	var mirror protocol.Instruction
	switch in.Op {
	case protocol.OpParent:
		target, mirror = v.parent, protocol.Child(v.index)
	case protocol.OpChild:
		target, mirror = v.Child(int(in.Operand)), protocol.Parent()
	case protocol.OpSibling:
		target, mirror = v.Sibling(int(in.Operand)), protocol.Sibling(v.index)
	}
	if target == nil {
		s.drop(v, q, h, FaultUnroutable, ErrUnroutable)
		return
	}
	dst, ok := target.Destination.FindFree()
	if !ok {
		return // congestion: retry next tick
	}

	n := copy(s.scratch[:], q.Bytes(h))
	if _, err := protocol.Advance(s.scratch[:n], ptr, mirror); err != nil {
		s.drop(v, q, h, FaultMalformed, err)
		return
	}
	if err := target.Destination.Load(dst, s.scratch[:n], now); err != nil {
		return
	}
	s.stats.Hops++
	q.Clear(h)
}

// forward hands the packet to the transport of v once it is clear to
// send. The consumed instruction is rewritten to name v so a reply
// entering from the far side comes back to this vertex.
func (s *Scheduler) forward(v *Vertex, q *SlotQueue, h Handle, ptr int, in protocol.Instruction) {
	t, ok := v.behavior.(Transport)
	if !ok {
		s.drop(v, q, h, FaultUnroutable, ErrUnroutable)
		return
	}
	if !t.ClearToSend(in.Operand) {
		return
	}

	mirror := protocol.Port(v.index)
	if in.Op == protocol.OpBus {
		mirror = protocol.Bus(t.Address(), uint8(v.index))
	}
	n := copy(s.scratch[:], q.Bytes(h))
	if _, err := protocol.Advance(s.scratch[:n], ptr, mirror); err != nil {
		s.drop(v, q, h, FaultMalformed, err)
		return
	}
	if err := t.Send(s.scratch[:n], in.Operand); err != nil {
		s.drop(v, q, h, FaultTransport, err)
		return
	}
	s.stats.Sent++
	q.Clear(h)
}

// deliver runs the destination handler for the type of v
func (s *Scheduler) deliver(v *Vertex, q *SlotQueue, h Handle, ptr int, now uint32) {
	switch v.Type {
	case TypeEndpoint, TypeEndpointMultiSegment:
		if e, ok := v.behavior.(*Endpoint); ok {
			if e.receive(s, v, q, h, ptr, now) {
				s.stats.Delivered++
				q.Clear(h)
			}
			return
		}
	}
	// Non-addressable vertices discard what reaches them
	s.stats.Delivered++
	q.Clear(h)
}

// drop frees h and reports the fault
func (s *Scheduler) drop(v *Vertex, q *SlotQueue, h Handle, f Fault, err error) {
	var op byte
	if pkt := q.Bytes(h); len(pkt) > 0 {
		if ptr, perr := protocol.LocatePointer(pkt, 0); perr == nil && ptr+1 < len(pkt) {
			op = pkt[ptr+1]
		}
	}
	q.Clear(h)
	s.stats.Drops[f]++
	s.emit(f, v, err, op)
}

// Report records a fault that did not drop a packet, such as an
// endpoint giving up on an acknowledgement
func (s *Scheduler) Report(f Fault, v *Vertex, err error) {
	s.emit(f, v, err, 0)
}

func (s *Scheduler) emit(f Fault, v *Vertex, err error, op byte) {
	now := s.now()
	s.events.record(Event{Fault: f, Index: v.index, Type: v.Type, Time: now, Opcode: op})
	if s.report != nil {
		s.report(Report{Fault: f, Vertex: v, Time: now, Err: err})
	}
}
