package core

import "vgraph/protocol"

// Endpoint limits
const (
	MaxRoutes      = 8
	MaxCell        = protocol.MaxPacket - protocol.PointerSize - 1 - protocol.SegmentHeader - protocol.AckIDSize
	DefaultRetries = 3
)

// RouteState is the transmit lifecycle of one endpoint route
type RouteState uint8

const (
	Idle             RouteState = iota // nothing to send
	Fresh                              // cell changed, send when a slot is free
	AwaitingAck                        // sent, waiting for the ack
	AwaitingAndFresh                   // sent, and the cell changed again since
)

func (st RouteState) String() string {
	switch st {
	case Idle:
		return "idle"
	case Fresh:
		return "fresh"
	case AwaitingAck:
		return "awaiting-ack"
	case AwaitingAndFresh:
		return "awaiting-and-fresh"
	}
	return "state(" + utoa(uint32(st)) + ")"
}

// RouteOptions configures one outbound route
type RouteOptions struct {
	Acked   bool
	Timeout uint32 // ticks to wait for an ack
	Retries uint8  // timeouts tolerated before giving up; 0 selects DefaultRetries
}

// endpointRoute is one outbound subscription. The header is precomputed
// so a send only appends the segment.
type endpointRoute struct {
	header  [protocol.MaxHeader]byte
	hlen    int
	mode    protocol.Mode
	segSize int
	state   RouteState
	txTime  uint32
	timeout uint32
	ackID   uint16
	retries uint8
	limit   uint8
}

// Endpoint is a leaf vertex exposing one data cell. Local writes fan out
// over its routes; inbound writes, queries and acks arrive as DEST
// segments.
type Endpoint struct {
	vertex *Vertex
	app    App

	cell     [MaxCell]byte
	n        int
	cellSize int

	routes  [MaxRoutes]endpointRoute
	nroutes int
	next    int // route examined first on the next poll
	nextAck uint16
}

// NewEndpoint creates an endpoint vertex with a cell of cellSize bytes.
// A nil app accepts every write. It panics if cellSize exceeds MaxCell.
func NewEndpoint(name string, cellSize, slots int, app App) *Endpoint {
	if cellSize <= 0 || cellSize > MaxCell {
		panic("endpoint cell size out of range: " + itoa(cellSize))
	}
	if app == nil {
		app = AppFuncs{}
	}
	e := &Endpoint{
		vertex:   NewVertex(name, TypeEndpoint, slots),
		app:      app,
		cellSize: cellSize,
	}
	e.vertex.Attach(e)
	return e
}

// Vertex returns the vertex of e
func (e *Endpoint) Vertex() *Vertex { return e.vertex }

// AddRoute registers an outbound route and returns its index. The route
// must leave room for a full cell in one packet.
func (e *Endpoint) AddRoute(route protocol.Route, opts RouteOptions) (int, error) {
	if e.nroutes >= MaxRoutes {
		return 0, ErrOverflow
	}
	seg := e.cellSize
	mode := protocol.ModeAckless
	if opts.Acked {
		mode = protocol.ModeAcked
	}
	worst := protocol.Segment{Mode: mode, Data: e.cell[:seg]}
	if route.EncodedLen()+1+worst.Len() > protocol.MaxPacket {
		return 0, protocol.ErrTooLarge
	}

	r := &e.routes[e.nroutes]
	*r = endpointRoute{
		mode:    mode,
		segSize: seg,
		timeout: opts.Timeout,
		limit:   opts.Retries,
	}
	if r.limit == 0 {
		r.limit = DefaultRetries
	}
	r.hlen = route.Encode(r.header[:])
	e.nroutes++
	return e.nroutes - 1, nil
}

// Routes returns the number of routes
func (e *Endpoint) Routes() int { return e.nroutes }

// State returns the transmit state of route i
func (e *Endpoint) State(i int) RouteState {
	if i < 0 || i >= e.nroutes {
		return Idle
	}
	return e.routes[i].state
}

// AckID returns the id of the last acked send on route i
func (e *Endpoint) AckID(i int) uint16 {
	if i < 0 || i >= e.nroutes {
		return 0
	}
	return e.routes[i].ackID
}

// Data returns the current cell contents
func (e *Endpoint) Data() []byte { return e.cell[:e.n] }

// Write replaces the cell and marks every route for transmission
func (e *Endpoint) Write(data []byte) error {
	if len(data) > e.cellSize {
		return ErrOverflow
	}
	e.n = copy(e.cell[:], data)
	for i := range e.routes[:e.nroutes] {
		r := &e.routes[i]
		switch r.state {
		case Idle, Fresh:
			r.state = Fresh
		case AwaitingAck, AwaitingAndFresh:
			r.state = AwaitingAndFresh
		}
		r.retries = 0
	}
	return nil
}

// Poll services at most one route per tick, continuing round-robin from
// the route after the last one serviced
func (e *Endpoint) Poll(s *Scheduler, v *Vertex, now uint32) {
	for i := range e.nroutes {
		idx := (e.next + i) % e.nroutes
		r := &e.routes[idx]
		switch r.state {
		case Idle:
			continue
		case AwaitingAck, AwaitingAndFresh:
			if !Expired(r.txTime, now, r.timeout) {
				continue
			}
			e.expire(s, v, r)
			if r.state != Fresh {
				continue
			}
		}
		e.next = (idx + 1) % e.nroutes
		e.transmit(s, v, r, now)
		return
	}
}

// expire handles an ack timeout. A pending newer value is simply
// re-offered; an unacknowledged value is re-offered until the retry
// limit is reached.
func (e *Endpoint) expire(s *Scheduler, v *Vertex, r *endpointRoute) {
	if r.state == AwaitingAndFresh {
		r.state = Fresh
		return
	}
	r.retries++
	if r.retries > r.limit {
		r.state = Idle
		r.retries = 0
		s.Report(FaultRetries, v, ErrRetries)
		return
	}
	r.state = Fresh
}

// transmit loads the cell into the origin queue over r. Without a free
// slot the route stays fresh and is tried again later.
func (e *Endpoint) transmit(s *Scheduler, v *Vertex, r *endpointRoute, now uint32) {
	h, ok := v.Origin.FindFree()
	if !ok {
		return
	}
	seg := protocol.Segment{Mode: r.mode, Data: e.cell[:min(e.n, r.segSize)]}
	if r.mode == protocol.ModeAcked {
		e.nextAck++
		r.ackID = e.nextAck
		seg.AckID = r.ackID
	}
	n, err := protocol.BuildPacket(s.scratch[:], r.header[:r.hlen], seg)
	if err != nil {
		r.state = Idle
		s.Report(FaultOverflow, v, err)
		return
	}
	if err := v.Origin.Load(h, s.scratch[:n], now); err != nil {
		return
	}
	if r.mode == protocol.ModeAcked {
		r.state = AwaitingAck
		r.txTime = now
	} else {
		r.state = Idle
	}
}

// receive handles a DEST segment queued at h. It reports whether the
// slot is finished with; false means wait and look again next tick.
func (e *Endpoint) receive(s *Scheduler, v *Vertex, q *SlotQueue, h Handle, ptr int, now uint32) bool {
	pkt := q.Bytes(h)
	seg, err := protocol.ParseSegment(protocol.Body(pkt, ptr))
	if err != nil {
		s.Report(FaultMalformed, v, err)
		return true
	}

	switch seg.Mode {
	case protocol.ModeAckless, protocol.ModeQueryResponse:
		return e.offer(s, v, seg.Data) != Wait

	case protocol.ModeAcked:
		// The ack slot is reserved before the app sees the data so an
		// accepted write can always be acknowledged.
		oh, ok := v.Origin.FindFree()
		if !ok {
			return false
		}
		if e.offer(s, v, seg.Data) == Wait {
			return false
		}
		e.reply(s, v, oh, pkt, ptr, protocol.Segment{Mode: protocol.ModeAck, AckID: seg.AckID}, now)
		return true

	case protocol.ModeQuery:
		oh, ok := v.Origin.FindFree()
		if !ok {
			return false
		}
		e.app.BeforeQuery()
		e.reply(s, v, oh, pkt, ptr, protocol.Segment{Mode: protocol.ModeQueryResponse, Data: e.cell[:e.n]}, now)
		return true

	case protocol.ModeAck:
		e.acknowledge(seg.AckID)
		return true
	}
	return true
}

// offer runs the application contract for inbound data
func (e *Endpoint) offer(s *Scheduler, v *Vertex, data []byte) Verdict {
	if len(data) > e.cellSize {
		s.Report(FaultOverflow, v, ErrOverflow)
		return Reject
	}
	verdict := e.app.OnData(data)
	if verdict == Accept {
		e.n = copy(e.cell[:], data)
	}
	return verdict
}

// reply sends seg back along the route pkt arrived on, using origin slot
// oh. A route that cannot be reversed is reported and the reply dropped.
func (e *Endpoint) reply(s *Scheduler, v *Vertex, oh Handle, pkt []byte, ptr int, seg protocol.Segment, now uint32) {
	hn, err := protocol.ReverseRoute(pkt, ptr, s.header[:])
	if err != nil {
		s.Report(FaultMalformed, v, err)
		return
	}
	n, err := protocol.BuildPacket(s.scratch[:], s.header[:hn], seg)
	if err != nil {
		s.Report(FaultOverflow, v, err)
		return
	}
	if err := v.Origin.Load(oh, s.scratch[:n], now); err != nil {
		s.Report(FaultOverflow, v, err)
	}
}

// acknowledge matches an ack id against routes waiting for one
func (e *Endpoint) acknowledge(id uint16) {
	for i := range e.routes[:e.nroutes] {
		r := &e.routes[i]
		if r.ackID != id {
			continue
		}
		switch r.state {
		case AwaitingAck:
			r.state = Idle
			r.retries = 0
		case AwaitingAndFresh:
			r.state = Fresh
			r.retries = 0
		}
	}
}
