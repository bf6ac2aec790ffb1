package core

import "vgraph/protocol"

// AnyAddress asks a Transport about any peer rather than a specific one
const AnyAddress uint16 = 0xFFFF

// Poller is local vertex behavior run once per tick, before the queues
// of the vertex are drained
type Poller interface {
	Poll(s *Scheduler, v *Vertex, now uint32)
}

// Transport is the capability of port and bus vertices to move packets
// off the device. Ingress loads into the origin queue of the vertex whose
// index the far side addressed.
type Transport interface {
	// ClearToSend reports whether Send to addr would be accepted now
	ClearToSend(addr uint16) bool

	// Send transmits pkt to addr. The pointer in pkt already sits after
	// the consumed PORT or BUS instruction.
	Send(pkt []byte, addr uint16) error

	// IsOpen reports link status toward addr, or toward any peer for
	// AnyAddress
	IsOpen(addr uint16) bool

	// Address returns the own bus address, zero for point-to-point ports
	Address() uint8
}

// ScopeObserver receives scope responses that reached their originator.
// route is the hop sequence from v to the responding vertex.
type ScopeObserver interface {
	ObserveScope(v *Vertex, route protocol.Route, rsp protocol.ScopeResponse)
}

// Verdict is an application decision about inbound data
type Verdict uint8

const (
	Reject Verdict = iota // drop the data, free the slot
	Accept                // copy the data into the cell, free the slot
	Wait                  // keep the slot, ask again next tick
)

func (v Verdict) String() string {
	switch v {
	case Reject:
		return "reject"
	case Accept:
		return "accept"
	case Wait:
		return "wait"
	}
	return "verdict(" + utoa(uint32(v)) + ")"
}

// App is the application side of an Endpoint
type App interface {
	// OnData decides what to do with an inbound write
	OnData(data []byte) Verdict

	// BeforeQuery runs right before the cell is sent as a query response
	BeforeQuery()
}

// AppFuncs adapts plain functions to App. Nil fields accept every write
// and do nothing before queries.
type AppFuncs struct {
	Data  func([]byte) Verdict
	Query func()
}

func (a AppFuncs) OnData(data []byte) Verdict {
	if a.Data == nil {
		return Accept
	}
	return a.Data(data)
}

func (a AppFuncs) BeforeQuery() {
	if a.Query != nil {
		a.Query()
	}
}
