package core

import "errors"

var (
	ErrStale      = errors.New("packet queued past stale threshold")
	ErrUnroutable = errors.New("no vertex or transport for instruction")
	ErrProtocol   = errors.New("unexpected opcode at pointer")
	ErrOverflow   = errors.New("data exceeds cell or packet size")
	ErrSlotBusy   = errors.New("slot is occupied")
	ErrBadHandle  = errors.New("slot handle out of range")
	ErrQueueFull  = errors.New("no free slot")
	ErrRetries    = errors.New("acknowledgement retries exhausted")
)

// Fault classifies a dropped packet or failed delivery
type Fault uint8

const (
	FaultNone Fault = iota
	FaultMalformed
	FaultStale
	FaultUnroutable
	FaultProtocol
	FaultOverflow
	FaultTransport
	FaultRetries

	numFaults
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultMalformed:
		return "malformed"
	case FaultStale:
		return "stale"
	case FaultUnroutable:
		return "unroutable"
	case FaultProtocol:
		return "protocol"
	case FaultOverflow:
		return "overflow"
	case FaultTransport:
		return "transport"
	case FaultRetries:
		return "retries"
	}
	return "fault(" + utoa(uint32(f)) + ")"
}

// Faults lists every reportable fault class
func Faults() []Fault {
	return []Fault{FaultMalformed, FaultStale, FaultUnroutable, FaultProtocol, FaultOverflow, FaultTransport, FaultRetries}
}

// Report describes one fault. Reports are diagnostics only; the fabric
// has already freed the slot when a report is delivered.
type Report struct {
	Fault  Fault
	Vertex *Vertex
	Time   uint32
	Err    error
}

// Reporter receives fault reports from the scheduler
type Reporter func(Report)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Event is one entry in the fault ring kept for post-mortem dumps
type Event struct {
	Fault  Fault
	Index  uint16 // index of the reporting vertex
	Type   VertexType
	Time   uint32
	Opcode byte // opcode at the pointer, if known
}

const EventRingSize = 32

// eventRing keeps the most recent faults of one scheduler, overwriting the
// oldest
type eventRing struct {
	buf  [EventRingSize]Event
	head uint8
}

func (r *eventRing) record(evt Event) {
	r.buf[r.head] = evt
	r.head = (r.head + 1) % EventRingSize
}

func (r *eventRing) events() []Event {
	var out []Event
	for i := uint8(0); i < EventRingSize; i++ {
		evt := r.buf[(r.head+i)%EventRingSize]
		if evt.Fault != FaultNone {
			out = append(out, evt)
		}
	}
	return out
}

// dump writes the ring to w, one line per event between markers
func (r *eventRing) dump(w DebugWriter) {
	w("[FAULT] === Fault Ring Dump ===")
	for _, evt := range r.events() {
		w("[FAULT] " + evt.Fault.String() +
			" vertex=" + evt.Type.String() + "/" + utoa(uint32(evt.Index)) +
			" time=" + utoa(evt.Time) +
			" op=" + utoa(uint32(evt.Opcode)))
	}
	w("[FAULT] === End Dump ===")
}
