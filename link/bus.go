package link

import (
	"math/bits"

	"vgraph/core"
	"vgraph/protocol"
)

// Bus frame kinds
const (
	kindToken   = 0x10 // ready(2) attached(2)
	kindBusData = 0x11 // idx(1) packet
)

// AnyIndex in a BUS operand selects the lowest vertex the target node
// has attached to the bus
const AnyIndex = 0xFF

// Bus defaults, in ticks
const (
	DefaultHold = 2
	DefaultLost = 50

	busHeader = 3 // dst src kind
)

// BusLine is the physical side of a shared bus: every transmitted frame
// is seen by every other node
type BusLine interface {
	// Transmit puts one encoded frame on the line
	Transmit(frame []byte) error

	// Drain moves bytes received since the last call into dst
	Drain(dst []byte) int
}

// BusConfig places a node in the token ring
type BusConfig struct {
	Addr   uint8  // own address
	Next   uint8  // successor in the ring
	Hold   uint32 // ticks the token may be held
	Lost   uint32 // silence after which the master regenerates the token
	Master bool   // creates the token at startup
}

// BusStats counts bus activity
type BusStats struct {
	FramesIn    int
	FramesOut   int
	Errors      int
	Rejected    int
	Tokens      int // tokens received
	Regenerated int // tokens created by the master
}

// Bus is a token-passing multi-drop link. A node may transmit one data
// frame per token hold, and only to a vertex the target node advertised
// as ready in its last token frame.
type Bus struct {
	line BusLine
	cfg  BusConfig
	dec  Decoder

	vertices [core.MaxChildren]*core.Vertex

	holding   bool
	sent      bool
	holdStart uint32
	started   bool
	lastSeen  uint32 // any traffic on the line
	lastPoll  uint32

	ready    [256]uint16 // per node, vertices with a free ingress slot
	attached [256]uint16 // per node, vertices bound to the bus
	seen     [256]uint32
	known    [256]bool

	rx    [64]byte
	raw   [MaxFrame]byte
	enc   [MaxEncoded]byte
	stats BusStats
}

// NewBus creates a node on line. Zero timing fields take the defaults.
func NewBus(line BusLine, cfg BusConfig) *Bus {
	if cfg.Hold == 0 {
		cfg.Hold = DefaultHold
	}
	if cfg.Lost == 0 {
		cfg.Lost = DefaultLost
	}
	return &Bus{line: line, cfg: cfg}
}

// Attach binds v to the bus. Data frames naming the index of v are
// injected into its origin queue.
func (b *Bus) Attach(v *core.Vertex) {
	idx := v.Index()
	if int(idx) >= len(b.vertices) {
		panic("bus vertex index out of range: " + v.Name)
	}
	b.vertices[idx] = v
	v.Attach(b)
}

// Stats returns a copy of the bus counters
func (b *Bus) Stats() BusStats {
	st := b.stats
	st.Errors = b.dec.Errors
	return st
}

// Holding reports whether this node holds the token
func (b *Bus) Holding() bool { return b.holding }

// resolve maps AnyIndex to a concrete vertex index of the target node
func (b *Bus) resolve(addr uint16) uint16 {
	node := addr >> 8
	if addr&0xFF == AnyIndex && b.attached[node] != 0 {
		return node<<8 | uint16(bits.TrailingZeros16(b.attached[node]))
	}
	return addr
}

func (b *Bus) ClearToSend(addr uint16) bool {
	addr = b.resolve(addr)
	node, idx := addr>>8, addr&0xFF
	if idx >= core.MaxChildren {
		return true // fails fast in Send
	}
	return b.holding && !b.sent && b.ready[node]&(1<<idx) != 0
}

func (b *Bus) Send(pkt []byte, addr uint16) error {
	addr = b.resolve(addr)
	node, idx := uint8(addr>>8), uint8(addr)
	if idx >= core.MaxChildren {
		return ErrBadAddress
	}
	if !b.holding || b.sent {
		return ErrNoCredit
	}
	if busHeader+1+len(pkt) > len(b.raw) {
		return protocol.ErrTooLarge
	}
	b.raw[0], b.raw[1], b.raw[2], b.raw[3] = node, b.cfg.Addr, kindBusData, idx
	n := busHeader + 1 + copy(b.raw[busHeader+1:], pkt)
	if err := b.emit(b.raw[:n]); err != nil {
		return err
	}
	b.sent = true
	b.ready[node] &^= 1 << idx
	return nil
}

func (b *Bus) IsOpen(addr uint16) bool {
	now := b.lastPoll
	if addr == core.AnyAddress {
		for node, ok := range b.known {
			if ok && node != int(b.cfg.Addr) && !core.Expired(b.seen[node], now, b.cfg.Lost) {
				return true
			}
		}
		return false
	}
	node := addr >> 8
	return b.known[node] && !core.Expired(b.seen[node], now, b.cfg.Lost)
}

func (b *Bus) Address() uint8 { return b.cfg.Addr }

// Poll reads the line and runs the token protocol
func (b *Bus) Poll(s *core.Scheduler, v *core.Vertex, now uint32) {
	b.lastPoll = now
	for {
		n := b.line.Drain(b.rx[:])
		if n == 0 {
			break
		}
		b.dec.Feed(b.rx[:n], func(frame []byte) { b.handle(frame, now) })
	}

	switch {
	case b.holding:
		if b.sent || core.Expired(b.holdStart, now, b.cfg.Hold) {
			b.pass(now)
		}
	case b.cfg.Master && (!b.started || core.Expired(b.lastSeen, now, b.cfg.Lost)):
		b.started = true
		b.stats.Regenerated++
		b.take(now)
	}
}

func (b *Bus) handle(frame []byte, now uint32) {
	if len(frame) < busHeader {
		return
	}
	b.stats.FramesIn++
	b.lastSeen = now
	dst, src, kind := frame[0], frame[1], frame[2]
	b.seen[src] = now
	b.known[src] = true

	switch kind {
	case kindToken:
		if len(frame) >= busHeader+4 {
			b.ready[src] = uint16(frame[3])<<8 | uint16(frame[4])
			b.attached[src] = uint16(frame[5])<<8 | uint16(frame[6])
		}
		if dst == b.cfg.Addr {
			b.stats.Tokens++
			b.take(now)
		}

	case kindBusData:
		if dst != b.cfg.Addr {
			return
		}
		if len(frame) < busHeader+2 {
			b.stats.Rejected++
			return
		}
		idx := int(frame[3])
		if idx >= len(b.vertices) || b.vertices[idx] == nil {
			b.stats.Rejected++
			return
		}
		if _, err := b.vertices[idx].Origin.Inject(frame[busHeader+1:], now); err != nil {
			b.stats.Rejected++
		}
	}
}

func (b *Bus) take(now uint32) {
	b.holding = true
	b.sent = false
	b.holdStart = now
}

// pass hands the token to the successor, advertising own readiness
func (b *Bus) pass(now uint32) {
	var ready, attached uint16
	for idx, v := range b.vertices {
		if v == nil {
			continue
		}
		attached |= 1 << idx
		if v.Origin.Free() > 0 {
			ready |= 1 << idx
		}
	}
	frame := [7]byte{
		b.cfg.Next, b.cfg.Addr, kindToken,
		byte(ready >> 8), byte(ready),
		byte(attached >> 8), byte(attached),
	}
	if b.emit(frame[:]) != nil {
		return // keep the token and try again next poll
	}
	b.holding = false
	b.lastSeen = now
}

func (b *Bus) emit(payload []byte) error {
	n, err := EncodeFrame(b.enc[:], payload)
	if err != nil {
		return err
	}
	if err := b.line.Transmit(b.enc[:n]); err != nil {
		return err
	}
	b.stats.FramesOut++
	return nil
}
