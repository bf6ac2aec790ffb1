package link

import (
	"errors"
	"math/bits"

	"vgraph/core"
	"vgraph/protocol"
)

// Port frame kinds
const (
	kindData   = 0x01 // addr(2) packet
	kindCredit = 0x02 // addr(2) count(1)
	kindHello  = 0x03 // reply(1) then addr(2) free(1) per attached vertex
	kindPing   = 0x04
)

// Port link defaults, in ticks
const (
	DefaultKeepAlive = 100
	DefaultTimeout   = 350
)

var (
	ErrNoCredit   = errors.New("no credit for address")
	ErrBadAddress = errors.New("address out of range")
)

// PortConfig tunes a point-to-point link
type PortConfig struct {
	KeepAlive uint32 // ticks between keep-alive frames
	Timeout   uint32 // silence after which the link counts as closed
}

// PortStats counts link activity
type PortStats struct {
	FramesIn  int
	FramesOut int
	Errors    int // undecodable frames
	Rejected  int // inbound packets with no vertex or no free slot
	Resyncs   int // peer restarts observed while open
}

// Port is a point-to-point link between two fabrics. It implements
// core.Transport and core.Poller for every vertex attached to it.
//
// Flow control is credit based: a side may only send to a far vertex
// while it holds credit for it. Credits are granted in a HELLO when the
// link opens and then one at a time as the far vertex frees origin slots.
type Port struct {
	out protocol.OutputBuffer
	cfg PortConfig
	dec Decoder

	vertices [core.MaxChildren]*core.Vertex
	credit   [core.MaxChildren]uint8
	pending  [core.MaxChildren]uint8
	peers    uint16 // far vertices announced in the last HELLO

	open      bool
	lastHeard uint32
	lastSent  uint32
	greeted   bool // at least one keep-alive went out
	helloDue  bool

	raw   [MaxFrame]byte
	enc   [MaxEncoded]byte
	stats PortStats
}

// NewPort creates a link writing frames to out. Zero config fields take
// the defaults.
func NewPort(out protocol.OutputBuffer, cfg PortConfig) *Port {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Port{out: out, cfg: cfg}
}

// Attach binds v to the link. Packets the far side addresses to the index
// of v are injected into its origin queue.
func (p *Port) Attach(v *core.Vertex) {
	idx := v.Index()
	if int(idx) >= len(p.vertices) {
		panic("port vertex index out of range: " + v.Name)
	}
	p.vertices[idx] = v
	v.Attach(p)
	v.Origin.SetClearHook(func(core.Handle) {
		if p.pending[idx] < 0xFF {
			p.pending[idx]++
		}
	})
}

// Stats returns a copy of the link counters
func (p *Port) Stats() PortStats {
	st := p.stats
	st.Errors = p.dec.Errors
	return st
}

// Credit returns the send credit held toward far vertex addr
func (p *Port) Credit(addr uint16) int {
	addr = p.resolve(addr)
	if int(addr) >= len(p.credit) {
		return 0
	}
	return int(p.credit[addr])
}

// resolve maps core.AnyAddress to the lowest far vertex the peer
// announced, so a walker can cross the link without knowing the far
// topology
func (p *Port) resolve(addr uint16) uint16 {
	if addr == core.AnyAddress && p.peers != 0 {
		return uint16(bits.TrailingZeros16(p.peers))
	}
	return addr
}

func (p *Port) ClearToSend(addr uint16) bool {
	addr = p.resolve(addr)
	if int(addr) >= len(p.credit) {
		return true // fails fast in Send
	}
	return p.open && p.credit[addr] > 0
}

func (p *Port) Send(pkt []byte, addr uint16) error {
	addr = p.resolve(addr)
	if int(addr) >= len(p.credit) {
		return ErrBadAddress
	}
	if !p.open || p.credit[addr] == 0 {
		return ErrNoCredit
	}
	if 3+len(pkt) > len(p.raw) {
		return protocol.ErrTooLarge
	}
	p.raw[0] = kindData
	p.raw[1] = byte(addr >> 8)
	p.raw[2] = byte(addr)
	n := 3 + copy(p.raw[3:], pkt)
	if err := p.emit(p.raw[:n]); err != nil {
		return err
	}
	p.credit[addr]--
	return nil
}

func (p *Port) IsOpen(uint16) bool { return p.open }

func (p *Port) Address() uint8 { return 0 }

// Receive consumes link bytes from in. Complete data frames are injected
// into the origin queue of the addressed vertex with arrival time now.
func (p *Port) Receive(in protocol.InputBuffer, now uint32) {
	data := in.Data()
	p.dec.Feed(data, func(frame []byte) { p.handle(frame, now) })
	in.Pop(len(data))
}

func (p *Port) handle(frame []byte, now uint32) {
	if len(frame) == 0 {
		return
	}
	p.stats.FramesIn++
	if p.open {
		p.lastHeard = now
	}

	switch frame[0] {
	case kindData:
		if len(frame) < 4 {
			p.stats.Rejected++
			return
		}
		addr := int(frame[1])<<8 | int(frame[2])
		if addr >= len(p.vertices) || p.vertices[addr] == nil {
			p.stats.Rejected++
			return
		}
		if _, err := p.vertices[addr].Origin.Inject(frame[3:], now); err != nil {
			p.stats.Rejected++
		}

	case kindCredit:
		if len(frame) < 4 {
			return
		}
		addr := int(frame[1])<<8 | int(frame[2])
		if addr < len(p.credit) {
			p.credit[addr] = uint8(min(int(p.credit[addr])+int(frame[3]), 0xFF))
		}

	case kindHello:
		if len(frame) < 2 {
			return
		}
		if p.open && frame[1] != 0 {
			p.stats.Resyncs++
		}
		p.credit = [core.MaxChildren]uint8{}
		p.peers = 0
		for rest := frame[2:]; len(rest) >= 3; rest = rest[3:] {
			addr := int(rest[0])<<8 | int(rest[1])
			if addr < len(p.credit) {
				p.credit[addr] = rest[2]
				p.peers |= 1 << addr
			}
		}
		p.open = true
		p.lastHeard = now
		if frame[1] != 0 {
			p.helloDue = true
		}

	case kindPing:
		// keep-alive only
	}
}

// Poll grants credit for freed ingress slots and keeps the link alive.
// It runs for every attached vertex but acts on link state only.
func (p *Port) Poll(s *core.Scheduler, v *core.Vertex, now uint32) {
	if p.open && core.Expired(p.lastHeard, now, p.cfg.Timeout) {
		p.open = false
		p.credit = [core.MaxChildren]uint8{}
	}

	for addr, n := range p.pending {
		if n == 0 {
			continue
		}
		if !p.open {
			// The next HELLO carries the free count
			p.pending[addr] = 0
			continue
		}
		frame := [4]byte{kindCredit, byte(addr >> 8), byte(addr), n}
		if p.emit(frame[:]) == nil {
			p.pending[addr] = 0
		}
	}

	if p.helloDue || !p.greeted || core.Expired(p.lastSent, now, p.cfg.KeepAlive) {
		var err error
		if p.open && !p.helloDue {
			err = p.emit([]byte{kindPing})
		} else {
			err = p.hello()
		}
		if err == nil {
			p.greeted = true
			p.helloDue = false
			p.lastSent = now
		}
	}
}

// hello announces the free ingress slots of every attached vertex. A
// closed side asks the peer to answer with its own HELLO.
func (p *Port) hello() error {
	p.raw[0] = kindHello
	p.raw[1] = 0
	if !p.open {
		p.raw[1] = 1
	}
	n := 2
	for addr, v := range p.vertices {
		if v == nil {
			continue
		}
		p.raw[n] = byte(addr >> 8)
		p.raw[n+1] = byte(addr)
		p.raw[n+2] = byte(v.Origin.Free())
		p.pending[addr] = 0
		n += 3
	}
	return p.emit(p.raw[:n])
}

func (p *Port) emit(payload []byte) error {
	n, err := EncodeFrame(p.enc[:], payload)
	if err != nil {
		return err
	}
	if !p.out.Output(p.enc[:n]) {
		return ErrOutputFull
	}
	p.stats.FramesOut++
	return nil
}
