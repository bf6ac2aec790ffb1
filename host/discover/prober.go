// Package discover walks a fabric with scope requests. A Prober installed
// on one vertex sends probes breadth-first, expands every vertex that
// answers into its neighbors and crosses open links with wildcard
// addresses, so it learns trees it has no configuration for.
package discover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creachadair/mds/queue"
	"vgraph/core"
	"vgraph/host/node"
	"vgraph/link"
	"vgraph/protocol"
)

// Defaults for Options
const (
	DefaultTimeout  = 200
	DefaultWindow   = 4
	DefaultMaxNodes = 256
)

// Options configure a walk. A nil *Options is ready for use.
type Options struct {
	// Epoch tags this walk. Vertices that already saw it report a
	// revisit and are not expanded again. Must differ from the previous
	// walk; zero picks one from the clock.
	Epoch uint16

	// Timeout in ticks before an unanswered probe is recorded as lost
	Timeout uint32

	// Window bounds the probes in flight
	Window int

	// MaxNodes stops expansion once this many vertices are known
	MaxNodes int

	// BusPeers lists the bus addresses probed behind every open bus
	BusPeers []uint8
}

func (o *Options) timeout() uint32 {
	if o == nil || o.Timeout == 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o *Options) window() int {
	if o == nil || o.Window <= 0 {
		return DefaultWindow
	}
	return o.Window
}

func (o *Options) maxNodes() int {
	if o == nil || o.MaxNodes <= 0 {
		return DefaultMaxNodes
	}
	return o.MaxNodes
}

type probe struct {
	route protocol.Route
	from  int // node ID the probe extends
	skip  int // child index to leave out, -1 for none
	sent  uint32
}

// Prober is the behavior of the walking vertex. It only runs on the tick
// goroutine; read the graph once Done is closed.
type Prober struct {
	opts    Options
	epoch   uint16
	queue   *queue.Queue[*probe]
	pending map[string]*probe
	graph   *Graph
	started bool
	done    chan struct{}
	buf     [protocol.MaxPacket]byte
}

// NewProber returns a prober that starts walking on its first poll
func NewProber(opts *Options) *Prober {
	p := &Prober{
		queue:   queue.New[*probe](),
		pending: make(map[string]*probe),
		graph:   new(Graph),
		done:    make(chan struct{}),
	}
	if opts != nil {
		p.opts = *opts
	}
	p.epoch = p.opts.Epoch
	p.queue.Add(&probe{from: -1, skip: -1})
	return p
}

// Done is closed when no probe is queued or in flight
func (p *Prober) Done() <-chan struct{} { return p.done }

// Graph returns the walk result. It is stable once Done is closed.
func (p *Prober) Graph() *Graph { return p.graph }

// Poll expires unanswered probes and sends queued ones while the window
// and the origin queue allow
func (p *Prober) Poll(s *core.Scheduler, v *core.Vertex, now uint32) {
	if p.finished() {
		return
	}
	if !p.started {
		p.started = true
		if p.epoch == 0 {
			p.epoch = uint16(now) ^ 0x5A5A
			if p.epoch == 0 {
				p.epoch = 1
			}
		}
		p.graph.Epoch = p.epoch
	}

	for key, pr := range p.pending {
		if core.Expired(pr.sent, now, p.opts.timeout()) {
			delete(p.pending, key)
			p.graph.Lost = append(p.graph.Lost, pr.route.Text())
		}
	}

	for len(p.pending) < p.opts.window() && p.queue.Len() > 0 {
		h, ok := v.Origin.FindFree()
		if !ok {
			break
		}
		pr, _ := p.queue.Pop()
		n, err := protocol.BuildScopeRequest(p.buf[:], pr.route, p.epoch)
		if err != nil {
			p.graph.Lost = append(p.graph.Lost, pr.route.Text())
			continue
		}
		key := pendingKey(pr.route)
		if _, dup := p.pending[key]; dup {
			continue
		}
		if err := v.Origin.Load(h, p.buf[:n], now); err != nil {
			p.graph.Lost = append(p.graph.Lost, pr.route.Text())
			continue
		}
		pr.sent = now
		p.pending[key] = pr
	}

	if p.queue.Len() == 0 && len(p.pending) == 0 {
		p.graph.Complete = len(p.graph.Lost) == 0
		close(p.done)
	}
}

func (p *Prober) finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ObserveScope records the answering vertex and queues its neighbors
func (p *Prober) ObserveScope(v *core.Vertex, route protocol.Route, rsp protocol.ScopeResponse) {
	key := pendingKey(route)
	pr, ok := p.pending[key]
	if !ok {
		p.graph.Stray++
		return
	}
	delete(p.pending, key)
	if rsp.PrevEpoch == p.epoch {
		p.graph.Revisits++
		return
	}

	nd := Node{
		ID:       len(p.graph.Nodes),
		Name:     rsp.Name,
		Type:     core.VertexType(rsp.Type).String(),
		Index:    rsp.Index,
		Siblings: rsp.Siblings,
		Children: rsp.Children,
		LinkOpen: rsp.Flags&protocol.ScopeLinkOpen != 0,
		Route:    route.Text(),
		From:     pr.from,
	}
	var via protocol.Instruction
	if n := route.Len(); n > 0 {
		via = route.At(n - 1)
		last, _ := protocol.NewRoute(via)
		nd.Via = last.Text()
	}
	p.graph.Nodes = append(p.graph.Nodes, nd)
	if len(p.graph.Nodes) >= p.opts.maxNodes() {
		return
	}
	p.expand(nd, pr.skip, route, via, core.VertexType(rsp.Type))
}

// expand queues probes for the neighbors of nd except the one it was
// reached from. skip names that neighbor when it is a child of nd.
func (p *Prober) expand(nd Node, skip int, route protocol.Route, via protocol.Instruction, typ core.VertexType) {
	if route.Len() >= protocol.MaxHops {
		return
	}
	push := func(hop protocol.Instruction, skip int) {
		r := route
		if err := r.Push(hop); err != nil {
			return
		}
		p.queue.Add(&probe{route: r, from: nd.ID, skip: skip})
	}

	for i := range int(nd.Children) {
		if i == skip {
			continue
		}
		push(protocol.Child(uint16(i)), -1)
	}
	if typ != core.TypeRoot && via.Op != protocol.OpChild {
		// Arriving at the parent from this child: skip it there
		push(protocol.Parent(), int(nd.Index))
	}
	if !nd.LinkOpen {
		return
	}
	switch typ {
	case core.TypePort:
		if via.Op != protocol.OpPort {
			push(protocol.Port(core.AnyAddress), -1)
		}
	case core.TypeBus:
		for _, a := range p.opts.BusPeers {
			if via.Op == protocol.OpBus && via.BusAddr() == a {
				continue
			}
			push(protocol.Bus(a, link.AnyIndex), -1)
		}
	}
}

// pendingKey identifies a probe by its route with link operands
// wildcarded. The answer comes back naming the concrete far vertex.
func pendingKey(r protocol.Route) string {
	var w protocol.Route
	for _, in := range r.Hops() {
		switch in.Op {
		case protocol.OpPort:
			in = protocol.Port(core.AnyAddress)
		case protocol.OpBus:
			in = protocol.Bus(in.BusAddr(), link.AnyIndex)
		}
		w.Push(in)
	}
	return w.Text()
}

// detachWait bounds removing the prober from a node that may have stopped
const detachWait = time.Second

// ErrBusy reports a vertex that already has a behavior
var ErrBusy = errors.New("vertex already has a behavior")

// Walk installs a prober on the vertex at path of a running node, waits
// for it to finish and removes it again
func Walk(ctx context.Context, n *node.Node, path string, opts *Options) (*Graph, error) {
	v, ok := n.Fabric().Registry.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("unknown vertex %q", path)
	}
	p := NewProber(opts)
	var busy bool
	if err := n.Do(ctx, func(*core.Scheduler) {
		if v.Behavior() != nil {
			busy = true
			return
		}
		v.Attach(p)
	}); err != nil {
		return nil, err
	}
	if busy {
		return nil, fmt.Errorf("walk from %s: %w", path, ErrBusy)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), detachWait)
		defer cancel()
		n.Do(ctx, func(*core.Scheduler) { v.Attach(nil) })
	}()

	select {
	case <-p.Done():
		return p.Graph(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
