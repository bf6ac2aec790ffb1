// Package node runs a fabric on the host. A node owns the vertex tree
// built from a topology file, drives its scheduler from a ticker, and
// carries its links over serial devices.
package node

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/creachadair/taskgroup"
	"vgraph/core"
	"vgraph/host/config"
	"vgraph/host/serial"
	"vgraph/link"
	"vgraph/protocol"
)

// readIdle is how long a link reader waits after an empty read
const readIdle = 5 * time.Millisecond

// Options configure a Node. A nil *Options is ready for use.
type Options struct {
	// Logger receives fault and link events. Default: slog.Default()
	Logger *slog.Logger

	// Apps supplies endpoint applications by vertex path
	Apps func(path string) core.App

	// Dial opens the device carrying a link. Default: the native serial
	// port named by the link device.
	Dial func(l *config.Link) (serial.Port, error)
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *Options) apps() func(string) core.App {
	if o == nil {
		return nil
	}
	return o.Apps
}

func (o *Options) dial(l *config.Link) (serial.Port, error) {
	if o != nil && o.Dial != nil {
		return o.Dial(l)
	}
	cfg := serial.DefaultConfig(l.Device)
	if l.Baud != 0 {
		cfg.Baud = l.Baud
	}
	return serial.Open(cfg)
}

// Node is a running fabric. Fabric state belongs to the tick goroutine
// once Run starts; other goroutines reach it through Do.
type Node struct {
	name    string
	tick    time.Duration
	fabric  *config.Fabric
	sched   *core.Scheduler
	log     *slog.Logger
	links   []*runner
	clock   atomic.Uint32
	metrics *nodeMetrics

	inbox chan chunk
	ops   chan func(*core.Scheduler)
}

// runner carries one link over a serial device
type runner struct {
	name    string
	dev     serial.Port
	out     protocol.WriterOutput
	port    *link.Port // serial kind
	bus     *link.Bus  // bus kind
	line    *serialLine
	metrics *linkMetrics
	wasOpen bool
}

// chunk is a run of bytes read from a link device
type chunk struct {
	r    *runner
	data []byte
}

// New builds the fabric described by f and opens its links
func New(f *config.File, opts *Options) (*Node, error) {
	fab, err := f.Build(opts.apps())
	if err != nil {
		return nil, err
	}
	n := &Node{
		name:    f.Name,
		tick:    f.Tick,
		fabric:  fab,
		sched:   core.NewScheduler(fab.Root),
		log:     opts.logger().With("node", f.Name),
		metrics: newNodeMetrics(),
		inbox:   make(chan chunk, 64),
		ops:     make(chan func(*core.Scheduler)),
	}
	n.sched.SetStaleTicks(f.Stale)
	n.sched.SetTimeSource(n.Now)
	n.sched.SetReporter(n.report)

	for i := range f.Links {
		l := &f.Links[i]
		vs := fab.Links[l.Name]
		if len(vs) == 0 {
			n.log.Info("link unused", "link", l.Name)
			continue
		}
		dev, err := opts.dial(l)
		if err != nil {
			n.closeLinks()
			return nil, fmt.Errorf("link %q: %w", l.Name, err)
		}
		if err := dev.Flush(); err != nil {
			n.log.Debug("flush link", "link", l.Name, "err", err)
		}
		r := &runner{name: l.Name, dev: dev, metrics: n.metrics.addLink(l.Name)}
		r.out.W = dev
		switch l.Kind {
		case config.KindSerial:
			r.port = link.NewPort(&r.out, l.PortConfig())
			for _, v := range vs {
				r.port.Attach(v)
			}
		case config.KindBus:
			r.line = &serialLine{dev: dev}
			r.bus = link.NewBus(r.line, l.BusConfig())
			for _, v := range vs {
				r.bus.Attach(v)
			}
		}
		n.links = append(n.links, r)
	}
	return n, nil
}

// Name returns the node name from the topology
func (n *Node) Name() string { return n.name }

// Fabric returns the built topology
func (n *Node) Fabric() *config.Fabric { return n.fabric }

// Now returns the tick clock of the node
func (n *Node) Now() uint32 { return n.clock.Load() }

// Metrics returns the exported counters of the node
func (n *Node) Metrics() *expvar.Map { return n.metrics.emap }

// Run drives the fabric until ctx ends or a link fails. Link devices are
// closed when Run returns. At debug level the recent faults of the node
// are logged on the way out.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n.log.Info("node starting", "tick", n.tick, "vertices", n.fabric.Registry.Count(), "links", len(n.links))
	g := taskgroup.New(cancel)
	for _, r := range n.links {
		g.Go(func() error { return n.read(ctx, r) })
	}
	g.Go(func() error {
		<-ctx.Done()
		n.closeLinks()
		return nil
	})
	g.Go(func() error { return n.loop(ctx) })

	err := g.Wait()
	n.log.Info("node stopped", "ticks", n.sched.Stats().Ticks, "err", err)
	if n.log.Enabled(ctx, slog.LevelDebug) {
		n.sched.DumpEvents(func(s string) { n.log.Debug(s) })
	}
	return err
}

// Do runs fn on the tick goroutine between ticks and waits for it
func (n *Node) Do(ctx context.Context, fn func(s *core.Scheduler)) error {
	done := make(chan struct{})
	op := func(s *core.Scheduler) {
		defer close(done)
		fn(s)
	}
	select {
	case n.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) loop(ctx context.Context) error {
	t := time.NewTicker(n.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-n.inbox:
			n.ingest(c)
		case fn := <-n.ops:
			fn(n.sched)
		case <-t.C:
			if err := n.step(); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

// step advances the clock one tick and runs the scheduler
func (n *Node) step() error {
	n.clock.Add(1)
	n.sched.Tick()
	n.metrics.update(n.sched.Stats())
	for _, r := range n.links {
		if err := r.out.Err(); err != nil {
			return fmt.Errorf("link %q: write: %w", r.name, err)
		}
		if r.line != nil && r.line.err != nil {
			return fmt.Errorf("link %q: write: %w", r.name, r.line.err)
		}
		n.observe(r)
	}
	return nil
}

// observe publishes link counters and logs open/close transitions
func (n *Node) observe(r *runner) {
	var open bool
	switch {
	case r.port != nil:
		st := r.port.Stats()
		open = r.port.IsOpen(0)
		r.metrics.update(st.FramesIn, st.FramesOut, st.Errors, st.Rejected, open)
	case r.bus != nil:
		st := r.bus.Stats()
		open = r.bus.IsOpen(core.AnyAddress)
		r.metrics.update(st.FramesIn, st.FramesOut, st.Errors, st.Rejected, open)
	}
	if open != r.wasOpen {
		r.wasOpen = open
		if open {
			n.log.Info("link open", "link", r.name)
		} else {
			n.log.Warn("link closed", "link", r.name)
		}
	}
}

func (n *Node) ingest(c chunk) {
	switch {
	case c.r.port != nil:
		c.r.port.Receive(protocol.NewSliceInputBuffer(c.data), n.Now())
	case c.r.line != nil:
		c.r.line.pending = append(c.r.line.pending, c.data...)
	}
}

// read copies bytes from a link device to the tick goroutine
func (n *Node) read(ctx context.Context, r *runner) error {
	buf := make([]byte, 256)
	for {
		k, err := r.dev.Read(buf)
		if k > 0 {
			select {
			case n.inbox <- chunk{r: r, data: bytes.Clone(buf[:k])}:
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) || (err == nil && k == 0) {
			// Read timeout on a serial device, or a peer that went away
			select {
			case <-time.After(readIdle):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			return fmt.Errorf("link %q: read: %w", r.name, err)
		}
	}
}

func (n *Node) report(r core.Report) {
	n.metrics.faults.Add(r.Fault.String(), 1)
	n.log.Warn("fabric fault",
		"fault", r.Fault.String(),
		"vertex", r.Vertex.Path(),
		"tick", r.Time,
		"err", r.Err,
	)
}

// closeLinks closes every link device
func (n *Node) closeLinks() {
	for _, r := range n.links {
		if err := r.dev.Close(); err != nil {
			n.log.Debug("close link", "link", r.name, "err", err)
		}
	}
}

// serialLine is a bus line over a serial device. Received bytes are
// staged by the tick goroutine and drained by the bus during its poll.
type serialLine struct {
	dev     serial.Port
	pending []byte
	err     error
}

func (s *serialLine) Transmit(frame []byte) error {
	if s.err != nil {
		return s.err
	}
	_, s.err = s.dev.Write(frame)
	return s.err
}

func (s *serialLine) Drain(dst []byte) int {
	k := copy(dst, s.pending)
	s.pending = s.pending[k:]
	return k
}
