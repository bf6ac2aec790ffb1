package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/taskgroup"
	"vgraph/host/discover"
	"vgraph/host/node"
)

var runFlags struct {
	HTTP string `flag:"http,Serve expvar counters at this address"`
}

func runCmd(env *command.Env) error {
	f, err := loadTopology(env)
	if err != nil {
		return err
	}
	n, err := node.New(f, &node.Options{Logger: logger()})
	if err != nil {
		return err
	}
	ctx, cancel := interruptible()
	defer cancel()

	g := taskgroup.New(cancel)
	g.Go(func() error { return n.Run(ctx) })
	if runFlags.HTTP != "" {
		expvar.Publish(n.Name(), n.Metrics())
		srv := &http.Server{Addr: runFlags.HTTP}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var scopeFlags struct {
	From     string        `flag:"from,default=root,Vertex path the walk starts at"`
	Epoch    uint          `flag:"epoch,Walk epoch (default: from the clock)"`
	Timeout  uint          `flag:"timeout,default=200,Ticks before a probe counts as lost"`
	Window   int           `flag:"window,default=4,Probes in flight"`
	BusPeers string        `flag:"bus-peers,Comma-separated bus addresses to probe"`
	Settle   time.Duration `flag:"settle,default=1s,Wait this long for links to open"`
	Output   string        `flag:"o,Write the graph as CBOR to this file"`
}

func scopeCmd(env *command.Env) error {
	f, err := loadTopology(env)
	if err != nil {
		return err
	}
	peers, err := parsePeers(scopeFlags.BusPeers)
	if err != nil {
		return env.Usagef("bus-peers: %v", err)
	}
	n, err := node.New(f, &node.Options{Logger: logger()})
	if err != nil {
		return err
	}
	ctx, cancel := interruptible()
	defer cancel()

	var graph *discover.Graph
	g := taskgroup.New(cancel)
	g.Go(func() error { return n.Run(ctx) })
	g.Go(func() error {
		defer cancel()
		select {
		case <-time.After(scopeFlags.Settle):
		case <-ctx.Done():
			return nil
		}
		var err error
		graph, err = discover.Walk(ctx, n, scopeFlags.From, &discover.Options{
			Epoch:    uint16(scopeFlags.Epoch),
			Timeout:  uint32(scopeFlags.Timeout),
			Window:   scopeFlags.Window,
			BusPeers: peers,
		})
		return err
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if graph == nil {
		return errors.New("walk interrupted")
	}

	if err := graph.WriteText(os.Stdout); err != nil {
		return err
	}
	if scopeFlags.Output != "" {
		if err := writeGraph(scopeFlags.Output, graph); err != nil {
			return err
		}
	}
	if !graph.Complete {
		return fmt.Errorf("walk incomplete: %d probes lost", len(graph.Lost))
	}
	return nil
}

func writeGraph(path string, g *discover.Graph) error {
	fd, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := g.WriteTo(fd); err != nil {
		fd.Close()
		return err
	}
	return fd.Close()
}

// parsePeers reads a comma-separated list of bus addresses
func parsePeers(s string) ([]uint8, error) {
	if s == "" {
		return nil, nil
	}
	var out []uint8
	for _, f := range strings.Split(s, ",") {
		a, err := strconv.ParseUint(strings.TrimSpace(f), 0, 8)
		if err != nil {
			return nil, err
		}
		if a == 0 {
			return nil, errors.New("address 0 is reserved")
		}
		out = append(out, uint8(a))
	}
	return out, nil
}
