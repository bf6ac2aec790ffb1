// Program vgraph-host runs a packet-switching fabric on the host and
// inspects fabrics over their links.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"vgraph/host/config"
)

var logFlags struct {
	Verbose bool `flag:"v,Enable debug logging"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Help:     "Run and inspect vgraph packet-switching fabrics.",
		SetFlags: command.Flags(flax.MustBind, &logFlags),
		Commands: []*command.C{
			{
				Name:     "run",
				Usage:    "<topology.yaml>",
				Help:     "Run the fabric described by a topology file until interrupted.",
				SetFlags: command.Flags(flax.MustBind, &runFlags),
				Run:      runCmd,
			},
			{
				Name:  "scope",
				Usage: "<topology.yaml>",
				Help: `Walk the fabric with scope requests and print what answers.

The walk starts at the vertex named by -from and crosses every open link,
so it also finds the trees of the devices at the far ends. Bus links are
crossed toward the addresses listed in -bus-peers.`,
				SetFlags: command.Flags(flax.MustBind, &scopeFlags),
				Run:      scopeCmd,
			},
			{
				Name:  "route",
				Usage: "<topology.yaml> <from> [<to>] [<hop>...]",
				Help: `Print the hop sequence between two vertices and its wire encoding.

Extra hops in route syntax (parent, child:N, sibling:N, port:N, bus:A/I)
are appended after the path to <to>. Use "-" for <to> to start from
<from> itself.`,
				Run: routeCmd,
			},
			{
				Name:  "check",
				Usage: "<topology.yaml>",
				Help:  "Validate a topology file and list its vertices.",
				Run:   checkCmd,
			},
			{
				Name:  "dump",
				Usage: "<graph.cbor>",
				Help:  "Print a graph saved by scope -o.",
				Run:   dumpCmd,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func logger() *slog.Logger {
	level := slog.LevelInfo
	if logFlags.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// interruptible returns a context ended by SIGINT
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func loadTopology(env *command.Env) (*config.File, error) {
	if len(env.Args) == 0 {
		return nil, env.Usagef("missing topology file")
	}
	f, err := config.LoadFile(env.Args[0])
	if err != nil {
		return nil, fmt.Errorf("load topology: %w", err)
	}
	return f, nil
}
