package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/creachadair/command"
	"vgraph/host/config"
	"vgraph/host/discover"
	"vgraph/protocol"
)

func routeCmd(env *command.Env) error {
	if len(env.Args) < 2 {
		return env.Usagef("missing source vertex")
	}
	f, err := loadTopology(env)
	if err != nil {
		return err
	}
	var to string
	if len(env.Args) > 2 {
		to = env.Args[2]
	}
	var hops []string
	if len(env.Args) > 3 {
		hops = env.Args[3:]
	}
	r, err := resolveRoute(f, env.Args[1], to, hops)
	if err != nil {
		return err
	}
	fmt.Println(routeLabel(r))
	fmt.Printf("% x\n", encodeRoute(r))
	return nil
}

// resolveRoute builds the hops from the vertex at path from to the vertex
// at path to, followed by the extra hops. A to of "" or "-" stays at from.
func resolveRoute(f *config.File, from, to string, hops []string) (protocol.Route, error) {
	fab, err := f.Build(nil)
	if err != nil {
		return protocol.Route{}, err
	}
	if _, ok := fab.Registry.Lookup(from); !ok {
		return protocol.Route{}, fmt.Errorf("unknown vertex: %s", from)
	}
	var want config.Route
	if to != "-" {
		want.To = to
	}
	want.Hops = strings.Join(hops, " ")
	return fab.Resolve(from, want)
}

// encodeRoute returns the header of a packet sent over r: the pointer
// followed by the hops
func encodeRoute(r protocol.Route) []byte {
	buf := make([]byte, r.EncodedLen())
	return buf[:r.Encode(buf)]
}

func routeLabel(r protocol.Route) string {
	if r.Len() == 0 {
		return "(empty route)"
	}
	return r.Text()
}

func checkCmd(env *command.Env) error {
	f, err := loadTopology(env)
	if err != nil {
		return err
	}
	return listVertices(f, os.Stdout)
}

// listVertices prints the path, type and link of every vertex in f
func listVertices(f *config.File, w io.Writer) error {
	fab, err := f.Build(nil)
	if err != nil {
		return err
	}
	onLink := make(map[string]string)
	for name, vs := range fab.Links {
		for _, v := range vs {
			onLink[v.Path()] = name
		}
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range fab.Registry.Paths() {
		v, _ := fab.Registry.Lookup(p)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p, v.Type, onLink[p])
	}
	return tw.Flush()
}

func dumpCmd(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("want one graph file")
	}
	return dumpFile(env.Args[0], os.Stdout)
}

func dumpFile(path string, w io.Writer) error {
	fd, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fd.Close()
	g, err := discover.ReadFrom(fd)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(w, "epoch %d: %d vertices, %d revisits\n", g.Epoch, len(g.Nodes), g.Revisits)
	return g.WriteText(w)
}
