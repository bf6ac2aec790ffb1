package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"vgraph/host/config"
	"vgraph/host/discover"
)

const topology = `
name: bench
links:
  - {name: wire, kind: serial, device: /dev/null}
tree:
  name: root
  children:
    - {name: uart, type: port, link: wire}
    - name: sensors
      type: module
      children:
        - {name: accel, type: endpoint, cell: 6}
        - {name: temp, type: endpoint, cell: 2}
`

func mustParse(t *testing.T) *config.File {
	t.Helper()
	f, err := config.Parse([]byte(topology))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func TestResolveRoute(t *testing.T) {
	f := mustParse(t)
	tests := []struct {
		from, to string
		hops     []string
		want     string
		header   []byte
	}{
		{"root/sensors/accel", "root/sensors/temp", nil, "sibling:1",
			[]byte{0x01, 0x12, 0, 1}},
		{"root/sensors/temp", "root/uart", []string{"port:0", "child:1"}, "parent sibling:0 port:0 child:1",
			[]byte{0x01, 0x10, 0, 0, 0x12, 0, 0, 0x13, 0, 0, 0x11, 0, 1}},
		{"root", "-", []string{"bus:3/0"}, "bus:3/0",
			[]byte{0x01, 0x14, 3, 0}},
		{"root", "root", nil, "(empty route)", []byte{0x01}},
	}
	for _, tc := range tests {
		r, err := resolveRoute(f, tc.from, tc.to, tc.hops)
		if err != nil {
			t.Errorf("resolveRoute(%s, %s): %v", tc.from, tc.to, err)
			continue
		}
		if got := routeLabel(r); got != tc.want {
			t.Errorf("resolveRoute(%s, %s): got %q, want %q", tc.from, tc.to, got, tc.want)
		}
		if diff := cmp.Diff(tc.header, encodeRoute(r)); diff != "" {
			t.Errorf("Header for %q (-want, +got):\n%s", tc.want, diff)
		}
	}

	if _, err := resolveRoute(f, "root/nonesuch", "root", nil); err == nil {
		t.Error("Route from an unknown vertex should fail")
	}
	if _, err := resolveRoute(f, "root", "-", []string{"child:x"}); err == nil {
		t.Error("Malformed hop text should fail")
	}
}

func TestListVertices(t *testing.T) {
	var buf bytes.Buffer
	if err := listVertices(mustParse(t), &buf); err != nil {
		t.Fatalf("listVertices: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("Got %d lines, want 5:\n%s", len(lines), buf.String())
	}
	if f := strings.Fields(lines[4]); len(f) != 3 || f[0] != "root/uart" || f[1] != "port" || f[2] != "wire" {
		t.Errorf("Port line: got %q", lines[4])
	}
}

func TestParsePeers(t *testing.T) {
	got, err := parsePeers("1, 2,0x10")
	if err != nil {
		t.Fatalf("parsePeers: %v", err)
	}
	if diff := cmp.Diff([]uint8{1, 2, 16}, got); diff != "" {
		t.Errorf("Peers (-want, +got):\n%s", diff)
	}
	for _, bad := range []string{"0", "256", "a"} {
		if _, err := parsePeers(bad); err == nil {
			t.Errorf("parsePeers(%q) should fail", bad)
		}
	}
	if got, err := parsePeers(""); err != nil || got != nil {
		t.Errorf("parsePeers(\"\"): got %v, %v", got, err)
	}
}

func TestDumpFile(t *testing.T) {
	g := &discover.Graph{
		Epoch:    5,
		Nodes:    []discover.Node{{Name: "root", Type: "root", From: -1}},
		Complete: true,
	}
	data, err := g.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "graph.cbor")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := dumpFile(path, &buf); err != nil {
		t.Fatalf("dumpFile: %v", err)
	}
	want := "epoch 5: 1 vertices, 0 revisits\nroot (root #0)  (self)\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("Dump (-want, +got):\n%s", diff)
	}
	if err := dumpFile(filepath.Join(t.TempDir(), "missing"), &buf); err == nil {
		t.Error("Dump of a missing file should fail")
	}
}
