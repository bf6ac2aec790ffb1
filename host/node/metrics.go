package node

import (
	"expvar"

	"vgraph/core"
)

// nodeMetrics mirror the scheduler and link counters for export
type nodeMetrics struct {
	ticks     expvar.Int
	hops      expvar.Int
	sent      expvar.Int
	delivered expvar.Int
	scopes    expvar.Int
	faults    expvar.Map // fault name → count
	links     expvar.Map // link name → *linkMetrics map

	emap *expvar.Map
}

type linkMetrics struct {
	framesIn  expvar.Int
	framesOut expvar.Int
	errors    expvar.Int // undecodable frames
	rejected  expvar.Int // ingress with no vertex or no free slot
	open      expvar.Int // 1 while the peer is heard

	emap *expvar.Map
}

func newNodeMetrics() *nodeMetrics {
	m := &nodeMetrics{emap: new(expvar.Map)}
	m.faults.Init()
	m.links.Init()
	for _, f := range core.Faults() {
		m.faults.Add(f.String(), 0)
	}
	m.emap.Set("ticks", &m.ticks)
	m.emap.Set("hops", &m.hops)
	m.emap.Set("sent", &m.sent)
	m.emap.Set("delivered", &m.delivered)
	m.emap.Set("scopes_answered", &m.scopes)
	m.emap.Set("faults", &m.faults)
	m.emap.Set("links", &m.links)
	return m
}

func (m *nodeMetrics) addLink(name string) *linkMetrics {
	lm := &linkMetrics{emap: new(expvar.Map)}
	lm.emap.Set("frames_in", &lm.framesIn)
	lm.emap.Set("frames_out", &lm.framesOut)
	lm.emap.Set("frame_errors", &lm.errors)
	lm.emap.Set("rejected", &lm.rejected)
	lm.emap.Set("open", &lm.open)
	m.links.Set(name, lm.emap)
	return lm
}

// update copies scheduler counters; faults are counted as they are reported
func (m *nodeMetrics) update(st core.Stats) {
	m.ticks.Set(int64(st.Ticks))
	m.hops.Set(int64(st.Hops))
	m.sent.Set(int64(st.Sent))
	m.delivered.Set(int64(st.Delivered))
	m.scopes.Set(int64(st.Scopes))
}

func (lm *linkMetrics) update(in, out, errs, rejected int, open bool) {
	lm.framesIn.Set(int64(in))
	lm.framesOut.Set(int64(out))
	lm.errors.Set(int64(errs))
	lm.rejected.Set(int64(rejected))
	if open {
		lm.open.Set(1)
	} else {
		lm.open.Set(0)
	}
}
