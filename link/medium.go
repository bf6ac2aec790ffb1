package link

import "sync"

// Medium is an in-memory bus line shared by any number of taps. It stands
// in for the physical wire when several fabrics run in one process.
type Medium struct {
	mu   sync.Mutex
	taps []*Tap
}

// NewMedium creates an empty medium
func NewMedium() *Medium { return new(Medium) }

// Tap attaches a new node to the medium
func (m *Medium) Tap() *Tap {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &Tap{m: m}
	m.taps = append(m.taps, t)
	return t
}

// Tap is one node's view of a Medium and implements BusLine
type Tap struct {
	m     *Medium
	inbox []byte
}

// Transmit copies frame into the inbox of every other tap
func (t *Tap) Transmit(frame []byte) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, o := range t.m.taps {
		if o != t {
			o.inbox = append(o.inbox, frame...)
		}
	}
	return nil
}

// Drain moves buffered bytes into dst
func (t *Tap) Drain(dst []byte) int {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	n := copy(dst, t.inbox)
	t.inbox = t.inbox[n:]
	return n
}
