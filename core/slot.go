package core

import (
	"math/bits"

	"vgraph/protocol"
)

// Slot queue capacity limits
const (
	MinSlots     = 2
	MaxSlots     = 32
	DefaultSlots = 4
)

// Handle names one slot inside a SlotQueue
type Handle uint8

type slot struct {
	buf     [protocol.MaxPacket]byte
	n       int
	arrival uint32
}

// SlotQueue is a fixed arena of packet buffers. A set bit in the occupied
// mask means the tick loop owns the slot; a clear bit means it belongs to
// whoever loads it next.
type SlotQueue struct {
	slots    []slot
	occupied uint32
	last     Handle // last slot cleared; Ready starts after it
	onClear  func(Handle)
}

// NewSlotQueue allocates a queue with the given number of slots.
// It panics if capacity is outside [MinSlots, MaxSlots].
func NewSlotQueue(capacity int) *SlotQueue {
	if capacity < MinSlots || capacity > MaxSlots {
		panic("slot queue capacity out of range: " + itoa(capacity))
	}
	return &SlotQueue{
		slots: make([]slot, capacity),
		last:  Handle(capacity - 1),
	}
}

// Cap returns the number of slots
func (q *SlotQueue) Cap() int { return len(q.slots) }

// Len returns the number of occupied slots
func (q *SlotQueue) Len() int {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return bits.OnesCount32(q.occupied)
}

// Free returns the number of unoccupied slots
func (q *SlotQueue) Free() int { return q.Cap() - q.Len() }

// Occupied reports whether h holds a packet
func (q *SlotQueue) Occupied(h Handle) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return q.occupiedLocked(h)
}

func (q *SlotQueue) occupiedLocked(h Handle) bool {
	return int(h) < len(q.slots) && q.occupied&(1<<h) != 0
}

// FindFree returns an unoccupied slot
func (q *SlotQueue) FindFree() (Handle, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return q.findFreeLocked()
}

func (q *SlotQueue) findFreeLocked() (Handle, bool) {
	free := ^q.occupied
	if len(q.slots) < 32 {
		free &= 1<<len(q.slots) - 1
	}
	if free == 0 {
		return 0, false
	}
	return Handle(bits.TrailingZeros32(free)), true
}

// Load copies data into the free slot h, stamps it with now and marks it
// occupied. An occupied slot is never overwritten.
func (q *SlotQueue) Load(h Handle, data []byte, now uint32) error {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return q.loadLocked(h, data, now)
}

func (q *SlotQueue) loadLocked(h Handle, data []byte, now uint32) error {
	switch {
	case int(h) >= len(q.slots):
		return ErrBadHandle
	case q.occupied&(1<<h) != 0:
		return ErrSlotBusy
	case len(data) == 0:
		return protocol.ErrShortPacket
	case len(data) > protocol.MaxPacket:
		return protocol.ErrTooLarge
	}
	s := &q.slots[h]
	s.n = copy(s.buf[:], data)
	s.arrival = now
	q.occupied |= 1 << h
	return nil
}

// Inject finds a free slot and loads data into it as one guarded step.
// Transports call it from interrupt handlers or reader loops.
func (q *SlotQueue) Inject(data []byte, now uint32) (Handle, error) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	h, ok := q.findFreeLocked()
	if !ok {
		return 0, ErrQueueFull
	}
	return h, q.loadLocked(h, data, now)
}

// Bytes returns the packet held in h. The slice aliases the slot and is
// valid until the slot is cleared.
func (q *SlotQueue) Bytes(h Handle) []byte {
	s := &q.slots[h]
	return s.buf[:s.n]
}

// buffer returns the whole backing array of h for in-place rewrites
func (q *SlotQueue) buffer(h Handle) []byte {
	return q.slots[h].buf[:]
}

// Arrival returns the time h was loaded or last restamped
func (q *SlotQueue) Arrival(h Handle) uint32 { return q.slots[h].arrival }

// rewrite sets the length of an occupied slot after an in-place edit
func (q *SlotQueue) rewrite(h Handle, n int, now uint32) {
	s := &q.slots[h]
	s.n = n
	s.arrival = now
}

// Ready appends the occupied handles to out, starting just after the
// most recently cleared slot, and returns the extended slice.
func (q *SlotQueue) Ready(out []Handle) []Handle {
	state := disableInterrupts()
	occ, last := q.occupied, int(q.last)
	restoreInterrupts(state)

	n := len(q.slots)
	for i := 1; i <= n; i++ {
		h := (last + i) % n
		if occ&(1<<h) != 0 {
			out = append(out, Handle(h))
		}
	}
	return out
}

// Clear frees h and invokes the clear hook, if any
func (q *SlotQueue) Clear(h Handle) {
	state := disableInterrupts()
	if !q.occupiedLocked(h) {
		restoreInterrupts(state)
		return
	}
	q.occupied &^= 1 << h
	q.slots[h].n = 0
	q.last = h
	hook := q.onClear
	restoreInterrupts(state)

	if hook != nil {
		hook(h)
	}
}

// SetClearHook installs fn to run after every Clear. Transports use it to
// hand flow-control credit back to the sender.
func (q *SlotQueue) SetClearHook(fn func(Handle)) { q.onClear = fn }
