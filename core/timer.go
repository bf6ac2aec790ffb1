package core

import "sync/atomic"

// Tick time is a free-running uint32 counter supplied by the platform.
// All comparisons are wrap-safe.

var systemTicks atomic.Uint32

// GetTime returns the current tick time
func GetTime() uint32 {
	return systemTicks.Load()
}

// SetTime sets the current tick time (for testing/hardware integration)
func SetTime(ticks uint32) {
	systemTicks.Store(ticks)
}

// AddTime advances the tick time by n and returns the new value
func AddTime(n uint32) uint32 {
	return systemTicks.Add(n)
}

// Elapsed returns the ticks from since to now, accounting for wrap
func Elapsed(since, now uint32) uint32 {
	return now - since
}

// Expired reports whether more than limit ticks passed between since and now
func Expired(since, now, limit uint32) bool {
	return Elapsed(since, now) > limit
}
