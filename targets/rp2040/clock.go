//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"vgraph/core"
)

// RP2040 timer peripheral
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x08 // Raw timer high word
	timerTIMERAWL = timerBase + 0x0C // Raw timer low word
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// usPerTick sets the fabric tick to one millisecond of the 1MHz timer
const usPerTick = 1000

// GetHardwareUptime reads the full 64-bit microsecond counter
func GetHardwareUptime() uint64 {
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		// A changed high word means the low word rolled over between reads
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}

// UpdateSystemTime publishes the tick count to the fabric clock and
// reports whether it advanced
func UpdateSystemTime() bool {
	ticks := uint32(GetHardwareUptime() / usPerTick)
	if ticks == core.GetTime() {
		return false
	}
	core.SetTime(ticks)
	return true
}
