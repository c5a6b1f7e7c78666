//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"unsafe"

	"tennisbutler/core"
)

// RP2040/RP2350 timer peripheral memory map. The hardware timer is a 64-bit
// microsecond counter running at 1MHz.
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x0C
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// InitClock registers platform constants and the busy-wait delay used for
// chip-select timing.
func InitClock() {
	core.RegisterConstant("MCU", "rp2040")
	core.RegisterConstant("CLOCK_FREQ", uint32(core.ClockFreq))
	core.SetDelayFunc(delayMicros)
}

// GetHardwareTime reads the low 32 bits of the microsecond counter.
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// delayMicros busy-waits on the hardware timer. Wraparound-safe for delays
// far below 2^31 microseconds.
func delayMicros(us uint32) {
	start := timerRAWL.Get()
	for timerRAWL.Get()-start < us {
	}
}

// UpdateSystemTime publishes the hardware time to core code. Called from the
// main loop.
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
