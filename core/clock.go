package core

import "sync/atomic"

// ClockFreq is the system clock tick rate. The RP2040 hardware timer runs at
// 1MHz, so one tick is one microsecond.
const ClockFreq = 1000000

var (
	systemTicks uint32 // atomic
	uptimeHigh  uint32 // atomic, incremented when the 32-bit timer wraps
)

// GetTime returns the current system time in timer ticks.
func GetTime() uint32 {
	return atomic.LoadUint32(&systemTicks)
}

// SetTime publishes the hardware timer value to core code. Target main loops
// call this before dispatching timers; it is the only writer, so wrap
// detection needs no CAS.
func SetTime(ticks uint32) {
	if ticks < atomic.LoadUint32(&systemTicks) {
		atomic.AddUint32(&uptimeHigh, 1)
	}
	atomic.StoreUint32(&systemTicks, ticks)
}

// GetUptime returns the 64-bit tick count since boot.
func GetUptime() uint64 {
	return uint64(atomic.LoadUint32(&uptimeHigh))<<32 | uint64(GetTime())
}

// TimerFromUS converts microseconds to timer ticks.
func TimerFromUS(us uint32) uint32 {
	return us * (ClockFreq / 1000000)
}

// TimerFromMS converts milliseconds to timer ticks.
func TimerFromMS(ms uint32) uint32 {
	return ms * (ClockFreq / 1000)
}

// delayMicros is the platform busy-wait hook. It stays nil in host tests,
// where no real chip is on the other end of the bus.
var delayMicros func(us uint32)

// SetDelayFunc registers the platform microsecond delay.
func SetDelayFunc(f func(us uint32)) {
	delayMicros = f
}

// DelayMicros busy-waits for at least us microseconds.
func DelayMicros(us uint32) {
	if delayMicros != nil {
		delayMicros(us)
	}
}
