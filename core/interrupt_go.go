//go:build !tinygo

package core

// State holds saved interrupt state. On regular Go (host tests) there are no
// interrupts to mask.
type State uintptr

func disableInterrupts() State {
	return 0
}

func restoreInterrupts(state State) {
}
