//go:build !tinygo

package adc

import "sync"

// State is a placeholder for interrupt state on regular Go.
type State uintptr

// On the standard toolchain the "interrupt" context is another goroutine
// (the devmem poller, tests), so the critical section is a mutex. It is not
// reentrant.
var critical sync.Mutex

func disableInterrupts() State {
	critical.Lock()
	return 0
}

func restoreInterrupts(State) {
	critical.Unlock()
}
