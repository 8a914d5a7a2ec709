//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// Samples arrive from the poller goroutine, so the queues are guarded by a
// mutex instead of masking interrupts. Not reentrant.
var critical sync.Mutex

func disableInterrupts() State {
	critical.Lock()
	return 0
}

func restoreInterrupts(State) {
	critical.Unlock()
}
