//go:build tinygo

package core

import "runtime/interrupt"

// The sample queues are shared with the ADC and DMA interrupt handlers.

func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}
