//go:build stm32f4

package main

const (
	rccBase    = 0x40023800
	rccAHB1ENR = rccBase + 0x30
	rccAPB1ENR = rccBase + 0x40
	rccAPB2ENR = rccBase + 0x44

	dma2Base = 0x40026400

	ahb1DMA2EN = 1 << 22
	apb1TIMxEN = 0x0F                // TIM2..TIM5
	apb2TIMxEN = 1<<0 | 1<<1         // TIM1, TIM8
	apb2ADCxEN = 1<<8 | 1<<9 | 1<<10 // ADC1..ADC3
)

// enableClocks gates on every peripheral the ADC engine may program. The
// engine itself only pulses the ADC reset.
func enableClocks() {
	bus.Store32(rccAHB1ENR, bus.Load32(rccAHB1ENR)|ahb1DMA2EN)
	bus.Store32(rccAPB1ENR, bus.Load32(rccAPB1ENR)|apb1TIMxEN)
	bus.Store32(rccAPB2ENR, bus.Load32(rccAPB2ENR)|apb2TIMxEN|apb2ADCxEN)
	_ = bus.Load32(rccAPB2ENR) // settle before the first register access
}
