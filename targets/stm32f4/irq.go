//go:build stm32f4

package main

import (
	"device/stm32"
	"runtime/interrupt"
)

var (
	adcIRQ  interrupt.Interrupt
	dmaIRQs [3]interrupt.Interrupt
)

// setupInterrupts registers the handlers. Lines stay disabled until a
// block is set up.
func setupInterrupts() {
	adcIRQ = interrupt.New(stm32.IRQ_ADC, func(interrupt.Interrupt) {
		adcs.HandleIRQ(stm32.IRQ_ADC)
	})
	dmaIRQs[0] = interrupt.New(stm32.IRQ_DMA2_Stream0, func(interrupt.Interrupt) {
		streams[0].HandleInterrupt()
	})
	dmaIRQs[1] = interrupt.New(stm32.IRQ_DMA2_Stream2, func(interrupt.Interrupt) {
		streams[1].HandleInterrupt()
	})
	dmaIRQs[2] = interrupt.New(stm32.IRQ_DMA2_Stream1, func(interrupt.Interrupt) {
		streams[2].HandleInterrupt()
	})
	adcIRQ.SetPriority(0xC0)
	for _, irq := range dmaIRQs {
		irq.SetPriority(0xC0)
		irq.Enable()
	}
}

// irqs switches the ADC line for the registry.
type irqs struct{}

func (irqs) Enable(line uint8) {
	if line == stm32.IRQ_ADC {
		adcIRQ.Enable()
	}
}

func (irqs) Disable(line uint8) {
	if line == stm32.IRQ_ADC {
		adcIRQ.Disable()
	}
}
