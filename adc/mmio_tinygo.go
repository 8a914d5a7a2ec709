//go:build tinygo

package adc

import (
	"runtime/volatile"
	"unsafe"
)

// MMIO is the Bus of the running microcontroller: every access is a volatile
// load or store at the physical address.
type MMIO struct{}

// Load32 implements Bus.
func (MMIO) Load32(addr uintptr) uint32 {
	return (*volatile.Register32)(unsafe.Pointer(addr)).Get()
}

// Store32 implements Bus.
func (MMIO) Store32(addr uintptr, v uint32) {
	(*volatile.Register32)(unsafe.Pointer(addr)).Set(v)
}

var _ Bus = MMIO{}
