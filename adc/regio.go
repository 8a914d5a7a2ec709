package adc

// Bus performs 32 bit loads and stores on physical register addresses.
// Implementations do no validation; callers are trusted.
type Bus interface {
	Load32(addr uintptr) uint32
	Store32(addr uintptr, v uint32)
}

// window is a register block at a fixed base address on a Bus.
type window struct {
	bus  Bus
	base uintptr
}

func (w window) valid() bool { return w.bus != nil && w.base != 0 }

func (w window) get(off uint32) uint32 {
	return w.bus.Load32(w.base + uintptr(off))
}

func (w window) put(off uint32, v uint32) {
	w.bus.Store32(w.base+uintptr(off), v)
}

// set and clear are read-modify-write helpers. They are not atomic with
// respect to interrupts; callers that share the register hold the critical
// section.
func (w window) set(off uint32, bits uint32) {
	w.put(off, w.get(off)|bits)
}

func (w window) clear(off uint32, bits uint32) {
	w.put(off, w.get(off)&^bits)
}

// Timer registers are 16 bits wide; the upper half word reads as zero.
func (w window) get16(off uint32) uint16 {
	return uint16(w.get(off))
}

func (w window) put16(off uint32, v uint16) {
	w.put(off, uint32(v))
}

// reg is a single register at an absolute address, used for the registers
// that are shared between instances (RCC, ADC common).
type reg struct {
	bus  Bus
	addr uintptr
}

func (r reg) valid() bool { return r.bus != nil && r.addr != 0 }

func (r reg) get() uint32     { return r.bus.Load32(r.addr) }
func (r reg) put(v uint32)    { r.bus.Store32(r.addr, v) }
func (r reg) set(bits uint32) { r.put(r.get() | bits) }

func (r reg) clear(bits uint32) { r.put(r.get() &^ bits) }
