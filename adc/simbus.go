package adc

import "sync"

// SimBus is an in-memory register file standing in for the peripheral bus in
// tests and host-side simulation. Unwritten registers read as zero.
type SimBus struct {
	mu      sync.Mutex
	regs    map[uintptr]uint32
	onRead  map[uintptr]func(cur uint32) uint32
	onWrite map[uintptr]func(old, new uint32) uint32
	writes  []SimWrite
	reads   int
}

// SimWrite records one store seen by the SimBus.
type SimWrite struct {
	Addr  uintptr
	Value uint32
}

// NewSimBus returns an empty register file.
func NewSimBus() *SimBus {
	return &SimBus{
		regs:    make(map[uintptr]uint32),
		onRead:  make(map[uintptr]func(uint32) uint32),
		onWrite: make(map[uintptr]func(uint32, uint32) uint32),
	}
}

// Load32 implements Bus. A read hook may replace the stored value and the
// returned value is remembered. Hooks run without the bus lock held, so they
// may Peek and Poke.
func (b *SimBus) Load32(addr uintptr) uint32 {
	b.mu.Lock()
	b.reads++
	v := b.regs[addr]
	hook := b.onRead[addr]
	b.mu.Unlock()

	if hook != nil {
		v = hook(v)
		b.mu.Lock()
		b.regs[addr] = v
		b.mu.Unlock()
	}
	return v
}

// Store32 implements Bus. A write hook may alter the value that lands in the
// register, e.g. to model self-clearing bits.
func (b *SimBus) Store32(addr uintptr, v uint32) {
	b.mu.Lock()
	b.writes = append(b.writes, SimWrite{Addr: addr, Value: v})
	old := b.regs[addr]
	hook := b.onWrite[addr]
	b.mu.Unlock()

	if hook != nil {
		v = hook(old, v)
	}
	b.mu.Lock()
	b.regs[addr] = v
	b.mu.Unlock()
}

// Peek returns a register without running hooks or counting the access.
func (b *SimBus) Peek(addr uintptr) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[addr]
}

// Poke sets a register without running hooks or logging the write.
func (b *SimBus) Poke(addr uintptr, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[addr] = v
}

// OnRead installs a hook run on every load of addr.
func (b *SimBus) OnRead(addr uintptr, hook func(cur uint32) uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hook == nil {
		delete(b.onRead, addr)
		return
	}
	b.onRead[addr] = hook
}

// OnWrite installs a hook run on every store to addr.
func (b *SimBus) OnWrite(addr uintptr, hook func(old, new uint32) uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hook == nil {
		delete(b.onWrite, addr)
		return
	}
	b.onWrite[addr] = hook
}

// Writes returns a copy of the store log.
func (b *SimBus) Writes() []SimWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SimWrite, len(b.writes))
	copy(out, b.writes)
	return out
}

// WritesTo returns the values stored to addr in order.
func (b *SimBus) WritesTo(addr uintptr) []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint32
	for _, w := range b.writes {
		if w.Addr == addr {
			out = append(out, w.Value)
		}
	}
	return out
}

// Reads returns the number of loads performed.
func (b *SimBus) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// ResetLog clears the store log and the read counter.
func (b *SimBus) ResetLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = b.writes[:0]
	b.reads = 0
}

var _ Bus = (*SimBus)(nil)
