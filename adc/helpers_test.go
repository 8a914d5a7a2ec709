package adc

import "testing"

// recorder is a Receiver that keeps every delivery.
type recorder struct {
	samples []Sample
	flushes int
}

func (r *recorder) Receive(ch uint8, v uint16) {
	r.samples = append(r.samples, Sample{Channel: ch, Value: v})
}

func (r *recorder) Flush() { r.flushes++ }

// simIRQ records NVIC line switches.
type simIRQ struct {
	enabled  map[uint8]bool
	disables int
}

func newSimIRQ() *simIRQ { return &simIRQ{enabled: make(map[uint8]bool)} }

func (s *simIRQ) Enable(line uint8) { s.enabled[line] = true }

func (s *simIRQ) Disable(line uint8) {
	s.enabled[line] = false
	s.disables++
}

// newSim returns a register file that models the status bits the engine
// waits on (HSIRDY, ADONS) and a registry over it.
func newSim(v *Variant, opts ...Option) (*SimBus, *Registry) {
	bus := NewSimBus()
	if v.RCCCR != 0 {
		bus.OnWrite(v.RCCCR, func(old, new uint32) uint32 {
			if new&rccHSION != 0 {
				return new | rccHSIRDY
			}
			return new &^ rccHSIRDY
		})
	}
	if v.HasADONS {
		for _, b := range v.Blocks {
			if b.Base == 0 {
				continue
			}
			base := b.Base
			bus.OnRead(base+offSR, func(cur uint32) uint32 {
				if bus.Peek(base+offCR2)&CR2_ADON != 0 {
					return cur | SR_ADONS
				}
				return cur &^ SR_ADONS
			})
		}
	}
	return bus, NewRegistry(bus, v, opts...)
}

// mustSetup registers and sets up one block.
func mustSetup(t *testing.T, r *Registry, cfg InstanceConfig) *Device {
	t.Helper()
	d, err := r.Initialize(cfg)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := d.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return d
}

// eoc simulates one end of conversion on block d.
func eoc(bus *SimBus, r *Registry, d *Device, value uint32) {
	bus.Poke(d.block.Base+uintptr(d.v.Regs.DR), value)
	bus.Poke(d.block.Base+offSR, bus.Peek(d.block.Base+offSR)|SR_EOC)
	r.HandleIRQ(d.block.IRQ)
}

// fields returns n sample time fields of value val packed 3 bits each.
func fields(n int, val uint32) uint32 {
	var out uint32
	for i := 0; i < n; i++ {
		out |= val << (3 * uint(i))
	}
	return out
}

func equalBytes(a, b []uint8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func lastWrite(bus *SimBus, addr uintptr) (uint32, bool) {
	w := bus.WritesTo(addr)
	if len(w) == 0 {
		return 0, false
	}
	return w[len(w)-1], true
}
