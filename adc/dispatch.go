package adc

// HandleIRQ is the interrupt entry point for one line. Every attached block
// on the line with a pending event is serviced and exactly its pending bits
// are cleared. It does not allocate.
func (r *Registry) HandleIRQ(line uint8) {
	for _, d := range r.attached {
		if d != nil && d.block.IRQ == line {
			d.service()
		}
	}
}

// Poll services every attached block as if its line had fired. It is the
// entry point when no interrupt is wired, e.g. over /dev/mem. It reports
// whether any block had an event pending.
func (r *Registry) Poll() bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	serviced := false
	for _, d := range r.attached {
		if d != nil && d.service() {
			serviced = true
		}
	}
	return serviced
}

func (d *Device) service() bool {
	sr := d.win.get(offSR)
	pending := sr & d.v.SRAllInts
	if pending == 0 {
		return false
	}
	d.interrupt(sr)
	d.win.put(offSR, sr&^pending)
	return true
}
