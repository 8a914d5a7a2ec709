package adc

// The conversion pump runs in interrupt or DMA completion context only. It
// touches the cursor and the DMA buffer, nothing else, and never allocates.

// convComplete delivers one end of conversion in interrupt mode.
func (d *Device) convComplete() {
	value := uint16(d.win.get(d.v.Regs.DR) & d.v.DataMask) // reading DR clears EOC
	ch := d.chanlist[d.cursor]

	d.cursor++
	if d.cursor >= d.first+d.nchannels {
		d.cursor = d.first
	}

	if d.recv != nil {
		d.recv.Receive(ch, value)
	}
}

// dmaComplete delivers one full buffer in list order and re-arms the
// request line by toggling CR2.DMA, which restarts a stalled stream.
func (d *Device) dmaComplete() {
	if d.recv != nil {
		for i := 0; i < d.nchannels; i++ {
			d.recv.Receive(d.chanlist[d.first+i], uint16(uint32(d.dmabuf[i])&d.v.DataMask))
		}
	}

	cr2 := d.win.get(offCR2)
	d.win.put(offCR2, cr2&^CR2_DMA)
	d.win.put(offCR2, cr2|CR2_DMA)
}

// interrupt handles one ADC interrupt given the status register value.
// Watchdog and overrun events are recorded and never stop delivery.
func (d *Device) interrupt(sr uint32) {
	if sr&SR_AWD != 0 {
		d.owner.recordFault(FaultEvent{Kind: FaultWatchdog, Instance: d.sel, Value: sr})
	}
	if d.v.HasOverrun && sr&SR_OVR != 0 {
		d.owner.recordFault(FaultEvent{Kind: FaultOverrun, Instance: d.sel, Value: sr})
	}
	if sr&SR_EOC != 0 && d.dma == nil {
		d.convComplete()
	}
}
