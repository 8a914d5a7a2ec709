package adc

// DeviceState is the lifecycle state of one ADC block.
type DeviceState uint8

const (
	StateReset      DeviceState = iota // registered, never configured
	StateConfigured                    // configured and idle
	StateRunning                       // conversions triggered
	StateShutdown                      // held in reset until Setup
)

func (s DeviceState) String() string {
	switch s {
	case StateReset:
		return "reset"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// InstanceConfig describes one ADC block at registration.
type InstanceConfig struct {
	Instance Selector
	Channels []uint8 // hardware channel numbers in conversion order

	// DMA selects DMA mode when non-nil; otherwise every end of conversion
	// raises an interrupt.
	DMA DMA

	// Timer, when set, triggers conversions at Timer.Freq. Without it
	// conversions are started by software.
	Timer *TimerBinding

	Receiver Receiver
}

// Device is one ADC block. Devices are owned by a Registry and live as
// long as it does.
type Device struct {
	owner *Registry
	v     *Variant
	sel   Selector
	block Block
	win   window
	rcc   reg // APB2 reset, shared
	ccr   reg // ADC common control, shared
	rcccr reg // RCC_CR for HSI

	chanlist  [maxChannelsCap]uint8
	cchannels int // configured
	nchannels int // in the active sequence
	first     int // list index of the first channel in the sequence
	cursor    int // list index of the next conversion

	dma       DMA
	dmabuf    [maxChannelsCap]uint16
	dmaDone   func()
	dmaArmed  bool
	tim       *timer
	recv      Receiver
	smpr      [maxSampleTimes]uint8
	smprDirty bool

	state DeviceState
}

// Instance returns the block selector.
func (d *Device) Instance() Selector { return d.sel }

// State returns the lifecycle state.
func (d *Device) State() DeviceState { return d.state }

// Channels returns a copy of the configured channel list.
func (d *Device) Channels() []uint8 {
	out := make([]uint8, d.cchannels)
	copy(out, d.chanlist[:d.cchannels])
	return out
}

// Cursor returns the list index of the next conversion and the length of
// the active sequence.
func (d *Device) Cursor() (cursor, n int) { return d.cursor, d.nchannels }

// Dividers returns the trigger timer settings and which limits were hit.
// ok is false without a timer binding.
func (d *Device) Dividers() (div Dividers, clamp Clamp, ok bool) {
	if d.tim == nil {
		return Dividers{}, 0, false
	}
	return d.tim.div, d.tim.clamp, true
}

// DMAMode reports whether samples are moved by DMA.
func (d *Device) DMAMode() bool { return d.dma != nil }

// Reset puts the block through an APB2 reset and reprograms it from the
// stored configuration. It ends in StateConfigured; conversions start with
// Start or a trigger ioctl. A shut down block stays detached until Setup.
func (d *Device) Reset() error {
	if d.state == StateShutdown {
		return ErrState
	}
	d.resetLocked()
	return nil
}

func (d *Device) resetLocked() {
	if d.v.NeedsHSI {
		d.enableHSI(true)
	}
	state := disableInterrupts()
	d.reset()
	restoreInterrupts(state)
	d.dumpRegs("reset")
}

func (d *Device) reset() {
	v := d.v

	d.rccReset(true)
	d.rccReset(false)

	d.win.put(v.Regs.HTR, awdHighDefault)
	d.win.put(v.Regs.LTR, awdLowDefault)

	if v.ResetSMPR {
		d.writeSampleTimes()
	}

	cr1 := d.win.get(offCR1)
	if v.Family == FamilyF1 {
		cr1 &^= CR1_DUALMOD // independent mode
	}
	cr1 |= CR1_AWDEN
	cr1 = cr1&^CR1_AWDCH_Msk | uint32(d.chanlist[0])&CR1_AWDCH_Msk
	cr1 |= v.CR1AllInts
	if d.dma != nil {
		cr1 |= CR1_SCAN
	}
	if v.HasOverrun {
		cr1 &^= CR1_OVRIE
	}
	if v.Res12Bit {
		cr1 &^= CR1_RES_Msk
	}
	d.win.put(offCR1, cr1)

	if v.HasPowerDown {
		d.powerDownIdle(false)
		d.powerDownDelay(false)
	}
	if v.HasBank {
		d.selectBank(false)
	}
	if v.HasDelay {
		cr2 := d.win.get(offCR2)
		d.win.put(offCR2, cr2&^CR2_DELS_Msk|CR2_DELS_TILRD)
	}

	cr2 := d.win.get(offCR2)
	cr2 &^= CR2_CONT | CR2_ALIGN | v.ExtTrigMsk
	if d.dma != nil {
		cr2 |= CR2_DMA
	}
	d.win.put(offCR2, cr2)

	d.dmaArmed = false
	d.selectAll()

	if d.ccr.valid() {
		ccr := d.ccr.get()
		d.ccr.put(ccr&^v.CCRClear | v.CCRPresc)
	}

	if d.dma != nil {
		d.dma.Stop()
		d.dma.Setup(d.block.Base+uintptr(v.Regs.DR), d.dmabuf[:d.nchannels])
		d.dma.Start(d.dmaDone)
		d.dmaArmed = true
	}

	// Wake the converter from power down.
	d.enable(true)

	if d.tim != nil {
		d.bindTimer()
	}

	d.smprDirty = false
	d.state = StateConfigured
}

// bindTimer points the external trigger at the timer and programs it with
// the counter stopped.
func (d *Device) bindTimer() {
	cr2 := d.win.get(offCR2)
	cr2 &^= d.v.ExtSelMask | d.v.ExtTrigMsk
	cr2 |= d.tim.extsel | d.v.ExtTrig
	d.win.put(offCR2, cr2)

	if err := d.tim.program(); err != nil {
		warn("ADC" + itoa(int(d.sel)) + " timer: " + err.Error())
		return
	}
	if d.tim.clamp.Prescaler() {
		warn("ADC" + itoa(int(d.sel)) + " prescaler clamped to " + utoa(d.tim.div.Prescaler))
		d.owner.recordFault(FaultEvent{Kind: FaultPrescalerClamp, Instance: d.sel, Value: d.tim.freq})
	}
	if d.tim.clamp.Reload() {
		warn("ADC" + itoa(int(d.sel)) + " reload clamped to " + utoa(d.tim.div.Reload))
		d.owner.recordFault(FaultEvent{Kind: FaultReloadClamp, Instance: d.sel, Value: d.tim.freq})
	}
}

// Setup attaches the block to its interrupt line, resets it and enables
// the line.
func (d *Device) Setup() error {
	d.owner.attach(d)
	d.resetLocked()
	d.owner.enableIRQ(d.block.IRQ)
	DebugPrintln("[ADC] ADC" + itoa(int(d.sel)) + " setup irq=" + itoa(int(d.block.IRQ)))
	return nil
}

// Shutdown stops the block, detaches it from its interrupt line and holds
// it in reset. Only Setup brings it back.
func (d *Device) Shutdown() {
	if d.tim != nil {
		d.tim.enable(false)
	}
	if d.dma != nil {
		d.dma.Stop()
		d.dmaArmed = false
	}
	if d.v.NeedsHSI {
		d.enable(false)
		d.enableHSI(false)
	}

	d.owner.detach(d)

	state := disableInterrupts()
	d.rccReset(true)
	restoreInterrupts(state)

	d.state = StateShutdown
	DebugPrintln("[ADC] ADC" + itoa(int(d.sel)) + " shutdown")
}

// SetReceiveInterrupt enables or disables the conversion interrupts.
func (d *Device) SetReceiveInterrupt(enable bool) {
	cr1 := d.win.get(offCR1)
	switch {
	case !enable:
		cr1 &^= d.v.CR1AllInts
	case d.v.OnlyEOCIE:
		cr1 &^= d.v.CR1AllInts
		cr1 |= CR1_EOCIE
	default:
		cr1 |= d.v.CR1AllInts
	}
	d.win.put(offCR1, cr1)
}

// Start begins conversions: the trigger timer is started, or a software
// conversion is issued. The channel list and timer settings are kept.
func (d *Device) Start() error {
	switch d.state {
	case StateRunning:
		return nil
	case StateConfigured:
	default:
		return ErrState
	}
	d.applySampleTimes()
	if d.tim != nil {
		d.tim.enable(true)
	} else {
		d.startConv(true)
	}
	d.state = StateRunning
	return nil
}

// Stop halts triggering. A conversion already in flight still completes and
// may be delivered after Stop returns.
func (d *Device) Stop() error {
	switch d.state {
	case StateConfigured:
		return nil
	case StateRunning:
	default:
		return ErrState
	}
	if d.tim != nil {
		d.tim.enable(false)
	}
	d.startConv(false)
	d.state = StateConfigured
	return nil
}

// startConv sets or clears the software start of regular conversions.
// Parts without SWSTART start a conversion by writing ADON again.
func (d *Device) startConv(enable bool) {
	sw := d.v.StartSWStart
	if sw == 0 {
		if enable {
			d.enable(true)
		}
		return
	}
	cr2 := d.win.get(offCR2)
	if enable {
		cr2 |= sw
	} else {
		cr2 &^= sw | CR2_CONT
	}
	d.win.put(offCR2, cr2)
}

// enable sets or clears ADON. Where SR.ADONS exists the write is skipped if
// the converter is already in the requested state.
func (d *Device) enable(on bool) {
	if d.v.HasADONS {
		adons := d.win.get(offSR)&SR_ADONS != 0
		if adons == on {
			return
		}
	}
	if on {
		d.win.set(offCR2, CR2_ADON)
	} else {
		d.win.clear(offCR2, CR2_ADON)
	}
}

func (d *Device) adcOn() bool {
	return d.win.get(offCR2)&CR2_ADON != 0
}

// rccReset asserts or releases the block's bit in the shared APB2 reset
// register. Callers hold the critical section.
func (d *Device) rccReset(assert bool) {
	if !d.rcc.valid() {
		return
	}
	if assert {
		d.rcc.set(d.block.ResetBit)
	} else {
		d.rcc.clear(d.block.ResetBit)
	}
}

// enableHSI switches the HSI oscillator that clocks the converter on parts
// that need it, waiting a bounded time for it to become ready. RCC_CR is
// shared with the rest of the system, so the caller must not hold the
// critical section.
func (d *Device) enableHSI(on bool) {
	if !d.rcccr.valid() {
		return
	}
	state := disableInterrupts()
	if on {
		d.rcccr.set(rccHSION)
	} else {
		d.rcccr.clear(rccHSION)
	}
	restoreInterrupts(state)
	if !on {
		return
	}
	for i := 0; i < hsiPollLimit; i++ {
		if d.rcccr.get()&rccHSIRDY != 0 {
			return
		}
	}
	warn("HSI not ready")
}

// rearmDMA points an armed transfer at the active sequence length.
func (d *Device) rearmDMA() {
	if d.dma == nil || !d.dmaArmed {
		return
	}
	d.dma.Stop()
	d.dma.Setup(d.block.Base+uintptr(d.v.Regs.DR), d.dmabuf[:d.nchannels])
	d.dma.Start(d.dmaDone)
}

func (d *Device) dumpRegs(msg string) {
	if !debugEnabled {
		return
	}
	DebugPrintln("[ADC] ADC" + itoa(int(d.sel)) + " " + msg +
		" SR=" + hex32(d.win.get(offSR)) +
		" CR1=" + hex32(d.win.get(offCR1)) +
		" CR2=" + hex32(d.win.get(offCR2)))
	line := "[ADC] ADC" + itoa(int(d.sel))
	for i := len(d.v.Regs.SQR) - 1; i >= 0; i-- {
		line += " SQR" + itoa(len(d.v.Regs.SQR)-i) + "=" + hex32(d.win.get(d.v.Regs.SQR[i]))
	}
	DebugPrintln(line)
	if d.ccr.valid() {
		DebugPrintln("[ADC] CCR=" + hex32(d.ccr.get()))
	}
}

var _ LowerHalf = (*Device)(nil)
