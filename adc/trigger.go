package adc

// Trigger selects the timer event that starts a regular conversion.
type Trigger uint8

const (
	TriggerCC1  Trigger = iota // capture/compare 1
	TriggerCC2                 // capture/compare 2
	TriggerCC3                 // capture/compare 3
	TriggerCC4                 // capture/compare 4
	TriggerTRGO                // update event on TRGO
)

func (t Trigger) String() string {
	switch t {
	case TriggerCC1:
		return "CC1"
	case TriggerCC2:
		return "CC2"
	case TriggerCC3:
		return "CC3"
	case TriggerCC4:
		return "CC4"
	case TriggerTRGO:
		return "TRGO"
	default:
		return "invalid"
	}
}

// TimerBinding asks for conversions to be triggered by a timer running at
// Freq. PCLK is the timer's input clock.
type TimerBinding struct {
	Timer   TimerID
	PCLK    uint32
	Freq    uint32
	Trigger Trigger
}

// Dividers are the timer settings for one sample frequency.
type Dividers struct {
	Prescaler uint32 // 1..65536, PSC holds Prescaler-1
	Reload    uint32 // 1..65535
}

// Freq returns the trigger frequency the dividers produce from pclk.
func (d Dividers) Freq(pclk uint32) uint32 {
	return uint32(uint64(pclk) / (uint64(d.Prescaler) * uint64(d.Reload)))
}

// Clamp reports which limit ComputeDividers had to apply.
type Clamp uint8

const (
	ClampPrescalerLow Clamp = 1 << iota
	ClampPrescalerHigh
	ClampReloadLow
	ClampReloadHigh
)

// Prescaler reports whether the prescaler was clamped.
func (c Clamp) Prescaler() bool { return c&(ClampPrescalerLow|ClampPrescalerHigh) != 0 }

// Reload reports whether the reload value was clamped.
func (c Clamp) Reload() bool { return c&(ClampReloadLow|ClampReloadHigh) != 0 }

// ComputeDividers picks the smallest prescaler, and so the largest reload,
// that brings pclk down to freq. Out of range values are clamped rather than
// rejected. freq must not be zero.
func ComputeDividers(pclk, freq uint32) (Dividers, Clamp) {
	var clamp Clamp
	if freq == 0 {
		return Dividers{Prescaler: maxPrescaler, Reload: maxReload},
			ClampPrescalerHigh | ClampReloadHigh
	}

	prescaler := (uint64(pclk)/uint64(freq) + maxReload - 1) / maxReload
	switch {
	case prescaler < 1:
		prescaler = 1
		clamp |= ClampPrescalerLow
	case prescaler > maxPrescaler:
		prescaler = maxPrescaler
		clamp |= ClampPrescalerHigh
	}

	timclk := uint64(pclk) / prescaler
	reload := timclk / uint64(freq)
	switch {
	case reload < 1:
		reload = 1
		clamp |= ClampReloadLow
	case reload > maxReload:
		reload = maxReload
		clamp |= ClampReloadHigh
	}

	return Dividers{Prescaler: uint32(prescaler), Reload: uint32(reload)}, clamp
}

// timer is a TimerBinding resolved against a Variant.
type timer struct {
	win      window
	id       TimerID
	trig     Trigger
	extsel   uint32 // shifted EXTSEL code
	advanced bool   // TIM1/TIM8: repetition counter and BDTR.MOE
	pclk     uint32
	freq     uint32
	div      Dividers
	clamp    Clamp
}

func resolveTimer(bus Bus, v *Variant, b *TimerBinding) (*timer, error) {
	if b.Freq == 0 || b.Freq > b.PCLK {
		return nil, ErrInvalidArgument
	}
	if b.Trigger > TriggerTRGO {
		return nil, ErrInvalidArgument
	}
	base, ok := v.Timers[b.Timer]
	if !ok {
		return nil, ErrInvalidArgument
	}
	extsel, ok := v.extsel(b.Timer, b.Trigger)
	if !ok {
		return nil, ErrInvalidArgument
	}
	t := &timer{
		win:      window{bus: bus, base: base},
		id:       b.Timer,
		trig:     b.Trigger,
		extsel:   extsel,
		advanced: v.AdvTimers[b.Timer],
		pclk:     b.PCLK,
		freq:     b.Freq,
	}
	t.div, t.clamp = ComputeDividers(b.PCLK, b.Freq)
	return t, nil
}

// enable starts or stops the counter.
func (t *timer) enable(on bool) {
	cr1 := t.win.get16(timCR1)
	if on {
		cr1 |= timCR1_CEN
	} else {
		cr1 &^= timCR1_CEN
	}
	t.win.put16(timCR1, cr1)
}

func (t *timer) running() bool {
	return t.win.get16(timCR1)&timCR1_CEN != 0
}

// program configures the counter and the trigger output. The counter is
// left stopped.
func (t *timer) program() error {
	var (
		ccenable uint16
		ocmode1  uint16
		ocmode2  uint16
		egr      uint16
		mms      uint16
	)
	const ocmode = timCCMR_OCM_PWM1 | timCCMR_OCPE // CCxS = 00, output
	duty := uint16(t.div.Reload >> 1)

	switch t.trig {
	case TriggerCC1:
		ccenable = timCCER_E
		ocmode1 = ocmode
		egr = timEGR_CC1G
		t.win.put16(timCCR1, duty)
	case TriggerCC2:
		ccenable = timCCER_E << 4
		ocmode1 = ocmode << 8
		egr = timEGR_CC2G
		t.win.put16(timCCR2, duty)
	case TriggerCC3:
		ccenable = timCCER_E << 8
		ocmode2 = ocmode
		egr = timEGR_CC3G
		t.win.put16(timCCR3, duty)
	case TriggerCC4:
		ccenable = timCCER_E << 12
		ocmode2 = ocmode << 8
		egr = timEGR_CC4G
		t.win.put16(timCCR4, duty)
	case TriggerTRGO:
		egr = timEGR_TG
		mms = timCR2_MMS_Update
	default:
		return ErrInvalidArgument
	}

	t.enable(false)

	// Edge aligned, counting up, no clock division.
	cr1 := t.win.get16(timCR1)
	cr1 &^= timCR1_DIR | timCR1_CMS_Msk | timCR1_CKD_Msk
	t.win.put16(timCR1, cr1)

	t.win.put16(timPSC, uint16(t.div.Prescaler-1))
	t.win.put16(timARR, uint16(t.div.Reload))

	if t.advanced {
		t.win.put16(timRCR, 0)
		t.win.put16(timBDTR, timBDTR_MOE)
	}

	t.win.put16(timEGR, timEGR_UG)

	// Disable the selected channel while its mode changes.
	ccer := t.win.get16(timCCER)
	ccer &^= ccenable
	t.win.put16(timCCER, ccer)

	cr2 := t.win.get16(timCR2)
	ccmr1 := t.win.get16(timCCMR1)
	ccmr2 := t.win.get16(timCCMR2)

	const both = timCCMR_ChanMsk | timCCMR_ChanMsk<<8
	ccmr1 = ccmr1&^both | ocmode1
	ccmr2 = ccmr2&^both | ocmode2

	cr2 = cr2&^timCR2_MMS_Msk | mms

	var pol, en, nbits uint16
	for ch := 0; ch < 4; ch++ {
		pol |= timCCER_P << (4 * ch)
		en |= timCCER_E << (4 * ch)
		nbits |= (timCCER_NE | timCCER_NP) << (4 * ch)
	}
	ccer &^= pol | en
	ccer |= ccenable
	ccer &^= nbits
	if t.advanced {
		cr2 &^= timCR2_OIS_Msk
	}

	t.win.put16(timCR2, cr2)
	t.win.put16(timCCMR1, ccmr1)
	t.win.put16(timCCMR2, ccmr2)
	t.win.put16(timCCER, ccer)
	t.win.put16(timEGR, egr)

	cr1 = t.win.get16(timCR1)
	cr1 |= timCR1_ARPE
	t.win.put16(timCR1, cr1)
	return nil
}
