package adc

// Command is a control plane command code. Each code takes one argument
// type; see Ioctl.
type Command uint16

const (
	IocTrigger   Command = 0x0001 // none: start conversions
	IocStartConv Command = 0x0002 // ChannelSelector: one-shot, 0 = whole list
	IocStopADC   Command = 0x0003 // none: ADON off, HSI off
	IocStartADC  Command = 0x0004 // none: HSI on, ADON on

	IocPowerDownIdle  Command = 0x0010 // bool
	IocPowerDownDelay Command = 0x0011 // bool
	IocPowerDownBoth  Command = 0x0012 // bool

	IocEnableAWDInt  Command = 0x0020 // bool
	IocEnableEOCInt  Command = 0x0021 // bool
	IocEnableJEOCInt Command = 0x0022 // bool
	IocEnableOVRInt  Command = 0x0023 // bool
	IocEnableAllInts Command = 0x0024 // bool

	IocSelectBank    Command = 0x0030 // bool, true = bank B
	IocEnableTempRef Command = 0x0031 // bool

	IocSampleTime  Command = 0x0040 // SampleTime or *SampleTime
	IocSetChannels Command = 0x0041 // []uint8
	IocStop        Command = 0x0042 // none
)

func (c Command) String() string {
	switch c {
	case IocTrigger:
		return "trigger"
	case IocStartConv:
		return "start_conv"
	case IocStopADC:
		return "stop_adc"
	case IocStartADC:
		return "start_adc"
	case IocPowerDownIdle:
		return "pdi"
	case IocPowerDownDelay:
		return "pdd"
	case IocPowerDownBoth:
		return "pdd_pdi"
	case IocEnableAWDInt:
		return "awdie"
	case IocEnableEOCInt:
		return "eocie"
	case IocEnableJEOCInt:
		return "jeocie"
	case IocEnableOVRInt:
		return "ovrie"
	case IocEnableAllInts:
		return "all_ints"
	case IocSelectBank:
		return "bank"
	case IocEnableTempRef:
		return "tsvref"
	case IocSampleTime:
		return "sample_time"
	case IocSetChannels:
		return "set_channels"
	case IocStop:
		return "stop"
	default:
		return "unknown"
	}
}

// CommandByName resolves a Command from its String form.
func CommandByName(name string) (Command, bool) {
	for c := IocTrigger; c <= IocStop; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}

// DecodeArg turns a numeric wire argument into the typed argument of cmd.
// Commands whose argument is not a scalar are rejected.
func DecodeArg(cmd Command, raw uint32) (interface{}, error) {
	switch cmd {
	case IocTrigger, IocStopADC, IocStartADC, IocStop:
		return nil, nil
	case IocStartConv:
		if raw > 0xFF {
			return nil, ErrInvalidArgument
		}
		return ChannelSelector(raw), nil
	case IocPowerDownIdle, IocPowerDownDelay, IocPowerDownBoth,
		IocEnableAWDInt, IocEnableEOCInt, IocEnableJEOCInt, IocEnableOVRInt, IocEnableAllInts,
		IocSelectBank, IocEnableTempRef:
		return raw != 0, nil
	default:
		return nil, ErrInvalidArgument
	}
}

// Ioctl runs one control plane command. A wrong argument type or an unknown
// code returns ErrInvalidArgument, a command the part lacks ErrUnsupported.
func (d *Device) Ioctl(cmd Command, arg interface{}) error {
	v := d.v

	switch cmd {
	case IocTrigger:
		return d.Start()

	case IocStartConv:
		sel, ok := selectorArg(arg)
		if !ok {
			return ErrInvalidArgument
		}
		return d.startOneShot(sel)

	case IocStop:
		return d.Stop()

	case IocStopADC, IocStartADC:
		if !v.NeedsHSI {
			return ErrUnsupported
		}
		if err := d.checkSetUp(); err != nil {
			return err
		}
		if cmd == IocStopADC {
			d.enable(false)
			d.enableHSI(false)
		} else {
			d.enableHSI(true)
			d.enable(true)
		}
		return nil

	case IocSampleTime:
		switch st := arg.(type) {
		case SampleTime:
			return d.setSampleTimes(&st)
		case *SampleTime:
			if st == nil {
				return ErrInvalidArgument
			}
			return d.setSampleTimes(st)
		default:
			return ErrInvalidArgument
		}

	case IocSetChannels:
		chans, ok := arg.([]uint8)
		if !ok {
			return ErrInvalidArgument
		}
		return d.setChannels(chans)
	}

	on, ok := arg.(bool)
	if !ok {
		return ErrInvalidArgument
	}

	switch cmd {
	case IocPowerDownIdle, IocPowerDownDelay, IocPowerDownBoth:
		if !v.HasPowerDown {
			return ErrUnsupported
		}
		d.changePowerDown(cmd, on)
		return nil

	case IocEnableAWDInt:
		d.setCR1(CR1_AWDIE, on)
	case IocEnableEOCInt:
		d.setCR1(CR1_EOCIE, on)
	case IocEnableJEOCInt:
		d.setCR1(CR1_JEOCIE, on)
	case IocEnableOVRInt:
		if !v.HasOverrun {
			return ErrUnsupported
		}
		d.setCR1(CR1_OVRIE, on)
	case IocEnableAllInts:
		d.setCR1(v.CR1AllInts, on)

	case IocSelectBank:
		if !v.HasBank {
			return ErrUnsupported
		}
		if d.state == StateRunning {
			return ErrBusy
		}
		d.selectBank(on)

	case IocEnableTempRef:
		if !v.HasTempRef {
			return ErrUnsupported
		}
		d.enableTempRef(on)

	default:
		return ErrInvalidArgument
	}
	return nil
}

func selectorArg(arg interface{}) (ChannelSelector, bool) {
	switch a := arg.(type) {
	case ChannelSelector:
		return a, true
	case uint8:
		return ChannelSelector(a), true
	case nil:
		return SelectAllChannels, true
	default:
		return 0, false
	}
}

func (d *Device) checkSetUp() error {
	if d.state == StateReset || d.state == StateShutdown {
		return ErrState
	}
	return nil
}

// startOneShot arms a conversion of sel. On parts with the RCNR erratum the
// regular channel counter has to drain first; if it does not, nothing is
// written and ErrNoData is returned.
func (d *Device) startOneShot(sel ChannelSelector) error {
	if err := d.checkSetUp(); err != nil {
		return err
	}
	if d.v.HasRCNR {
		if err := d.waitRCNR(); err != nil {
			return err
		}
	}
	if err := d.Select(sel); err != nil {
		return err
	}
	if sel != SelectAllChannels && d.recv != nil {
		d.recv.Flush()
	}
	d.applySampleTimes()
	d.startConv(true)
	d.state = StateRunning
	return nil
}

func (d *Device) waitRCNR() error {
	for i := 0; i < rcnrPollLimit; i++ {
		if d.win.get(offSR)&SR_RCNR == 0 {
			return nil
		}
	}
	return ErrNoData
}

// setChannels replaces the configured list. The new list takes effect
// immediately when the block is configured and idle.
func (d *Device) setChannels(chans []uint8) error {
	if d.state == StateRunning {
		return ErrBusy
	}
	if len(chans) == 0 {
		return ErrInvalidArgument
	}
	if len(chans) > d.v.MaxChannels(d.dma != nil, d.owner.totalChannels) {
		return ErrTooManyChannels
	}
	for _, ch := range chans {
		if int(ch) >= d.v.SampleChans {
			return ErrInvalidArgument
		}
	}

	state := disableInterrupts()
	d.cchannels = copy(d.chanlist[:], chans)
	if d.state == StateConfigured {
		d.selectAll()
	} else {
		d.nchannels = d.cchannels
		d.first, d.cursor = 0, 0
	}
	restoreInterrupts(state)
	return nil
}

func (d *Device) setCR1(bits uint32, on bool) {
	if on {
		d.win.set(offCR1, bits)
	} else {
		d.win.clear(offCR1, bits)
	}
}

// changePowerDown turns the converter off around the PDI/PDD write and
// back on if it was on before.
func (d *Device) changePowerDown(cmd Command, on bool) {
	wasOn := d.adcOn()
	if wasOn {
		d.enable(false)
	}
	if cmd != IocPowerDownDelay {
		d.powerDownIdle(on)
	}
	if cmd != IocPowerDownIdle {
		d.powerDownDelay(on)
	}
	if wasOn {
		d.enable(true)
	}
}

// powerDownIdle and powerDownDelay only write while the converter is off;
// with ADON set the request is dropped.
func (d *Device) powerDownIdle(on bool) {
	if d.adcOn() {
		return
	}
	d.setCR1(CR1_PDI, on)
}

func (d *Device) powerDownDelay(on bool) {
	if d.adcOn() {
		return
	}
	d.setCR1(CR1_PDD, on)
}

func (d *Device) selectBank(bankB bool) {
	if bankB {
		d.win.set(offCR2, CR2_CFG)
	} else {
		d.win.clear(offCR2, CR2_CFG)
	}
}

// enableTempRef switches the temperature sensor and VREFINT channels. The
// ADC_CCR bit is shared by all blocks.
func (d *Device) enableTempRef(on bool) {
	if d.v.TempRefInCR2 {
		if on {
			d.win.set(offCR2, CR2_TSVREFE_F1)
		} else {
			d.win.clear(offCR2, CR2_TSVREFE_F1)
		}
		return
	}
	if !d.ccr.valid() {
		return
	}
	state := disableInterrupts()
	if on {
		d.ccr.set(tsvrefeCCR)
	} else {
		d.ccr.clear(tsvrefeCCR)
	}
	restoreInterrupts(state)
}
