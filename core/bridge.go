package core

import (
	"stmadc/adc"
	"stmadc/protocol"
)

// MaxOIDs bounds the object ids the host may assign to ADC blocks.
const MaxOIDs = 8

// Sender writes one response. *protocol.Transport implements it.
type Sender interface {
	SendCommand(cmdID uint16, args func(protocol.OutputBuffer)) error
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithPCLK sets the input clock of the trigger timers.
func WithPCLK(hz uint32) BridgeOption {
	return func(b *Bridge) { b.pclk = hz }
}

// WithTimerClock overrides the input clock of one timer, e.g. for timers
// on a faster APB than the rest.
func WithTimerClock(t adc.TimerID, hz uint32) BridgeOption {
	return func(b *Bridge) {
		if b.timclk == nil {
			b.timclk = make(map[adc.TimerID]uint32)
		}
		b.timclk[t] = hz
	}
}

// WithDMA supplies the DMA stream serving an ADC block. Without it
// config_adc with dma=1 fails with StatusUnsupported.
func WithDMA(streamFor func(adc.Selector) adc.DMA) BridgeOption {
	return func(b *Bridge) { b.dmaFor = streamFor }
}

// Bridge exposes an adc.Registry as firmware commands. Handlers run in
// task context; samples reach the host through AnalogTask.
type Bridge struct {
	adcs   *adc.Registry
	reg    *CommandRegistry
	dict   *Dictionary
	out    Sender
	pclk   uint32
	timclk map[adc.TimerID]uint32
	dmaFor func(adc.Selector) adc.DMA

	inputs [MaxOIDs]*analogIn
	wake   bool // a queue has samples, guarded by the critical section
}

// analogIn is one configured ADC block and the queue between its
// receive interrupt and AnalogTask.
type analogIn struct {
	oid    uint8
	bridge *Bridge
	dev    *adc.Device
	q      sampleQueue
}

func (a *analogIn) Receive(channel uint8, value uint16) {
	state := disableInterrupts()
	if a.q.push(adc.Sample{Channel: channel, Value: value}) {
		a.bridge.wake = true
	}
	restoreInterrupts(state)
}

func (a *analogIn) Flush() {
	state := disableInterrupts()
	a.q.reset()
	restoreInterrupts(state)
}

// NewBridge registers the command table in id order.
func NewBridge(adcs *adc.Registry, opts ...BridgeOption) *Bridge {
	b := &Bridge{adcs: adcs, reg: NewCommandRegistry()}
	for _, opt := range opts {
		opt(b)
	}

	r := b.reg
	r.RegisterResponse("adc_status", FmtADCStatus)
	r.RegisterResponse("adc_sample", FmtADCSample)
	r.Register("config_adc", FmtConfigADC, b.handleConfigADC)
	r.Register("adc_setup", FmtOID, b.handleSetup)
	r.Register("adc_shutdown", FmtOID, b.handleShutdown)
	r.Register("adc_reset", FmtOID, b.handleReset)
	r.Register("adc_rxint", FmtADCRxInt, b.handleRxInt)
	r.Register("adc_ioctl", FmtADCIoctl, b.handleIoctl)
	r.Register("adc_sample_time", FmtADCSampleTime, b.handleSampleTime)
	r.RegisterResponse("adc_fault", FmtADCFault)
	r.Register("identify", FmtIdentify, b.handleIdentify)
	r.RegisterResponse("identify_response", FmtIdentifyResp)
	r.Register("adc_set_channels", FmtADCSetChannels, b.handleSetChannels)

	b.dict = NewDictionary(r)
	v := adcs.Variant()
	b.dict.AddConstant("MCU", v.Name)
	b.dict.AddConstant("ADC_MAX", v.FullScale)
	b.dict.AddConstant("ADC_INSTANCES", adc.MaxInstances)
	b.dict.AddConstant("ADC_SEQ_SLOTS", v.SeqSlots)
	b.dict.AddConstant("ADC_MAX_DMA", v.MaxDMA)
	b.dict.AddConstant("ADC_SAMPLE_QUEUE", SampleQueueSize)
	b.dict.AddConstant("PCLK", b.pclk)
	b.dict.AddEnumeration("ioctl", ioctlNames())
	b.dict.AddEnumeration("trigger", []string{
		adc.TriggerCC1.String(), adc.TriggerCC2.String(), adc.TriggerCC3.String(),
		adc.TriggerCC4.String(), adc.TriggerTRGO.String(),
	})
	b.dict.AddEnumeration("status", statusNames())
	return b
}

func ioctlNames() []string {
	names := make([]string, adc.IocStop+1)
	for c := adc.IocTrigger; c <= adc.IocStop; c++ {
		if s := c.String(); s != "unknown" {
			names[c] = s
		}
	}
	return names
}

func statusNames() []string {
	return []string{
		StatusOK:              "ok",
		StatusNotFound:        "not_found",
		StatusInvalidArgument: "invalid_argument",
		StatusBusy:            "busy",
		StatusNoData:          "no_data",
		StatusUnsupported:     "unsupported",
		StatusInvalidInstance: "invalid_instance",
		StatusTooManyChannels: "too_many_channels",
		StatusState:           "state",
		StatusUnknownOID:      "unknown_oid",
	}
}

// SetSender attaches the transport responses are written to.
func (b *Bridge) SetSender(s Sender) { b.out = s }

func (b *Bridge) Commands() *CommandRegistry { return b.reg }
func (b *Bridge) Dictionary() *Dictionary    { return b.dict }

// Dispatch runs one command; it has the signature of
// protocol.CommandHandler.
func (b *Bridge) Dispatch(cmdID uint16, args *[]byte) error {
	return b.reg.Dispatch(cmdID, args)
}

// Dropped returns how many samples of oid were lost to a full queue.
func (b *Bridge) Dropped(oid uint8) uint32 {
	in, err := b.input(uint32(oid))
	if err != nil {
		return 0
	}
	state := disableInterrupts()
	n := in.q.dropped
	restoreInterrupts(state)
	return n
}

// AnalogTask sends queued samples and recorded faults. It runs from the
// main loop.
func (b *Bridge) AnalogTask() {
	state := disableInterrupts()
	wake := b.wake
	b.wake = false
	restoreInterrupts(state)

	if wake {
		for _, in := range b.inputs {
			if in != nil {
				b.drain(in)
			}
		}
	}

	for {
		ev, ok := b.adcs.PopFault()
		if !ok {
			break
		}
		oid := b.oidOf(ev.Instance)
		b.send(CmdADCFault, func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, uint32(oid))
			protocol.EncodeVLQUint(out, uint32(ev.Kind))
			protocol.EncodeVLQUint(out, ev.Value)
		})
	}
}

func (b *Bridge) drain(in *analogIn) {
	for {
		state := disableInterrupts()
		s, ok := in.q.pop()
		restoreInterrupts(state)
		if !ok {
			return
		}
		b.send(CmdADCSample, func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, uint32(in.oid))
			protocol.EncodeVLQUint(out, uint32(s.Channel))
			protocol.EncodeVLQUint(out, uint32(s.Value))
		})
	}
}

// oidOf returns the oid bound to an instance, 0xFF if none is.
func (b *Bridge) oidOf(sel adc.Selector) uint8 {
	for _, in := range b.inputs {
		if in != nil && in.dev.Instance() == sel {
			return in.oid
		}
	}
	return 0xFF
}

func (b *Bridge) send(cmdID uint16, args func(protocol.OutputBuffer)) {
	if b.out == nil {
		return
	}
	if err := b.out.SendCommand(cmdID, args); err != nil {
		adc.DebugPrintln("[BRIDGE] send " + utoa(uint32(cmdID)) + ": " + err.Error())
	}
}

func (b *Bridge) status(oid uint32, cmdID uint16, err error) {
	code := StatusCode(err)
	if err != nil {
		adc.DebugPrintln("[BRIDGE] oid=" + utoa(oid) + " cmd=" + utoa(uint32(cmdID)) + ": " + err.Error())
	}
	b.send(CmdADCStatus, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, oid)
		protocol.EncodeVLQUint(out, uint32(cmdID))
		protocol.EncodeVLQUint(out, uint32(code))
	})
}

func (b *Bridge) input(oid uint32) (*analogIn, error) {
	if oid >= MaxOIDs || b.inputs[oid] == nil {
		return nil, ErrUnknownOID
	}
	return b.inputs[oid], nil
}

func (b *Bridge) handleConfigADC(data *[]byte) error {
	var oid, instance, dma, timer, trigger, freq uint32
	if err := protocol.DecodeArgs(data, &oid, &instance, &dma, &timer, &trigger, &freq); err != nil {
		return err
	}
	chans, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	b.status(oid, CmdConfigADC, b.configADC(oid, instance, dma != 0, timer, trigger, freq, chans))
	return nil
}

func (b *Bridge) configADC(oid, instance uint32, dma bool, timer, trigger, freq uint32, chans []byte) error {
	if oid >= MaxOIDs || instance > 0xFF || trigger > 0xFF || timer > 0xFF {
		return adc.ErrInvalidArgument
	}
	if b.inputs[oid] != nil {
		return adc.ErrBusy
	}

	in := &analogIn{oid: uint8(oid), bridge: b}
	cfg := adc.InstanceConfig{
		Instance: adc.Selector(instance),
		Channels: append([]uint8(nil), chans...),
		Receiver: in,
	}
	if dma {
		if b.dmaFor == nil {
			return adc.ErrUnsupported
		}
		if cfg.DMA = b.dmaFor(cfg.Instance); cfg.DMA == nil {
			return adc.ErrUnsupported
		}
	}
	if timer != 0 {
		cfg.Timer = &adc.TimerBinding{
			Timer:   adc.TimerID(timer),
			PCLK:    b.timerClock(adc.TimerID(timer)),
			Freq:    freq,
			Trigger: adc.Trigger(trigger),
		}
	}

	dev, err := b.adcs.Initialize(cfg)
	if err != nil {
		return err
	}
	in.dev = dev
	b.inputs[oid] = in
	return nil
}

// timerClock returns the input clock of t.
func (b *Bridge) timerClock(t adc.TimerID) uint32 {
	if hz, ok := b.timclk[t]; ok {
		return hz
	}
	return b.pclk
}

// withDevice decodes the oid, runs fn on its device and reports the
// result as adc_status.
func (b *Bridge) withDevice(data *[]byte, cmdID uint16, fn func(in *analogIn) error) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	in, err := b.input(oid)
	if err == nil {
		err = fn(in)
	}
	b.status(oid, cmdID, err)
	return nil
}

func (b *Bridge) handleSetup(data *[]byte) error {
	return b.withDevice(data, CmdADCSetup, func(in *analogIn) error {
		return in.dev.Setup()
	})
}

func (b *Bridge) handleShutdown(data *[]byte) error {
	return b.withDevice(data, CmdADCShutdown, func(in *analogIn) error {
		in.dev.Shutdown()
		in.Flush()
		return nil
	})
}

func (b *Bridge) handleReset(data *[]byte) error {
	return b.withDevice(data, CmdADCReset, func(in *analogIn) error {
		return in.dev.Reset()
	})
}

func (b *Bridge) handleRxInt(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	in, err := b.input(oid)
	if err == nil {
		in.dev.SetReceiveInterrupt(enable != 0)
	}
	b.status(oid, CmdADCRxInt, err)
	return nil
}

func (b *Bridge) handleIoctl(data *[]byte) error {
	var oid, cmd, raw uint32
	if err := protocol.DecodeArgs(data, &oid, &cmd, &raw); err != nil {
		return err
	}
	in, err := b.input(oid)
	if err == nil {
		var arg interface{}
		if arg, err = adc.DecodeArg(adc.Command(cmd), raw); err == nil {
			err = in.dev.Ioctl(adc.Command(cmd), arg)
		}
	}
	b.status(oid, CmdADCIoctl, err)
	return nil
}

func (b *Bridge) handleSampleTime(data *[]byte) error {
	var oid, all, value uint32
	if err := protocol.DecodeArgs(data, &oid, &all, &value); err != nil {
		return err
	}
	chans, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	in, err := b.input(oid)
	if err == nil {
		err = in.dev.Ioctl(adc.IocSampleTime, sampleTime(all != 0, value, chans))
	}
	b.status(oid, CmdADCSampleTime, err)
	return nil
}

func sampleTime(all bool, value uint32, chans []byte) adc.SampleTime {
	v := uint8(value)
	if value > 0xFF {
		v = 0xFF // rejected by the engine
	}
	st := adc.SampleTime{AllSame: all, Value: v}
	if !all {
		st.Channels = make([]adc.ChannelTime, len(chans))
		for i, ch := range chans {
			st.Channels[i] = adc.ChannelTime{Channel: ch, Value: v}
		}
	}
	return st
}

func (b *Bridge) handleSetChannels(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	chans, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	in, err := b.input(oid)
	if err == nil {
		err = in.dev.Ioctl(adc.IocSetChannels, append([]uint8(nil), chans...))
	}
	b.status(oid, CmdADCSetChannels, err)
	return nil
}

func (b *Bridge) handleIdentify(data *[]byte) error {
	var offset, count uint32
	if err := protocol.DecodeArgs(data, &offset, &count); err != nil {
		return err
	}
	if count > 0xFF {
		count = 0xFF
	}
	chunk := b.dict.Chunk(offset, uint8(count))
	b.send(CmdIdentifyResp, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQBytes(out, chunk)
	})
	return nil
}
