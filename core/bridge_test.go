package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"testing"

	"stmadc/adc"
	"stmadc/protocol"
)

type sent struct {
	id      uint16
	payload []byte
}

// fakeSender keeps every response.
type fakeSender struct {
	msgs []sent
}

func (f *fakeSender) SendCommand(cmdID uint16, args func(protocol.OutputBuffer)) error {
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	f.msgs = append(f.msgs, sent{id: cmdID, payload: append([]byte(nil), out.Result()...)})
	return nil
}

// take returns and forgets the responses with id.
func (f *fakeSender) take(id uint16) [][]uint32 {
	var out [][]uint32
	var rest []sent
	for _, m := range f.msgs {
		if m.id != id {
			rest = append(rest, m)
			continue
		}
		data := m.payload
		var vals []uint32
		for len(data) > 0 {
			v, err := protocol.DecodeVLQUint(&data)
			if err != nil {
				break
			}
			vals = append(vals, v)
		}
		out = append(out, vals)
	}
	f.msgs = rest
	return out
}

type bridgeFixture struct {
	bus    *adc.SimBus
	adcs   *adc.Registry
	bridge *Bridge
	snd    *fakeSender
}

func newBridgeFixture(opts ...BridgeOption) *bridgeFixture {
	bus := adc.NewSimBus()
	adcs := adc.NewRegistry(bus, adc.VariantF4)
	b := NewBridge(adcs, append([]BridgeOption{WithPCLK(42000000)}, opts...)...)
	snd := &fakeSender{}
	b.SetSender(snd)
	return &bridgeFixture{bus: bus, adcs: adcs, bridge: b, snd: snd}
}

// call dispatches one command with VLQ arguments; a []byte argument is
// sent as a length prefixed string.
func (f *bridgeFixture) call(t *testing.T, id uint16, args ...interface{}) {
	t.Helper()
	out := protocol.NewScratchOutput()
	for _, a := range args {
		switch v := a.(type) {
		case int:
			protocol.EncodeVLQUint(out, uint32(v))
		case []byte:
			protocol.EncodeVLQBytes(out, v)
		default:
			t.Fatalf("bad argument %T", a)
		}
	}
	data := out.Result()
	if err := f.bridge.Dispatch(id, &data); err != nil {
		t.Fatalf("Dispatch %d: %v", id, err)
	}
}

// expectStatus checks that exactly one adc_status was sent.
func (f *bridgeFixture) expectStatus(t *testing.T, oid int, cmd uint16, code uint8) {
	t.Helper()
	st := f.snd.take(CmdADCStatus)
	if len(st) != 1 {
		t.Fatalf("Expected one adc_status, got %v", st)
	}
	want := []uint32{uint32(oid), uint32(cmd), uint32(code)}
	for i := range want {
		if st[0][i] != want[i] {
			t.Fatalf("Expected status %v, got %v", want, st[0])
		}
	}
}

func (f *bridgeFixture) eoc(value uint32) {
	blk := adc.VariantF4.Blocks[0]
	f.bus.Poke(blk.Base+uintptr(adc.VariantF4.Regs.DR), value)
	f.bus.Poke(blk.Base, f.bus.Peek(blk.Base)|adc.SR_EOC)
	f.adcs.HandleIRQ(blk.IRQ)
}

func TestBridgeCommandIDs(t *testing.T) {
	b := newBridgeFixture().bridge
	testCases := []struct {
		name string
		id   uint16
	}{
		{"adc_status", CmdADCStatus},
		{"adc_sample", CmdADCSample},
		{"config_adc", CmdConfigADC},
		{"adc_setup", CmdADCSetup},
		{"adc_shutdown", CmdADCShutdown},
		{"adc_reset", CmdADCReset},
		{"adc_rxint", CmdADCRxInt},
		{"adc_ioctl", CmdADCIoctl},
		{"adc_sample_time", CmdADCSampleTime},
		{"adc_fault", CmdADCFault},
		{"identify", CmdIdentify},
		{"identify_response", CmdIdentifyResp},
		{"adc_set_channels", CmdADCSetChannels},
	}
	for _, tc := range testCases {
		cmd, ok := b.Commands().GetCommandByName(tc.name)
		if !ok {
			t.Errorf("Command %s not registered", tc.name)
			continue
		}
		if cmd.ID != tc.id {
			t.Errorf("Expected %s at %d, got %d", tc.name, tc.id, cmd.ID)
		}
	}
	if b.Commands().Count() != len(testCases) {
		t.Errorf("Expected %d commands, got %d", len(testCases), b.Commands().Count())
	}
}

func TestBridgeInterruptSampling(t *testing.T) {
	f := newBridgeFixture()

	f.call(t, CmdConfigADC, 0, 1, 0, 0, 0, 0, []byte{5})
	f.expectStatus(t, 0, CmdConfigADC, StatusOK)
	f.call(t, CmdADCSetup, 0)
	f.expectStatus(t, 0, CmdADCSetup, StatusOK)
	f.call(t, CmdADCIoctl, 0, int(adc.IocTrigger), 0)
	f.expectStatus(t, 0, CmdADCIoctl, StatusOK)

	base := adc.VariantF4.Blocks[0].Base
	if f.bus.Peek(base+0x08)&adc.CR2_SWSTART == 0 {
		t.Error("Expected SWSTART after the trigger ioctl")
	}

	f.eoc(1234)
	f.eoc(0xF123) // masked to 12 bits
	f.bridge.AnalogTask()

	samples := f.snd.take(CmdADCSample)
	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %v", samples)
	}
	want := [][]uint32{{0, 5, 1234}, {0, 5, 0x123}}
	for i := range want {
		for j := range want[i] {
			if samples[i][j] != want[i][j] {
				t.Errorf("Sample %d: expected %v, got %v", i, want[i], samples[i])
			}
		}
	}

	f.bridge.AnalogTask()
	if s := f.snd.take(CmdADCSample); len(s) != 0 {
		t.Errorf("Expected no samples on an idle run, got %v", s)
	}
}

func TestBridgeDMASampling(t *testing.T) {
	dma := &adc.SimDMA{}
	f := newBridgeFixture(WithDMA(func(sel adc.Selector) adc.DMA {
		if sel != 1 {
			return nil
		}
		return dma
	}))

	f.call(t, CmdConfigADC, 0, 1, 1, 2, int(adc.TriggerCC2), 1000, []byte{3, 5, 9})
	f.expectStatus(t, 0, CmdConfigADC, StatusOK)
	f.call(t, CmdADCSetup, 0)
	f.expectStatus(t, 0, CmdADCSetup, StatusOK)

	dev := f.bridge.inputs[0].dev
	if div, _, ok := dev.Dividers(); !ok || div.Prescaler != 1 || div.Reload != 42000 {
		t.Errorf("Expected dividers {1 42000}, got %+v", div)
	}

	dma.Complete(100, 200, 300)
	f.bridge.AnalogTask()
	samples := f.snd.take(CmdADCSample)
	if len(samples) != 3 {
		t.Fatalf("Expected 3 samples, got %v", samples)
	}
	for i, ch := range []uint32{3, 5, 9} {
		if samples[i][1] != ch || samples[i][2] != uint32(i+1)*100 {
			t.Errorf("Sample %d: expected ch %d value %d, got %v", i, ch, (i+1)*100, samples[i])
		}
	}

	// DMA on another instance is not wired.
	f.call(t, CmdConfigADC, 1, 2, 1, 0, 0, 0, []byte{1})
	f.expectStatus(t, 1, CmdConfigADC, StatusUnsupported)
}

func TestBridgeErrors(t *testing.T) {
	f := newBridgeFixture()

	f.call(t, CmdADCSetup, 3)
	f.expectStatus(t, 3, CmdADCSetup, StatusUnknownOID)

	f.call(t, CmdConfigADC, 0, 1, 0, 0, 0, 0, []byte{1, 2})
	f.expectStatus(t, 0, CmdConfigADC, StatusTooManyChannels)

	f.call(t, CmdConfigADC, 0, 7, 0, 0, 0, 0, []byte{1})
	f.expectStatus(t, 0, CmdConfigADC, StatusInvalidInstance)

	f.call(t, CmdConfigADC, 0, 1, 1, 0, 0, 0, []byte{1})
	f.expectStatus(t, 0, CmdConfigADC, StatusUnsupported)

	f.call(t, CmdConfigADC, 0, 1, 0, 0, 0, 0, []byte{1})
	f.expectStatus(t, 0, CmdConfigADC, StatusOK)
	f.call(t, CmdConfigADC, 0, 2, 0, 0, 0, 0, []byte{1})
	f.expectStatus(t, 0, CmdConfigADC, StatusBusy)

	// Not set up yet.
	f.call(t, CmdADCIoctl, 0, int(adc.IocStartConv), 0)
	f.expectStatus(t, 0, CmdADCIoctl, StatusState)

	f.call(t, CmdADCSetup, 0)
	f.expectStatus(t, 0, CmdADCSetup, StatusOK)

	f.call(t, CmdADCIoctl, 0, 0x99, 0)
	f.expectStatus(t, 0, CmdADCIoctl, StatusInvalidArgument)

	f.call(t, CmdADCIoctl, 0, int(adc.IocSelectBank), 1)
	f.expectStatus(t, 0, CmdADCIoctl, StatusUnsupported)

	f.call(t, CmdADCIoctl, 0, int(adc.IocStartConv), int(adc.SelectorFor(6)))
	f.expectStatus(t, 0, CmdADCIoctl, StatusNotFound)

	f.call(t, CmdADCShutdown, 0)
	f.expectStatus(t, 0, CmdADCShutdown, StatusOK)
	f.call(t, CmdADCReset, 0)
	f.expectStatus(t, 0, CmdADCReset, StatusState)

	data := []byte{0x87}
	if err := f.bridge.Dispatch(CmdADCSetup, &data); err != protocol.ErrTruncated {
		t.Errorf("Expected ErrTruncated for a malformed frame, got %v", err)
	}
}

func TestBridgeSampleTimeAndChannels(t *testing.T) {
	f := newBridgeFixture(WithDMA(func(adc.Selector) adc.DMA { return &adc.SimDMA{} }))
	f.call(t, CmdConfigADC, 0, 1, 1, 0, 0, 0, []byte{3, 5, 9})
	f.expectStatus(t, 0, CmdConfigADC, StatusOK)
	f.call(t, CmdADCSetup, 0)
	f.expectStatus(t, 0, CmdADCSetup, StatusOK)
	dev := f.bridge.inputs[0].dev

	f.call(t, CmdADCSampleTime, 0, 1, 3, []byte{})
	f.expectStatus(t, 0, CmdADCSampleTime, StatusOK)
	f.call(t, CmdADCSampleTime, 0, 0, 7, []byte{4, 18})
	f.expectStatus(t, 0, CmdADCSampleTime, StatusOK)

	st := dev.SampleTimes()
	if st[0] != 3 || st[4] != 7 || st[18] != 7 || st[17] != 3 {
		t.Errorf("Unexpected sample times %v", st)
	}

	f.call(t, CmdADCSampleTime, 0, 1, 9, []byte{})
	f.expectStatus(t, 0, CmdADCSampleTime, StatusInvalidArgument)

	f.call(t, CmdADCSetChannels, 0, []byte{1, 2})
	f.expectStatus(t, 0, CmdADCSetChannels, StatusOK)
	if ch := dev.Channels(); !bytes.Equal(ch, []byte{1, 2}) {
		t.Errorf("Expected channels [1 2], got %v", ch)
	}

	f.call(t, CmdADCRxInt, 0, 0)
	f.expectStatus(t, 0, CmdADCRxInt, StatusOK)
	if f.bus.Peek(adc.VariantF4.Blocks[0].Base+0x04)&adc.CR1_EOCIE != 0 {
		t.Error("Expected EOCIE cleared by adc_rxint enable=0")
	}
}

func TestBridgeFaults(t *testing.T) {
	f := newBridgeFixture()
	f.call(t, CmdConfigADC, 2, 1, 0, 0, 0, 0, []byte{5})
	f.call(t, CmdADCSetup, 2)
	f.snd.take(CmdADCStatus)

	blk := adc.VariantF4.Blocks[0]
	f.bus.Poke(blk.Base, adc.SR_AWD)
	f.adcs.HandleIRQ(blk.IRQ)
	f.bridge.AnalogTask()

	faults := f.snd.take(CmdADCFault)
	if len(faults) != 1 {
		t.Fatalf("Expected 1 fault, got %v", faults)
	}
	if faults[0][0] != 2 || faults[0][1] != uint32(adc.FaultWatchdog) || faults[0][2] != adc.SR_AWD {
		t.Errorf("Expected fault [2 %d %d], got %v", adc.FaultWatchdog, adc.SR_AWD, faults[0])
	}
}

func TestSampleQueueOverflow(t *testing.T) {
	f := newBridgeFixture()
	f.call(t, CmdConfigADC, 0, 1, 0, 0, 0, 0, []byte{5})
	in := f.bridge.inputs[0]

	for i := 0; i < SampleQueueSize+6; i++ {
		in.Receive(5, uint16(i))
	}
	if n := f.bridge.Dropped(0); n != 6 {
		t.Errorf("Expected 6 dropped, got %d", n)
	}

	f.bridge.AnalogTask()
	samples := f.snd.take(CmdADCSample)
	if len(samples) != SampleQueueSize {
		t.Fatalf("Expected %d samples, got %d", SampleQueueSize, len(samples))
	}
	if samples[0][2] != 0 || samples[SampleQueueSize-1][2] != SampleQueueSize-1 {
		t.Errorf("Expected the oldest samples kept, got first %v last %v", samples[0], samples[SampleQueueSize-1])
	}

	in.Receive(5, 1)
	in.Flush()
	f.bridge.AnalogTask()
	if s := f.snd.take(CmdADCSample); len(s) != 0 {
		t.Errorf("Expected Flush to drop queued samples, got %v", s)
	}
}

func TestStatusCode(t *testing.T) {
	testCases := []struct {
		err  error
		code uint8
	}{
		{nil, StatusOK},
		{adc.ErrNotFound, StatusNotFound},
		{adc.ErrBusy, StatusBusy},
		{adc.ErrNoData, StatusNoData},
		{ErrUnknownOID, StatusUnknownOID},
		{io.EOF, StatusOther},
	}
	for _, tc := range testCases {
		if got := StatusCode(tc.err); got != tc.code {
			t.Errorf("StatusCode(%v): expected %d, got %d", tc.err, tc.code, got)
		}
		if tc.code != StatusOther && StatusError(tc.code) != tc.err {
			t.Errorf("StatusError(%d): expected %v, got %v", tc.code, tc.err, StatusError(tc.code))
		}
	}
}

func TestBridgeIdentify(t *testing.T) {
	f := newBridgeFixture()

	var compressed []byte
	for offset := 0; ; {
		f.call(t, CmdIdentify, offset, 40)
		if len(f.snd.msgs) != 1 || f.snd.msgs[0].id != CmdIdentifyResp {
			t.Fatalf("Expected one identify_response, got %+v", f.snd.msgs)
		}
		data := f.snd.msgs[0].payload
		f.snd.msgs = nil

		got, _ := protocol.DecodeVLQUint(&data)
		if int(got) != offset {
			t.Fatalf("Expected offset %d, got %d", offset, got)
		}
		chunk, err := protocol.DecodeVLQBytes(&data)
		if err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		if len(chunk) == 0 {
			break
		}
		compressed = append(compressed, chunk...)
		offset += len(chunk)
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	plain, _ := io.ReadAll(r)

	var d dictJSON
	if err := json.Unmarshal(plain, &d); err != nil {
		t.Fatalf("Dictionary is not valid JSON: %v", err)
	}
	if d.Commands["config_adc "+FmtConfigADC] != int(CmdConfigADC) {
		t.Errorf("Expected config_adc at %d, got %v", CmdConfigADC, d.Commands)
	}
	if d.Responses["adc_sample "+FmtADCSample] != int(CmdADCSample) {
		t.Errorf("Expected adc_sample at %d, got %v", CmdADCSample, d.Responses)
	}
	if d.Config["MCU"] != "stm32f4" || d.Config["ADC_MAX"] != "4095" {
		t.Errorf("Unexpected config %v", d.Config)
	}
	if d.Enumerations["ioctl"]["start_conv"] != int(adc.IocStartConv) {
		t.Errorf("Expected ioctl start_conv=%d, got %v", adc.IocStartConv, d.Enumerations["ioctl"])
	}
}

func TestDictionaryADCMaxIsFullScale(t *testing.T) {
	for _, v := range []*adc.Variant{adc.VariantF1, adc.VariantF4, adc.VariantL1} {
		t.Run(v.Name, func(t *testing.T) {
			b := NewBridge(adc.NewRegistry(adc.NewSimBus(), v))
			var d dictJSON
			if err := json.Unmarshal(b.Dictionary().JSON(), &d); err != nil {
				t.Fatalf("Dictionary is not valid JSON: %v", err)
			}
			if d.Config["ADC_MAX"] != "4095" {
				t.Errorf("Expected ADC_MAX 4095, got %q", d.Config["ADC_MAX"])
			}
		})
	}
}

func TestBridgeTimerClocks(t *testing.T) {
	f := newBridgeFixture(WithPCLK(84000000), WithTimerClock(adc.TIM1, 168000000))

	f.call(t, CmdConfigADC, 0, 1, 0, int(adc.TIM1), int(adc.TriggerCC1), 1000, []byte{3})
	f.expectStatus(t, 0, CmdConfigADC, StatusOK)
	f.call(t, CmdConfigADC, 1, 2, 0, int(adc.TIM2), int(adc.TriggerTRGO), 1000, []byte{4})
	f.expectStatus(t, 1, CmdConfigADC, StatusOK)

	testCases := []struct {
		sel  adc.Selector
		pclk uint32
	}{
		{1, 168000000},
		{2, 84000000},
	}
	for _, tc := range testCases {
		dev, ok := f.adcs.Device(tc.sel)
		if !ok {
			t.Fatalf("ADC%d not registered", tc.sel)
		}
		got, _, ok := dev.Dividers()
		if !ok {
			t.Fatalf("ADC%d has no timer", tc.sel)
		}
		want, _ := adc.ComputeDividers(tc.pclk, 1000)
		if got != want {
			t.Errorf("ADC%d: expected dividers %+v for %d Hz, got %+v", tc.sel, want, tc.pclk, got)
		}
	}
}
