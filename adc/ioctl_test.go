package adc

import (
	"errors"
	"testing"
	"time"
)

func TestStartConvErratumTimeout(t *testing.T) {
	bus, r := newSim(VariantL1)
	rec := &recorder{}
	d := mustSetup(t, r, InstanceConfig{Instance: 1, Channels: []uint8{4}, Receiver: rec})
	sr := d.block.Base + offSR

	bus.Poke(sr, SR_RCNR) // the regular channel counter never drains
	bus.ResetLog()

	err := d.Ioctl(IocStartConv, SelectorFor(4))
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("Expected ErrNoData, got %v", err)
	}
	if w := bus.Writes(); len(w) != 0 {
		t.Errorf("Expected no register writes, got %d: %+v", len(w), w)
	}
	if bus.Reads() != rcnrPollLimit {
		t.Errorf("Expected %d status polls, got %d", rcnrPollLimit, bus.Reads())
	}
	if rec.flushes != 0 {
		t.Error("Receiver flushed by a failed start")
	}
	if d.State() != StateConfigured {
		t.Errorf("Expected configured state, got %v", d.State())
	}
}

func TestStartConvSingleChannel(t *testing.T) {
	bus, r := newSim(VariantL1)
	rec := &recorder{}
	d := mustSetup(t, r, InstanceConfig{Instance: 1, Channels: []uint8{4}, Receiver: rec})

	if err := d.Ioctl(IocStartConv, SelectorFor(4)); err != nil {
		t.Fatalf("IocStartConv failed: %v", err)
	}
	if rec.flushes != 1 {
		t.Errorf("Expected one flush, got %d", rec.flushes)
	}
	if bus.Peek(d.block.Base+offCR2)&CR2_SWSTART == 0 {
		t.Error("SWSTART not set")
	}
	if d.State() != StateRunning {
		t.Errorf("Expected running, got %v", d.State())
	}

	// Whole list: no flush
	if err := d.Ioctl(IocStartConv, SelectAllChannels); err != nil {
		t.Fatal(err)
	}
	if rec.flushes != 1 {
		t.Errorf("Whole list start flushed the receiver")
	}

	if err := d.Ioctl(IocStartConv, SelectorFor(6)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for channel 6, got %v", err)
	}
}

func TestPowerDownIoctls(t *testing.T) {
	bus, r := newSim(VariantL1)
	d := mustSetup(t, r, InstanceConfig{Instance: 1, Channels: []uint8{4}})
	cr1 := d.block.Base + offCR1
	cr2 := d.block.Base + offCR2

	if bus.Peek(cr2)&CR2_ADON == 0 {
		t.Fatal("ADON not set by reset")
	}

	tests := []struct {
		cmd  Command
		on   bool
		want uint32
	}{
		{IocPowerDownIdle, true, CR1_PDI},
		{IocPowerDownDelay, true, CR1_PDI | CR1_PDD},
		{IocPowerDownIdle, false, CR1_PDD},
		{IocPowerDownBoth, true, CR1_PDI | CR1_PDD},
		{IocPowerDownBoth, false, 0},
	}
	for _, tt := range tests {
		if err := d.Ioctl(tt.cmd, tt.on); err != nil {
			t.Fatalf("%v(%v) failed: %v", tt.cmd, tt.on, err)
		}
		if got := bus.Peek(cr1) & (CR1_PDI | CR1_PDD); got != tt.want {
			t.Errorf("%v(%v): expected power down bits 0x%x, got 0x%x", tt.cmd, tt.on, tt.want, got)
		}
		if bus.Peek(cr2)&CR2_ADON == 0 {
			t.Errorf("%v(%v): ADON not restored", tt.cmd, tt.on)
		}
	}

	// The bits may only change with the converter off.
	var offWrites int
	for _, w := range bus.Writes() {
		if w.Addr == cr2 && w.Value&CR2_ADON == 0 {
			offWrites++
		}
	}
	if offWrites < len(tests) {
		t.Errorf("Expected ADON cleared around every write, saw %d clears", offWrites)
	}

	if err := d.Ioctl(IocStopADC, nil); err != nil {
		t.Fatalf("IocStopADC failed: %v", err)
	}
	if bus.Peek(cr2)&CR2_ADON != 0 {
		t.Error("ADON still set after IocStopADC")
	}
	if bus.Peek(VariantL1.RCCCR)&rccHSION != 0 {
		t.Error("HSI still on after IocStopADC")
	}

	// With the converter off the write lands and ADON stays off.
	if err := d.Ioctl(IocPowerDownIdle, true); err != nil {
		t.Fatal(err)
	}
	if bus.Peek(cr1)&CR1_PDI == 0 || bus.Peek(cr1)&CR1_PDD != 0 {
		t.Errorf("Expected PDI only, got CR1 0x%x", bus.Peek(cr1))
	}
	if bus.Peek(cr2)&CR2_ADON != 0 {
		t.Error("Power down ioctl turned a stopped converter on")
	}

	if err := d.Ioctl(IocStartADC, nil); err != nil {
		t.Fatal(err)
	}
	if bus.Peek(cr2)&CR2_ADON == 0 || bus.Peek(VariantL1.RCCCR)&rccHSION == 0 {
		t.Error("IocStartADC did not restore HSI and ADON")
	}
}

func TestSelectBankRefusedWhileRunning(t *testing.T) {
	bus, r := newSim(VariantL1)
	d := mustSetup(t, r, InstanceConfig{Instance: 1, Channels: []uint8{4}})
	cr2 := d.block.Base + offCR2

	if bus.Peek(cr2)&CR2_CFG != 0 {
		t.Error("Reset did not select bank A")
	}
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	if err := d.Ioctl(IocSelectBank, true); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy while running, got %v", err)
	}
	if err := d.Ioctl(IocStop, nil); err != nil {
		t.Fatal(err)
	}
	if err := d.Ioctl(IocSelectBank, true); err != nil {
		t.Errorf("Bank select failed when idle: %v", err)
	}
	if bus.Peek(cr2)&CR2_CFG == 0 {
		t.Error("Bank B not selected")
	}
}

func TestIoctlErrors(t *testing.T) {
	testCases := []struct {
		name string
		v    *Variant
		cmd  Command
		arg  interface{}
		want error
	}{
		{"power down on F4", VariantF4, IocPowerDownIdle, true, ErrUnsupported},
		{"bank on F4", VariantF4, IocSelectBank, true, ErrUnsupported},
		{"HSI on F4", VariantF4, IocStopADC, nil, ErrUnsupported},
		{"overrun on F1", VariantF1, IocEnableOVRInt, true, ErrUnsupported},
		{"bool as string", VariantF4, IocEnableEOCInt, "yes", ErrInvalidArgument},
		{"unknown command", VariantF4, Command(0x7777), true, ErrInvalidArgument},
		{"selector as string", VariantF4, IocStartConv, "5", ErrInvalidArgument},
		{"sample time as int", VariantF4, IocSampleTime, 3, ErrInvalidArgument},
		{"channels as string", VariantF4, IocSetChannels, "1,2", ErrInvalidArgument},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, r := newSim(tc.v)
			d := mustSetup(t, r, InstanceConfig{Instance: 1, Channels: []uint8{1}})
			if err := d.Ioctl(tc.cmd, tc.arg); !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestInterruptEnableIoctls(t *testing.T) {
	bus, r := newSim(VariantF4)
	d := mustSetup(t, r, InstanceConfig{Instance: 1, Channels: []uint8{1}})
	cr1 := d.block.Base + offCR1

	if err := d.Ioctl(IocEnableAllInts, false); err != nil {
		t.Fatal(err)
	}
	if bus.Peek(cr1)&VariantF4.CR1AllInts != 0 {
		t.Errorf("Interrupts still enabled: CR1 0x%x", bus.Peek(cr1))
	}

	testCases := []struct {
		cmd Command
		bit uint32
	}{
		{IocEnableAWDInt, CR1_AWDIE},
		{IocEnableEOCInt, CR1_EOCIE},
		{IocEnableJEOCInt, CR1_JEOCIE},
		{IocEnableOVRInt, CR1_OVRIE},
	}
	for _, tc := range testCases {
		if err := d.Ioctl(tc.cmd, true); err != nil {
			t.Errorf("%v failed: %v", tc.cmd, err)
		}
		if bus.Peek(cr1)&tc.bit == 0 {
			t.Errorf("%v did not set 0x%x", tc.cmd, tc.bit)
		}
		if err := d.Ioctl(tc.cmd, false); err != nil {
			t.Errorf("%v failed: %v", tc.cmd, err)
		}
		if bus.Peek(cr1)&tc.bit != 0 {
			t.Errorf("%v did not clear 0x%x", tc.cmd, tc.bit)
		}
	}
}

func TestEnableTempRef(t *testing.T) {
	bus, r := newSim(VariantF4)
	d := mustSetup(t, r, InstanceConfig{Instance: 1, Channels: []uint8{16}})
	if err := d.Ioctl(IocEnableTempRef, true); err != nil {
		t.Fatal(err)
	}
	if bus.Peek(VariantF4.CommonCCR)&tsvrefeCCR == 0 {
		t.Error("TSVREFE not set in ADC_CCR")
	}

	bus1, r1 := newSim(VariantF1)
	d1 := mustSetup(t, r1, InstanceConfig{Instance: 1, Channels: []uint8{16}})
	if err := d1.Ioctl(IocEnableTempRef, true); err != nil {
		t.Fatal(err)
	}
	if bus1.Peek(d1.block.Base+offCR2)&CR2_TSVREFE_F1 == 0 {
		t.Error("TSVREFE not set in ADC_CR2")
	}
}

func TestSampleTimeTable(t *testing.T) {
	bus, r := newSim(VariantL1)
	d := mustSetup(t, r, InstanceConfig{Instance: 1, Channels: []uint8{4}})
	smpr3 := d.block.Base + 0x14
	smpr0 := d.block.Base + 0x5C

	if got := bus.Peek(smpr3); got != fields(10, 7) {
		t.Errorf("Expected default 384 cycles, got SMPR3 0x%x", got)
	}
	if got := bus.Peek(smpr0); got != fields(2, 7) {
		t.Errorf("Expected default in SMPR0, got 0x%x", got)
	}

	if err := d.Ioctl(IocSampleTime, SampleTime{AllSame: true, Value: 3}); err != nil {
		t.Fatal(err)
	}
	if err := d.Ioctl(IocSampleTime, &SampleTime{Channels: []ChannelTime{{Channel: 31, Value: 1}}}); err != nil {
		t.Fatal(err)
	}
	if got := bus.Peek(smpr3); got != fields(10, 7) {
		t.Errorf("Sample times applied retroactively: SMPR3 0x%x", got)
	}

	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	if got := bus.Peek(smpr3); got != fields(10, 3) {
		t.Errorf("Expected 24 cycles everywhere, got SMPR3 0x%x", got)
	}
	if got := bus.Peek(smpr0); got != 3|1<<3 {
		t.Errorf("Expected ch30=3 ch31=1, got SMPR0 0x%x", got)
	}

	bad := SampleTime{Channels: []ChannelTime{{Channel: 40, Value: 1}}}
	if err := d.Ioctl(IocSampleTime, bad); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for channel 40, got %v", err)
	}
	if err := d.Ioctl(IocSampleTime, SampleTime{AllSame: true, Value: 8}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for value 8, got %v", err)
	}
}

func TestSampleTimeAppliedOnOneShot(t *testing.T) {
	bus, r := newSim(VariantL1)
	d := mustSetup(t, r, InstanceConfig{Instance: 1, Channels: []uint8{4}})
	smpr3 := d.block.Base + 0x14

	if err := d.Ioctl(IocSampleTime, SampleTime{AllSame: true, Value: 3}); err != nil {
		t.Fatal(err)
	}
	if err := d.Ioctl(IocStartConv, SelectorFor(4)); err != nil {
		t.Fatalf("IocStartConv failed: %v", err)
	}
	if got := bus.Peek(smpr3); got != fields(10, 3) {
		t.Errorf("Expected SMPR3 0x%x after one-shot start, got 0x%x", fields(10, 3), got)
	}

	// A second start with no new table does not rewrite it.
	bus.ResetLog()
	if err := d.Ioctl(IocStartConv, SelectorFor(4)); err != nil {
		t.Fatal(err)
	}
	if n := len(bus.WritesTo(smpr3)); n != 0 {
		t.Errorf("Expected no SMPR3 writes without a new table, got %d", n)
	}
}

func TestSetChannels(t *testing.T) {
	bus, r := newSim(VariantF4)
	dma := &SimDMA{}
	d := mustSetup(t, r, InstanceConfig{Instance: 1, Channels: []uint8{1, 2, 3}, DMA: dma})

	if err := d.Ioctl(IocSetChannels, []uint8{7, 8}); err != nil {
		t.Fatal(err)
	}
	if got := d.Channels(); !equalBytes(got, []uint8{7, 8}) {
		t.Errorf("Expected [7 8], got %v", got)
	}
	if got := bus.Peek(d.block.Base+0x2C) >> 20 & 0xF; got != 1 {
		t.Errorf("Expected L=1, got %d", got)
	}
	if len(dma.Mem) != 2 {
		t.Errorf("Expected DMA buffer of 2, got %d", len(dma.Mem))
	}

	if err := d.Ioctl(IocSetChannels, make([]uint8, 17)); !errors.Is(err, ErrTooManyChannels) {
		t.Errorf("Expected ErrTooManyChannels, got %v", err)
	}

	if err := d.Ioctl(IocTrigger, nil); err != nil {
		t.Fatal(err)
	}
	if err := d.Ioctl(IocSetChannels, []uint8{1}); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy while running, got %v", err)
	}
}

func TestDecodeArg(t *testing.T) {
	arg, err := DecodeArg(IocStartConv, 6)
	if err != nil || arg != ChannelSelector(6) {
		t.Errorf("Expected ChannelSelector(6), got %v %v", arg, err)
	}
	arg, err = DecodeArg(IocEnableEOCInt, 1)
	if err != nil || arg != true {
		t.Errorf("Expected true, got %v %v", arg, err)
	}
	arg, err = DecodeArg(IocTrigger, 0)
	if err != nil || arg != nil {
		t.Errorf("Expected nil, got %v %v", arg, err)
	}
	if _, err := DecodeArg(IocSampleTime, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
	if _, err := DecodeArg(IocStartConv, 256); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestCommandNames(t *testing.T) {
	for _, cmd := range []Command{
		IocTrigger, IocStartConv, IocStopADC, IocStartADC,
		IocPowerDownIdle, IocPowerDownDelay, IocPowerDownBoth,
		IocEnableAWDInt, IocEnableEOCInt, IocEnableJEOCInt, IocEnableOVRInt, IocEnableAllInts,
		IocSelectBank, IocEnableTempRef, IocSampleTime, IocSetChannels, IocStop,
	} {
		got, ok := CommandByName(cmd.String())
		if !ok || got != cmd {
			t.Errorf("CommandByName(%q) = %v, %v", cmd.String(), got, ok)
		}
	}
}

func TestHSISwitchHoldsCriticalSection(t *testing.T) {
	bus, r := newSim(VariantL1)
	d := mustSetup(t, r, InstanceConfig{Instance: 1, Channels: []uint8{4}})

	state := disableInterrupts()
	done := make(chan error, 1)
	go func() { done <- d.Ioctl(IocStopADC, nil) }()
	time.Sleep(20 * time.Millisecond)
	if bus.Peek(VariantL1.RCCCR)&rccHSION == 0 {
		t.Error("RCC_CR changed while the critical section was held")
	}
	restoreInterrupts(state)

	if err := <-done; err != nil {
		t.Fatalf("IocStopADC failed: %v", err)
	}
	if bus.Peek(VariantL1.RCCCR)&rccHSION != 0 {
		t.Error("HSI still on after IocStopADC")
	}
	if err := d.Ioctl(IocStartADC, nil); err != nil {
		t.Fatal(err)
	}
	if bus.Peek(VariantL1.RCCCR)&rccHSION == 0 {
		t.Error("HSI not restarted by IocStartADC")
	}
}
