package adc

import "testing"

// A three channel list on an F4 triggered by TIM2 CC2 at 1 kHz, then a one
// shot of the middle channel.
func TestTimerTriggeredScan(t *testing.T) {
	bus, r := newSim(VariantF4, WithTotalChannels(3))
	rec := &recorder{}
	d := mustSetup(t, r, InstanceConfig{
		Instance: 1,
		Channels: []uint8{3, 5, 9},
		Timer:    &TimerBinding{Timer: TIM2, PCLK: 42000000, Freq: 1000, Trigger: TriggerCC2},
		Receiver: rec,
	})

	div, clamp, ok := d.Dividers()
	if !ok || div != (Dividers{Prescaler: 1, Reload: 42000}) || clamp != 0 {
		t.Fatalf("Expected {1 42000} unclamped, got %+v %b %v", div, clamp, ok)
	}

	sqr3 := d.block.Base + 0x34
	sqr1 := d.block.Base + 0x2C
	if got := bus.Peek(sqr3); got != 3|5<<5|9<<10 {
		t.Errorf("Expected SQR3 0x%x, got 0x%x", 3|5<<5|9<<10, got)
	}
	if got := bus.Peek(sqr1) >> seqLenShift & 0xF; got != 2 {
		t.Errorf("Expected L=2, got %d", got)
	}

	tim2 := VariantF4.Timers[TIM2]
	if err := d.Ioctl(IocTrigger, nil); err != nil {
		t.Fatal(err)
	}
	if bus.Peek(tim2+timCR1)&timCR1_CEN == 0 {
		t.Error("TIM2 not counting")
	}

	for _, v := range []uint32{100, 200, 300, 400} {
		eoc(bus, r, d, v)
	}
	want := []Sample{{3, 100}, {5, 200}, {9, 300}, {3, 400}}
	if len(rec.samples) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(rec.samples))
	}
	for i := range want {
		if rec.samples[i] != want[i] {
			t.Errorf("Sample %d: expected %+v, got %+v", i, want[i], rec.samples[i])
		}
	}

	if err := d.Ioctl(IocStop, nil); err != nil {
		t.Fatal(err)
	}
	if bus.Peek(tim2+timCR1)&timCR1_CEN != 0 {
		t.Error("TIM2 still counting after stop")
	}

	rec.samples = nil
	if err := d.Ioctl(IocStartConv, SelectorFor(5)); err != nil {
		t.Fatal(err)
	}
	if cur, n := d.Cursor(); cur != 1 || n != 1 {
		t.Errorf("Expected cursor 1 of 1, got %d of %d", cur, n)
	}
	if got := bus.Peek(sqr3) & seqSlotMsk; got != 5 {
		t.Errorf("Expected slot 0 = 5, got %d", got)
	}
	if got := bus.Peek(sqr1) >> seqLenShift & 0xF; got != 0 {
		t.Errorf("Expected L=0, got %d", got)
	}

	eoc(bus, r, d, 0x0ABC)
	eoc(bus, r, d, 0x0DEF)
	want = []Sample{{5, 0xABC}, {5, 0xDEF}}
	for i := range want {
		if i >= len(rec.samples) || rec.samples[i] != want[i] {
			t.Errorf("Sample %d: expected %+v, got %+v", i, want[i], rec.samples)
		}
	}
	if rec.flushes != 1 {
		t.Errorf("Expected one flush, got %d", rec.flushes)
	}

	if err := d.Ioctl(IocStartConv, SelectAllChannels); err != nil {
		t.Fatal(err)
	}
	if cur, n := d.Cursor(); cur != 0 || n != 3 {
		t.Errorf("Expected cursor 0 of 3, got %d of %d", cur, n)
	}
}
