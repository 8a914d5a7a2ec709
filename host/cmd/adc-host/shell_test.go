package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stmadc/adc"
	"stmadc/config"
	"stmadc/host/mcu"
	"stmadc/host/sim"
)

func newShell(t *testing.T) (*shell, *sim.Firmware, *bytes.Buffer, func()) {
	t.Helper()
	fw := sim.New()
	s := mcu.New(fw)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	out := &bytes.Buffer{}
	sh := &shell{s: s, out: out}
	return sh, fw, out, func() {
		cancel()
		fw.Close()
		<-done
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(1, []string{"2", "3,5,9", "dma", "tim=2", "trig=cc2", "freq=500"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.OID != 1 || cfg.Instance != 2 || !cfg.DMA {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.Timer != adc.TIM2 || cfg.Trigger != adc.TriggerCC2 || cfg.Freq != 500 {
		t.Errorf("Unexpected timer %+v", cfg)
	}
	if len(cfg.Channels) != 3 || cfg.Channels[2] != 9 {
		t.Errorf("Unexpected channels %v", cfg.Channels)
	}

	testCases := [][]string{
		{"1"},
		{"1", "3,x"},
		{"1", "3", "bogus"},
		{"1", "3", "tim=2", "trig=CC7"},
		{"1", "3", "freq=-1"},
	}
	for _, args := range testCases {
		if _, err := parseConfig(0, args); err == nil {
			t.Errorf("Expected an error for %v", args)
		}
	}
}

func TestShellSession(t *testing.T) {
	sh, fw, out, stop := newShell(t)
	defer stop()
	ctx := context.Background()

	if _, err := sh.s.RetrieveDictionary(ctx); err != nil {
		t.Fatalf("RetrieveDictionary: %v", err)
	}
	for _, line := range []string{
		"config 0 1 4",
		"sampletime 0 3",
		"setup 0",
		"ioctl 0 eocie 1",
		"watch on",
		"start 0",
	} {
		if err := sh.exec(ctx, line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}
	fw.Step()

	select {
	case smp := <-sh.s.Samples():
		sh.sample(smp)
	case <-time.After(time.Second):
		t.Fatal("Expected a sample")
	}
	if !strings.Contains(out.String(), "oid=0 ch=4") {
		t.Errorf("Expected the sample to be printed, got %q", out.String())
	}

	if err := sh.exec(ctx, "channels 0 1,2"); !errors.Is(err, adc.ErrBusy) {
		t.Errorf("Expected ErrBusy while running, got %v", err)
	}
	if err := sh.exec(ctx, "ioctl 0 nosuch"); err == nil {
		t.Error("Expected an unknown ioctl error")
	}
	if err := sh.exec(ctx, "quit"); !errors.Is(err, errQuit) {
		t.Errorf("Expected errQuit, got %v", err)
	}

	out.Reset()
	if err := sh.exec(ctx, "dict"); err != nil {
		t.Fatalf("dict: %v", err)
	}
	if !strings.Contains(out.String(), "MCU = stm32f4") {
		t.Errorf("Expected the MCU constant, got %q", out.String())
	}
}

func TestShellApply(t *testing.T) {
	sh, fw, _, stop := newShell(t)
	defer stop()

	st := uint8(2)
	board := &config.Board{
		PCLK: config.DefaultPCLK,
		Instances: []config.Instance{
			{OID: 0, ADC: 1, Channels: []uint8{1, 2}, DMA: true, Timer: 2, Trigger: "TRGO", Freq: 100, SampleTime: &st},
		},
	}
	if err := sh.apply(context.Background(), board); err != nil {
		t.Fatalf("apply: %v", err)
	}
	dev, ok := fw.Registry().Device(1)
	if !ok || dev.State() != adc.StateConfigured || !dev.DMAMode() {
		t.Fatalf("Expected a configured DMA block")
	}
	if div, _, ok := dev.Dividers(); !ok || div.Freq(config.DefaultPCLK) != 100 {
		t.Errorf("Expected a 100 Hz trigger, got %+v", div)
	}
}

func TestComplete(t *testing.T) {
	sh := &shell{}
	got := sh.complete("s")
	want := []string{"sampletime", "setup", "shutdown", "start", "stats", "stop"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
		}
	}
}
