// Package config loads the board description used by the host tools.
// Files are YAML (.yaml, .yml) or JSON (.json).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"stmadc/adc"
	"stmadc/core"
)

// Defaults applied by Load.
const (
	DefaultVariant = "stm32f4"
	DefaultPCLK    = 42000000
	DefaultFreq    = 1000
	DefaultTrigger = "TRGO"
)

var (
	ErrUnknownVariant = errors.New("config: unknown variant")
	ErrUnknownTrigger = errors.New("config: unknown trigger")
	ErrInvalid        = errors.New("config: invalid board")
)

// Board describes one part and the ADC blocks used on it.
type Board struct {
	Variant   string     `yaml:"variant" json:"variant"`
	PCLK      uint32     `yaml:"pclk" json:"pclk"`
	Device    string     `yaml:"device,omitempty" json:"device,omitempty"`
	Baud      int        `yaml:"baud,omitempty" json:"baud,omitempty"`
	Instances []Instance `yaml:"instances" json:"instances"`

	// TimerClocks overrides PCLK for timers on a faster bus, keyed by
	// timer number.
	TimerClocks map[uint8]uint32 `yaml:"timer_clocks,omitempty" json:"timer_clocks,omitempty"`
}

// Instance is one ADC block.
type Instance struct {
	OID        uint8   `yaml:"oid" json:"oid"`
	ADC        uint8   `yaml:"adc" json:"adc"`
	Channels   []uint8 `yaml:"channels" json:"channels"`
	DMA        bool    `yaml:"dma,omitempty" json:"dma,omitempty"`
	Timer      uint8   `yaml:"timer,omitempty" json:"timer,omitempty"` // 0 = software start
	Trigger    string  `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	Freq       uint32  `yaml:"freq,omitempty" json:"freq,omitempty"`
	SampleTime *uint8  `yaml:"sample_time,omitempty" json:"sample_time,omitempty"`
}

// Load reads and validates a board file.
func Load(fname string) (*Board, error) {
	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("config: could not read %q: %w", fname, err)
	}
	switch ext := strings.ToLower(filepath.Ext(fname)); ext {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("config: unknown file type %q", ext)
	}
}

func ParseYAML(data []byte) (*Board, error) {
	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("config: could not decode YAML: %w", err)
	}
	return b.finish()
}

func ParseJSON(data []byte) (*Board, error) {
	var b Board
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("config: could not decode JSON: %w", err)
	}
	return b.finish()
}

func (b *Board) finish() (*Board, error) {
	b.applyDefaults()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Board) applyDefaults() {
	if b.Variant == "" {
		b.Variant = DefaultVariant
	}
	if b.PCLK == 0 {
		b.PCLK = DefaultPCLK
	}
	for i := range b.Instances {
		in := &b.Instances[i]
		if in.Timer == 0 {
			continue
		}
		if in.Freq == 0 {
			in.Freq = DefaultFreq
		}
		if in.Trigger == "" {
			in.Trigger = DefaultTrigger
		}
	}
}

// Validate checks what can be checked without the hardware. Channel
// limits and timer wiring are checked again by adc.Registry.Initialize.
func (b *Board) Validate() error {
	v, err := b.Part()
	if err != nil {
		return err
	}
	seen := make(map[uint8]bool)
	for i, in := range b.Instances {
		if in.OID >= core.MaxOIDs {
			return fmt.Errorf("%w: instance %d: oid %d out of range", ErrInvalid, i, in.OID)
		}
		if seen[in.OID] {
			return fmt.Errorf("%w: instance %d: oid %d used twice", ErrInvalid, i, in.OID)
		}
		seen[in.OID] = true
		if _, ok := v.Block(adc.Selector(in.ADC)); !ok {
			return fmt.Errorf("%w: instance %d: %s has no ADC%d", ErrInvalid, i, v.Name, in.ADC)
		}
		if len(in.Channels) == 0 {
			return fmt.Errorf("%w: instance %d: no channels", ErrInvalid, i)
		}
		if in.Timer != 0 {
			if _, err := in.TriggerEvent(); err != nil {
				return fmt.Errorf("instance %d: %w", i, err)
			}
		}
	}
	return nil
}

// Part resolves the variant descriptor.
func (b *Board) Part() (*adc.Variant, error) {
	v, ok := adc.VariantByName(b.Variant)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, b.Variant)
	}
	return v, nil
}

var triggers = map[string]adc.Trigger{
	"CC1":  adc.TriggerCC1,
	"CC2":  adc.TriggerCC2,
	"CC3":  adc.TriggerCC3,
	"CC4":  adc.TriggerCC4,
	"TRGO": adc.TriggerTRGO,
}

// TriggerEvent parses Trigger, case insensitively.
func (in *Instance) TriggerEvent() (adc.Trigger, error) {
	t, ok := triggers[strings.ToUpper(in.Trigger)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTrigger, in.Trigger)
	}
	return t, nil
}

// TimerClock returns the input clock of a trigger timer.
func (b *Board) TimerClock(timer uint8) uint32 {
	if hz, ok := b.TimerClocks[timer]; ok && hz != 0 {
		return hz
	}
	return b.PCLK
}

// TimerBinding returns the trigger timer of the instance, nil for software
// start.
func (in *Instance) TimerBinding(pclk uint32) *adc.TimerBinding {
	if in.Timer == 0 {
		return nil
	}
	trig, _ := in.TriggerEvent()
	return &adc.TimerBinding{
		Timer:   adc.TimerID(in.Timer),
		PCLK:    pclk,
		Freq:    in.Freq,
		Trigger: trig,
	}
}

// InstanceConfig builds the engine configuration. dma is used when the
// instance asks for DMA.
func (in *Instance) InstanceConfig(pclk uint32, dma adc.DMA, recv adc.Receiver) adc.InstanceConfig {
	cfg := adc.InstanceConfig{
		Instance: adc.Selector(in.ADC),
		Channels: append([]uint8(nil), in.Channels...),
		Timer:    in.TimerBinding(pclk),
		Receiver: recv,
	}
	if in.DMA {
		cfg.DMA = dma
	}
	return cfg
}
