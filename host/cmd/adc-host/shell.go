package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/shlex"

	"stmadc/adc"
	"stmadc/config"
	"stmadc/host/mcu"
)

var errQuit = errors.New("quit")

// shell runs one command line at a time against a session.
type shell struct {
	s     *mcu.Session
	out   io.Writer
	watch uint32 // atomic bool
	count uint64 // atomic, samples seen
}

var commandNames = []string{
	"channels", "config", "dict", "help", "ioctl", "quit", "reset", "rxint",
	"sampletime", "setup", "shutdown", "start", "stats", "stop", "watch",
}

func (sh *shell) help() {
	fmt.Fprint(sh.out, `Commands:
  config OID ADC CH[,CH...] [dma] [tim=N] [trig=CC1..CC4|TRGO] [freq=HZ]
  setup|shutdown|reset|start|stop OID
  rxint OID on|off
  ioctl OID NAME [ARG]
  sampletime OID CODE [CH,...]
  channels OID CH[,CH...]
  watch on|off
  dict | stats | help | quit
`)
}

// complete offers command names for the first word.
func (sh *shell) complete(line string) []string {
	var out []string
	for _, name := range commandNames {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	return out
}

// exec runs one line. It returns errQuit for quit.
func (sh *shell) exec(ctx context.Context, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		sh.help()
		return nil
	case "dict":
		return sh.dict()
	case "stats":
		fmt.Fprintf(sh.out, "samples: %s  dropped: %s\n",
			humanize.Comma(int64(atomic.LoadUint64(&sh.count))),
			humanize.Comma(int64(sh.s.Dropped())))
		return nil
	case "watch":
		if len(args) != 1 {
			return fmt.Errorf("usage: watch on|off")
		}
		on, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		if on {
			atomic.StoreUint32(&sh.watch, 1)
		} else {
			atomic.StoreUint32(&sh.watch, 0)
		}
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("%s: missing oid", cmd)
	}
	oid, err := parseUint8(args[0])
	if err != nil {
		return fmt.Errorf("%s: oid: %w", cmd, err)
	}
	args = args[1:]

	switch cmd {
	case "config":
		cfg, err := parseConfig(oid, args)
		if err != nil {
			return err
		}
		return sh.s.ConfigADC(ctx, cfg)
	case "setup":
		return sh.s.Setup(ctx, oid)
	case "shutdown":
		return sh.s.Shutdown(ctx, oid)
	case "reset":
		return sh.s.Reset(ctx, oid)
	case "start":
		return sh.s.Start(ctx, oid)
	case "stop":
		return sh.s.Stop(ctx, oid)
	case "rxint":
		if len(args) != 1 {
			return fmt.Errorf("usage: rxint OID on|off")
		}
		on, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return sh.s.SetReceiveInterrupt(ctx, oid, on)
	case "ioctl":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: ioctl OID NAME [ARG]")
		}
		c, ok := adc.CommandByName(args[0])
		if !ok {
			return fmt.Errorf("ioctl: unknown command %q", args[0])
		}
		var arg uint64
		if len(args) == 2 {
			if arg, err = strconv.ParseUint(args[1], 0, 32); err != nil {
				return fmt.Errorf("ioctl: %w", err)
			}
		}
		return sh.s.Ioctl(ctx, oid, c, uint32(arg))
	case "sampletime":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: sampletime OID CODE [CH,...]")
		}
		code, err := parseUint8(args[0])
		if err != nil {
			return fmt.Errorf("sampletime: %w", err)
		}
		var chans []uint8
		if len(args) == 2 {
			if chans, err = parseChannels(args[1]); err != nil {
				return err
			}
		}
		return sh.s.SampleTime(ctx, oid, code, chans)
	case "channels":
		if len(args) != 1 {
			return fmt.Errorf("usage: channels OID CH[,CH...]")
		}
		chans, err := parseChannels(args[0])
		if err != nil {
			return err
		}
		return sh.s.SetChannels(ctx, oid, chans)
	}
	return fmt.Errorf("unknown command %q, try help", cmd)
}

func (sh *shell) dict() error {
	d := sh.s.Dictionary()
	if d == nil {
		return fmt.Errorf("no dictionary")
	}
	fmt.Fprintf(sh.out, "%s (%s)\n", d.Version, d.BuildVersions)
	keys := make([]string, 0, len(d.Config))
	for k := range d.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sh.out, "  %s = %s\n", k, d.Config[k])
	}
	fmt.Fprintf(sh.out, "%d commands, %d responses\n", len(d.Commands), len(d.Responses))
	return nil
}

var (
	sampleColor = color.New(color.FgGreen).SprintfFunc()
	faultColor  = color.New(color.FgRed, color.Bold).SprintfFunc()
)

// sample counts s and prints it while watching.
func (sh *shell) sample(s mcu.Sample) {
	atomic.AddUint64(&sh.count, 1)
	if atomic.LoadUint32(&sh.watch) == 0 {
		return
	}
	fmt.Fprintln(sh.out, sampleColor("oid=%d ch=%d value=%d", s.OID, s.Channel, s.Value))
}

func (sh *shell) fault(f mcu.Fault) {
	fmt.Fprintln(sh.out, faultColor("oid=%d fault=%s value=0x%08x", f.OID, f.Kind, f.Value))
}

// apply configures and sets up every instance of a board file.
func (sh *shell) apply(ctx context.Context, b *config.Board) error {
	for _, in := range b.Instances {
		cfg := mcu.ADCConfig{
			OID:      in.OID,
			Instance: adc.Selector(in.ADC),
			DMA:      in.DMA,
			Channels: in.Channels,
		}
		if tb := in.TimerBinding(b.TimerClock(in.Timer)); tb != nil {
			cfg.Timer, cfg.Trigger, cfg.Freq = tb.Timer, tb.Trigger, tb.Freq
		}
		if err := sh.s.ConfigADC(ctx, cfg); err != nil {
			return fmt.Errorf("oid %d: %w", in.OID, err)
		}
		if in.SampleTime != nil {
			if err := sh.s.SampleTime(ctx, in.OID, *in.SampleTime, nil); err != nil {
				return fmt.Errorf("oid %d: %w", in.OID, err)
			}
		}
		if err := sh.s.Setup(ctx, in.OID); err != nil {
			return fmt.Errorf("oid %d: %w", in.OID, err)
		}
	}
	return nil
}

func parseConfig(oid uint8, args []string) (mcu.ADCConfig, error) {
	cfg := mcu.ADCConfig{OID: oid}
	if len(args) < 2 {
		return cfg, fmt.Errorf("usage: config OID ADC CH[,CH...] [dma] [tim=N] [trig=NAME] [freq=HZ]")
	}
	inst, err := parseUint8(args[0])
	if err != nil {
		return cfg, fmt.Errorf("config: adc: %w", err)
	}
	cfg.Instance = adc.Selector(inst)
	if cfg.Channels, err = parseChannels(args[1]); err != nil {
		return cfg, err
	}

	in := config.Instance{Trigger: config.DefaultTrigger, Freq: config.DefaultFreq}
	for _, opt := range args[2:] {
		name, value, _ := strings.Cut(opt, "=")
		switch name {
		case "dma":
			cfg.DMA = true
		case "tim":
			if in.Timer, err = parseUint8(value); err != nil {
				return cfg, fmt.Errorf("config: tim: %w", err)
			}
		case "trig":
			in.Trigger = value
		case "freq":
			f, err := strconv.ParseUint(value, 0, 32)
			if err != nil {
				return cfg, fmt.Errorf("config: freq: %w", err)
			}
			in.Freq = uint32(f)
		default:
			return cfg, fmt.Errorf("config: unknown option %q", opt)
		}
	}
	if in.Timer != 0 {
		trig, err := in.TriggerEvent()
		if err != nil {
			return cfg, err
		}
		cfg.Timer, cfg.Trigger, cfg.Freq = adc.TimerID(in.Timer), trig, in.Freq
	}
	return cfg, nil
}

func parseUint8(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	return uint8(v), err
}

func parseChannels(s string) ([]uint8, error) {
	var chans []uint8
	for _, f := range strings.Split(s, ",") {
		ch, err := parseUint8(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", f, err)
		}
		chans = append(chans, ch)
	}
	return chans, nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
