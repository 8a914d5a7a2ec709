// Command adc-host is an interactive console for the ADC firmware. It
// talks to a board over serial, or to the in-process simulator with --sim.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/peterh/liner"
	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"stmadc/adc"
	"stmadc/config"
	"stmadc/host/mcu"
	"stmadc/host/monitor"
	"stmadc/host/serial"
	"stmadc/host/sim"
)

func main() {
	var (
		levelFlag string
		device    string
		baud      int
		boardFile string
		simulate  bool
		simPeriod time.Duration
		httpAddr  string
	)
	pflag.StringVarP(&levelFlag, "level", "l", "info", "Set log level")
	pflag.StringVarP(&device, "device", "d", "/dev/ttyACM0", "Serial device path")
	pflag.IntVar(&baud, "baud", serial.DefaultBaud, "Baud rate (ignored for USB CDC)")
	pflag.StringVarP(&boardFile, "config", "c", "", "Board file (.yaml or .json) to apply on connect")
	pflag.BoolVar(&simulate, "sim", false, "Talk to the in-process simulator instead of a board")
	pflag.DurationVar(&simPeriod, "sim-period", 10*time.Millisecond, "Simulated sample period")
	pflag.StringVar(&httpAddr, "http", "", "Serve metrics and samples on this address")
	pflag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(levelFlag); err == nil {
		logger = logger.Level(level)
	}

	var board *config.Board
	if boardFile != "" {
		var err error
		if board, err = config.Load(boardFile); err != nil {
			Exitf("Failed to load board: %v\n", err)
		}
		if board.Device != "" && !pflag.CommandLine.Changed("device") {
			device = board.Device
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	g, ctx := errgroup.WithContext(ctx)

	var port serial.Port
	if simulate {
		fwlog := logger.With().Str("component", "firmware").Logger()
		adc.SetDebugWriter(func(msg string) { fwlog.Debug().Msg(msg) })
		adc.SetDebugEnabled(logger.GetLevel() <= zerolog.DebugLevel)

		fw := sim.New()
		g.Go(func() error { return fw.Run(ctx, simPeriod) })
		port = fw
	} else {
		p, err := serial.Open(&serial.Config{Device: device, Baud: baud, ReadTimeout: 100})
		if err != nil {
			Exitf("Failed to open %s: %v\n", device, err)
		}
		port = p
	}

	session := mcu.New(port, mcu.WithLogger(logger.With().Str("component", "mcu").Logger()))
	sh := &shell{s: session, out: os.Stdout}
	hub := monitor.NewHub(logger.With().Str("component", "monitor").Logger(), "stmadc")

	g.Go(func() error { return session.Run(ctx) })
	g.Go(func() error {
		for s := range session.Samples() {
			sh.sample(s)
			hub.Sample(monitor.Reading{OID: s.OID, Channel: s.Channel, Value: s.Value, At: s.At})
		}
		return nil
	})
	g.Go(func() error {
		for f := range session.Faults() {
			sh.fault(f)
			hub.Fault(monitor.Alarm{OID: f.OID, Kind: f.Kind.String(), Value: f.Value, At: time.Now()})
		}
		return nil
	})
	if httpAddr != "" {
		g.Go(func() error { return hub.Serve(ctx, httpAddr) })
	}
	g.Go(func() error {
		<-ctx.Done()
		return port.Close()
	})

	if err := connect(ctx, sh, board); err != nil {
		logger.Error().Err(err).Msg("Failed to connect")
		cancel()
	} else {
		repl(ctx, sh, logger)
		cancel()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		Exitf("Run failed: %v\n", err)
	}
}

func connect(ctx context.Context, sh *shell, board *config.Board) error {
	dict, err := sh.s.RetrieveDictionary(ctx)
	if err != nil {
		return err
	}
	if err := dict.Check(); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Connected to %s (%s)\n", dict.Config["MCU"], dict.Version)
	if board != nil {
		return sh.apply(ctx, board)
	}
	return nil
}

func repl(ctx context.Context, sh *shell, logger zerolog.Logger) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(sh.complete)

	fmt.Fprintln(sh.out, "Type 'help' for commands, 'quit' to exit.")
	for ctx.Err() == nil {
		input, err := line.Prompt("adc> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				logger.Error().Err(err).Msg("Prompt failed")
			}
			return
		}
		line.AppendHistory(input)
		if err := sh.exec(ctx, input); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
	}
}

// Exitf prints the given error message and exits with code 1.
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
