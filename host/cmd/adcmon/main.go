//go:build linux && !tinygo

// Command adcmon samples the ADC blocks of a Linux part through /dev/mem
// and exports the readings over HTTP and MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"stmadc/adc"
	"stmadc/config"
	"stmadc/host/monitor"
)

// regWindow is the span mapped for every peripheral the engine touches.
const regWindow = 0x400

func main() {
	var (
		levelFlag    string
		boardFile    string
		devmem       string
		pollPeriod   time.Duration
		maxChannels  int
		httpAddr     string
		mqttBroker   string
		mqttClientID string
		mqttInterval time.Duration
		start        bool
	)
	pflag.StringVarP(&levelFlag, "level", "l", "info", "Set log level")
	pflag.StringVarP(&boardFile, "config", "c", "adc.yaml", "Board file (.yaml or .json)")
	pflag.StringVar(&devmem, "devmem", "/dev/mem", "Physical memory device")
	pflag.DurationVar(&pollPeriod, "poll", time.Millisecond, "Status poll period")
	pflag.IntVar(&maxChannels, "channels", 0, "Channel list limit per block (0 = one channel)")
	pflag.StringVar(&httpAddr, "http", ":9108", "Serve metrics and samples on this address")
	pflag.StringVar(&mqttBroker, "mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	pflag.StringVar(&mqttClientID, "mqtt-client-id", "adcmon", "MQTT client ID")
	pflag.DurationVar(&mqttInterval, "mqtt-interval", 5*time.Second, "MQTT publish interval")
	pflag.BoolVar(&start, "start", true, "Start conversions after setup")
	pflag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(levelFlag); err == nil {
		logger = logger.Level(level)
	}
	adc.SetDebugWriter(func(msg string) { logger.Debug().Msg(msg) })
	adc.SetDebugEnabled(logger.GetLevel() <= zerolog.DebugLevel)

	board, err := config.Load(boardFile)
	if err != nil {
		Exitf("Failed to load board: %v\n", err)
	}
	v, err := board.Part()
	if err != nil {
		Exitf("%v\n", err)
	}

	mem, err := adc.OpenDevMem(devmem)
	if err != nil {
		Exitf("%v\n", err)
	}
	defer mem.Close()
	if err := mapVariant(mem, v); err != nil {
		Exitf("%v\n", err)
	}

	hub := monitor.NewHub(logger.With().Str("component", "monitor").Logger(), "stmadc")
	e, err := newEngine(mem, board, hub, maxChannels, logger.With().Str("component", "engine").Logger())
	if err != nil {
		Exitf("Failed to set up ADC: %v\n", err)
	}
	defer e.stop()
	if start {
		if err := e.start(); err != nil {
			Exitf("Failed to start ADC: %v\n", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.runPoller(ctx, pollPeriod, true) })
	g.Go(func() error { return e.runSink(ctx) })
	if httpAddr != "" {
		g.Go(func() error { return hub.Serve(ctx, httpAddr) })
	}
	if mqttBroker != "" {
		client, err := monitor.DialMQTT(mqttBroker, mqttClientID)
		if err != nil {
			Exitf("Failed to connect to %s: %v\n", mqttBroker, err)
		}
		defer client.Close()
		g.Go(func() error { return hub.RunPublisher(ctx, client, mqttInterval) })
	}

	logger.Info().Str("variant", v.Name).Int("instances", len(board.Instances)).Msg("Monitoring")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Run failed")
	}
}

// mapVariant maps every register window the engine can reach on v.
func mapVariant(m *adc.DevMem, v *adc.Variant) error {
	bases := []uintptr{v.CommonCCR, v.RCCReset, v.RCCCR}
	for _, b := range v.Blocks {
		bases = append(bases, b.Base)
	}
	for _, base := range v.Timers {
		bases = append(bases, base)
	}
	for _, base := range bases {
		if base == 0 {
			continue
		}
		if err := m.Map(base, regWindow); err != nil {
			return err
		}
	}
	return nil
}

// Exitf prints the given error message and exits with code 1.
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
