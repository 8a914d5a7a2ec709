package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/drivers"

	"stmadc/adc"
	"stmadc/config"
	"stmadc/host/monitor"
	"stmadc/sensor"
)

// errNoDMA is returned for instances that ask for DMA: a transfer into
// process memory cannot be programmed through /dev/mem.
var errNoDMA = errors.New("DMA is not available in polled mode")

// engine runs the conversion engine in polled mode and feeds a hub.
type engine struct {
	log      zerolog.Logger
	adcs     *adc.Registry
	hub      *monitor.Hub
	die      *sensor.Monitor
	devs     []*adc.Device
	oids     map[adc.Selector]uint8
	readings chan monitor.Reading
	dropped  uint32 // atomic
}

// receiver is called by Poll with the engine's critical section held.
type receiver struct {
	e   *engine
	oid uint8
	die bool // block carries the internal channels
}

func (r receiver) Receive(channel uint8, value uint16) {
	if r.die && r.e.die != nil {
		r.e.die.Receive(channel, value)
	}
	select {
	case r.e.readings <- monitor.Reading{OID: r.oid, Channel: channel, Value: value, At: time.Now()}:
	default:
		atomic.AddUint32(&r.e.dropped, 1)
	}
}

func (r receiver) Flush() {}

// newEngine registers and sets up every instance of the board. maxChannels
// bounds the channel list of each instance; 0 keeps the single channel
// default of interrupt mode.
func newEngine(bus adc.Bus, board *config.Board, hub *monitor.Hub, maxChannels int, log zerolog.Logger) (*engine, error) {
	v, err := board.Part()
	if err != nil {
		return nil, err
	}
	e := &engine{
		log:      log,
		adcs:     adc.NewRegistry(bus, v, adc.WithTotalChannels(maxChannels)),
		hub:      hub,
		readings: make(chan monitor.Reading, 4096),
		oids:     make(map[adc.Selector]uint8),
	}
	if cal, ok := sensor.CalibrationFor(v.Family); ok {
		e.die = sensor.New(cal, v)
	}

	for _, in := range board.Instances {
		if in.DMA {
			return nil, fmt.Errorf("oid %d: %w", in.OID, errNoDMA)
		}
		recv := receiver{e: e, oid: in.OID, die: in.ADC == 1}
		dev, err := e.adcs.Initialize(in.InstanceConfig(board.TimerClock(in.Timer), nil, recv))
		if err != nil {
			return nil, fmt.Errorf("oid %d: %w", in.OID, err)
		}
		if err := dev.Setup(); err != nil {
			return nil, fmt.Errorf("oid %d: %w", in.OID, err)
		}
		if in.SampleTime != nil {
			st := adc.SampleTime{AllSame: true, Value: *in.SampleTime}
			if err := dev.Ioctl(adc.IocSampleTime, st); err != nil {
				return nil, fmt.Errorf("oid %d: %w", in.OID, err)
			}
		}
		if recv.die && e.die != nil && v.HasTempRef {
			if err := dev.Ioctl(adc.IocEnableTempRef, true); err != nil {
				return nil, fmt.Errorf("oid %d: %w", in.OID, err)
			}
		}
		e.devs = append(e.devs, dev)
		e.oids[dev.Instance()] = in.OID
		log.Info().Uint8("oid", in.OID).Uint8("adc", in.ADC).Ints("channels", ints(in.Channels)).Msg("ADC ready")
	}
	return e, nil
}

func ints(b []uint8) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

// start triggers conversions on every block.
func (e *engine) start() error {
	for _, d := range e.devs {
		if err := d.Start(); err != nil {
			return err
		}
	}
	return nil
}

// stop halts every block and holds it in reset.
func (e *engine) stop() {
	for _, d := range e.devs {
		if err := d.Stop(); err != nil {
			e.log.Warn().Err(err).Uint8("adc", uint8(d.Instance())).Msg("Stop failed")
		}
		d.Shutdown()
	}
}

// poll services the blocks once and hands faults to the hub. With
// retrigger set, a software started block that finished its sequence is
// started again.
func (e *engine) poll(retrigger bool) {
	if e.adcs.Poll() && retrigger {
		for _, d := range e.devs {
			if _, _, timed := d.Dividers(); timed || d.State() != adc.StateRunning {
				continue
			}
			if cursor, _ := d.Cursor(); cursor == 0 {
				if err := d.Ioctl(adc.IocStartConv, adc.SelectAllChannels); err != nil {
					e.log.Debug().Err(err).Uint8("adc", uint8(d.Instance())).Msg("Retrigger failed")
				}
			}
		}
	}
	for {
		ev, ok := e.adcs.PopFault()
		if !ok {
			break
		}
		oid, ok := e.oids[ev.Instance]
		if !ok {
			oid = 0xFF
		}
		e.hub.Fault(monitor.Alarm{OID: oid, Kind: ev.Kind.String(), Value: ev.Value, At: time.Now()})
	}
	e.hub.SetDropped(atomic.LoadUint32(&e.dropped))
}

// updateDie refreshes the die temperature and VDDA gauges.
func (e *engine) updateDie() {
	if e.die == nil {
		return
	}
	if err := e.die.Update(drivers.Temperature | drivers.Voltage); err != nil {
		return
	}
	e.hub.SetDie(e.die.Temperature(), e.die.Voltage())
}

// runPoller polls every period until ctx is done.
func (e *engine) runPoller(ctx context.Context, period time.Duration, retrigger bool) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	dieTicker := time.NewTicker(time.Second)
	defer dieTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.poll(retrigger)
		case <-dieTicker.C:
			e.updateDie()
		}
	}
}

// runSink moves readings into the hub until ctx is done.
func (e *engine) runSink(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-e.readings:
			e.hub.Sample(r)
		}
	}
}
