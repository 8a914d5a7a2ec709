//go:build !tinygo

// Package mcu is the host side session with the ADC firmware: it fetches
// the command dictionary, configures ADC blocks and delivers samples.
package mcu

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"stmadc/adc"
	"stmadc/core"
	"stmadc/protocol"
)

// DefaultTimeout bounds the wait for an adc_status after a command was
// acknowledged.
const DefaultTimeout = time.Second

// identifyChunk is the dictionary chunk size requested per identify.
const identifyChunk = 40

var (
	// ErrNoStatus is returned when the firmware acknowledged a command but
	// never reported its result.
	ErrNoStatus = errors.New("mcu: no status reported")
	// ErrClosed is returned once Run has finished.
	ErrClosed = errors.New("mcu: session closed")
)

// CommandError is a failure reported by the firmware in adc_status. It
// unwraps to the matching adc or core error.
type CommandError struct {
	OID     uint8
	Command uint16
	Code    uint8
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("mcu: oid %d command %d: %v (status %d)",
		e.OID, e.Command, core.StatusError(e.Code), e.Code)
}

func (e *CommandError) Unwrap() error { return core.StatusError(e.Code) }

// Sample is one conversion received from the firmware.
type Sample struct {
	OID     uint8
	Channel uint8
	Value   uint16
	At      time.Time
}

// Fault is one adc_fault report. OID is 0xFF for a block with no oid.
type Fault struct {
	OID   uint8
	Kind  adc.FaultKind
	Value uint32
}

// Dictionary is the parsed firmware dictionary.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// Lookup returns the id of a command or response by name.
func (d *Dictionary) Lookup(name string) (int, bool) {
	for _, m := range []map[string]int{d.Commands, d.Responses} {
		for sig, id := range m {
			if sig == name || strings.HasPrefix(sig, name+" ") {
				return id, true
			}
		}
	}
	return 0, false
}

// Check verifies that the firmware numbers its commands the way this
// package does.
func (d *Dictionary) Check() error {
	want := map[string]uint16{
		"adc_status":       core.CmdADCStatus,
		"adc_sample":       core.CmdADCSample,
		"config_adc":       core.CmdConfigADC,
		"adc_setup":        core.CmdADCSetup,
		"adc_shutdown":     core.CmdADCShutdown,
		"adc_reset":        core.CmdADCReset,
		"adc_rxint":        core.CmdADCRxInt,
		"adc_ioctl":        core.CmdADCIoctl,
		"adc_sample_time":  core.CmdADCSampleTime,
		"adc_fault":        core.CmdADCFault,
		"identify":         core.CmdIdentify,
		"adc_set_channels": core.CmdADCSetChannels,
	}
	for name, id := range want {
		got, ok := d.Lookup(name)
		if !ok {
			return fmt.Errorf("mcu: firmware lacks %s", name)
		}
		if got != int(id) {
			return fmt.Errorf("mcu: %s has id %d, expected %d", name, got, id)
		}
	}
	return nil
}

type statusMsg struct {
	oid  uint8
	cmd  uint16
	code uint8
}

type identMsg struct {
	offset uint32
	data   []byte
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithTimeout sets how long a command waits for its adc_status.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithSampleBuffer sets the capacity of the Samples channel.
func WithSampleBuffer(n int) Option {
	return func(s *Session) { s.samples = make(chan Sample, n) }
}

// Session is one connection to the firmware. Commands may be issued from
// any goroutine once Run is running; they execute one at a time.
type Session struct {
	tr      *protocol.HostTransport
	log     zerolog.Logger
	timeout time.Duration

	reqMu   sync.Mutex
	status  chan statusMsg
	ident   chan identMsg
	samples chan Sample
	faults  chan Fault
	done    chan struct{}

	dropped uint32 // atomic
	dict    *Dictionary
}

// New returns a session over port. The port is not closed by the session.
func New(port io.ReadWriter, opts ...Option) *Session {
	s := &Session{
		tr:      protocol.NewHostTransport(port),
		log:     zerolog.Nop(),
		timeout: DefaultTimeout,
		status:  make(chan statusMsg, 16),
		ident:   make(chan identMsg, 4),
		samples: make(chan Sample, 1024),
		faults:  make(chan Fault, 64),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Samples delivers adc_sample reports. It is closed when Run returns.
func (s *Session) Samples() <-chan Sample { return s.samples }

// Faults delivers adc_fault reports. It is closed when Run returns.
func (s *Session) Faults() <-chan Fault { return s.faults }

// Dropped returns how many samples and faults were discarded because
// nobody was reading them.
func (s *Session) Dropped() uint32 {
	return atomic.LoadUint32(&s.dropped) + s.tr.Dropped()
}

// Run reads from the port until ctx is done or the port is closed. Closing
// the port is how a caller stops a blocked read.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.faults)
	defer close(s.samples)
	defer close(s.done)

	errc := make(chan error, 1)
	go func() { errc <- s.tr.Run(ctx) }()

	for payload := range s.tr.Responses() {
		s.dispatch(payload)
	}
	return <-errc
}

func (s *Session) dispatch(payload []byte) {
	data := payload
	for len(data) > 0 {
		id, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			s.log.Warn().Err(err).Msg("undecodable response")
			return
		}
		if err := s.handle(uint16(id), &data); err != nil {
			s.log.Warn().Err(err).Uint32("id", id).Msg("bad response")
			return
		}
	}
}

func (s *Session) handle(id uint16, data *[]byte) error {
	switch id {
	case core.CmdADCStatus:
		var oid, cmd, code uint32
		if err := protocol.DecodeArgs(data, &oid, &cmd, &code); err != nil {
			return err
		}
		s.push(func() bool {
			select {
			case s.status <- statusMsg{oid: uint8(oid), cmd: uint16(cmd), code: uint8(code)}:
				return true
			default:
				return false
			}
		})

	case core.CmdADCSample:
		var oid, ch, value uint32
		if err := protocol.DecodeArgs(data, &oid, &ch, &value); err != nil {
			return err
		}
		smp := Sample{OID: uint8(oid), Channel: uint8(ch), Value: uint16(value), At: time.Now()}
		s.push(func() bool {
			select {
			case s.samples <- smp:
				return true
			default:
				return false
			}
		})

	case core.CmdADCFault:
		var oid, kind, value uint32
		if err := protocol.DecodeArgs(data, &oid, &kind, &value); err != nil {
			return err
		}
		f := Fault{OID: uint8(oid), Kind: adc.FaultKind(kind), Value: value}
		s.log.Warn().Uint8("oid", f.OID).Str("kind", f.Kind.String()).
			Uint32("value", value).Msg("adc fault")
		s.push(func() bool {
			select {
			case s.faults <- f:
				return true
			default:
				return false
			}
		})

	case core.CmdIdentifyResp:
		offset, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		chunk, err := protocol.DecodeVLQBytes(data)
		if err != nil {
			return err
		}
		msg := identMsg{offset: offset, data: append([]byte(nil), chunk...)}
		s.push(func() bool {
			select {
			case s.ident <- msg:
				return true
			default:
				return false
			}
		})

	default:
		return fmt.Errorf("mcu: unknown response %d", id)
	}
	return nil
}

func (s *Session) push(send func() bool) {
	if !send() {
		atomic.AddUint32(&s.dropped, 1)
	}
}

// drain forgets reports left over from a command that timed out.
func (s *Session) drain() {
	for {
		select {
		case <-s.status:
		case <-s.ident:
		default:
			return
		}
	}
}

// command sends one oid command and waits for its adc_status.
func (s *Session) command(ctx context.Context, oid uint8, cmdID uint16, args func(protocol.OutputBuffer)) error {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	s.drain()
	s.log.Debug().Uint8("oid", oid).Uint16("cmd", cmdID).Msg("command")
	err := s.tr.Send(ctx, cmdID, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
		if args != nil {
			args(out)
		}
	})
	if err != nil {
		return err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for {
		select {
		case st := <-s.status:
			if st.oid != oid || st.cmd != cmdID {
				s.log.Debug().Uint8("oid", st.oid).Uint16("cmd", st.cmd).Msg("stale status")
				continue
			}
			if st.code != core.StatusOK {
				return &CommandError{OID: oid, Command: cmdID, Code: st.code}
			}
			return nil
		case <-timer.C:
			return ErrNoStatus
		case <-s.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ADCConfig is the argument of ConfigADC.
type ADCConfig struct {
	OID      uint8
	Instance adc.Selector
	DMA      bool
	Timer    adc.TimerID // 0 = software start
	Trigger  adc.Trigger
	Freq     uint32
	Channels []uint8
}

// ConfigADC registers an ADC block under cfg.OID.
func (s *Session) ConfigADC(ctx context.Context, cfg ADCConfig) error {
	dma := uint32(0)
	if cfg.DMA {
		dma = 1
	}
	return s.command(ctx, cfg.OID, core.CmdConfigADC, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(cfg.Instance))
		protocol.EncodeVLQUint(out, dma)
		protocol.EncodeVLQUint(out, uint32(cfg.Timer))
		protocol.EncodeVLQUint(out, uint32(cfg.Trigger))
		protocol.EncodeVLQUint(out, cfg.Freq)
		protocol.EncodeVLQBytes(out, cfg.Channels)
	})
}

func (s *Session) Setup(ctx context.Context, oid uint8) error {
	return s.command(ctx, oid, core.CmdADCSetup, nil)
}

func (s *Session) Shutdown(ctx context.Context, oid uint8) error {
	return s.command(ctx, oid, core.CmdADCShutdown, nil)
}

func (s *Session) Reset(ctx context.Context, oid uint8) error {
	return s.command(ctx, oid, core.CmdADCReset, nil)
}

// SetReceiveInterrupt switches the conversion interrupts of oid.
func (s *Session) SetReceiveInterrupt(ctx context.Context, oid uint8, enable bool) error {
	return s.command(ctx, oid, core.CmdADCRxInt, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, boolArg(enable))
	})
}

// Ioctl runs a control command with a scalar argument; see adc.DecodeArg.
func (s *Session) Ioctl(ctx context.Context, oid uint8, cmd adc.Command, arg uint32) error {
	return s.command(ctx, oid, core.CmdADCIoctl, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(cmd))
		protocol.EncodeVLQUint(out, arg)
	})
}

// Start triggers conversions.
func (s *Session) Start(ctx context.Context, oid uint8) error {
	return s.Ioctl(ctx, oid, adc.IocTrigger, 0)
}

// Stop halts triggering.
func (s *Session) Stop(ctx context.Context, oid uint8) error {
	return s.Ioctl(ctx, oid, adc.IocStop, 0)
}

// SampleTime sets the sample time code of chans, or of every channel when
// chans is empty.
func (s *Session) SampleTime(ctx context.Context, oid uint8, value uint8, chans []uint8) error {
	return s.command(ctx, oid, core.CmdADCSampleTime, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, boolArg(len(chans) == 0))
		protocol.EncodeVLQUint(out, uint32(value))
		protocol.EncodeVLQBytes(out, chans)
	})
}

// SetChannels replaces the channel list of an idle block.
func (s *Session) SetChannels(ctx context.Context, oid uint8, chans []uint8) error {
	return s.command(ctx, oid, core.CmdADCSetChannels, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQBytes(out, chans)
	})
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// RetrieveDictionary downloads, inflates and parses the firmware
// dictionary.
func (s *Session) RetrieveDictionary(ctx context.Context) (*Dictionary, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	s.drain()

	var raw bytes.Buffer
	for offset := uint32(0); ; {
		chunk, err := s.identify(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("mcu: dictionary at %d: %w", offset, err)
		}
		raw.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunk {
			break
		}
	}
	s.log.Debug().Int("bytes", raw.Len()).Msg("dictionary retrieved")

	zr, err := zlib.NewReader(&raw)
	if err != nil {
		return nil, fmt.Errorf("mcu: dictionary: %w", err)
	}
	defer zr.Close()
	text, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("mcu: dictionary: %w", err)
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(text, dict); err != nil {
		return nil, fmt.Errorf("mcu: dictionary: %w", err)
	}
	s.dict = dict
	return dict, nil
}

func (s *Session) identify(ctx context.Context, offset uint32) ([]byte, error) {
	err := s.tr.Send(ctx, core.CmdIdentify, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, identifyChunk)
	})
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for {
		select {
		case msg := <-s.ident:
			if msg.offset != offset {
				continue
			}
			return msg.data, nil
		case <-timer.C:
			return nil, ErrNoStatus
		case <-s.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Dictionary returns the last retrieved dictionary, nil before
// RetrieveDictionary.
func (s *Session) Dictionary() *Dictionary {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	return s.dict
}
