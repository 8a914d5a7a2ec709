//go:build !tinygo

// Package sim runs the ADC firmware in process over a simulated register
// file. A Firmware is a serial.Port, so host tools can talk to it exactly
// as they talk to a board.
package sim

import (
	"context"
	"io"
	"sync"
	"time"

	"stmadc/adc"
	"stmadc/core"
	"stmadc/host/serial"
	"stmadc/protocol"
)

// offCR2 is the ADC_CR2 offset, the same on every family.
const offCR2 = 0x08

// Signal produces the raw value converted on one channel. n counts the
// conversions the instance has done.
type Signal func(sel adc.Selector, channel uint8, n uint32) uint16

// Ramp is the default Signal: every channel climbs from its own offset.
func Ramp(sel adc.Selector, channel uint8, n uint32) uint16 {
	return uint16(uint32(sel)*1000 + uint32(channel)*100 + n)
}

// Option configures a Firmware.
type Option func(*Firmware)

// WithVariant selects the simulated part. The default is VariantF4.
func WithVariant(v *adc.Variant) Option {
	return func(f *Firmware) { f.variant = v }
}

// WithSignal replaces the Ramp signal.
func WithSignal(s Signal) Option {
	return func(f *Firmware) { f.signal = s }
}

// WithPCLK sets the trigger timer clock reported to the host.
func WithPCLK(hz uint32) Option {
	return func(f *Firmware) { f.pclk = hz }
}

// Firmware is the simulated board.
type Firmware struct {
	variant *adc.Variant
	signal  Signal
	pclk    uint32

	mu        sync.Mutex // the firmware's single thread
	bus       *adc.SimBus
	adcs      *adc.Registry
	bridge    *core.Bridge
	transport *protocol.Transport
	in        *protocol.FifoBuffer
	out       *byteOutput
	dma       [adc.MaxInstances]*adc.SimDMA
	count     [adc.MaxInstances]uint32

	pending []byte // bytes waiting for Read, guarded by mu
	ready   chan struct{}
	closed  chan struct{}
	once    sync.Once
}

// New returns a powered up board.
func New(opts ...Option) *Firmware {
	f := &Firmware{
		variant: adc.VariantF4,
		signal:  Ramp,
		pclk:    42000000,
		bus:     adc.NewSimBus(),
		in:      protocol.NewFifoBuffer(4 * protocol.BlockMax),
		out:     &byteOutput{},
		ready:   make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.adcs = adc.NewRegistry(f.bus, f.variant)
	f.bridge = core.NewBridge(f.adcs,
		core.WithPCLK(f.pclk),
		core.WithDMA(f.dmaFor),
	)
	f.transport = protocol.NewTransport(f.out, f.bridge.Dispatch)
	f.bridge.SetSender(f.transport)
	return f
}

func (f *Firmware) dmaFor(sel adc.Selector) adc.DMA {
	if sel < 1 || int(sel) > adc.MaxInstances {
		return nil
	}
	d := &adc.SimDMA{}
	f.dma[sel-1] = d
	return d
}

// Bridge exposes the command bridge, e.g. for drop counters.
func (f *Firmware) Bridge() *core.Bridge { return f.bridge }

// Registry exposes the simulated ADC blocks.
func (f *Firmware) Registry() *adc.Registry { return f.adcs }

// Write feeds host bytes to the firmware. Commands run before Write
// returns.
func (f *Firmware) Write(b []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	written := 0
	for written < len(b) {
		n := f.in.Write(b[written:])
		f.transport.Receive(f.in)
		if n == 0 && f.in.Free() == 0 {
			// Garbage that never forms a block; drop it.
			f.in.Reset()
		}
		written += n
	}
	f.bridge.AnalogTask()
	f.publish()
	return written, nil
}

// Read returns firmware output, blocking until some is available or the
// board is closed.
func (f *Firmware) Read(b []byte) (int, error) {
	for {
		f.mu.Lock()
		if len(f.pending) > 0 {
			n := copy(b, f.pending)
			f.pending = f.pending[n:]
			f.mu.Unlock()
			return n, nil
		}
		f.mu.Unlock()

		select {
		case <-f.ready:
		case <-f.closed:
			return 0, io.EOF
		}
	}
}

// Flush drops output nobody has read yet.
func (f *Firmware) Flush() error {
	f.mu.Lock()
	f.pending = nil
	f.mu.Unlock()
	return nil
}

// Close unblocks readers. Run returns once it notices.
func (f *Firmware) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// publish moves transport output to the read side. Callers hold mu.
func (f *Firmware) publish() {
	if len(f.out.buf) == 0 {
		return
	}
	f.pending = append(f.pending, f.out.buf...)
	f.out.buf = f.out.buf[:0]
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// Step advances the simulation by one sample period: every running block
// converts once and queued samples are sent.
func (f *Firmware) Step() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := 0; i < adc.MaxInstances; i++ {
		dev, ok := f.adcs.Device(adc.Selector(i + 1))
		if !ok || dev.State() != adc.StateRunning {
			continue
		}
		if !f.triggered(dev) {
			continue
		}
		if dev.DMAMode() {
			f.completeDMA(dev)
		} else {
			f.convert(dev)
		}
	}
	f.bridge.AnalogTask()
	f.publish()
	f.bus.ResetLog()
}

// triggered reports whether dev converts this step. Timer driven blocks
// always do; software started ones convert once per SWSTART.
func (f *Firmware) triggered(dev *adc.Device) bool {
	if _, _, ok := dev.Dividers(); ok {
		return true
	}
	sw := f.variant.StartSWStart
	if sw == 0 {
		return true
	}
	blk, _ := f.variant.Block(dev.Instance())
	cr2 := blk.Base + offCR2
	v := f.bus.Peek(cr2)
	if v&sw == 0 {
		return false
	}
	f.bus.Poke(cr2, v&^sw)
	return true
}

func (f *Firmware) convert(dev *adc.Device) {
	sel := dev.Instance()
	cursor, _ := dev.Cursor()
	chans := dev.Channels()
	if cursor >= len(chans) {
		return
	}
	blk, _ := f.variant.Block(sel)
	f.bus.Poke(blk.Base+uintptr(f.variant.Regs.DR), uint32(f.next(sel, chans[cursor])))
	f.bus.Poke(blk.Base, f.bus.Peek(blk.Base)|adc.SR_EOC)
	f.adcs.HandleIRQ(blk.IRQ)
}

func (f *Firmware) completeDMA(dev *adc.Device) {
	sel := dev.Instance()
	d := f.dma[sel-1]
	if d == nil {
		return
	}
	cursor, n := dev.Cursor()
	chans := dev.Channels()
	values := make([]uint16, 0, n)
	for i := cursor; i < cursor+n && i < len(chans); i++ {
		values = append(values, f.next(sel, chans[i]))
	}
	d.Complete(values...)
}

func (f *Firmware) next(sel adc.Selector, ch uint8) uint16 {
	n := f.count[sel-1]
	f.count[sel-1]++
	return f.signal(sel, ch, n)
}

// InjectStatus raises status register bits on an attached block, e.g.
// SR_AWD, and services its interrupt line.
func (f *Firmware) InjectStatus(sel adc.Selector, bits uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blk, ok := f.variant.Block(sel)
	if !ok {
		return
	}
	f.bus.Poke(blk.Base, f.bus.Peek(blk.Base)|bits)
	f.adcs.HandleIRQ(blk.IRQ)
	f.bridge.AnalogTask()
	f.publish()
}

// Run steps the simulation every period until ctx is done or the board is
// closed.
func (f *Firmware) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.closed:
			return nil
		case <-ticker.C:
			f.Step()
		}
	}
}

// byteOutput is a growable protocol.OutputBuffer.
type byteOutput struct {
	buf []byte
}

func (o *byteOutput) Output(data []byte) { o.buf = append(o.buf, data...) }
func (o *byteOutput) CurPosition() int   { return len(o.buf) }

func (o *byteOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < len(o.buf) {
		o.buf[pos] = val
	}
}

func (o *byteOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > len(o.buf) {
		return nil
	}
	return o.buf[pos:]
}

func (o *byteOutput) Truncate(pos int) {
	if pos >= 0 && pos < len(o.buf) {
		o.buf = o.buf[:pos]
	}
}

var _ serial.Port = (*Firmware)(nil)
