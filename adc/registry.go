package adc

// IRQController enables and disables interrupt lines at the NVIC.
type IRQController interface {
	Enable(line uint8)
	Disable(line uint8)
}

// Option configures a Registry.
type Option func(*Registry)

// WithTotalChannels sets the channel list limit for interrupt mode. The
// default is one channel, since longer sequences overrun without DMA.
func WithTotalChannels(n int) Option {
	return func(r *Registry) { r.totalChannels = n }
}

// WithIRQController lets Setup and Shutdown switch interrupt lines.
func WithIRQController(c IRQController) Option {
	return func(r *Registry) { r.irq = c }
}

// Registry owns every ADC block of one part and the interrupt dispatch
// table. It is built once at startup.
type Registry struct {
	bus           Bus
	v             *Variant
	irq           IRQController
	totalChannels int

	devs     [MaxInstances]Device
	used     [MaxInstances]bool
	attached [MaxInstances]*Device // dispatch table, by Selector-1

	faults faultRing
}

// NewRegistry returns an empty registry for the part described by v.
func NewRegistry(bus Bus, v *Variant, opts ...Option) *Registry {
	r := &Registry{bus: bus, v: v}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Variant returns the part descriptor.
func (r *Registry) Variant() *Variant { return r.v }

// Initialize registers one ADC block. It fails with ErrInvalidInstance for
// a selector the part does not have and ErrTooManyChannels when the list
// exceeds what the transfer mode supports.
func (r *Registry) Initialize(cfg InstanceConfig) (*Device, error) {
	block, ok := r.v.Block(cfg.Instance)
	if !ok {
		return nil, ErrInvalidInstance
	}
	idx := cfg.Instance - 1
	if r.used[idx] {
		return nil, ErrBusy
	}

	n := len(cfg.Channels)
	if n == 0 {
		return nil, ErrInvalidArgument
	}
	if n > r.v.MaxChannels(cfg.DMA != nil, r.totalChannels) {
		return nil, ErrTooManyChannels
	}
	for _, ch := range cfg.Channels {
		if int(ch) >= r.v.SampleChans {
			return nil, ErrInvalidArgument
		}
	}

	var tim *timer
	if cfg.Timer != nil {
		var err error
		tim, err = resolveTimer(r.bus, r.v, cfg.Timer)
		if err != nil {
			return nil, err
		}
	}

	d := &r.devs[idx]
	*d = Device{
		owner:     r,
		v:         r.v,
		sel:       cfg.Instance,
		block:     block,
		win:       window{bus: r.bus, base: block.Base},
		rcc:       reg{bus: r.bus, addr: r.v.RCCReset},
		ccr:       reg{bus: r.bus, addr: r.v.CommonCCR},
		rcccr:     reg{bus: r.bus, addr: r.v.RCCCR},
		cchannels: n,
		nchannels: n,
		dma:       cfg.DMA,
		tim:       tim,
		recv:      cfg.Receiver,
		state:     StateReset,
	}
	copy(d.chanlist[:], cfg.Channels)
	d.dmaDone = d.dmaComplete
	d.defaultSampleTimes()

	r.used[idx] = true
	return d, nil
}

// Device returns a registered block.
func (r *Registry) Device(sel Selector) (*Device, bool) {
	if sel < 1 || int(sel) > MaxInstances || !r.used[sel-1] {
		return nil, false
	}
	return &r.devs[sel-1], true
}

func (r *Registry) attach(d *Device) {
	state := disableInterrupts()
	r.attached[d.sel-1] = d
	restoreInterrupts(state)
}

// detach removes d from the dispatch table and disables its line unless
// another block still shares it.
func (r *Registry) detach(d *Device) {
	state := disableInterrupts()
	r.attached[d.sel-1] = nil
	shared := false
	for _, other := range r.attached {
		if other != nil && other.block.IRQ == d.block.IRQ {
			shared = true
		}
	}
	restoreInterrupts(state)

	if !shared && r.irq != nil {
		r.irq.Disable(d.block.IRQ)
	}
}

func (r *Registry) enableIRQ(line uint8) {
	if r.irq != nil {
		r.irq.Enable(line)
	}
}

// recordFault runs in interrupt context or with the critical section held.
func (r *Registry) recordFault(ev FaultEvent) {
	r.faults.push(ev)
}

// PopFault removes the oldest recorded fault.
func (r *Registry) PopFault() (FaultEvent, bool) {
	state := disableInterrupts()
	ev, ok := r.faults.pop()
	restoreInterrupts(state)
	return ev, ok
}

// DroppedFaults returns how many faults were overwritten before being read.
func (r *Registry) DroppedFaults() uint32 {
	state := disableInterrupts()
	n := r.faults.dropped
	restoreInterrupts(state)
	return n
}

// DumpFaults drains the fault ring to the debug writer.
func (r *Registry) DumpFaults() {
	for {
		ev, ok := r.PopFault()
		if !ok {
			break
		}
		debugPrintln("[ADC] fault " + ev.Kind.String() +
			" adc=" + itoa(int(ev.Instance)) +
			" value=" + hex32(ev.Value))
	}
	if n := r.DroppedFaults(); n > 0 {
		debugPrintln("[ADC] faults dropped=" + utoa(n))
	}
}
