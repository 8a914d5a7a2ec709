package adc

import "unsafe"

// DMA moves converted samples from the data register into a circular buffer.
// done is called from the transfer complete interrupt once per full buffer.
type DMA interface {
	Setup(periph uintptr, mem []uint16)
	Start(done func())
	Stop()
}

// bufferAddr returns the bus address of a DMA buffer. On the MCU memory is
// identity mapped.
func bufferAddr(buf []uint16) uint32 {
	return uint32(uintptr(unsafe.Pointer(&buf[0])))
}

// STM32F2/F4 DMA controller registers.
const (
	dmaLISR  = 0x00
	dmaHISR  = 0x04
	dmaLIFCR = 0x08
	dmaHIFCR = 0x0C

	dmaStreamBase   = 0x10
	dmaStreamStride = 0x18
	dmaSxCR         = 0x00
	dmaSxNDTR       = 0x04
	dmaSxPAR        = 0x08
	dmaSxM0AR       = 0x0C
	dmaSxFCR        = 0x14

	dmaSxCR_EN        = 1 << 0
	dmaSxCR_TEIE      = 1 << 2
	dmaSxCR_TCIE      = 1 << 4
	dmaSxCR_DIR_P2M   = 0 << 6
	dmaSxCR_CIRC      = 1 << 8
	dmaSxCR_MINC      = 1 << 10
	dmaSxCR_PSIZE_16  = 1 << 11
	dmaSxCR_MSIZE_16  = 1 << 13
	dmaSxCR_PL_High   = 2 << 16
	dmaSxCR_CHSEL_Pos = 25

	dmaStreamTCIF  = 1 << 5
	dmaStreamFlags = 0x3D // FEIF DMEIF TEIF HTIF TCIF
)

// Stream is one stream of an STM32F2/F4 DMA controller.
type Stream struct {
	win     window
	stream  uint32 // 0..7
	channel uint32 // request channel, CHSEL
	done    func()
}

// NewStream returns stream n of the DMA controller at base, wired to request
// channel ch.
func NewStream(bus Bus, base uintptr, n, ch uint8) *Stream {
	return &Stream{
		win:     window{bus: bus, base: base},
		stream:  uint32(n & 7),
		channel: uint32(ch & 7),
	}
}

func (s *Stream) reg(off uint32) uint32 {
	return dmaStreamBase + s.stream*dmaStreamStride + off
}

// flagShift returns the status register and the bit position of this
// stream's flag group.
func (s *Stream) flagShift() (isr, ifcr, shift uint32) {
	isr, ifcr = dmaLISR, dmaLIFCR
	n := s.stream
	if n >= 4 {
		isr, ifcr = dmaHISR, dmaHIFCR
		n -= 4
	}
	shift = [4]uint32{0, 6, 16, 22}[n]
	return isr, ifcr, shift
}

// Setup programs a circular 16 bit peripheral to memory transfer.
func (s *Stream) Setup(periph uintptr, mem []uint16) {
	s.Stop()
	_, ifcr, shift := s.flagShift()
	s.win.put(ifcr, dmaStreamFlags<<shift)

	s.win.put(s.reg(dmaSxPAR), uint32(periph))
	s.win.put(s.reg(dmaSxM0AR), bufferAddr(mem))
	s.win.put(s.reg(dmaSxNDTR), uint32(len(mem)))
	s.win.put(s.reg(dmaSxFCR), 0) // direct mode
	s.win.put(s.reg(dmaSxCR), s.channel<<dmaSxCR_CHSEL_Pos|
		dmaSxCR_MSIZE_16|dmaSxCR_PSIZE_16|dmaSxCR_MINC|dmaSxCR_CIRC|
		dmaSxCR_DIR_P2M|dmaSxCR_PL_High)
}

// Start enables the stream with the transfer complete interrupt.
func (s *Stream) Start(done func()) {
	s.done = done
	s.win.set(s.reg(dmaSxCR), dmaSxCR_TCIE|dmaSxCR_TEIE|dmaSxCR_EN)
}

// Stop disables the stream.
func (s *Stream) Stop() {
	s.win.clear(s.reg(dmaSxCR), dmaSxCR_EN|dmaSxCR_TCIE|dmaSxCR_TEIE)
}

// HandleInterrupt is the stream's interrupt handler.
func (s *Stream) HandleInterrupt() {
	isr, ifcr, shift := s.flagShift()
	flags := (s.win.get(isr) >> shift) & dmaStreamFlags
	if flags == 0 {
		return
	}
	s.win.put(ifcr, flags<<shift)
	if flags&dmaStreamTCIF != 0 && s.done != nil {
		s.done()
	}
}

// STM32F1/L1 DMA controller registers.
const (
	dmaISR     = 0x00
	dmaIFCR    = 0x04
	dmaChBase  = 0x08
	dmaChStrd  = 0x14
	dmaCCR     = 0x00
	dmaCNDTR   = 0x04
	dmaCPAR    = 0x08
	dmaCMAR    = 0x0C
	dmaCCR_EN  = 1 << 0
	dmaCCR_TC  = 1 << 1
	dmaCCR_TE  = 1 << 3
	dmaCCR_CIR = 1 << 5
	dmaCCR_MI  = 1 << 7
	dmaCCR_P16 = 1 << 8
	dmaCCR_M16 = 1 << 10
	dmaCCR_PLH = 2 << 12

	dmaChTCIF  = 1 << 1
	dmaChFlags = 0xF
)

// Channel is one channel of an STM32F1/L1 DMA controller.
type Channel struct {
	win  window
	ch   uint32 // 1..7
	done func()
}

// NewChannel returns channel n (1-based) of the DMA controller at base.
func NewChannel(bus Bus, base uintptr, n uint8) *Channel {
	if n < 1 {
		n = 1
	}
	return &Channel{win: window{bus: bus, base: base}, ch: uint32(n)}
}

func (c *Channel) reg(off uint32) uint32 {
	return dmaChBase + (c.ch-1)*dmaChStrd + off
}

func (c *Channel) shift() uint32 { return (c.ch - 1) * 4 }

// Setup programs a circular 16 bit peripheral to memory transfer.
func (c *Channel) Setup(periph uintptr, mem []uint16) {
	c.Stop()
	c.win.put(dmaIFCR, dmaChFlags<<c.shift())
	c.win.put(c.reg(dmaCPAR), uint32(periph))
	c.win.put(c.reg(dmaCMAR), bufferAddr(mem))
	c.win.put(c.reg(dmaCNDTR), uint32(len(mem)))
	c.win.put(c.reg(dmaCCR), dmaCCR_M16|dmaCCR_P16|dmaCCR_MI|dmaCCR_CIR|dmaCCR_PLH)
}

// Start enables the channel with the transfer complete interrupt.
func (c *Channel) Start(done func()) {
	c.done = done
	c.win.set(c.reg(dmaCCR), dmaCCR_TC|dmaCCR_TE|dmaCCR_EN)
}

// Stop disables the channel.
func (c *Channel) Stop() {
	c.win.clear(c.reg(dmaCCR), dmaCCR_EN|dmaCCR_TC|dmaCCR_TE)
}

// HandleInterrupt is the channel's interrupt handler.
func (c *Channel) HandleInterrupt() {
	flags := (c.win.get(dmaISR) >> c.shift()) & dmaChFlags
	if flags == 0 {
		return
	}
	c.win.put(dmaIFCR, flags<<c.shift())
	if flags&dmaChTCIF != 0 && c.done != nil {
		c.done()
	}
}

// SimDMA stands in for a DMA controller: Complete copies values into the
// buffer the way the hardware would and fires the completion callback.
type SimDMA struct {
	Periph  uintptr
	Mem     []uint16
	Running bool
	Setups  int
	done    func()
}

func (s *SimDMA) Setup(periph uintptr, mem []uint16) {
	s.Periph = periph
	s.Mem = mem
	s.Running = false
	s.Setups++
}

func (s *SimDMA) Start(done func()) {
	s.done = done
	s.Running = true
}

func (s *SimDMA) Stop() { s.Running = false }

// Complete fills the buffer from values and signals transfer complete. It
// does nothing while the transfer is stopped.
func (s *SimDMA) Complete(values ...uint16) {
	if !s.Running {
		return
	}
	copy(s.Mem, values)
	if s.done != nil {
		s.done()
	}
}

var (
	_ DMA = (*Stream)(nil)
	_ DMA = (*Channel)(nil)
	_ DMA = (*SimDMA)(nil)
)
