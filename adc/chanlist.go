package adc

// ChannelSelector is the one-shot channel argument: 0 selects the whole
// configured list, n selects hardware channel n-1.
type ChannelSelector uint8

// SelectAllChannels is the ChannelSelector that restores the full list.
const SelectAllChannels ChannelSelector = 0

// SelectorFor returns the ChannelSelector naming hardware channel ch.
func SelectorFor(ch uint8) ChannelSelector { return ChannelSelector(ch + 1) }

// SeqRegs holds the channel fields of the sequence registers in slot order.
// Entry len(Variant.Regs.SQR)-1 is SQR1 and also carries the length field.
type SeqRegs [maxSeqRegs]uint32

// seqSlot returns the register index and bit shift of sequence slot i.
func seqSlot(i int) (int, uint32) {
	return i / seqSlotsPerReg, uint32(i%seqSlotsPerReg) * seqSlotBits
}

// seqOwned returns the bits of sequence register r that the channel list
// manager writes. Everything else is reserved and preserved.
func seqOwned(v *Variant, r int) uint32 {
	last := len(v.Regs.SQR) - 1
	if r < last {
		return 1<<(seqSlotsPerReg*seqSlotBits) - 1
	}
	return (1<<(uint(v.SQR1Slots)*seqSlotBits) - 1) | v.SeqLenMask<<seqLenShift
}

// PackSequence encodes chans, 5 bits each in list order, spilling across the
// variant's sequence registers, with L = len(chans)-1 in SQR1.
func PackSequence(v *Variant, chans []uint8) (SeqRegs, error) {
	var regs SeqRegs
	if len(chans) == 0 || len(chans) > v.SeqSlots {
		return regs, ErrTooManyChannels
	}
	for i, ch := range chans {
		r, shift := seqSlot(i)
		regs[r] |= uint32(ch&seqSlotMsk) << shift
	}
	last := len(v.Regs.SQR) - 1
	regs[last] |= (uint32(len(chans)-1) & v.SeqLenMask) << seqLenShift
	return regs, nil
}

// UnpackSequence decodes the channel list from sequence register contents.
func UnpackSequence(v *Variant, regs SeqRegs) []uint8 {
	last := len(v.Regs.SQR) - 1
	n := int((regs[last]>>seqLenShift)&v.SeqLenMask) + 1
	chans := make([]uint8, n)
	for i := range chans {
		r, shift := seqSlot(i)
		chans[i] = uint8((regs[r] >> shift) & seqSlotMsk)
	}
	return chans
}

// SelectAll restores the full configured list as the conversion sequence.
func (d *Device) SelectAll() {
	state := disableInterrupts()
	d.selectAll()
	restoreInterrupts(state)
}

// SelectOne restricts the sequence to hardware channel ch. The list index
// of ch becomes the cursor. It returns ErrNotFound if ch is not configured.
func (d *Device) SelectOne(ch uint8) error {
	state := disableInterrupts()
	err := d.selectOne(ch)
	restoreInterrupts(state)
	return err
}

// Select applies a one-shot selector.
func (d *Device) Select(sel ChannelSelector) error {
	if sel == SelectAllChannels {
		d.SelectAll()
		return nil
	}
	return d.SelectOne(uint8(sel) - 1)
}

func (d *Device) selectAll() {
	d.nchannels = d.cchannels
	d.first = 0
	d.cursor = 0

	regs, err := PackSequence(d.v, d.chanlist[:d.cchannels])
	if err != nil {
		// cchannels was validated against SeqSlots at registration.
		return
	}
	for r, off := range d.v.Regs.SQR {
		owned := seqOwned(d.v, r)
		d.win.put(off, d.win.get(off)&^owned|regs[r])
	}
	d.rearmDMA()
}

func (d *Device) selectOne(ch uint8) error {
	idx := -1
	for i := 0; i < d.cchannels; i++ {
		if d.chanlist[i] == ch {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	sqr := d.v.Regs.SQR
	first := sqr[0]
	d.win.put(first, d.win.get(first)&^seqOwned(d.v, 0)|uint32(ch&seqSlotMsk))

	sqr1 := sqr[len(sqr)-1]
	d.win.clear(sqr1, d.v.SeqLenMask<<seqLenShift)

	d.first = idx
	d.cursor = idx
	d.nchannels = 1
	d.rearmDMA()
	return nil
}
