package adc

// SampleTime loads the per-channel sample time table. With AllSame every
// channel gets Value; otherwise only the listed channels change. Values are
// the 3 bit SMPx codes of the part. The table is written to the hardware at
// the next Reset, Start or one-shot conversion, never while converting.
type SampleTime struct {
	AllSame  bool
	Value    uint8
	Channels []ChannelTime
}

// ChannelTime is one entry of a selective SampleTime load.
type ChannelTime struct {
	Channel uint8
	Value   uint8
}

func (d *Device) defaultSampleTimes() {
	for i := range d.smpr {
		d.smpr[i] = d.v.SampleDeflt
	}
}

// SampleTimes returns the stored table.
func (d *Device) SampleTimes() []uint8 {
	out := make([]uint8, d.v.SampleChans)
	copy(out, d.smpr[:d.v.SampleChans])
	return out
}

func (d *Device) setSampleTimes(st *SampleTime) error {
	if st.AllSame {
		if st.Value > sampleTimeMsk {
			return ErrInvalidArgument
		}
		for i := 0; i < d.v.SampleChans; i++ {
			d.smpr[i] = st.Value
		}
		d.smprDirty = true
		return nil
	}
	for _, ct := range st.Channels {
		if int(ct.Channel) >= d.v.SampleChans || ct.Value > sampleTimeMsk {
			return ErrInvalidArgument
		}
	}
	for _, ct := range st.Channels {
		d.smpr[ct.Channel] = ct.Value
	}
	d.smprDirty = true
	return nil
}

// applySampleTimes writes a table loaded since the last write. It runs
// before every start, software or one-shot.
func (d *Device) applySampleTimes() {
	if d.smprDirty {
		d.writeSampleTimes()
		d.smprDirty = false
	}
}

// writeSampleTimes packs the table, ten 3 bit fields per register with the
// lowest channels in the first register, keeping reserved bits.
func (d *Device) writeSampleTimes() {
	for r, off := range d.v.Regs.SMPR {
		var val, owned uint32
		for f := 0; f < smprPerReg; f++ {
			ch := r*smprPerReg + f
			if ch >= d.v.SampleChans {
				break
			}
			shift := uint32(f * smprBits)
			owned |= sampleTimeMsk << shift
			val |= uint32(d.smpr[ch]&sampleTimeMsk) << shift
		}
		if owned == 0 {
			continue
		}
		d.win.put(off, d.win.get(off)&^owned|val)
	}
}
