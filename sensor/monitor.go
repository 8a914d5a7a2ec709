// Package sensor turns the internal temperature sensor and VREFINT
// channels into a tinygo driver Sensor.
package sensor

import (
	"errors"
	"sync/atomic"

	"tinygo.org/x/drivers"

	"stmadc/adc"
)

// ErrNoSample is returned by Update when a channel it needs has not been
// converted yet.
var ErrNoSample = errors.New("sensor: no sample")

// Calibration holds the datasheet figures of one family.
type Calibration struct {
	TempChannel uint8
	VRefChannel uint8
	VRefIntMV   int64 // VREFINT typical
	V25MV       int64 // sensor output at 25 C
	SlopeUV     int64 // sensor slope in uV per C, negative when falling
	VDDAMV      int64 // assumed supply without a VREFINT sample
}

// CalibrationFor returns typical figures for a family. L1 parts ship
// factory calibration values instead and have none.
func CalibrationFor(f adc.Family) (Calibration, bool) {
	switch f {
	case adc.FamilyF1:
		return Calibration{TempChannel: 16, VRefChannel: 17, VRefIntMV: 1200, V25MV: 1430, SlopeUV: -4300, VDDAMV: 3300}, true
	case adc.FamilyF4:
		return Calibration{TempChannel: 16, VRefChannel: 17, VRefIntMV: 1210, V25MV: 760, SlopeUV: 2500, VDDAMV: 3300}, true
	}
	return Calibration{}, false
}

const maxChannels = 32

// Monitor latches the last value of every channel. It is an adc.Receiver;
// Receive only does atomic stores, so it is safe in interrupt context.
type Monitor struct {
	cal       Calibration
	fullScale uint32

	latest [maxChannels]uint32 // value | valid

	temperature int32 // milli C
	voltage     int32 // VDDA in uV
}

const valid = 1 << 31

func New(cal Calibration, v *adc.Variant) *Monitor {
	return &Monitor{cal: cal, fullScale: v.FullScale}
}

func (m *Monitor) Receive(channel uint8, value uint16) {
	if int(channel) < maxChannels {
		atomic.StoreUint32(&m.latest[channel], uint32(value)|valid)
	}
}

func (m *Monitor) Flush() {}

// Value returns the last value converted on channel.
func (m *Monitor) Value(channel uint8) (uint16, bool) {
	if int(channel) >= maxChannels {
		return 0, false
	}
	v := atomic.LoadUint32(&m.latest[channel])
	return uint16(v), v&valid != 0
}

// Update recomputes the requested measurements from the latched samples.
func (m *Monitor) Update(which drivers.Measurement) error {
	if which&(drivers.Temperature|drivers.Voltage) == 0 {
		return nil
	}
	vdda := m.cal.VDDAMV * 1000
	if raw, ok := m.Value(m.cal.VRefChannel); ok && raw != 0 {
		vdda = m.cal.VRefIntMV * 1000 * int64(m.fullScale) / int64(raw)
	} else if which&drivers.Voltage != 0 {
		return ErrNoSample
	}
	m.voltage = int32(vdda)

	if which&drivers.Temperature != 0 {
		raw, ok := m.Value(m.cal.TempChannel)
		if !ok {
			return ErrNoSample
		}
		vsense := int64(raw) * vdda / int64(m.fullScale)
		m.temperature = int32(25000 + (vsense-m.cal.V25MV*1000)*1000/m.cal.SlopeUV)
	}
	return nil
}

// Temperature returns the last computed die temperature in milli Celsius.
func (m *Monitor) Temperature() int32 { return m.temperature }

// Voltage returns the last computed VDDA in microvolts.
func (m *Monitor) Voltage() int32 { return m.voltage }

var (
	_ drivers.Sensor = (*Monitor)(nil)
	_ adc.Receiver   = (*Monitor)(nil)
)
