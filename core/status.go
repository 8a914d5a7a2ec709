package core

import (
	"errors"

	"stmadc/adc"
)

// Status codes reported in adc_status.
const (
	StatusOK              uint8 = 0
	StatusNotFound        uint8 = 1
	StatusInvalidArgument uint8 = 2
	StatusBusy            uint8 = 3
	StatusNoData          uint8 = 4
	StatusUnsupported     uint8 = 5
	StatusInvalidInstance uint8 = 6
	StatusTooManyChannels uint8 = 7
	StatusState           uint8 = 8
	StatusUnknownOID      uint8 = 9
	StatusOther           uint8 = 0xFF
)

// ErrUnknownOID is reported for an oid that was never configured.
var ErrUnknownOID = errors.New("core: unknown oid")

var statusErrors = []struct {
	err  error
	code uint8
}{
	{adc.ErrNotFound, StatusNotFound},
	{adc.ErrInvalidArgument, StatusInvalidArgument},
	{adc.ErrBusy, StatusBusy},
	{adc.ErrNoData, StatusNoData},
	{adc.ErrUnsupported, StatusUnsupported},
	{adc.ErrInvalidInstance, StatusInvalidInstance},
	{adc.ErrTooManyChannels, StatusTooManyChannels},
	{adc.ErrState, StatusState},
	{ErrUnknownOID, StatusUnknownOID},
}

// StatusCode maps an engine error to its wire code.
func StatusCode(err error) uint8 {
	if err == nil {
		return StatusOK
	}
	for _, s := range statusErrors {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return StatusOther
}

// StatusError is the inverse of StatusCode, used by the host. Unknown
// codes map to nil for StatusOK and a generic error otherwise.
func StatusError(code uint8) error {
	if code == StatusOK {
		return nil
	}
	for _, s := range statusErrors {
		if s.code == code {
			return s.err
		}
	}
	return errStatusOther
}

var errStatusOther = errors.New("core: command failed")
