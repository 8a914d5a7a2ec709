package adc

import "errors"

var (
	// ErrNotFound reports a channel that is not in the configured list.
	ErrNotFound = errors.New("adc: channel not in list")

	// ErrInvalidArgument reports an unknown command, trigger or argument type.
	ErrInvalidArgument = errors.New("adc: invalid argument")

	// ErrBusy reports a request that cannot run while conversions are active.
	ErrBusy = errors.New("adc: busy")

	// ErrNoData reports that the regular channel counter never cleared.
	ErrNoData = errors.New("adc: no data")

	// ErrUnsupported reports a command the variant does not implement.
	ErrUnsupported = errors.New("adc: unsupported on this variant")

	// ErrInvalidInstance reports a selector that names no ADC block.
	ErrInvalidInstance = errors.New("adc: invalid instance")

	// ErrTooManyChannels reports a channel list longer than the transfer
	// mode allows.
	ErrTooManyChannels = errors.New("adc: too many channels")

	// ErrState reports an operation on a device that is shut down or was
	// never set up.
	ErrState = errors.New("adc: invalid state")
)
