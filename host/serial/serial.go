// Package serial opens the link to the ADC firmware.
package serial

import (
	"errors"
	"io"
)

// Port is one open link. Native serial ports and the in-process
// simulator both implement it.
type Port interface {
	io.ReadWriteCloser

	// Flush discards anything buffered but not yet read.
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC ignores it
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultBaud is the rate used by the firmware's UART console.
const DefaultBaud = 250000

// DefaultConfig returns the configuration used when only a device is named.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}

// ErrNoDevice is returned by Open for an empty device path.
var ErrNoDevice = errors.New("serial: no device")

// timeoutPort turns the (0, io.EOF) a read timeout produces into (0, nil)
// so readers keep polling instead of treating it as a hangup.
type timeoutPort struct {
	io.ReadWriteCloser
}

// Wrap adapts rwc into a Port that treats an empty EOF read as a timeout.
func Wrap(rwc io.ReadWriteCloser) Port {
	return &timeoutPort{ReadWriteCloser: rwc}
}

func (p *timeoutPort) Read(b []byte) (int, error) {
	n, err := p.ReadWriteCloser.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

func (p *timeoutPort) Flush() error {
	if f, ok := p.ReadWriteCloser.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
