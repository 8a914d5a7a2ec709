package adc

// Receiver is the upward consumer of samples. Receive runs in interrupt or
// DMA completion context and must neither block nor allocate. Flush drops
// anything queued but not yet handed to the application; it is called from
// task context before a single channel one-shot.
type Receiver interface {
	Receive(channel uint8, value uint16)
	Flush()
}

// LowerHalf is the operation table the upper half drives.
type LowerHalf interface {
	Reset() error
	Setup() error
	Shutdown()
	SetReceiveInterrupt(enable bool)
	Ioctl(cmd Command, arg interface{}) error
}

// Sample is one delivered conversion.
type Sample struct {
	Channel uint8
	Value   uint16
}

// ReceiverFunc adapts a function to a Receiver with a no-op Flush.
type ReceiverFunc func(channel uint8, value uint16)

func (f ReceiverFunc) Receive(channel uint8, value uint16) { f(channel, value) }
func (f ReceiverFunc) Flush()                              {}
