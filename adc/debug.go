package adc

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

var (
	// debugPrintln is set by platform code; no-op by default
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled gates DebugPrintln. Off by default so register dumps do
	// not slow down reset.
	debugEnabled bool
)

// SetDebugWriter sets the platform-specific debug output function.
func SetDebugWriter(writer DebugWriter) {
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled.
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer.
func DebugPrintln(msg string) {
	if debugEnabled {
		debugPrintln(msg)
	}
}

// warn is always written; it is used for configuration problems that the
// engine works around, like a clamped timer divider.
func warn(msg string) {
	debugPrintln("[ADC] WARNING: " + msg)
}

// FaultKind classifies a FaultEvent.
type FaultKind uint8

const (
	FaultWatchdog       FaultKind = 1 // analog watchdog: value out of range
	FaultOverrun        FaultKind = 2 // data overrun
	FaultPrescalerClamp FaultKind = 3 // trigger prescaler clamped
	FaultReloadClamp    FaultKind = 4 // trigger reload clamped
)

func (k FaultKind) String() string {
	switch k {
	case FaultWatchdog:
		return "AWD"
	case FaultOverrun:
		return "OVR"
	case FaultPrescalerClamp:
		return "PSC_CLAMP"
	case FaultReloadClamp:
		return "ARR_CLAMP"
	default:
		return "UNKNOWN"
	}
}

// FaultEvent is one diagnostic record. Value is the status register for
// hardware faults and the requested frequency for clamps.
type FaultEvent struct {
	Kind     FaultKind
	Instance Selector
	Value    uint32
}

// FaultRingSize is the number of faults kept before the oldest is dropped.
const FaultRingSize = 32

// faultRing is written from interrupt context and drained from task
// context under the critical section.
type faultRing struct {
	events  [FaultRingSize]FaultEvent
	head    uint8 // next write
	count   uint8
	dropped uint32
}

// push never blocks; a full ring overwrites the oldest event.
func (r *faultRing) push(ev FaultEvent) {
	r.events[r.head] = ev
	r.head = (r.head + 1) % FaultRingSize
	if r.count < FaultRingSize {
		r.count++
	} else {
		r.dropped++
	}
}

func (r *faultRing) pop() (FaultEvent, bool) {
	if r.count == 0 {
		return FaultEvent{}, false
	}
	tail := (r.head + FaultRingSize - r.count) % FaultRingSize
	ev := r.events[tail]
	r.count--
	return ev, true
}
