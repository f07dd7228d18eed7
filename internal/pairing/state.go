package pairing

import "github.com/vitaminmoo/pressuremon/internal/ble"

// Status is the connection lifecycle stage.
type Status int

const (
	Idle Status = iota
	Scanning
	Connecting
	Connected
	Error
	Unavailable
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Busy reports whether a pairing attempt is in flight.
func (s Status) Busy() bool {
	return s == Scanning || s == Connecting
}

// UnavailableMessage is stored when the host has no Bluetooth capability.
const UnavailableMessage = "Bluetooth is not supported on this host. Enable a Bluetooth adapter or run inside the native shell."

// State is an immutable snapshot of the controller. Every transition
// produces a new value.
type State struct {
	Status Status

	// Device is the held handle, nil when none.
	Device ble.Handle

	// Err is the user-facing message for Error and Unavailable.
	Err string

	// Available is the radio probe result; nil until determined.
	Available *bool

	// Attempt identifies the pairing attempt that produced this state.
	Attempt string
}

// AvailabilityKnown reports whether the probe has produced a value.
func (s State) AvailabilityKnown() bool { return s.Available != nil }

// IsAvailable reports the probe value, false while unknown.
func (s State) IsAvailable() bool { return s.Available != nil && *s.Available }
