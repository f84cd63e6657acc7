package models

import "time"

// State is the availability of a configuration item.
type State string

const (
	StateUnknown     State = "unknown"
	StateAvailable   State = "available"
	StateUnavailable State = "unavailable"
)

// StateFromAvailability maps the upstream 0/1 flag to a State. Any other
// value is Unknown.
func StateFromAvailability(v int) State {
	switch v {
	case 1:
		return StateAvailable
	case 0:
		return StateUnavailable
	default:
		return StateUnknown
	}
}

// ParseState accepts the stored text form; unrecognised values are Unknown.
func ParseState(s string) State {
	switch State(s) {
	case StateAvailable, StateUnavailable:
		return State(s)
	default:
		return StateUnknown
	}
}

// CIMetadata is the descriptive part of a configuration item.
type CIMetadata struct {
	Name         string
	Product      string
	Organization string
}

// ConfigurationItem is a monitored component and its last known state.
type ConfigurationItem struct {
	ID string
	CIMetadata
	CurrentState   State
	LastChangedAt  time.Time
	LastObservedAt time.Time
	LastSeenAt     time.Time
	Stale          bool
}

// Observation is one (ci, state, timestamp) sample from the upstream source.
type Observation struct {
	CIID string
	CIMetadata
	State     State
	Timestamp time.Time
}

// TransitionEvent is a detected change of state. It lives for one cycle only.
type TransitionEvent struct {
	CIID string
	CIMetadata
	PreviousState State
	NewState      State
	OccurredAt    time.Time
}

// IsIncident reports a change into Unavailable.
func (e TransitionEvent) IsIncident() bool {
	return e.NewState == StateUnavailable
}

// IsRecovery reports a change from Unavailable back to Available.
func (e TransitionEvent) IsRecovery() bool {
	return e.PreviousState == StateUnavailable && e.NewState == StateAvailable
}
