package service

import (
	"time"
)

// State is a stage of the per-marker pipeline.
type State int

const (
	StateIdle State = iota
	StateMarkerDetected
	StateClassified
	StateExtracted
	StatePersisted
	StateDispatched
	StateCleaned
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMarkerDetected:
		return "marker_detected"
	case StateClassified:
		return "classified"
	case StateExtracted:
		return "extracted"
	case StatePersisted:
		return "persisted"
	case StateDispatched:
		return "dispatched"
	case StateCleaned:
		return "cleaned"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is one pipeline transition.
type Event struct {
	Time       time.Time `json:"time"`
	Path       string    `json:"path"`
	Station    string    `json:"station,omitempty"`
	Instrument string    `json:"instrument,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	State      State     `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	ErrorKind  string    `json:"errorKind,omitempty"`
}

// EventSink receives transitions. Implementations must not block.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Publish(Event) {}

// Outcome is the terminal result of processing one marker.
type Outcome struct {
	State State
	// From is the last state reached before a failure.
	From      State
	Reason    string
	Err       error
	Retryable bool
	Records   int
}
