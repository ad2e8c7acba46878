package stores

import (
	"time"
)

// Transition is one persisted transition history record.
type Transition struct {
	// ID is the transition's unique identifier.
	ID string `json:"id"`

	// Op is the transition operation (reset, stop).
	Op string `json:"op"`

	// State is the published outcome state (healthy, unhealthy).
	State string `json:"state"`

	// Components is the JSON-encoded list of component names the
	// transition left behind.
	Components string `json:"components"`

	// FailedComponent names the failing component, if any.
	FailedComponent *string `json:"failed_component,omitempty"`

	// Error is the captured failure cause, if any.
	Error *string `json:"error,omitempty"`

	// StartedAt is when the transition began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the terminal outcome was published.
	FinishedAt time.Time `json:"finished_at"`

	// DurationMS is the transition duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}
