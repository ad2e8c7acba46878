// Package status holds the published, awaitable record of the latest
// lifecycle transition outcome. The supervisor is the only writer; any
// number of observers may read the current outcome or block for the
// next change.
package status

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rekindle/rekindle/pkg/system"
)

// State classifies an outcome.
type State string

const (
	// StateHealthy indicates the last transition completed successfully.
	StateHealthy State = "healthy"

	// StateUnhealthy indicates the last transition failed and the
	// system is in a captured partial state.
	StateUnhealthy State = "unhealthy"
)

// IsHealthy returns true for the healthy state.
func (s State) IsHealthy() bool {
	return s == StateHealthy
}

// Validate checks if the state is valid.
func (s State) Validate() error {
	switch s {
	case StateHealthy, StateUnhealthy:
		return nil
	default:
		return fmt.Errorf("invalid status state: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = State(str)
	return s.Validate()
}

// Outcome is the terminal result of one lifecycle transition.
type Outcome struct {
	// State is healthy or unhealthy.
	State State

	// System is the system the transition left behind. On failure this
	// is the captured partial state, which may hold fewer components
	// than the target.
	System *system.System

	// Err is the captured failure cause. Nil when healthy.
	Err error

	// FailedComponent names the component whose start or stop failed,
	// when known.
	FailedComponent string

	// Transition is the ID of the transition that produced this outcome.
	Transition string

	// At is when the outcome was published.
	At time.Time
}

// Healthy builds a successful outcome for the given system.
func Healthy(sys *system.System) Outcome {
	return Outcome{State: StateHealthy, System: sys, At: time.Now()}
}

// Unhealthy builds a failed outcome with the captured partial system.
func Unhealthy(sys *system.System, failedComponent string, err error) Outcome {
	return Outcome{
		State:           StateUnhealthy,
		System:          sys,
		Err:             err,
		FailedComponent: failedComponent,
		At:              time.Now(),
	}
}

// Report is the JSON-friendly projection of an Outcome, used by the
// status API and the history store.
type Report struct {
	State           State     `json:"state"`
	Components      []string  `json:"components"`
	Error           string    `json:"error,omitempty"`
	FailedComponent string    `json:"failed_component,omitempty"`
	Transition      string    `json:"transition,omitempty"`
	At              time.Time `json:"at"`
}

// Report projects the outcome into its serializable form.
func (o Outcome) Report() Report {
	r := Report{
		State:           o.State,
		Components:      o.System.Names(),
		FailedComponent: o.FailedComponent,
		Transition:      o.Transition,
		At:              o.At,
	}
	if r.Components == nil {
		r.Components = []string{}
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}
