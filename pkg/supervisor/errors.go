// Package supervisor owns the current composed system and drives
// create -> stop-previous -> start-next transitions with rollback on
// partial failure, publishing every terminal outcome to the status
// register.
package supervisor

import (
	"errors"
	"fmt"

	"github.com/rekindle/rekindle/pkg/system"
)

// Phase identifies the stage of a transition in which a failure occurred.
type Phase string

const (
	// PhaseConstruct covers the constructor call. A failure here leaves
	// all state untouched.
	PhaseConstruct Phase = "construct"

	// PhaseStop covers stopping the previous system.
	PhaseStop Phase = "stop"

	// PhaseStart covers starting the next system. A failure here
	// triggers a rollback stop of the partially started system.
	PhaseStart Phase = "start"

	// PhaseRollback covers the cleanup stop after a start failure. A
	// rollback failure never replaces the start error as the reported
	// cause; it only determines the final stored state.
	PhaseRollback Phase = "rollback"
)

// Validate checks if the phase is valid.
func (p Phase) Validate() error {
	switch p {
	case PhaseConstruct, PhaseStop, PhaseStart, PhaseRollback:
		return nil
	default:
		return fmt.Errorf("invalid transition phase: %s", p)
	}
}

// TransitionError is a transition failure with its captured context.
type TransitionError struct {
	// Phase is the stage in which the failure occurred.
	Phase Phase

	// Component names the component whose start or stop failed, when
	// applicable.
	Component string

	// Partial is the best-known system state at the moment of failure.
	// It may hold fewer components than the target and never references
	// the failing component.
	Partial *system.System

	// Err is the underlying failure cause.
	Err error
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("%s failed (component=%s): %s", e.Phase, e.Component, e.unwrapMessage())
	}
	return fmt.Sprintf("%s failed: %s", e.Phase, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *TransitionError) Is(target error) bool {
	t, ok := target.(*TransitionError)
	if !ok {
		return false
	}
	return e.Phase == t.Phase && e.Component == t.Component
}

func (e *TransitionError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// newConstructionError wraps a constructor failure. No state changed.
func newConstructionError(err error) *TransitionError {
	return &TransitionError{Phase: PhaseConstruct, Err: err}
}

// newStopError wraps a component stop failure with the excised partial
// system.
func newStopError(partial *system.System, component string, err error) *TransitionError {
	return &TransitionError{Phase: PhaseStop, Component: component, Partial: partial, Err: err}
}

// newStartError wraps a component start failure with the
// partially-started system as captured before rollback.
func newStartError(partial *system.System, component string, err error) *TransitionError {
	return &TransitionError{Phase: PhaseStart, Component: component, Partial: partial, Err: err}
}

// newRollbackError wraps a failure of the cleanup stop that follows a
// start failure.
func newRollbackError(partial *system.System, component string, err error) *TransitionError {
	return &TransitionError{Phase: PhaseRollback, Component: component, Partial: partial, Err: err}
}

// phaseOf extracts the phase of a transition error, if err is one.
func phaseOf(err error) (Phase, bool) {
	var e *TransitionError
	if errors.As(err, &e) {
		return e.Phase, true
	}
	return "", false
}

// IsConstructionError reports whether err is a constructor failure.
func IsConstructionError(err error) bool {
	p, ok := phaseOf(err)
	return ok && p == PhaseConstruct
}

// IsStopError reports whether err is a component stop failure.
func IsStopError(err error) bool {
	p, ok := phaseOf(err)
	return ok && p == PhaseStop
}

// IsStartError reports whether err is a component start failure.
func IsStartError(err error) bool {
	p, ok := phaseOf(err)
	return ok && p == PhaseStart
}

// IsRollbackError reports whether err is a rollback stop failure.
func IsRollbackError(err error) bool {
	p, ok := phaseOf(err)
	return ok && p == PhaseRollback
}
