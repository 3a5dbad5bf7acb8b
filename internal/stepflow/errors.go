package stepflow

import "errors"

var (
	// ErrStepDisabled is returned when navigation targets a gated dependent step.
	ErrStepDisabled = errors.New("stepflow: step is disabled")
	// ErrStepOutOfRange is returned for step numbers outside 1..N.
	ErrStepOutOfRange = errors.New("stepflow: step out of range")
	// ErrNoConfirmer is returned when unsaved changes need confirmation but no
	// Confirmer is configured. Navigation does not happen.
	ErrNoConfirmer = errors.New("stepflow: unsaved changes and no confirmer configured")
	// ErrNoContinuation is returned when the user agreed to save but the active
	// step never registered a continuation.
	ErrNoContinuation = errors.New("stepflow: no continuation registered for active step")
	// ErrNavigationInFlight is returned while a confirmation prompt is pending.
	ErrNavigationInFlight = errors.New("stepflow: navigation already in progress")
	// ErrContinueInFlight is returned when a step is already continuing.
	ErrContinueInFlight = errors.New("stepflow: continue already in progress")
)
