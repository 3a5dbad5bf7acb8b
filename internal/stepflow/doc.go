// Package stepflow implements the wizard orchestration core: an ordered plan of
// steps, the Orchestrator that owns completion and active-step selection, and
// the Step participant that bridges content hooks (validate, continue, cancel)
// into the orchestrator's continuation registry.
//
// The orchestrator never renders anything. Front ends read StepView values and
// call Navigate, RequestContinue, and RequestCancel in response to input.
package stepflow
