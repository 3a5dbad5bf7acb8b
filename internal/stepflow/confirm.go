package stepflow

import "context"

// DefaultPrompt is shown when navigating away from a step with unsaved edits.
const DefaultPrompt = "You have unsaved changes. Would you like to save them?"

// Confirmer asks the user a yes/no question. Implementations may block until
// the user answers or ctx is cancelled.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function into a Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Confirm executes f(ctx, prompt).
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	if f == nil {
		return false, nil
	}
	return f(ctx, prompt)
}

// StaticConfirmer always gives the same answer. Useful for headless runs.
type StaticConfirmer bool

// Confirm returns the fixed answer.
func (c StaticConfirmer) Confirm(context.Context, string) (bool, error) {
	return bool(c), nil
}
