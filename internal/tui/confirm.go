package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

type confirmRequest struct {
	prompt string
	reply  chan bool
}

type confirmRequestMsg struct {
	req confirmRequest
}

// Confirmer asks the user to save through the TUI's dialog. Confirm is
// called from a command goroutine and blocks until the dialog is answered
// or ctx ends.
type Confirmer struct {
	requests chan confirmRequest
}

// NewConfirmer creates a dialog-backed confirmer.
func NewConfirmer() *Confirmer {
	return &Confirmer{requests: make(chan confirmRequest)}
}

// Confirm implements stepflow.Confirmer.
func (c *Confirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	req := confirmRequest{prompt: prompt, reply: make(chan bool, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-req.reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// wait hands the next pending question to the model.
func (c *Confirmer) wait() tea.Cmd {
	return func() tea.Msg {
		return confirmRequestMsg{req: <-c.requests}
	}
}
