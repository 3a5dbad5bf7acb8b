package stepflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ContinuationFunc runs a step's save logic on behalf of the orchestrator.
// It reports whether the step committed (validation passed and completion
// was recorded).
type ContinuationFunc func(ctx context.Context) (bool, error)

// Registration is one entry of the continuation registry.
type Registration struct {
	Step     int
	Title    string
	Continue ContinuationFunc
}

// registry maps step numbers to their latest registration. Entries are
// replaced, never removed, for the lifetime of a session.
type registry struct {
	mu      sync.RWMutex
	entries map[int]Registration
}

func newRegistry() *registry {
	return &registry{entries: map[int]Registration{}}
}

func (r *registry) put(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[reg.Step] = reg
}

func (r *registry) get(step int) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[step]
	return reg, ok
}

func (r *registry) steps() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.entries))
	for step := range r.entries {
		out = append(out, step)
	}
	sort.Ints(out)
	return out
}

func validateRegistration(plan Plan, reg Registration) error {
	if !plan.InRange(reg.Step) {
		return fmt.Errorf("stepflow: register step %d: %w", reg.Step, ErrStepOutOfRange)
	}
	if reg.Continue == nil {
		return fmt.Errorf("stepflow: register step %d: continuation is required", reg.Step)
	}
	return nil
}
