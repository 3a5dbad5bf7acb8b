package stepflow

import (
	"fmt"
	"strings"
)

// None is the sentinel active step meaning no step is open.
const None = -1

// StepDefinition describes one step of the wizard. Number is assigned by
// NewPlan from the step's position and is never inferred later.
type StepDefinition struct {
	Number                int
	Title                 string
	Decorator             string
	Dependent             bool
	Completed             bool
	DisableContinue       bool
	HideDecoratorOnActive bool
	// Content is opaque to the core; front ends decide what it holds.
	Content any
}

// Plan is the validated, numbered step list for one wizard session.
type Plan struct {
	steps []StepDefinition
}

// NewPlan numbers the definitions 1..N by position and validates them.
func NewPlan(defs []StepDefinition) (Plan, error) {
	if len(defs) == 0 {
		return Plan{}, fmt.Errorf("stepflow: at least one step is required")
	}
	steps := make([]StepDefinition, len(defs))
	for i, def := range defs {
		def.Number = i + 1
		def.Title = strings.TrimSpace(def.Title)
		if def.Title == "" {
			return Plan{}, fmt.Errorf("stepflow: step %d: title is required", def.Number)
		}
		steps[i] = def
	}
	return Plan{steps: steps}, nil
}

// Len returns the number of steps.
func (p Plan) Len() int {
	return len(p.steps)
}

// Steps returns a copy of the numbered definitions.
func (p Plan) Steps() []StepDefinition {
	out := make([]StepDefinition, len(p.steps))
	copy(out, p.steps)
	return out
}

// Step returns the definition for a step number.
func (p Plan) Step(number int) (StepDefinition, bool) {
	if !p.InRange(number) {
		return StepDefinition{}, false
	}
	return p.steps[number-1], true
}

// InRange reports whether number is a valid step number for the plan.
func (p Plan) InRange(number int) bool {
	return number >= 1 && number <= len(p.steps)
}

// DependentSteps returns the ascending step numbers flagged as dependent.
func (p Plan) DependentSteps() []int {
	var out []int
	for _, step := range p.steps {
		if step.Dependent {
			out = append(out, step.Number)
		}
	}
	return out
}

// IsDependent reports whether the step is gated on the non-dependent steps.
func (p Plan) IsDependent(number int) bool {
	step, ok := p.Step(number)
	return ok && step.Dependent
}

// NonDependentCount returns how many steps are not dependent.
func (p Plan) NonDependentCount() int {
	return len(p.steps) - len(p.DependentSteps())
}

func (p Plan) numbers() []int {
	out := make([]int, len(p.steps))
	for i := range p.steps {
		out[i] = i + 1
	}
	return out
}
