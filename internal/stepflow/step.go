package stepflow

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Changes is the record a step's continue hook hands to the completion
// callback.
type Changes map[string]any

// ValidateFunc decides whether the step may continue. A false result or an
// error both reject the continue without surfacing an error.
type ValidateFunc func(ctx context.Context, args ...any) (bool, error)

// ContinueFunc collects the step's data when it continues.
type ContinueFunc func(ctx context.Context) (Changes, error)

// CancelFunc runs content-specific cleanup when the step is cancelled.
type CancelFunc func()

// CompletionFunc is the externally supplied per-step completion callback.
type CompletionFunc func(ctx context.Context, step int, changes Changes) error

// Hooks is what a step hands to its content so the content can install its
// validate, continue, and cancel behaviour and flag unsaved edits.
type Hooks interface {
	SetValidateCallback(fn ValidateFunc)
	SetCancelCallback(fn CancelFunc)
	SetContinueCallback(fn ContinueFunc, validateArgs ...any)
	SetDirty(dirty bool)
}

// Continuable is implemented by content back-ends that bind into a step.
type Continuable interface {
	Bind(hooks Hooks)
}

// Coordinator is the slice of the Orchestrator a Step talks to.
type Coordinator interface {
	Navigate(ctx context.Context, target int, bypass bool) (NavigationResult, error)
	RegisterContinuation(reg Registration) error
	OnStepCompleted(ctx context.Context, step int) error
	View(step int) StepView
	ActiveStep() int
	SetDirty(dirty bool)
}

// StepState enumerates a step's lifecycle phases.
type StepState string

const (
	StepInactive   StepState = "inactive"
	StepActive     StepState = "active"
	StepContinuing StepState = "continuing"
	StepCompleted  StepState = "completed"
)

// Step wraps one step's lifecycle and bridges its content hooks to the
// orchestrator.
type Step struct {
	coord      Coordinator
	def        StepDefinition
	onContinue CompletionFunc
	onCancel   func()
	tracer     trace.Tracer

	mu           sync.Mutex
	validate     ValidateFunc
	validateArgs []any
	cancel       CancelFunc
	cont         ContinueFunc
	continuing   bool
}

// StepOption customizes a Step.
type StepOption func(*Step)

// WithOnContinue installs the completion callback invoked after the step's
// continue hook succeeds.
func WithOnContinue(fn CompletionFunc) StepOption {
	return func(s *Step) {
		s.onContinue = fn
	}
}

// WithOnCancel installs the callback invoked when the step is cancelled.
func WithOnCancel(fn func()) StepOption {
	return func(s *Step) {
		s.onCancel = fn
	}
}

// WithStepTracer records continue spans on the supplied tracer.
func WithStepTracer(tracer trace.Tracer) StepOption {
	return func(s *Step) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewStep mounts a step against the coordinator and registers its
// continuation so a dirty save can reach it while it is not active.
func NewStep(coord Coordinator, def StepDefinition, opts ...StepOption) (*Step, error) {
	if coord == nil {
		return nil, fmt.Errorf("stepflow: coordinator is required")
	}
	s := &Step{
		coord:  coord,
		def:    def,
		tracer: noop.NewTracerProvider().Tracer(TracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := s.register(); err != nil {
		return nil, err
	}
	return s, nil
}

// Mount lets content install its hooks.
func (s *Step) Mount(content Continuable) {
	if content == nil {
		return
	}
	content.Bind(s)
}

// Number returns the step number.
func (s *Step) Number() int {
	return s.def.Number
}

// Definition returns the step definition.
func (s *Step) Definition() StepDefinition {
	return s.def
}

// register runs once. The registered continuation reads the hooks when it
// is called, so hooks installed later still take effect.
func (s *Step) register() error {
	return s.coord.RegisterContinuation(Registration{
		Step:     s.def.Number,
		Title:    s.def.Title,
		Continue: s.RequestContinue,
	})
}

// SetValidateCallback installs the validator.
func (s *Step) SetValidateCallback(fn ValidateFunc) {
	s.mu.Lock()
	s.validate = fn
	s.mu.Unlock()
}

// SetCancelCallback installs the cancel hook.
func (s *Step) SetCancelCallback(fn CancelFunc) {
	s.mu.Lock()
	s.cancel = fn
	s.mu.Unlock()
}

// SetContinueCallback installs the continue hook plus the arguments the
// validator is called with.
func (s *Step) SetContinueCallback(fn ContinueFunc, validateArgs ...any) {
	s.mu.Lock()
	s.cont = fn
	s.validateArgs = append([]any(nil), validateArgs...)
	s.mu.Unlock()
}

// SetDirty forwards the content's unsaved-edit flag to the orchestrator.
func (s *Step) SetDirty(dirty bool) {
	s.coord.SetDirty(dirty)
}

// RequestContinue validates, collects changes, invokes the completion
// callback, and reports completion to the orchestrator. It returns false
// without error when validation rejects. Only one continue runs at a time.
func (s *Step) RequestContinue(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.continuing {
		s.mu.Unlock()
		return false, ErrContinueInFlight
	}
	s.continuing = true
	validate := s.validate
	args := s.validateArgs
	cont := s.cont
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.continuing = false
		s.mu.Unlock()
	}()

	ctx, span := s.tracer.Start(ctx, "stepflow.step.continue", trace.WithAttributes(
		attribute.Int("stepflow.step", s.def.Number),
		attribute.String("stepflow.title", s.def.Title),
	))
	defer span.End()

	if validate != nil {
		ok, err := validate(ctx, args...)
		if err != nil || !ok {
			span.AddEvent("validation rejected")
			return false, nil
		}
	}
	changes := Changes{}
	if cont != nil {
		incoming, err := cont(ctx)
		if err != nil {
			return false, s.fail(span, fmt.Errorf("stepflow: step %d continue: %w", s.def.Number, err))
		}
		if incoming != nil {
			changes = incoming
		}
	}
	if s.onContinue != nil {
		if err := s.onContinue(ctx, s.def.Number, changes); err != nil {
			return false, s.fail(span, fmt.Errorf("stepflow: step %d completion: %w", s.def.Number, err))
		}
	}
	if err := s.coord.OnStepCompleted(ctx, s.def.Number); err != nil {
		return false, s.fail(span, err)
	}
	return true, nil
}

func (s *Step) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// RequestCancel runs the cancel hook and callback, then closes the step
// without prompting.
func (s *Step) RequestCancel(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.onCancel != nil {
		s.onCancel()
	}
	_, err := s.coord.Navigate(ctx, None, true)
	return err
}

// SetActivation handles a click on the step's icon or title: an active step
// closes, any other step asks to become active. Disabled steps ignore it.
func (s *Step) SetActivation(ctx context.Context) (NavigationResult, error) {
	view := s.coord.View(s.def.Number)
	if view.Disabled {
		active := s.coord.ActiveStep()
		return NavigationResult{From: active, Active: active}, fmt.Errorf("stepflow: activate step %d: %w", s.def.Number, ErrStepDisabled)
	}
	target := s.def.Number
	if view.Active {
		target = None
	}
	return s.coord.Navigate(ctx, target, false)
}

// Continuing reports whether a continue is in flight.
func (s *Step) Continuing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continuing
}

// CanContinue reports whether the continue action should be enabled.
func (s *Step) CanContinue() bool {
	view := s.coord.View(s.def.Number)
	return view.Active && !view.Disabled && !s.def.DisableContinue && !s.Continuing()
}

// State derives the step's lifecycle phase.
func (s *Step) State() StepState {
	if s.Continuing() {
		return StepContinuing
	}
	view := s.coord.View(s.def.Number)
	switch {
	case view.Active:
		return StepActive
	case view.Completed:
		return StepCompleted
	default:
		return StepInactive
	}
}
