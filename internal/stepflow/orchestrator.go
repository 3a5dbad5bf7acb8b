package stepflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope used for orchestrator spans.
const TracerName = "github.com/kingrea/stepflow/internal/stepflow"

// Logger records orchestrator diagnostics. It matches logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Orchestrator owns step order, completion, the active step, the dirty flag,
// and the continuation registry for one wizard session. It is safe for use
// from multiple goroutines, but navigation requests are not queued: a second
// Navigate while a confirmation is pending fails with ErrNavigationInFlight.
type Orchestrator struct {
	plan         Plan
	confirm      Confirmer
	onDirty      func(bool)
	dirtyTracked bool
	prompt       string
	startStep    int
	tracer       trace.Tracer
	logger       Logger
	registry     *registry

	mu         sync.Mutex
	active     int
	completed  map[int]bool
	dirty      bool
	navigating bool
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithStartStep sets the initially active step (default 1, None allowed).
func WithStartStep(step int) Option {
	return func(o *Orchestrator) {
		o.startStep = step
	}
}

// WithConfirmer installs the port used to confirm leaving a dirty step.
func WithConfirmer(c Confirmer) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.confirm = c
		}
	}
}

// WithDirtyHandler enables dirty tracking. The handler is told whenever the
// dirty flag changes. Without it, navigation never prompts.
func WithDirtyHandler(fn func(bool)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.onDirty = fn
			o.dirtyTracked = true
		}
	}
}

// WithPrompt overrides the confirmation question.
func WithPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		if prompt != "" {
			o.prompt = prompt
		}
	}
}

// WithTracer records navigation spans on the supplied tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator for the plan. Steps the plan already marks
// completed are merged in, and a start step that is completed or gated is
// replaced by the advancement rule.
func New(plan Plan, opts ...Option) (*Orchestrator, error) {
	if plan.Len() == 0 {
		return nil, fmt.Errorf("stepflow: plan has no steps")
	}
	o := &Orchestrator{
		plan:      plan,
		prompt:    DefaultPrompt,
		startStep: 1,
		tracer:    noop.NewTracerProvider().Tracer(TracerName),
		logger:    nopLogger{},
		registry:  newRegistry(),
		completed: map[int]bool{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.startStep != None && !plan.InRange(o.startStep) {
		return nil, fmt.Errorf("stepflow: start step %d: %w", o.startStep, ErrStepOutOfRange)
	}
	o.active = o.startStep
	for _, step := range plan.steps {
		if step.Completed {
			o.completed[step.Number] = true
		}
	}
	if o.active != None && (o.completed[o.active] || o.disabledLocked(o.active)) {
		o.active = NextActive(plan, o.completed, o.active)
	}
	return o, nil
}

// Plan returns the orchestrator's step plan.
func (o *Orchestrator) Plan() Plan {
	return o.plan
}

// NavigationResult reports what a Navigate call did.
type NavigationResult struct {
	From      int
	Active    int
	Prompted  bool
	Confirmed bool
	Saved     bool
	Switched  bool
}

// Navigate requests that target become the active step (None closes every
// step; the currently active step toggles to None). When the active step is
// dirty and bypass is false, the user is asked to save first; on agreement
// the active step's registered continuation runs before the switch.
// Declining leaves all state untouched.
func (o *Orchestrator) Navigate(ctx context.Context, target int, bypass bool) (NavigationResult, error) {
	ctx, span := o.tracer.Start(ctx, "stepflow.navigate", trace.WithAttributes(
		attribute.Int("stepflow.target", target),
		attribute.Bool("stepflow.bypass", bypass),
	))
	defer span.End()
	res, err := o.navigate(ctx, target, bypass)
	span.SetAttributes(
		attribute.Int("stepflow.active", res.Active),
		attribute.Bool("stepflow.prompted", res.Prompted),
		attribute.Bool("stepflow.switched", res.Switched),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (o *Orchestrator) navigate(ctx context.Context, target int, bypass bool) (NavigationResult, error) {
	o.mu.Lock()
	res := NavigationResult{From: o.active, Active: o.active}
	if o.navigating {
		o.mu.Unlock()
		return res, ErrNavigationInFlight
	}
	target, err := o.resolveTargetLocked(target)
	if err != nil {
		o.mu.Unlock()
		return res, err
	}
	if !o.needsConfirmationLocked(bypass) {
		o.active = target
		o.mu.Unlock()
		res.Active = target
		res.Switched = true
		return res, nil
	}
	if o.confirm == nil {
		o.mu.Unlock()
		return res, ErrNoConfirmer
	}
	o.navigating = true
	prompt := o.prompt
	o.mu.Unlock()
	defer o.endNavigation()

	o.logger.Printf("template-stepper-dirty-save-%d", res.From)
	res.Prompted = true
	ok, err := o.confirm.Confirm(ctx, prompt)
	if err != nil {
		return res, fmt.Errorf("stepflow: confirm: %w", err)
	}
	if !ok {
		return res, nil
	}
	res.Confirmed = true
	reg, found := o.registry.get(res.From)
	if !found {
		return res, fmt.Errorf("stepflow: step %d: %w", res.From, ErrNoContinuation)
	}
	committed, err := reg.Continue(ctx)
	res.Active = o.ActiveStep()
	if err != nil {
		return res, err
	}
	if !committed {
		return res, nil
	}
	res.Saved = true
	o.SetDirty(false)

	o.mu.Lock()
	defer o.mu.Unlock()
	if target != None && o.disabledLocked(target) {
		res.Active = o.active
		return res, nil
	}
	o.active = target
	res.Active = target
	res.Switched = true
	return res, nil
}

func (o *Orchestrator) resolveTargetLocked(target int) (int, error) {
	if target == None {
		return None, nil
	}
	if !o.plan.InRange(target) {
		return o.active, fmt.Errorf("stepflow: navigate to %d: %w", target, ErrStepOutOfRange)
	}
	if target == o.active {
		return None, nil
	}
	if o.disabledLocked(target) {
		return o.active, fmt.Errorf("stepflow: navigate to %d: %w", target, ErrStepDisabled)
	}
	return target, nil
}

func (o *Orchestrator) needsConfirmationLocked(bypass bool) bool {
	return o.dirtyTracked && o.dirty && !bypass && o.active != None
}

func (o *Orchestrator) endNavigation() {
	o.mu.Lock()
	o.navigating = false
	o.mu.Unlock()
}

// RegisterContinuation upserts the continuation for a step. The last
// registration for a step number wins.
func (o *Orchestrator) RegisterContinuation(reg Registration) error {
	if err := validateRegistration(o.plan, reg); err != nil {
		return err
	}
	o.registry.put(reg)
	return nil
}

// Registered reports whether a step has a continuation registered.
func (o *Orchestrator) Registered(step int) bool {
	_, ok := o.registry.get(step)
	return ok
}

// OnStepCompleted records the step as completed and runs the advancement
// rule to choose the next active step. Repeated calls do not duplicate the
// completion.
func (o *Orchestrator) OnStepCompleted(ctx context.Context, step int) error {
	_, span := o.tracer.Start(ctx, "stepflow.complete", trace.WithAttributes(attribute.Int("stepflow.step", step)))
	defer span.End()
	if !o.plan.InRange(step) {
		err := fmt.Errorf("stepflow: complete step %d: %w", step, ErrStepOutOfRange)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	o.mu.Lock()
	o.completed[step] = true
	o.active = NextActive(o.plan, o.completed, step)
	active := o.active
	o.mu.Unlock()
	span.SetAttributes(attribute.Int("stepflow.active", active))
	o.logger.Printf("stepflow: step %d completed, active step now %d", step, active)
	return nil
}

// MarkCompleted merges completions asserted outside the normal continue
// flow. If the active step is among the new completions, the advancement
// rule picks a replacement.
func (o *Orchestrator) MarkCompleted(steps ...int) error {
	for _, step := range steps {
		if !o.plan.InRange(step) {
			return fmt.Errorf("stepflow: mark step %d completed: %w", step, ErrStepOutOfRange)
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	added := false
	for _, step := range steps {
		if !o.completed[step] {
			o.completed[step] = true
			added = true
		}
	}
	if added && o.active != None && o.completed[o.active] {
		o.active = NextActive(o.plan, o.completed, o.active)
	}
	return nil
}

// Reconcile applies externally supplied definitions whose Completed flag is
// set. The definitions must describe the same number of steps as the plan.
func (o *Orchestrator) Reconcile(defs []StepDefinition) error {
	if len(defs) != o.plan.Len() {
		return fmt.Errorf("stepflow: reconcile: got %d steps, plan has %d", len(defs), o.plan.Len())
	}
	var done []int
	for i, def := range defs {
		if def.Completed {
			done = append(done, i+1)
		}
	}
	if len(done) == 0 {
		return nil
	}
	return o.MarkCompleted(done...)
}

// SetDirty updates the dirty flag and notifies the dirty handler on change.
func (o *Orchestrator) SetDirty(dirty bool) {
	o.mu.Lock()
	changed := o.dirty != dirty
	o.dirty = dirty
	handler := o.onDirty
	o.mu.Unlock()
	if changed && handler != nil {
		handler(dirty)
	}
}

// Dirty reports whether the active step has unsaved edits.
func (o *Orchestrator) Dirty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dirty
}

// ActiveStep returns the active step number or None.
func (o *Orchestrator) ActiveStep() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Active reports whether step is the active step.
func (o *Orchestrator) Active(step int) bool {
	return o.ActiveStep() == step && step != None
}

// Completed reports whether step is completed.
func (o *Orchestrator) Completed(step int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completed[step]
}

// Disabled reports whether a dependent step is still gated.
func (o *Orchestrator) Disabled(step int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.disabledLocked(step)
}

// disabledLocked keeps a dependent step gated until every non-dependent
// step is completed. Completed dependent steps do not count.
func (o *Orchestrator) disabledLocked(step int) bool {
	if !o.plan.IsDependent(step) || o.completed[step] {
		return false
	}
	done := 0
	for n := range o.completed {
		if !o.plan.IsDependent(n) {
			done++
		}
	}
	return done < o.plan.NonDependentCount()
}

// ShowIconBar reports whether the connector below the step icon is drawn.
func (o *Orchestrator) ShowIconBar(step int) bool {
	return step < o.plan.Len()
}

// StepView is the derived state a front end needs to render one step.
type StepView struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Decorator   string `json:"decorator,omitempty"`
	Active      bool   `json:"active"`
	Completed   bool   `json:"completed"`
	Disabled    bool   `json:"disabled"`
	ShowIconBar bool   `json:"show_icon_bar"`
	Registered  bool   `json:"registered"`
}

// View returns the derived state for a step.
func (o *Orchestrator) View(step int) StepView {
	def, _ := o.plan.Step(step)
	o.mu.Lock()
	view := StepView{
		Number:    step,
		Title:     def.Title,
		Decorator: def.Decorator,
		Active:    step != None && o.active == step,
		Completed: o.completed[step],
		Disabled:  o.disabledLocked(step),
	}
	o.mu.Unlock()
	view.ShowIconBar = o.ShowIconBar(step)
	view.Registered = o.Registered(step)
	return view
}

// Snapshot is a point-in-time copy of orchestrator state.
type Snapshot struct {
	Active     int        `json:"active"`
	Completed  []int      `json:"completed"`
	Dirty      bool       `json:"dirty"`
	Registered []int      `json:"registered"`
	Steps      []StepView `json:"steps"`
}

// Done reports whether every step is completed and nothing is active.
func (s Snapshot) Done() bool {
	return s.Active == None && len(s.Completed) == len(s.Steps)
}

// Snapshot copies the current state for rendering or inspection.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := Snapshot{
		Active: o.active,
		Dirty:  o.dirty,
	}
	for step := range o.completed {
		snap.Completed = append(snap.Completed, step)
	}
	o.mu.Unlock()
	sort.Ints(snap.Completed)
	snap.Registered = o.registry.steps()
	snap.Steps = make([]StepView, 0, o.plan.Len())
	for _, n := range o.plan.numbers() {
		snap.Steps = append(snap.Steps, o.View(n))
	}
	return snap
}
