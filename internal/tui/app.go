// internal/tui/app.go
//
// This is the wizard TUI for stepflow. It uses bubbletea, which follows The
// Elm Architecture:
//
// 1. Model: the App, which wraps a stepflow.Orchestrator
// 2. Update: keys and command results change the model
// 3. View: the steps, the open step's form, and the journey log
//
// Orchestrator calls can block on the save prompt, so they run inside
// commands. The prompt, bridge events, and template reloads come back to
// Update as messages from channel-waiting commands.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.opentelemetry.io/otel/trace"

	"github.com/kingrea/stepflow/internal/eventbridge"
	"github.com/kingrea/stepflow/internal/logbook"
	"github.com/kingrea/stepflow/internal/stepflow"
	"github.com/kingrea/stepflow/internal/submission"
	"github.com/kingrea/stepflow/internal/template"
)

// Submitter persists the changes a step hands over when it continues.
type Submitter interface {
	Save(ctx context.Context, sub submission.Submission) error
}

// History is implemented by submitters that can replay a stored session.
// When the wizard's submitter has it, New resumes the session and bridge
// completions pick up data saved by other runs.
type History interface {
	List(ctx context.Context, sessionID string) ([]submission.Submission, error)
	Merged(ctx context.Context, sessionID string) (map[string]any, error)
}

// Option customizes App construction for tests and alternate runtimes.
type Option func(*App)

// WithLogbook records the user's journey and shows its tail.
func WithLogbook(book *logbook.Logbook) Option {
	return func(a *App) {
		a.logbook = book
	}
}

// WithSubmitter stores each step's changes.
func WithSubmitter(store Submitter) Option {
	return func(a *App) {
		a.store = store
	}
}

// WithSessionID tags submissions and filters bridge events.
func WithSessionID(id string) Option {
	return func(a *App) {
		a.sessionID = strings.TrimSpace(id)
	}
}

// WithEvents feeds out-of-band bridge events into the wizard.
func WithEvents(events <-chan eventbridge.Event) Option {
	return func(a *App) {
		a.events = events
	}
}

// WithReloads feeds reloaded templates into the wizard.
func WithReloads(reloads <-chan template.Template) Option {
	return func(a *App) {
		a.reloads = reloads
	}
}

// WithTracer records orchestrator and step spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *App) {
		a.tracer = tracer
	}
}

// WithOrchestratorOptions passes extra options (start step, prompt, logger)
// to the orchestrator.
func WithOrchestratorOptions(opts ...stepflow.Option) Option {
	return func(a *App) {
		a.orchOpts = append(a.orchOpts, opts...)
	}
}

// WithContext sets the context handed to orchestrator calls.
func WithContext(ctx context.Context) Option {
	return func(a *App) {
		if ctx != nil {
			a.ctx = ctx
		}
	}
}

type navigatedMsg struct {
	step int
	res  stepflow.NavigationResult
	err  error
}

type continuedMsg struct {
	step int
	ok   bool
	err  error
}

type cancelledMsg struct {
	step int
	err  error
}

type bridgeEventMsg struct {
	event  eventbridge.Event
	closed bool
}

type templateReloadedMsg struct {
	tmpl   template.Template
	closed bool
}

// App is the wizard model. In bubbletea, this holds ALL your state.
type App struct {
	ctx       context.Context
	tmpl      template.Template
	orch      *stepflow.Orchestrator
	steps     []*stepflow.Step
	forms     []*form
	confirmer *Confirmer
	logbook   *logbook.Logbook
	store     Submitter
	sessionID string
	events    <-chan eventbridge.Event
	reloads   <-chan template.Template
	tracer    trace.Tracer
	orchOpts  []stepflow.Option

	mu        sync.Mutex
	collected map[string]any

	keys      keyMap
	help      help.Model
	cursor    int
	focused   int
	dialog    *confirmRequest
	busy      bool
	finished  bool
	statusMsg string
	err       error
	width     int
	height    int
}

// New builds the wizard for a transformed template.
func New(tmpl template.Template, opts ...Option) (*App, error) {
	a := &App{
		ctx:       context.Background(),
		tmpl:      tmpl,
		confirmer: NewConfirmer(),
		collected: map[string]any{},
		keys:      defaultKeyMap(),
		help:      help.New(),
		focused:   stepflow.None,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	plan, err := tmpl.Plan()
	if err != nil {
		return nil, fmt.Errorf("tui: %w", err)
	}
	orchOpts := []stepflow.Option{
		stepflow.WithConfirmer(a.confirmer),
		stepflow.WithDirtyHandler(a.onDirty),
	}
	if a.tracer != nil {
		orchOpts = append(orchOpts, stepflow.WithTracer(a.tracer))
	}
	orchOpts = append(orchOpts, a.orchOpts...)
	a.orch, err = stepflow.New(plan, orchOpts...)
	if err != nil {
		return nil, fmt.Errorf("tui: %w", err)
	}
	for _, def := range plan.Steps() {
		content, _ := def.Content.(template.Step)
		if content.Title == "" {
			content = template.Step{StepNumber: def.Number, Title: def.Title}
		}
		number := def.Number
		stepOpts := []stepflow.StepOption{
			stepflow.WithOnContinue(a.complete),
			stepflow.WithOnCancel(func() { a.logStep(logbook.LevelInfo, number, "cancelled") }),
		}
		if a.tracer != nil {
			stepOpts = append(stepOpts, stepflow.WithStepTracer(a.tracer))
		}
		s, err := stepflow.NewStep(a.orch, def, stepOpts...)
		if err != nil {
			return nil, fmt.Errorf("tui: %w", err)
		}
		f := newForm(content, a.knownData)
		s.Mount(f)
		a.steps = append(a.steps, s)
		a.forms = append(a.forms, f)
	}
	if err := a.resume(); err != nil {
		return nil, err
	}
	a.cursor = 1
	a.syncFocus()
	a.logInfo("wizard %q started with %d steps", a.title(), plan.Len())
	return a, nil
}

// resume restores a stored session: saved steps count as completed, their
// forms show the saved values, and dependent steps see the merged data.
func (a *App) resume() error {
	history, ok := a.store.(History)
	if !ok || a.sessionID == "" {
		return nil
	}
	subs, err := history.List(a.ctx, a.sessionID)
	if err != nil {
		return fmt.Errorf("tui: resume session %s: %w", a.sessionID, err)
	}
	var done []int
	for _, sub := range subs {
		if sub.TemplateID != "" && sub.TemplateID != a.tmpl.ID {
			return fmt.Errorf("tui: session %s belongs to template %q", a.sessionID, sub.TemplateID)
		}
		if !a.orch.Plan().InRange(sub.Step) {
			continue
		}
		a.forms[sub.Step-1].restore(sub.Changes)
		done = append(done, sub.Step)
	}
	if err := a.refreshCollected(a.ctx); err != nil {
		return err
	}
	if len(done) == 0 {
		return nil
	}
	if err := a.orch.MarkCompleted(done...); err != nil {
		return fmt.Errorf("tui: resume session %s: %w", a.sessionID, err)
	}
	a.logInfo("resumed session %s with %d saved step(s)", a.sessionID, len(done))
	return nil
}

// refreshCollected merges the session's stored data into collected.
func (a *App) refreshCollected(ctx context.Context) error {
	history, ok := a.store.(History)
	if !ok || a.sessionID == "" {
		return nil
	}
	merged, err := history.Merged(ctx, a.sessionID)
	if err != nil {
		return fmt.Errorf("tui: load session %s: %w", a.sessionID, err)
	}
	a.mu.Lock()
	for k, v := range merged {
		a.collected[k] = v
	}
	a.mu.Unlock()
	return nil
}

// Orchestrator exposes the wizard state, for example to the bridge's /state.
func (a *App) Orchestrator() *stepflow.Orchestrator {
	return a.orch
}

// Collected returns a copy of the data saved so far.
func (a *App) Collected() map[string]any {
	return a.knownData()
}

func (a *App) knownData() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.collected))
	for k, v := range a.collected {
		out[k] = v
	}
	return out
}

// complete is every step's completion callback. It runs on a command
// goroutine.
func (a *App) complete(ctx context.Context, step int, changes stepflow.Changes) error {
	title := ""
	if def, ok := a.orch.Plan().Step(step); ok {
		title = def.Title
	}
	if a.store != nil {
		err := a.store.Save(ctx, submission.Submission{
			SessionID:  a.sessionID,
			TemplateID: a.tmpl.ID,
			Step:       step,
			Title:      title,
			Changes:    map[string]any(changes),
		})
		if err != nil {
			return fmt.Errorf("save step %d: %w", step, err)
		}
	}
	a.mu.Lock()
	for k, v := range changes {
		a.collected[k] = v
	}
	a.mu.Unlock()
	a.orch.SetDirty(false)
	a.logStep(logbook.LevelInfo, step, "saved %d field(s)", len(changes))
	return nil
}

func (a *App) onDirty(dirty bool) {
	if dirty {
		a.logStep(logbook.LevelInfo, a.orch.ActiveStep(), "unsaved changes")
	}
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Info(format, args...)
}

func (a *App) logStep(level logbook.Level, step int, format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Step(level, step, format, args...)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.confirmer.wait(), textinput.Blink}
	if cmd := a.waitForEvent(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	if cmd := a.waitForReload(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

func (a *App) waitForEvent() tea.Cmd {
	if a.events == nil {
		return nil
	}
	events := a.events
	return func() tea.Msg {
		event, ok := <-events
		return bridgeEventMsg{event: event, closed: !ok}
	}
}

func (a *App) waitForReload() tea.Cmd {
	if a.reloads == nil {
		return nil
	}
	reloads := a.reloads
	return func() tea.Msg {
		tmpl, ok := <-reloads
		return templateReloadedMsg{tmpl: tmpl, closed: !ok}
	}
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		return a, nil

	case confirmRequestMsg:
		req := msg.req
		a.dialog = &req
		return a, nil

	case navigatedMsg:
		a.busy = false
		a.handleNavigation(msg)
		return a, a.syncFocus()

	case continuedMsg:
		a.busy = false
		switch {
		case msg.err != nil:
			a.err = msg.err
			a.logStep(logbook.LevelError, msg.step, "continue failed: %v", msg.err)
		case !msg.ok:
			a.statusMsg = a.forms[msg.step-1].problemText()
			a.logStep(logbook.LevelWarn, msg.step, "not ready: %s", a.statusMsg)
		default:
			a.err = nil
			a.statusMsg = fmt.Sprintf("Step %d complete", msg.step)
			a.logStep(logbook.LevelInfo, msg.step, "completed")
		}
		return a, a.syncFocus()

	case cancelledMsg:
		a.busy = false
		a.forms[msg.step-1].syncInputs()
		if msg.err != nil {
			a.err = msg.err
		} else {
			a.statusMsg = fmt.Sprintf("Step %d closed", msg.step)
		}
		return a, a.syncFocus()

	case bridgeEventMsg:
		if msg.closed {
			return a, nil
		}
		if cmd := a.applyEvent(msg.event); cmd != nil {
			return a, cmd
		}
		return a, tea.Batch(a.waitForEvent(), a.syncFocus())

	case templateReloadedMsg:
		if msg.closed {
			return a, nil
		}
		a.applyReload(msg.tmpl)
		return a, tea.Batch(a.waitForReload(), a.syncFocus())

	case tea.KeyMsg:
		return a, a.handleKey(msg)
	}

	if f := a.activeForm(); f != nil {
		return a, f.update(msg)
	}
	return a, nil
}

func (a *App) handleNavigation(msg navigatedMsg) {
	res := msg.res
	if msg.err != nil {
		switch {
		case errors.Is(msg.err, stepflow.ErrStepDisabled):
			a.statusMsg = fmt.Sprintf("Step %d unlocks once the other steps are complete", msg.step)
		case errors.Is(msg.err, stepflow.ErrNavigationInFlight):
			a.statusMsg = "Still answering the last request"
		default:
			a.err = msg.err
			a.logStep(logbook.LevelError, res.From, "navigation failed: %v", msg.err)
		}
		return
	}
	a.err = nil
	switch {
	case res.Prompted && !res.Confirmed:
		a.statusMsg = "Changes kept; still on this step"
		a.logStep(logbook.LevelWarn, res.From, "save declined")
	case res.Prompted && !res.Saved:
		a.statusMsg = a.forms[res.From-1].problemText()
		a.logStep(logbook.LevelWarn, res.From, "save did not complete: %s", a.statusMsg)
	case res.Saved:
		a.logStep(logbook.LevelInfo, res.From, "saved before leaving")
	}
	if res.Switched {
		if res.Active == stepflow.None {
			a.logStep(logbook.LevelInfo, res.From, "closed")
		} else {
			a.logStep(logbook.LevelInfo, res.Active, "opened")
		}
	}
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+c" {
		return tea.Quit
	}
	if a.dialog != nil {
		switch {
		case key.Matches(msg, a.keys.Yes):
			return a.answer(true)
		case key.Matches(msg, a.keys.No):
			return a.answer(false)
		}
		return nil
	}
	if a.busy {
		return nil
	}
	active := a.orch.ActiveStep()
	if active == stepflow.None {
		switch {
		case key.Matches(msg, a.keys.Quit):
			return tea.Quit
		case key.Matches(msg, a.keys.Up):
			if a.cursor > 1 {
				a.cursor--
			}
		case key.Matches(msg, a.keys.Down):
			if a.cursor < len(a.steps) {
				a.cursor++
			}
		case key.Matches(msg, a.keys.Toggle):
			return a.activate(a.cursor)
		}
		return nil
	}

	f := a.forms[active-1]
	switch {
	case key.Matches(msg, a.keys.Continue):
		return a.continueStep(active)
	case key.Matches(msg, a.keys.Cancel):
		return a.cancelStep(active)
	case key.Matches(msg, a.keys.NextStep):
		return a.activate(a.neighbour(active, 1))
	case key.Matches(msg, a.keys.PrevStep):
		return a.activate(a.neighbour(active, -1))
	case msg.String() == "enter" && f.onLastField():
		return a.continueStep(active)
	case key.Matches(msg, a.keys.NextField):
		return f.move(1)
	case key.Matches(msg, a.keys.PrevField):
		return f.move(-1)
	}
	return f.update(msg)
}

func (a *App) answer(ok bool) tea.Cmd {
	req := a.dialog
	a.dialog = nil
	req.reply <- ok
	return a.confirmer.wait()
}

// neighbour returns the closest enabled step in direction dir, wrapping.
func (a *App) neighbour(from, dir int) int {
	n := len(a.steps)
	for i := 1; i < n; i++ {
		candidate := ((from-1+dir*i)%n+n)%n + 1
		if !a.orch.Disabled(candidate) {
			return candidate
		}
	}
	return from
}

func (a *App) activate(step int) tea.Cmd {
	if step < 1 || step > len(a.steps) {
		return nil
	}
	if a.orch.Disabled(step) {
		a.statusMsg = fmt.Sprintf("Step %d unlocks once the other steps are complete", step)
		return nil
	}
	s := a.steps[step-1]
	ctx := a.ctx
	a.busy = true
	a.statusMsg = ""
	return func() tea.Msg {
		res, err := s.SetActivation(ctx)
		return navigatedMsg{step: step, res: res, err: err}
	}
}

func (a *App) continueStep(step int) tea.Cmd {
	s := a.steps[step-1]
	if !s.CanContinue() {
		a.statusMsg = "Continue is not available for this step"
		return nil
	}
	ctx := a.ctx
	a.busy = true
	a.statusMsg = "Saving…"
	return func() tea.Msg {
		ok, err := s.RequestContinue(ctx)
		return continuedMsg{step: step, ok: ok, err: err}
	}
}

func (a *App) cancelStep(step int) tea.Cmd {
	s := a.steps[step-1]
	ctx := a.ctx
	a.busy = true
	return func() tea.Msg {
		return cancelledMsg{step: step, err: s.RequestCancel(ctx)}
	}
}

func (a *App) applyEvent(event eventbridge.Event) tea.Cmd {
	if event.SessionID != "" && a.sessionID != "" && event.SessionID != a.sessionID {
		return nil
	}
	switch event.Type {
	case eventbridge.TypeStepCompleted:
		if err := a.orch.MarkCompleted(event.Step); err != nil {
			a.logStep(logbook.LevelWarn, event.Step, "ignored bridge completion %s: %v", event.EventID, err)
			return nil
		}
		a.logStep(logbook.LevelInfo, event.Step, "completed via bridge (%s)", event.EventID)
		// Bridge events carry no data; anything saved for the session elsewhere
		// still reaches the dependent steps.
		if err := a.refreshCollected(a.ctx); err != nil {
			a.logStep(logbook.LevelWarn, event.Step, "%v", err)
		}
	case eventbridge.TypeDirtyChanged:
		dirty, err := event.Dirty()
		if err != nil {
			a.logInfo("ignored bridge event %s: %v", event.EventID, err)
			return nil
		}
		a.orch.SetDirty(dirty)
	case eventbridge.TypeSessionEnd:
		a.logInfo("session ended via bridge (%s)", event.EventID)
		return tea.Quit
	}
	return nil
}

func (a *App) applyReload(tmpl template.Template) {
	if len(tmpl.Steps) != a.orch.Plan().Len() {
		a.logbook.Warn("template reloaded with %d steps; restart to apply", len(tmpl.Steps))
		a.statusMsg = "Template changed shape; restart to apply"
		return
	}
	if err := a.orch.Reconcile(tmpl.Definitions()); err != nil {
		a.logbook.Error("template reload: %v", err)
		a.err = err
		return
	}
	a.logInfo("template reloaded")
}

// syncFocus moves keyboard focus to the active step's form and notices when
// the wizard is finished.
func (a *App) syncFocus() tea.Cmd {
	active := a.orch.ActiveStep()
	if active != stepflow.None {
		a.cursor = active
	}
	if !a.finished && a.orch.Snapshot().Done() {
		a.finished = true
		a.statusMsg = "All steps complete. Press q to quit."
		a.logInfo("wizard %q complete", a.title())
	}
	if active == a.focused {
		return nil
	}
	if a.focused != stepflow.None {
		a.forms[a.focused-1].blurAll()
	}
	a.focused = active
	if active == stepflow.None {
		return nil
	}
	return a.forms[active-1].focusFirst()
}

func (a *App) activeForm() *form {
	active := a.orch.ActiveStep()
	if active == stepflow.None {
		return nil
	}
	return a.forms[active-1]
}

func (a *App) title() string {
	for _, candidate := range []string{a.tmpl.Name, a.tmpl.CampaignName, a.tmpl.ID} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return "wizard"
}
