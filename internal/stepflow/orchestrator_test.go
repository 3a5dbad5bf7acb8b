package stepflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOrchestratorStartsAtFirstStep(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")))
	if got := orch.ActiveStep(); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}
	if !orch.ShowIconBar(1) || orch.ShowIconBar(2) {
		t.Fatalf("icon bar should show for every step except the last")
	}
}

func TestOrchestratorRejectsOutOfRangeStart(t *testing.T) {
	_, err := New(mustPlan(t, step("One")), WithStartStep(4))
	if !errors.Is(err, ErrStepOutOfRange) {
		t.Fatalf("expected ErrStepOutOfRange, got %v", err)
	}
}

func TestOrchestratorCompletionSequence(t *testing.T) {
	ctx := context.Background()
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two"), step("Three")))
	for _, tc := range []struct {
		complete int
		want     int
	}{
		{complete: 2, want: 1},
		{complete: 1, want: 3},
		{complete: 3, want: None},
	} {
		if err := orch.OnStepCompleted(ctx, tc.complete); err != nil {
			t.Fatalf("complete %d: %v", tc.complete, err)
		}
		if got := orch.ActiveStep(); got != tc.want {
			t.Fatalf("after completing %d active = %d, want %d", tc.complete, got, tc.want)
		}
	}
	if !orch.Snapshot().Done() {
		t.Fatalf("expected snapshot to report done")
	}
}

func TestOrchestratorCompletionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two"), step("Three")))
	if err := orch.OnStepCompleted(ctx, 1); err != nil {
		t.Fatalf("complete: %v", err)
	}
	first := orch.ActiveStep()
	if err := orch.OnStepCompleted(ctx, 1); err != nil {
		t.Fatalf("complete again: %v", err)
	}
	if got := orch.ActiveStep(); got != first {
		t.Fatalf("second completion changed active %d -> %d", first, got)
	}
	if got := orch.Snapshot().Completed; len(got) != 1 || got[0] != 1 {
		t.Fatalf("completed = %v, want [1]", got)
	}
}

func TestOrchestratorGatesDependentSteps(t *testing.T) {
	ctx := context.Background()
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two"), dependent("Review")))
	if !orch.Disabled(3) {
		t.Fatalf("dependent step should start disabled")
	}
	if _, err := orch.Navigate(ctx, 3, false); !errors.Is(err, ErrStepDisabled) {
		t.Fatalf("expected ErrStepDisabled, got %v", err)
	}
	if got := orch.ActiveStep(); got != 1 {
		t.Fatalf("rejected navigation changed active to %d", got)
	}
	if err := orch.OnStepCompleted(ctx, 1); err != nil {
		t.Fatalf("complete 1: %v", err)
	}
	if !orch.Disabled(3) {
		t.Fatalf("dependent step should stay disabled until every non-dependent step completes")
	}
	if err := orch.OnStepCompleted(ctx, 2); err != nil {
		t.Fatalf("complete 2: %v", err)
	}
	if orch.Disabled(3) {
		t.Fatalf("dependent step should be enabled once 1 and 2 are complete")
	}
	if got := orch.ActiveStep(); got != 3 {
		t.Fatalf("active = %d, want 3", got)
	}
}

func TestOrchestratorGateIgnoresCompletedDependentSteps(t *testing.T) {
	ctx := context.Background()
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two"), dependent("Review"), dependent("Launch")))
	if err := orch.MarkCompleted(3); err != nil {
		t.Fatalf("mark 3: %v", err)
	}
	if err := orch.OnStepCompleted(ctx, 1); err != nil {
		t.Fatalf("complete 1: %v", err)
	}
	if got := orch.ActiveStep(); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}
	if !orch.Disabled(4) {
		t.Fatalf("step 4 should stay disabled while step 2 is open")
	}
	if _, err := orch.Navigate(ctx, 4, false); !errors.Is(err, ErrStepDisabled) {
		t.Fatalf("expected ErrStepDisabled, got %v", err)
	}
	if err := orch.OnStepCompleted(ctx, 2); err != nil {
		t.Fatalf("complete 2: %v", err)
	}
	if orch.Disabled(4) {
		t.Fatalf("step 4 should be enabled once 1 and 2 are complete")
	}
	if got := orch.ActiveStep(); got != 4 {
		t.Fatalf("active = %d, want 4", got)
	}
	assertInvariants(t, orch)
}

func TestOrchestratorNeverActivatesDisabledStart(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One"), dependent("Review"), step("Three")), WithStartStep(2))
	if got := orch.ActiveStep(); got != 3 {
		t.Fatalf("active = %d, want 3", got)
	}
}

func TestOrchestratorNavigateTogglesActiveStep(t *testing.T) {
	ctx := context.Background()
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")))
	res, err := orch.Navigate(ctx, 1, false)
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if res.Active != None || orch.ActiveStep() != None {
		t.Fatalf("navigating to the active step should close it, got %d", orch.ActiveStep())
	}
	if _, err := orch.Navigate(ctx, 2, false); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if !orch.Active(2) || orch.Active(1) {
		t.Fatalf("expected only step 2 active")
	}
	if _, err := orch.Navigate(ctx, 7, false); !errors.Is(err, ErrStepOutOfRange) {
		t.Fatalf("expected ErrStepOutOfRange, got %v", err)
	}
}

func TestOrchestratorDirtyNavigationDeclined(t *testing.T) {
	ctx := context.Background()
	confirm := &countingConfirmer{answer: false}
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")),
		WithDirtyHandler(func(bool) {}), WithConfirmer(confirm))
	saves := 0
	mustRegister(t, orch, 1, func(context.Context) (bool, error) {
		saves++
		return true, nil
	})
	orch.SetDirty(true)
	res, err := orch.Navigate(ctx, 2, false)
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if confirm.calls != 1 {
		t.Fatalf("confirm calls = %d, want 1", confirm.calls)
	}
	if res.Switched || orch.ActiveStep() != 1 {
		t.Fatalf("declined navigation must not switch, active = %d", orch.ActiveStep())
	}
	if saves != 0 {
		t.Fatalf("declined navigation must not save")
	}
	if !orch.Dirty() {
		t.Fatalf("declined navigation must leave dirty set")
	}
	if got := orch.Snapshot().Completed; len(got) != 0 {
		t.Fatalf("completed changed to %v", got)
	}
}

func TestOrchestratorLogsDirtySaveBeforePrompt(t *testing.T) {
	var lines []string
	logger := loggerFunc(func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	})
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")),
		WithDirtyHandler(func(bool) {}), WithConfirmer(StaticConfirmer(false)), WithLogger(logger))
	orch.SetDirty(true)
	if _, err := orch.Navigate(context.Background(), 2, false); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if len(lines) != 1 || lines[0] != "template-stepper-dirty-save-1" {
		t.Fatalf("log lines = %q", lines)
	}
}

type loggerFunc func(format string, args ...any)

func (f loggerFunc) Printf(format string, args ...any) { f(format, args...) }

func TestOrchestratorDirtyNavigationConfirmedSavesOnce(t *testing.T) {
	ctx := context.Background()
	confirm := &countingConfirmer{answer: true}
	var dirtyEvents []bool
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two"), step("Three")),
		WithDirtyHandler(func(d bool) { dirtyEvents = append(dirtyEvents, d) }), WithConfirmer(confirm))
	saves := 0
	mustRegister(t, orch, 1, func(ctx context.Context) (bool, error) {
		saves++
		return true, orch.OnStepCompleted(ctx, 1)
	})
	orch.SetDirty(true)
	res, err := orch.Navigate(ctx, 3, false)
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if confirm.calls != 1 || saves != 1 {
		t.Fatalf("confirm calls = %d saves = %d, want 1 and 1", confirm.calls, saves)
	}
	if !res.Saved || !res.Switched || orch.ActiveStep() != 3 {
		t.Fatalf("expected save then switch to 3, got %+v active=%d", res, orch.ActiveStep())
	}
	if !orch.Completed(1) {
		t.Fatalf("saved step should be completed")
	}
	if orch.Dirty() {
		t.Fatalf("dirty flag should clear after a save")
	}
	if len(dirtyEvents) != 2 || dirtyEvents[0] != true || dirtyEvents[1] != false {
		t.Fatalf("dirty handler events = %v", dirtyEvents)
	}
}

func TestOrchestratorDirtyBypassSkipsPrompt(t *testing.T) {
	confirm := &countingConfirmer{answer: false}
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")),
		WithDirtyHandler(func(bool) {}), WithConfirmer(confirm))
	orch.SetDirty(true)
	if _, err := orch.Navigate(context.Background(), None, true); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if confirm.calls != 0 || orch.ActiveStep() != None {
		t.Fatalf("bypass should switch without prompting (calls=%d active=%d)", confirm.calls, orch.ActiveStep())
	}
}

func TestOrchestratorDirtyWithoutHandlerNavigatesFreely(t *testing.T) {
	confirm := &countingConfirmer{answer: false}
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")), WithConfirmer(confirm))
	orch.SetDirty(true)
	if _, err := orch.Navigate(context.Background(), 2, false); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if confirm.calls != 0 || orch.ActiveStep() != 2 {
		t.Fatalf("untracked dirty flag should not prompt")
	}
}

func TestOrchestratorDirtyWithoutConfirmerRefuses(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")), WithDirtyHandler(func(bool) {}))
	orch.SetDirty(true)
	_, err := orch.Navigate(context.Background(), 2, false)
	if !errors.Is(err, ErrNoConfirmer) {
		t.Fatalf("expected ErrNoConfirmer, got %v", err)
	}
	if orch.ActiveStep() != 1 || !orch.Dirty() {
		t.Fatalf("refused navigation must leave state untouched")
	}
}

func TestOrchestratorConfirmedWithoutContinuationRefuses(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")),
		WithDirtyHandler(func(bool) {}), WithConfirmer(StaticConfirmer(true)))
	orch.SetDirty(true)
	_, err := orch.Navigate(context.Background(), 2, false)
	if !errors.Is(err, ErrNoContinuation) {
		t.Fatalf("expected ErrNoContinuation, got %v", err)
	}
	if orch.ActiveStep() != 1 {
		t.Fatalf("active = %d, want 1", orch.ActiveStep())
	}
}

func TestOrchestratorRejectsOverlappingNavigation(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	confirm := ConfirmFunc(func(context.Context, string) (bool, error) {
		close(entered)
		<-release
		return false, nil
	})
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")),
		WithDirtyHandler(func(bool) {}), WithConfirmer(confirm))
	orch.SetDirty(true)
	done := make(chan error, 1)
	go func() {
		_, err := orch.Navigate(ctx, 2, false)
		done <- err
	}()
	<-entered
	if _, err := orch.Navigate(ctx, 2, true); !errors.Is(err, ErrNavigationInFlight) {
		t.Fatalf("expected ErrNavigationInFlight, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first navigation: %v", err)
	}
	if orch.ActiveStep() != 1 {
		t.Fatalf("active = %d, want 1", orch.ActiveStep())
	}
}

func TestOrchestratorLatestRegistrationWins(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")),
		WithDirtyHandler(func(bool) {}), WithConfirmer(StaticConfirmer(true)))
	var calls []string
	mustRegister(t, orch, 1, func(context.Context) (bool, error) {
		calls = append(calls, "first")
		return true, nil
	})
	mustRegister(t, orch, 1, func(context.Context) (bool, error) {
		calls = append(calls, "second")
		return true, nil
	})
	orch.SetDirty(true)
	if _, err := orch.Navigate(context.Background(), 2, false); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if len(calls) != 1 || calls[0] != "second" {
		t.Fatalf("calls = %v, want [second]", calls)
	}
}

func TestOrchestratorRegisterRejectsUnknownStep(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One")))
	err := orch.RegisterContinuation(Registration{Step: 2, Continue: func(context.Context) (bool, error) { return true, nil }})
	if !errors.Is(err, ErrStepOutOfRange) {
		t.Fatalf("expected ErrStepOutOfRange, got %v", err)
	}
}

func TestOrchestratorMergesPreCompletedSteps(t *testing.T) {
	plan := mustPlan(t, StepDefinition{Title: "One", Completed: true}, step("Two"), step("Three"))
	orch := mustOrchestrator(t, plan)
	if got := orch.ActiveStep(); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}
	if err := orch.Reconcile([]StepDefinition{
		{Title: "One", Completed: true},
		{Title: "Two", Completed: true},
		{Title: "Three"},
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := orch.ActiveStep(); got != 3 {
		t.Fatalf("active after reconcile = %d, want 3", got)
	}
	if err := orch.Reconcile([]StepDefinition{{Title: "One"}}); err == nil {
		t.Fatalf("expected error when reconcile changes step count")
	}
}

func TestOrchestratorMarkCompletedKeepsActiveWhenUnaffected(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two"), step("Three")))
	if err := orch.MarkCompleted(3); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if got := orch.ActiveStep(); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}
	if err := orch.MarkCompleted(5); !errors.Is(err, ErrStepOutOfRange) {
		t.Fatalf("expected ErrStepOutOfRange, got %v", err)
	}
}

func TestOrchestratorInvariantsHoldAcrossCompletionOrders(t *testing.T) {
	ctx := context.Background()
	orders := [][]int{{1, 2, 3, 4}, {4, 3, 2, 1}, {2, 4, 1, 3}, {3, 1, 4, 2}}
	for _, order := range orders {
		orch := mustOrchestrator(t, mustPlan(t, step("A"), dependent("B"), step("C"), dependent("D")))
		for _, n := range order {
			if orch.Disabled(n) {
				continue
			}
			if err := orch.OnStepCompleted(ctx, n); err != nil {
				t.Fatalf("complete %d: %v", n, err)
			}
			assertInvariants(t, orch)
		}
	}
}

func TestOrchestratorRecordsNavigationSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	orch := mustOrchestrator(t, mustPlan(t, step("One"), dependent("Two")), WithTracer(provider.Tracer("test")))
	if _, err := orch.Navigate(context.Background(), 2, false); err == nil {
		t.Fatalf("expected disabled error")
	}
	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "stepflow.navigate" {
		t.Fatalf("unexpected spans: %d", len(spans))
	}
	if len(spans[0].Events()) == 0 {
		t.Fatalf("expected error event on navigate span")
	}
}

func assertInvariants(t *testing.T, orch *Orchestrator) {
	t.Helper()
	snap := orch.Snapshot()
	if snap.Active != None && (snap.Active < 1 || snap.Active > len(snap.Steps)) {
		t.Fatalf("active %d out of range", snap.Active)
	}
	actives := 0
	for _, view := range snap.Steps {
		if view.Active {
			actives++
			if view.Disabled {
				t.Fatalf("disabled step %d is active", view.Number)
			}
		}
	}
	if actives > 1 {
		t.Fatalf("%d steps active", actives)
	}
	plan := orch.Plan()
	if snap.Active != None && plan.IsDependent(snap.Active) {
		for _, n := range plan.numbers() {
			if !plan.IsDependent(n) && !orch.Completed(n) {
				t.Fatalf("dependent step %d active while %d incomplete", snap.Active, n)
			}
		}
	}
}

type countingConfirmer struct {
	answer bool
	calls  int
}

func (c *countingConfirmer) Confirm(context.Context, string) (bool, error) {
	c.calls++
	return c.answer, nil
}

func mustOrchestrator(t *testing.T, plan Plan, opts ...Option) *Orchestrator {
	t.Helper()
	orch, err := New(plan, opts...)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch
}

func mustRegister(t *testing.T, orch *Orchestrator, step int, fn ContinuationFunc) {
	t.Helper()
	if err := orch.RegisterContinuation(Registration{Step: step, Title: "test", Continue: fn}); err != nil {
		t.Fatalf("register: %v", err)
	}
}
