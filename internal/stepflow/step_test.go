package stepflow

import (
	"context"
	"errors"
	"testing"
)

func TestStepRegistersOnMount(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")))
	mustStep(t, orch, 2)
	if !orch.Registered(2) || orch.Registered(1) {
		t.Fatalf("expected only step 2 registered, snapshot %v", orch.Snapshot().Registered)
	}
}

func TestStepContinueRunsHooksInOrder(t *testing.T) {
	ctx := context.Background()
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")))
	var order []string
	var gotChanges Changes
	s := mustStep(t, orch, 1, WithOnContinue(func(_ context.Context, n int, changes Changes) error {
		order = append(order, "complete")
		if n != 1 {
			t.Fatalf("completion step = %d, want 1", n)
		}
		gotChanges = changes
		return nil
	}))
	s.SetValidateCallback(func(_ context.Context, args ...any) (bool, error) {
		order = append(order, "validate")
		if len(args) != 1 || args[0] != "budget" {
			t.Fatalf("validator args = %v", args)
		}
		return true, nil
	})
	s.SetContinueCallback(func(context.Context) (Changes, error) {
		order = append(order, "continue")
		return Changes{"budget": 100}, nil
	}, "budget")
	ok, err := s.RequestContinue(ctx)
	if err != nil || !ok {
		t.Fatalf("continue = %v, %v", ok, err)
	}
	want := []string{"validate", "continue", "complete"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("hook order = %v, want %v", order, want)
		}
	}
	if gotChanges["budget"] != 100 {
		t.Fatalf("changes = %v", gotChanges)
	}
	if !orch.Completed(1) || orch.ActiveStep() != 2 {
		t.Fatalf("expected step 1 completed and step 2 active")
	}
	if s.State() != StepCompleted {
		t.Fatalf("state = %s, want completed", s.State())
	}
}

func TestStepContinueDefaultsToEmptyChanges(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One")))
	var got Changes
	s := mustStep(t, orch, 1, WithOnContinue(func(_ context.Context, _ int, changes Changes) error {
		got = changes
		return nil
	}))
	if _, err := s.RequestContinue(context.Background()); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("changes = %#v, want empty record", got)
	}
	if orch.ActiveStep() != None {
		t.Fatalf("single step wizard should be done, active = %d", orch.ActiveStep())
	}
}

func TestStepValidationRejectionLeavesStepActive(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")))
	completions := 0
	s := mustStep(t, orch, 1, WithOnContinue(func(context.Context, int, Changes) error {
		completions++
		return nil
	}))
	s.SetValidateCallback(func(context.Context, ...any) (bool, error) {
		return false, errors.New("missing budget")
	})
	ok, err := s.RequestContinue(context.Background())
	if err != nil || ok {
		t.Fatalf("continue = %v, %v; want false, nil", ok, err)
	}
	if completions != 0 || orch.Completed(1) || s.State() != StepActive {
		t.Fatalf("rejected validation must not advance")
	}
}

func TestStepContinueFailureReenablesTrigger(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")))
	boom := errors.New("boom")
	s := mustStep(t, orch, 1, WithOnContinue(func(context.Context, int, Changes) error {
		return boom
	}))
	_, err := s.RequestContinue(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s.Continuing() || !s.CanContinue() {
		t.Fatalf("continue control should re-enable after failure")
	}
	if orch.Completed(1) {
		t.Fatalf("failed completion must not mark step completed")
	}
}

func TestStepRejectsConcurrentContinue(t *testing.T) {
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")))
	entered := make(chan struct{})
	release := make(chan struct{})
	s := mustStep(t, orch, 1)
	s.SetContinueCallback(func(context.Context) (Changes, error) {
		close(entered)
		<-release
		return nil, nil
	})
	done := make(chan error, 1)
	go func() {
		_, err := s.RequestContinue(context.Background())
		done <- err
	}()
	<-entered
	if s.State() != StepContinuing || s.CanContinue() {
		t.Fatalf("step should be continuing with the trigger disabled")
	}
	if _, err := s.RequestContinue(context.Background()); !errors.Is(err, ErrContinueInFlight) {
		t.Fatalf("expected ErrContinueInFlight, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first continue: %v", err)
	}
}

func TestStepCancelClosesWithoutPrompt(t *testing.T) {
	confirm := &countingConfirmer{answer: false}
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")),
		WithDirtyHandler(func(bool) {}), WithConfirmer(confirm))
	var order []string
	s := mustStep(t, orch, 1, WithOnCancel(func() { order = append(order, "external") }))
	s.SetCancelCallback(func() { order = append(order, "hook") })
	orch.SetDirty(true)
	if err := s.RequestCancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if confirm.calls != 0 {
		t.Fatalf("cancel must not prompt")
	}
	if orch.ActiveStep() != None {
		t.Fatalf("active = %d, want None", orch.ActiveStep())
	}
	if len(order) != 2 || order[0] != "hook" || order[1] != "external" {
		t.Fatalf("cancel order = %v", order)
	}
}

func TestStepSetActivationToggles(t *testing.T) {
	ctx := context.Background()
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two"), dependent("Review")))
	one := mustStep(t, orch, 1)
	two := mustStep(t, orch, 2)
	review := mustStep(t, orch, 3)
	if _, err := two.SetActivation(ctx); err != nil {
		t.Fatalf("activate two: %v", err)
	}
	if two.State() != StepActive || one.State() != StepInactive {
		t.Fatalf("expected step 2 active")
	}
	if _, err := two.SetActivation(ctx); err != nil {
		t.Fatalf("toggle two: %v", err)
	}
	if orch.ActiveStep() != None {
		t.Fatalf("second click should close step 2")
	}
	if _, err := review.SetActivation(ctx); !errors.Is(err, ErrStepDisabled) {
		t.Fatalf("expected disabled review step, got %v", err)
	}
}

func TestStepDirtySaveUsesRegisteredContinue(t *testing.T) {
	ctx := context.Background()
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two"), step("Three")),
		WithDirtyHandler(func(bool) {}), WithConfirmer(StaticConfirmer(true)))
	saved := Changes{}
	one := mustStep(t, orch, 1, WithOnContinue(func(_ context.Context, _ int, changes Changes) error {
		for k, v := range changes {
			saved[k] = v
		}
		return nil
	}))
	three := mustStep(t, orch, 3)
	content := &fakeContent{value: "draft"}
	one.Mount(content)
	content.edit("final")
	if !orch.Dirty() {
		t.Fatalf("content edit should mark the orchestrator dirty")
	}
	res, err := three.SetActivation(ctx)
	if err != nil {
		t.Fatalf("activate three: %v", err)
	}
	if !res.Prompted || !res.Saved || orch.ActiveStep() != 3 {
		t.Fatalf("expected prompt, save, and switch; got %+v", res)
	}
	if saved["value"] != "final" || !orch.Completed(1) || orch.Dirty() {
		t.Fatalf("dirty save did not persist step 1: saved=%v", saved)
	}
}

func TestStepRegistersOnceAndSeesLaterHooks(t *testing.T) {
	ctx := context.Background()
	orch := mustOrchestrator(t, mustPlan(t, step("One"), step("Two")),
		WithDirtyHandler(func(bool) {}), WithConfirmer(StaticConfirmer(true)))
	coord := &registrationCounter{Orchestrator: orch}
	def, _ := orch.Plan().Step(1)
	one, err := NewStep(coord, def)
	if err != nil {
		t.Fatalf("new step: %v", err)
	}
	validated := false
	one.SetValidateCallback(func(context.Context, ...any) (bool, error) {
		validated = true
		return true, nil
	})
	one.SetCancelCallback(func() {})
	content := &fakeContent{value: "draft"}
	one.Mount(content)
	if coord.registrations != 1 {
		t.Fatalf("registrations = %d, want 1", coord.registrations)
	}
	content.edit("final")
	if _, err := orch.Navigate(ctx, 2, false); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if !validated || !orch.Completed(1) {
		t.Fatalf("registered continuation ignored hooks set after NewStep")
	}
}

type registrationCounter struct {
	*Orchestrator
	registrations int
}

func (r *registrationCounter) RegisterContinuation(reg Registration) error {
	r.registrations++
	return r.Orchestrator.RegisterContinuation(reg)
}

type fakeContent struct {
	hooks Hooks
	value string
}

func (c *fakeContent) Bind(h Hooks) {
	c.hooks = h
	h.SetContinueCallback(func(context.Context) (Changes, error) {
		return Changes{"value": c.value}, nil
	})
}

func (c *fakeContent) edit(value string) {
	c.value = value
	c.hooks.SetDirty(true)
}

func mustStep(t *testing.T, orch *Orchestrator, number int, opts ...StepOption) *Step {
	t.Helper()
	def, ok := orch.Plan().Step(number)
	if !ok {
		t.Fatalf("no step %d", number)
	}
	s, err := NewStep(orch, def, opts...)
	if err != nil {
		t.Fatalf("new step: %v", err)
	}
	return s
}
