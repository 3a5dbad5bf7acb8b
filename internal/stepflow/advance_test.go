package stepflow

import "testing"

func TestNextActiveAdvancesPastCompletedStep(t *testing.T) {
	plan := mustPlan(t, step("One"), step("Two"), step("Three"))
	got := NextActive(plan, completedSet(2), 2)
	if got != 3 {
		t.Fatalf("next active = %d, want 3", got)
	}
}

func TestNextActiveWrapsToFirstGap(t *testing.T) {
	plan := mustPlan(t, step("One"), step("Two"), step("Three"))
	got := NextActive(plan, completedSet(3, 2), 3)
	if got != 1 {
		t.Fatalf("next active = %d, want 1", got)
	}
}

func TestNextActivePrefersNonDependentGaps(t *testing.T) {
	plan := mustPlan(t, step("One"), dependent("Review"), step("Three"))
	got := NextActive(plan, completedSet(1), 1)
	if got != 3 {
		t.Fatalf("next active = %d, want 3 (dependent step 2 must wait)", got)
	}
}

func TestNextActiveMovesToDependentTierWhenNonDependentDone(t *testing.T) {
	plan := mustPlan(t, dependent("Intro"), step("Two"), step("Three"), dependent("Review"))
	if got := NextActive(plan, completedSet(2, 3), 3); got != 4 {
		t.Fatalf("next active = %d, want 4", got)
	}
	if got := NextActive(plan, completedSet(2, 3, 4), 4); got != 1 {
		t.Fatalf("next active = %d, want dependent wrap to 1", got)
	}
}

func TestNextActiveReturnsNoneWhenEverythingComplete(t *testing.T) {
	plan := mustPlan(t, step("One"), dependent("Two"))
	if got := NextActive(plan, completedSet(1, 2), 2); got != None {
		t.Fatalf("next active = %d, want None", got)
	}
}

func TestNextActiveCompletionOrderExample(t *testing.T) {
	plan := mustPlan(t, step("One"), step("Two"), step("Three"))
	done := map[int]bool{}
	var sequence []int
	for _, n := range []int{2, 1, 3} {
		done[n] = true
		sequence = append(sequence, NextActive(plan, done, n))
	}
	want := []int{1, 3, None}
	for i := range want {
		if sequence[i] != want[i] {
			t.Fatalf("active sequence = %v, want %v", sequence, want)
		}
	}
}

func TestNewPlanNumbersByPosition(t *testing.T) {
	plan, err := NewPlan([]StepDefinition{
		{Number: 9, Title: "A"},
		{Number: 9, Title: " B "},
	})
	if err != nil {
		t.Fatalf("new plan: %v", err)
	}
	steps := plan.Steps()
	if steps[0].Number != 1 || steps[1].Number != 2 {
		t.Fatalf("numbers = %d,%d, want 1,2", steps[0].Number, steps[1].Number)
	}
	if steps[1].Title != "B" {
		t.Fatalf("title not trimmed: %q", steps[1].Title)
	}
}

func TestNewPlanRejectsEmptyAndUntitled(t *testing.T) {
	if _, err := NewPlan(nil); err == nil {
		t.Fatalf("expected error for empty plan")
	}
	if _, err := NewPlan([]StepDefinition{{Title: "ok"}, {Title: "  "}}); err == nil {
		t.Fatalf("expected error for blank title")
	}
}

func step(title string) StepDefinition {
	return StepDefinition{Title: title}
}

func dependent(title string) StepDefinition {
	return StepDefinition{Title: title, Dependent: true}
}

func completedSet(steps ...int) map[int]bool {
	out := map[int]bool{}
	for _, n := range steps {
		out[n] = true
	}
	return out
}

func mustPlan(t *testing.T, defs ...StepDefinition) Plan {
	t.Helper()
	plan, err := NewPlan(defs)
	if err != nil {
		t.Fatalf("new plan: %v", err)
	}
	return plan
}
