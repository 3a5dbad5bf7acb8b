package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/stepflow/internal/stepflow"
	"github.com/kingrea/stepflow/internal/template"
)

var errDependenciesUnmet = errors.New("finish the earlier steps first")

// form is the content of one template step: a column of text inputs bound
// into the step's validate, continue, and cancel hooks. Inputs are only
// touched from Update; the hooks run on command goroutines and read the
// mirrored values under mu.
type form struct {
	step   template.Step
	inputs []textinput.Model
	focus  int
	known  func() map[string]any

	mu       sync.Mutex
	hooks    stepflow.Hooks
	values   map[string]string
	saved    map[string]string
	problem  string
	reverted bool
}

func newForm(step template.Step, known func() map[string]any) *form {
	f := &form{
		step:   step,
		known:  known,
		values: map[string]string{},
		saved:  map[string]string{},
	}
	for _, field := range step.Fields {
		in := textinput.New()
		in.Prompt = ""
		in.Placeholder = field.Placeholder
		if in.Placeholder == "" && len(field.Options) > 0 {
			in.Placeholder = strings.Join(field.Options, ", ")
		}
		in.CharLimit = 256
		in.Width = 40
		f.inputs = append(f.inputs, in)
		f.values[field.Name] = ""
		f.saved[field.Name] = ""
	}
	return f
}

// Bind implements stepflow.Continuable.
func (f *form) Bind(h stepflow.Hooks) {
	f.mu.Lock()
	f.hooks = h
	f.mu.Unlock()
	required := make([]any, 0, len(f.step.Validation.Required))
	for _, name := range f.step.Validation.Required {
		required = append(required, name)
	}
	h.SetValidateCallback(f.validate)
	h.SetCancelCallback(f.revert)
	h.SetContinueCallback(f.collect, required...)
}

func (f *form) validate(_ context.Context, args ...any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, arg := range args {
		name, _ := arg.(string)
		if strings.TrimSpace(f.values[name]) == "" {
			f.problem = fmt.Sprintf("%s is required", f.label(name))
			return false, errors.New(f.problem)
		}
	}
	for _, field := range f.step.Fields {
		if err := checkOptions(field, f.values[field.Name]); err != nil {
			f.problem = err.Error()
			return false, err
		}
	}
	if f.step.Dependent() && f.known != nil && !f.step.DependenciesMet(f.known()) {
		f.problem = errDependenciesUnmet.Error()
		return false, errDependenciesUnmet
	}
	f.problem = ""
	return true, nil
}

func checkOptions(field template.Field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" || len(field.Options) == 0 {
		return nil
	}
	var picked []string
	switch field.Kind {
	case "select":
		picked = []string{value}
	case "multiselect":
		picked = splitList(value)
	default:
		return nil
	}
	for _, p := range picked {
		if !containsFold(field.Options, p) {
			return fmt.Errorf("%s must be one of: %s", field.FieldLabel(), strings.Join(field.Options, ", "))
		}
	}
	return nil
}

func (f *form) collect(context.Context) (stepflow.Changes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changes := stepflow.Changes{}
	for _, field := range f.step.Fields {
		value := strings.TrimSpace(f.values[field.Name])
		if field.Kind == "multiselect" {
			changes[field.Name] = splitList(value)
		} else {
			changes[field.Name] = value
		}
		f.saved[field.Name] = f.values[field.Name]
	}
	return changes, nil
}

// revert restores the last continued values. The inputs catch up in
// syncInputs once the cancel command reports back.
func (f *form) revert() {
	f.mu.Lock()
	for name, value := range f.saved {
		f.values[name] = value
	}
	f.problem = ""
	f.reverted = true
	hooks := f.hooks
	f.mu.Unlock()
	if hooks != nil {
		hooks.SetDirty(false)
	}
}

// restore loads previously saved changes as both the current and the
// saved values. It touches the inputs, so it only runs before the program
// starts.
func (f *form) restore(changes map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, field := range f.step.Fields {
		value, ok := changes[field.Name]
		if !ok {
			continue
		}
		text := fieldText(value)
		f.values[field.Name] = text
		f.saved[field.Name] = text
		f.inputs[i].SetValue(text)
	}
}

func (f *form) syncInputs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.reverted {
		return
	}
	for i, field := range f.step.Fields {
		f.inputs[i].SetValue(f.values[field.Name])
	}
	f.reverted = false
}

func (f *form) focusFirst() tea.Cmd {
	f.blurAll()
	f.focus = 0
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[0].Focus()
}

func (f *form) blurAll() {
	for i := range f.inputs {
		f.inputs[i].Blur()
	}
}

func (f *form) move(delta int) tea.Cmd {
	if len(f.inputs) == 0 {
		return nil
	}
	f.inputs[f.focus].Blur()
	f.focus = (f.focus + delta + len(f.inputs)) % len(f.inputs)
	return f.inputs[f.focus].Focus()
}

func (f *form) onLastField() bool {
	return len(f.inputs) == 0 || f.focus == len(f.inputs)-1
}

// update feeds a message to the focused input and reports unsaved edits.
func (f *form) update(msg tea.Msg) tea.Cmd {
	if len(f.inputs) == 0 {
		return nil
	}
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	name := f.step.Fields[f.focus].Name
	value := f.inputs[f.focus].Value()

	f.mu.Lock()
	changed := f.values[name] != value
	f.values[name] = value
	dirty := f.dirtyLocked()
	hooks := f.hooks
	f.mu.Unlock()
	if changed && hooks != nil {
		hooks.SetDirty(dirty)
	}
	return cmd
}

func (f *form) dirtyLocked() bool {
	for name, value := range f.values {
		if f.saved[name] != value {
			return true
		}
	}
	return false
}

func (f *form) problemText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.problem
}

func (f *form) label(name string) string {
	for _, field := range f.step.Fields {
		if field.Name == name {
			return field.FieldLabel()
		}
	}
	return name
}

func fieldText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func summarize(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		value := data[k]
		if list, ok := value.([]string); ok {
			value = strings.Join(list, ", ")
		}
		lines = append(lines, fmt.Sprintf("%s: %v", k, value))
	}
	return lines
}
