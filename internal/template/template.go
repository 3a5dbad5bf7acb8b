package template

import (
	"fmt"
	"strings"

	"github.com/kingrea/stepflow/internal/stepflow"
)

// Type classifies how a template step behaves.
type Type string

const (
	TypeStandard  Type = "standard"
	TypeCustom    Type = "custom"
	TypeDependent Type = "dependent"
)

// Template is the document the template service returns.
type Template struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Name         string `json:"name" yaml:"name"`
	CampaignName string `json:"campaignName,omitempty" yaml:"campaignName,omitempty"`
	CompanyID    string `json:"companyId,omitempty" yaml:"companyId,omitempty"`
	CustomName   string `json:"customName,omitempty" yaml:"customName,omitempty"`
	Steps        []Step `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Step is one template step before it becomes a stepflow definition.
type Step struct {
	StepNumber            int          `json:"stepNumber,omitempty" yaml:"stepNumber,omitempty"`
	Title                 string       `json:"title" yaml:"title"`
	Decorator             string       `json:"decorator,omitempty" yaml:"decorator,omitempty"`
	Type                  Type         `json:"type,omitempty" yaml:"type,omitempty"`
	Content               string       `json:"content,omitempty" yaml:"content,omitempty"`
	Fields                []Field      `json:"fields,omitempty" yaml:"fields,omitempty"`
	Validation            Validation   `json:"validation,omitempty" yaml:"validation,omitempty"`
	Dependencies          []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Completed             bool         `json:"completed,omitempty" yaml:"completed,omitempty"`
	DisableContinue       bool         `json:"disableContinue,omitempty" yaml:"disableContinue,omitempty"`
	HideDecoratorOnActive bool         `json:"hideDecoratorOnActive,omitempty" yaml:"hideDecoratorOnActive,omitempty"`
}

// Field is one input a step collects.
type Field struct {
	Name        string   `json:"name" yaml:"name"`
	Label       string   `json:"label,omitempty" yaml:"label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Kind        string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Options     []string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Validation lists the field names a step requires.
type Validation struct {
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`
}

// Dependency gates a dependent step on collected data. A Value of "*"
// accepts any non-empty value.
type Dependency struct {
	Field string `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
}

// Wildcard matches any non-empty dependency value.
const Wildcard = "*"

// Dependent reports whether the step is gated on every other step.
func (s Step) Dependent() bool {
	return s.Type == TypeDependent
}

// FieldLabel returns the display label for a field.
func (f Field) FieldLabel() string {
	if label := strings.TrimSpace(f.Label); label != "" {
		return label
	}
	return f.Name
}

// DependenciesMet reports whether data satisfies every dependency.
func (s Step) DependenciesMet(data map[string]any) bool {
	for _, dep := range s.Dependencies {
		value, ok := data[dep.Field]
		if !ok || value == nil {
			return false
		}
		text := valueText(value)
		if dep.Value == Wildcard {
			if text == "" {
				return false
			}
			continue
		}
		if text != dep.Value {
			return false
		}
	}
	return true
}

func valueText(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []string:
		return strings.TrimSpace(strings.Join(v, ","))
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.TrimSpace(strings.Join(parts, ","))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Definitions converts the template steps into stepflow definitions. The
// template step rides along as the definition's Content.
func (t Template) Definitions() []stepflow.StepDefinition {
	defs := make([]stepflow.StepDefinition, len(t.Steps))
	for i, step := range t.Steps {
		defs[i] = stepflow.StepDefinition{
			Number:                i + 1,
			Title:                 step.Title,
			Decorator:             step.Decorator,
			Dependent:             step.Dependent(),
			Completed:             step.Completed,
			DisableContinue:       step.DisableContinue,
			HideDecoratorOnActive: step.HideDecoratorOnActive,
			Content:               step,
		}
	}
	return defs
}

// Plan converts the template into a validated stepflow plan.
func (t Template) Plan() (stepflow.Plan, error) {
	return stepflow.NewPlan(t.Definitions())
}
