package template

import (
	"fmt"
	"strings"
)

// Transform returns a template ready for the wizard. Templates that carry
// their own steps are validated; templates without steps are expanded into
// the default campaign flow.
func Transform(t Template) (Template, error) {
	if len(t.Steps) > 0 {
		return Validate(t)
	}
	t.Steps = defaultSteps(t)
	return Validate(t)
}

// Validate renumbers steps by position and fills in defaults.
func Validate(t Template) (Template, error) {
	if len(t.Steps) == 0 {
		return Template{}, fmt.Errorf("template: invalid template format: no steps")
	}
	steps := make([]Step, len(t.Steps))
	for i, step := range t.Steps {
		step.StepNumber = i + 1
		step.Title = strings.TrimSpace(step.Title)
		if step.Title == "" {
			return Template{}, fmt.Errorf("template: step %d: title is required", step.StepNumber)
		}
		switch step.Type {
		case "":
			step.Type = TypeStandard
		case TypeStandard, TypeCustom, TypeDependent:
		default:
			return Template{}, fmt.Errorf("template: step %d: unknown type %q", step.StepNumber, step.Type)
		}
		for _, name := range step.Validation.Required {
			if strings.TrimSpace(name) == "" {
				return Template{}, fmt.Errorf("template: step %d: blank required field", step.StepNumber)
			}
		}
		for _, dep := range step.Dependencies {
			if strings.TrimSpace(dep.Field) == "" {
				return Template{}, fmt.Errorf("template: step %d: dependency field is required", step.StepNumber)
			}
		}
		steps[i] = step
	}
	t.Steps = steps
	return t, nil
}

func defaultSteps(t Template) []Step {
	details := fmt.Sprintf("%s\nCampaign: %s\nCompany ID: %s", t.Name, t.CampaignName, t.CompanyID)
	if t.CustomName != "" {
		details += "\nCustom Name: " + t.CustomName
	}
	return []Step{
		{
			Title:      "Campaign Details",
			Decorator:  "Basic campaign information",
			Type:       TypeStandard,
			Content:    details,
			Fields:     []Field{{Name: "name", Label: "Name"}, {Name: "campaignName", Label: "Campaign"}},
			Validation: Validation{Required: []string{"name", "campaignName"}},
		},
		{
			Title:     "Budget & Schedule",
			Decorator: "Set your campaign budget and timeline",
			Type:      TypeStandard,
			Fields: []Field{
				{Name: "budget", Label: "Budget", Placeholder: "Enter your budget", Kind: "number"},
				{Name: "startDate", Label: "Start Date", Kind: "date"},
				{Name: "endDate", Label: "End Date", Kind: "date"},
			},
			Validation: Validation{Required: []string{"budget", "startDate", "endDate"}},
		},
		{
			Title:     "Locations",
			Decorator: "Select target locations",
			Type:      TypeStandard,
			Fields: []Field{{
				Name: "locations", Label: "Target Locations", Kind: "multiselect",
				Options: []string{"New York", "Los Angeles", "Chicago", "Houston"},
			}},
			Validation: Validation{Required: []string{"locations"}},
		},
		{
			Title:     "Copy & Media",
			Decorator: "Create your ad content",
			Type:      TypeStandard,
			Fields: []Field{
				{Name: "adCopy", Label: "Ad Copy", Placeholder: "Enter your ad copy", Kind: "textarea"},
				{Name: "media", Label: "Media", Kind: "file"},
			},
			Validation: Validation{Required: []string{"adCopy"}},
		},
		{
			Title:     "Call to Action",
			Decorator: "Set your campaign goals",
			Type:      TypeStandard,
			Fields: []Field{
				{Name: "ctaType", Label: "CTA Type", Kind: "select", Options: []string{"Learn More", "Shop Now", "Sign Up", "Contact Us"}},
				{Name: "ctaUrl", Label: "CTA URL", Placeholder: "Enter your landing page URL", Kind: "url"},
			},
			Validation: Validation{Required: []string{"ctaType", "ctaUrl"}},
		},
		{
			Title:     "Audience",
			Decorator: "Define your target audience",
			Type:      TypeStandard,
			Fields: []Field{
				{Name: "ageRange", Label: "Age Range", Kind: "select", Options: []string{"18-24", "25-34", "35-44", "45-54", "55+"}},
				{Name: "interests", Label: "Interests", Kind: "multiselect", Options: []string{"Technology", "Fashion", "Sports", "Food"}},
			},
			Validation: Validation{Required: []string{"ageRange", "interests"}},
		},
		{
			Title:     "Review",
			Decorator: "Review your campaign settings",
			Type:      TypeDependent,
			Content:   "Please review your campaign settings",
			Dependencies: []Dependency{
				{Field: "name", Value: Wildcard},
				{Field: "budget", Value: Wildcard},
				{Field: "locations", Value: Wildcard},
				{Field: "adCopy", Value: Wildcard},
				{Field: "ctaType", Value: Wildcard},
				{Field: "ageRange", Value: Wildcard},
			},
		},
	}
}
