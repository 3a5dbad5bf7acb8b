package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/stepflow/internal/stepflow"
)

const logTailLines = 6

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	iconActive     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	iconCompleted  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	iconDisabled   = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	iconDefault    = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	titleActive    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	titleDisabled  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	decoratorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	barStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	problemStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	actionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	actionOff      = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	dialogStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#F7B801")).Padding(0, 1)
	panelStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
)

// View renders the wizard.
func (a *App) View() string {
	snap := a.orch.Snapshot()
	sections := []string{headerStyle.Render("▸ STEPFLOW · " + a.title())}

	var rows []string
	for _, view := range snap.Steps {
		rows = append(rows, a.renderStep(view, snap.Active))
	}
	sections = append(sections, panelStyle.Render(strings.Join(rows, "\n")))

	if a.dialog != nil {
		sections = append(sections, dialogStyle.Render(a.dialog.prompt+"\n\n"+a.help.View(dialogHelp{a.keys})))
	}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}

	status := a.statusMsg
	if a.err != nil {
		status = problemStyle.Render(a.err.Error())
	}
	if snap.Dirty {
		status = strings.TrimSpace(status + "  • unsaved changes")
	}
	var keys help.KeyMap = browseHelp{a.keys}
	if snap.Active != stepflow.None {
		keys = stepHelp{a.keys}
	}
	sections = append(sections, footerStyle.Render(status), a.help.View(keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) renderStep(view stepflow.StepView, active int) string {
	indicator := " "
	if active == stepflow.None && a.cursor == view.Number {
		indicator = ">"
	}
	icon := fmt.Sprintf("(%d)", view.Number)
	iconStyle, titleStyle := iconDefault, lipgloss.NewStyle()
	switch {
	case view.Completed:
		icon = "(✓)"
		iconStyle = iconCompleted
	case view.Active:
		iconStyle = iconActive
	case view.Disabled:
		iconStyle = iconDisabled
		titleStyle = titleDisabled
	}
	if view.Active {
		titleStyle = titleActive
	}
	line := fmt.Sprintf("%s %s %s", indicator, iconStyle.Render(icon), titleStyle.Render(view.Title))
	if decorator := a.decorator(view); decorator != "" {
		line += decoratorStyle.Render(" · " + decorator)
	}

	bar := "    "
	if view.ShowIconBar {
		bar = barStyle.Render("   │")
	}
	lines := []string{line}
	if view.Active {
		for _, body := range a.renderBody(view.Number) {
			lines = append(lines, bar+" "+body)
		}
	}
	if view.ShowIconBar {
		lines = append(lines, bar)
	}
	return strings.Join(lines, "\n")
}

func (a *App) decorator(view stepflow.StepView) string {
	if view.Decorator == "" {
		return ""
	}
	if view.Active {
		if def, ok := a.orch.Plan().Step(view.Number); ok && def.HideDecoratorOnActive {
			return ""
		}
	}
	return view.Decorator
}

func (a *App) renderBody(step int) []string {
	f := a.forms[step-1]
	var lines []string
	if content := strings.TrimSpace(f.step.Content); content != "" {
		lines = append(lines, strings.Split(content, "\n")...)
	}
	for i, field := range f.step.Fields {
		marker := " "
		if i == f.focus {
			marker = "›"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", marker, labelStyle.Render(field.FieldLabel()+":"), f.inputs[i].View()))
	}
	if f.step.Dependent() {
		for _, entry := range summarize(a.knownData()) {
			lines = append(lines, labelStyle.Render("  "+entry))
		}
	}
	if problem := f.problemText(); problem != "" {
		lines = append(lines, problemStyle.Render(problem))
	}
	continueLabel := actionStyle.Render("[ctrl+s] Continue")
	if !a.steps[step-1].CanContinue() {
		continueLabel = actionOff.Render("[ctrl+s] Continue")
	}
	lines = append(lines, "", continueLabel+"  "+actionStyle.Render("[esc] Cancel"))
	return lines
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(logTailLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s (%d entries)", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return panelStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}
