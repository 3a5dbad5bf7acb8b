package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Toggle    key.Binding
	NextField key.Binding
	PrevField key.Binding
	Continue  key.Binding
	Cancel    key.Binding
	NextStep  key.Binding
	PrevStep  key.Binding
	Yes       key.Binding
	No        key.Binding
	Quit      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Toggle:    key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "open/close step")),
		NextField: key.NewBinding(key.WithKeys("tab", "down", "enter"), key.WithHelp("tab", "next field")),
		PrevField: key.NewBinding(key.WithKeys("shift+tab", "up"), key.WithHelp("shift+tab", "prev field")),
		Continue:  key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "continue")),
		Cancel:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		NextStep:  key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "next step")),
		PrevStep:  key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "prev step")),
		Yes:       key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "save")),
		No:        key.NewBinding(key.WithKeys("n", "N", "esc"), key.WithHelp("n", "discard")),
		Quit:      key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
	}
}

// browseHelp is shown while every step is closed.
type browseHelp struct{ keys keyMap }

func (h browseHelp) ShortHelp() []key.Binding {
	return []key.Binding{h.keys.Up, h.keys.Down, h.keys.Toggle, h.keys.Quit}
}

func (h browseHelp) FullHelp() [][]key.Binding {
	return [][]key.Binding{h.ShortHelp()}
}

// stepHelp is shown while a step is open.
type stepHelp struct{ keys keyMap }

func (h stepHelp) ShortHelp() []key.Binding {
	return []key.Binding{h.keys.NextField, h.keys.Continue, h.keys.Cancel, h.keys.NextStep, h.keys.PrevStep}
}

func (h stepHelp) FullHelp() [][]key.Binding {
	return [][]key.Binding{h.ShortHelp()}
}

// dialogHelp is shown while the save prompt is up.
type dialogHelp struct{ keys keyMap }

func (h dialogHelp) ShortHelp() []key.Binding {
	return []key.Binding{h.keys.Yes, h.keys.No}
}

func (h dialogHelp) FullHelp() [][]key.Binding {
	return [][]key.Binding{h.ShortHelp()}
}
