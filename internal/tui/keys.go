package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the key bindings of the terminal front-end.
type KeyMap struct {
	Send     key.Binding
	Start    key.Binding
	Restart  key.Binding
	Clear    key.Binding
	Cancel   key.Binding
	Model    key.Binding
	Confirm  key.Binding
	Decline  key.Binding
	ScrollUp key.Binding
	ScrollDn key.Binding
	Quit     key.Binding
}

// DefaultKeyMap is the built-in binding set.
var DefaultKeyMap = KeyMap{
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Start: key.NewBinding(
		key.WithKeys("ctrl+s"),
		key.WithHelp("ctrl+s", "start"),
	),
	Restart: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "restart"),
	),
	Clear: key.NewBinding(
		key.WithKeys("ctrl+l"),
		key.WithHelp("ctrl+l", "clear"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("ctrl+x"),
		key.WithHelp("ctrl+x", "cancel"),
	),
	Model: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "model"),
	),
	Confirm: key.NewBinding(
		key.WithKeys("y", "Y"),
		key.WithHelp("y", "yes"),
	),
	Decline: key.NewBinding(
		key.WithKeys("n", "N", "esc"),
		key.WithHelp("n", "no"),
	),
	ScrollUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("pgup", "scroll up"),
	),
	ScrollDn: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("pgdn", "scroll down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "esc"),
		key.WithHelp("esc", "quit"),
	),
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Start, k.Restart, k.Model, k.Cancel, k.Clear, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.Model, k.ScrollUp, k.ScrollDn},
		{k.Start, k.Restart, k.Cancel, k.Clear, k.Quit},
	}
}
