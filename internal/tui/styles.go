package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nextlevelbuilder/ohbridge/internal/transcript"
)

var (
	blue  = lipgloss.Color("#0073e6")
	mint  = lipgloss.Color("#05ffa1")
	pink  = lipgloss.Color("#ff71ce")
	muted = lipgloss.Color("#6c757d")
)

type styles struct {
	header  lipgloss.Style
	status  lipgloss.Style
	errLine lipgloss.Style
	body    lipgloss.Style
	input   lipgloss.Style
	roles   map[transcript.Role]lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(muted),
		status:  lipgloss.NewStyle().Foreground(blue).Bold(true),
		errLine: lipgloss.NewStyle().Foreground(pink).Bold(true),
		body:    lipgloss.NewStyle().PaddingLeft(2),
		input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted),
		roles: map[transcript.Role]lipgloss.Style{
			transcript.RoleUser:      lipgloss.NewStyle().Foreground(blue).Bold(true),
			transcript.RoleAssistant: lipgloss.NewStyle().Foreground(mint).Bold(true),
			transcript.RoleSystem:    lipgloss.NewStyle().Foreground(muted).Bold(true),
		},
	}
}

func roleLabel(r transcript.Role) string {
	switch r {
	case transcript.RoleUser:
		return "You"
	case transcript.RoleSystem:
		return "System"
	default:
		return "Assistant"
	}
}
