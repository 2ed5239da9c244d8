package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nextlevelbuilder/ohbridge/internal/bridge"
)

// Run drives the terminal front-end over sess until the user quits or ctx
// is done.
func Run(ctx context.Context, sess *bridge.Session, opts ...tea.ProgramOption) error {
	m := New(ctx, sess)
	defer m.Close()

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(m, opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
