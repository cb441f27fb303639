package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the TUI until the user quits or ctx is done.
func Run(ctx context.Context, ctrl Controller) error {
	m := New(ctrl)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
