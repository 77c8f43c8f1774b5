package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the chat view for f until the user quits or ctx is done.
func Run(ctx context.Context, f Feed, title string) error {
	p := tea.NewProgram(
		NewChatModel(ctx, f, title),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
