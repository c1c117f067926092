package console

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"squadbot/pkg/channel"
)

func RunInteractive(ctx context.Context, handle channel.Handler, session Session) error {
	model := newModel(ctx, handle, modeInteractive, "", session)
	program := tea.NewProgram(model, tea.WithMouseCellMotion())
	_, err := program.Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

// RunOneShot sends text once and exits after rendering the reply.
func RunOneShot(ctx context.Context, handle channel.Handler, session Session, text string) error {
	model := newModel(ctx, handle, modeOneShot, text, session)
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("88")).
		Padding(1, 2)

	return style.Render("Console closed")
}
