package watch

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Source streams encoded envelopes to fn until ctx ends or the stream
// closes.
type Source func(ctx context.Context, fn func(string)) error

// Run shows the envelopes produced by source until the user quits.
func Run(ctx context.Context, source Source, target string) error {
	if source == nil {
		return errors.New("event source is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(newModel(target), tea.WithContext(ctx))

	go func() {
		err := source(ctx, func(event string) {
			program.Send(eventMsg{raw: event})
		})
		program.Send(streamEndedMsg{err: err})
	}()

	_, err := program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// RenderError formats a one-line failure for non-interactive commands.
func RenderError(code string, message string) string {
	return errorStyle().Render(fmt.Sprintf("✗ %s: %s", code, message))
}
