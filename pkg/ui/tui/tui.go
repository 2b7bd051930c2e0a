package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// TUI is a live dashboard of a harvest run
type TUI struct {
	program *tea.Program
}

// NewTUI creates a dashboard over source. onStop is called when the user
// presses q or ctrl+c.
func NewTUI(source StatusSource, onStop func(), opts ...tea.ProgramOption) *TUI {
	model := NewModel(source, onStop)
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	return &TUI{program: tea.NewProgram(model, opts...)}
}

// Start runs the dashboard until Done is called
func (t *TUI) Start() error {
	_, err := t.program.Run()
	return err
}

// Done tells the dashboard the run has finished
func (t *TUI) Done() {
	t.program.Send(DoneMsg{})
}

// Stop tears the dashboard down immediately
func (t *TUI) Stop() {
	t.program.Quit()
}
