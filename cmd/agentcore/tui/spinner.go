package tui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

type spinnerModel struct {
	spinner spinner.Model
	msg     string
	done    chan struct{}
}

func (m spinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForDone(m.done))
}

type doneMsg struct{}

func waitForDone(done chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return doneMsg{}
	}
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case doneMsg:
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m spinnerModel) View() string {
	return fmt.Sprintf("%s %s\n", m.spinner.View(), m.msg)
}

// RunSpinner shows a spinner with msg until done is closed. It is a no-op
// when stdout isn't a terminal, so piping agentcore's output doesn't fill
// the log with spinner frames. Blocks until done is closed, so callers run
// it in its own goroutine and close done when the underlying work finishes.
func RunSpinner(msg string, done chan struct{}) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		<-done
		return
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	if _, err := tea.NewProgram(spinnerModel{spinner: s, msg: msg, done: done}).Run(); err != nil {
		<-done
	}
}
