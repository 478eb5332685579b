package ui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Action is the unit of work a tool runs behind the terminal UI. The
// returned lines are shown once the action completes.
type Action func(ctx context.Context) ([]string, error)

type actionMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	status  string
	action  Action
	details []string
	err     error
	done    bool
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg {
		details, err := m.action(context.Background())
		return actionMsg{details: details, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case actionMsg:
		m.details = msg.details
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	if !m.done {
		if m.status != "" {
			return fmt.Sprintf("%s: Running %s...\n", m.title, m.status)
		}
		return fmt.Sprintf("%s: Running...\n", m.title)
	}
	if m.err != nil {
		return fmt.Sprintf("%s: FAILED: %v\n", m.title, m.err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: OK\n", m.title)
	for _, d := range m.details {
		fmt.Fprintf(&b, "  %s\n", d)
	}
	return b.String()
}

// Run executes the action behind the UI and returns its outcome so callers
// can choose the exit code.
func Run(title, status string, action Action) ([]string, error) {
	final, err := tea.NewProgram(model{title: title, status: status, action: action}).Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(model)
	if !ok {
		return nil, fmt.Errorf("unexpected final model %T", final)
	}
	return m.details, m.err
}
