// Package tui implements the terminal UI behind `filingsctl watch`, built
// with bubbletea/bubbles/lipgloss the way the retrieval pack's other
// CLI tool (sercha-cli) structures its components — a passive status
// line plus a scrolling event log, not a single monolithic view.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ledgerline/filings-orchestrator/internal/bus"
)

var (
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	styleStatus  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleError   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	styleDone    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("120"))
	styleFooter  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
)

type eventMsg bus.Event
type streamClosedMsg struct{}
type streamErrMsg struct{ err error }

// Model watches one job's progress stream, rendering a scrolling log of
// status/progress/detail events and a terminal banner on completion.
type Model struct {
	JobID  string
	events <-chan bus.Event

	lines  []string
	done   bool
	failed bool
	err    error
	width  int
}

// NewModel wraps events, the channel the caller's SSE reader feeds.
func NewModel(jobID string, events <-chan bus.Event) *Model {
	return &Model{JobID: jobID, events: events, width: 80}
}

func (m *Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan bus.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case eventMsg:
		m.lines = append(m.lines, renderEvent(bus.Event(msg)))
		if bus.EventType(msg.Type) == bus.EventCompleted {
			m.done = true
		}
		if bus.EventType(msg.Type) == bus.EventError {
			m.failed = true
		}
		if bus.EventType(msg.Type) == bus.EventStreamEnd {
			m.done = true
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)
	case streamClosedMsg:
		m.done = true
		return m, tea.Quit
	case streamErrMsg:
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(styleHeader.Render(fmt.Sprintf("watching job %s", m.JobID)))
	b.WriteString("\n\n")
	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(styleError.Render(fmt.Sprintf("stream error: %v", m.err)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(styleFooter.Render("q to quit"))
	return b.String()
}

func renderEvent(ev bus.Event) string {
	switch ev.Type {
	case bus.EventError:
		return styleError.Render(fmt.Sprintf("[error] %v", ev.Payload))
	case bus.EventCompleted:
		return styleDone.Render("[completed] job finished")
	case bus.EventCancelled:
		return styleError.Render("[cancelled] job cancelled")
	default:
		return styleStatus.Render(fmt.Sprintf("[%s] %v", ev.Type, ev.Payload))
	}
}
