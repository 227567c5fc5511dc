package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// historySize is how many deliveries the view lists.
const historySize = 10

type inputMode int

const (
	modeText inputMode = iota
	modeHex
)

func (m inputMode) String() string {
	if m == modeHex {
		return "hex"
	}
	return "text"
}

type interactiveModel struct {
	ctx     context.Context
	s       *session
	err     error
	status  string
	input   textinput.Model
	samples int
	mode    inputMode
}

type sentMsg struct {
	err  error
	size int
	ok   bool
}

func newInteractiveModel(ctx context.Context, s *session) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "payload: "
	ti.Placeholder = "event text"
	ti.Width = 60
	ti.Focus()

	return &interactiveModel{ctx: ctx, s: s, input: ti}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "tab":
			if m.mode == modeText {
				m.mode = modeHex
				m.input.Placeholder = "0a 00 ff"
			} else {
				m.mode = modeText
				m.input.Placeholder = "event text"
			}
			return m, nil

		case "ctrl+s":
			i := m.samples
			m.samples++
			return m, m.sendSample(i)

		case "enter":
			value := m.input.Value()
			m.input.Reset()
			return m, m.sendInput(value)
		}

	case sentMsg:
		m.err = msg.err
		switch {
		case msg.err != nil:
			m.status = ""
		case msg.ok:
			m.status = fmt.Sprintf("sent %d bytes", msg.size)
		default:
			m.status = fmt.Sprintf("dropped %d bytes", msg.size)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) sendInput(value string) tea.Cmd {
	mode := m.mode
	return func() tea.Msg {
		payload := []byte(value)
		if mode == modeHex {
			p, err := decodeHex(value)
			if err != nil {
				return sentMsg{err: err}
			}
			payload = p
		}
		return sentMsg{ok: m.s.send(m.ctx, payload), size: len(payload)}
	}
}

func (m *interactiveModel) sendSample(i int) tea.Cmd {
	return func() tea.Msg {
		payload, err := sampleEvent(i)
		if err != nil {
			return sentMsg{err: err}
		}
		return sentMsg{ok: m.s.send(m.ctx, payload), size: len(payload)}
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Clearcut Bridge"))
	b.WriteString(" ")
	b.WriteString(m.s.runtime)
	b.WriteString(" runtime, ")
	if m.s.ready {
		b.WriteString(okStyle.Render("available"))
	} else {
		b.WriteString(errorStyle.Render("not available"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.input.View())
	b.WriteString(" ")
	b.WriteString(labelStyle.Render("[" + m.mode.String() + "]"))
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.status != "":
		b.WriteString(okStyle.Render(m.status))
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "%s %d  %s %d\n",
		labelStyle.Render("sent"), m.s.sent.Load(),
		labelStyle.Render("dropped"), m.s.dropped.Load())

	events := m.s.rec.Events()
	start := len(events) - historySize
	if start < 0 {
		start = 0
	}
	for i := len(events) - 1; i >= start; i-- {
		ev := events[i]
		fmt.Fprintf(&b, "  #%d %s %4d bytes %s\n", i+1, ev.Time.Format("15:04:05.000"), len(ev.Payload), preview(ev.Payload))
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send • tab text/hex • ctrl+s sample event • esc quit"))
	return b.String()
}

func runInteractive(ctx context.Context, s *session) error {
	p := tea.NewProgram(newInteractiveModel(ctx, s), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
