// Package tui implements the interactive chat shell on top of the session
// engine.
package tui

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/parley-dev/parley/internal/compact"
	"github.com/parley-dev/parley/internal/models"
	"github.com/parley-dev/parley/internal/session"
	"github.com/parley-dev/parley/internal/timeline"
)

// Theme holds the color scheme for the chat view.
type Theme struct {
	User      lipgloss.Color
	Assistant lipgloss.Color
	Step      lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
	Code      lipgloss.Color
}

var defaultTheme = Theme{
	User:      lipgloss.Color("#5FAFD7"), // light blue
	Assistant: lipgloss.Color("#00D787"), // green
	Step:      lipgloss.Color("#AF87FF"), // violet
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
	Code:      lipgloss.Color("#FFAF5F"), // amber
}

func (t Theme) userStyle() lipgloss.Style      { return lipgloss.NewStyle().Foreground(t.User).Bold(true) }
func (t Theme) assistantStyle() lipgloss.Style { return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true) }
func (t Theme) stepStyle() lipgloss.Style      { return lipgloss.NewStyle().Foreground(t.Step) }
func (t Theme) errorStyle() lipgloss.Style     { return lipgloss.NewStyle().Foreground(t.Error).Bold(true) }
func (t Theme) hintStyle() lipgloss.Style      { return lipgloss.NewStyle().Foreground(t.Hint).Italic(true) }
func (t Theme) codeStyle() lipgloss.Style      { return lipgloss.NewStyle().Foreground(t.Code) }

// refreshMsg is sent by the engine's change notification.
type refreshMsg struct{}

// compactDoneMsg carries the outcome of a manual compaction.
type compactDoneMsg struct {
	res *compact.Result
	err error
}

// chatModel is the bubbletea model for the chat shell.
type chatModel struct {
	engine    *session.Engine
	workspace string
	theme     Theme

	input  textinput.Model
	spin   spinner.Model
	width  int
	height int
	scroll int // rows scrolled up from the bottom
	expand map[string]bool
	msgs   []models.Message
	state  session.State
	notice string
}

// newChatModel builds the initial model; the engine is already running and
// mounting the workspace.
func newChatModel(engine *session.Engine, workspace string) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask the agent... (Enter to send, Esc to cancel, Ctrl+C to quit)"
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return chatModel{
		engine:    engine,
		workspace: workspace,
		theme:     defaultTheme,
		input:     ti,
		spin:      sp,
		width:     80,
		height:    24,
		expand:    make(map[string]bool),
	}
}

func (m chatModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width - 4)
		return m, nil

	case refreshMsg:
		m.msgs = m.engine.Snapshot()
		m.state = m.engine.CurrentState()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case compactDoneMsg:
		switch {
		case msg.err != nil:
			m.notice = "compaction: " + msg.err.Error()
		case msg.res == nil:
			m.notice = ""
		default:
			m.notice = fmt.Sprintf("compacted to %d messages (%.0f%% token savings)",
				len(msg.res.Kept), msg.res.SavingsPercent)
		}
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text != "" && !m.state.Sending {
				m.engine.SendMessage(text, nil)
				m.input.SetValue("")
				m.scroll = 0
				m.notice = ""
			}
			return m, nil

		case "esc":
			if m.state.Sending {
				m.engine.CancelExchange()
			}
			return m, nil

		case "ctrl+k":
			if m.state.Sending || m.state.Compacting {
				return m, nil
			}
			m.notice = ""
			eng := m.engine
			return m, func() tea.Msg {
				done := make(chan compactDoneMsg, 1)
				eng.Compact(func(res *compact.Result, err error) {
					done <- compactDoneMsg{res: res, err: err}
				})
				return <-done
			}

		case "ctrl+r":
			// Toggle the reasoning panel of the most recent assistant reply.
			if id := m.lastAssistantID(); id != "" {
				m.expand[id] = !m.expand[id]
			}
			return m, nil

		case "pgup":
			m.scroll += m.bodyHeight() / 2
			return m, nil

		case "pgdown":
			m.scroll -= m.bodyHeight() / 2
			if m.scroll < 0 {
				m.scroll = 0
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) lastAssistantID() string {
	if m.state.PendingAssistantID != "" {
		return m.state.PendingAssistantID
	}
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if m.msgs[i].Role == models.RoleAssistant {
			return m.msgs[i].ID
		}
	}
	return ""
}

// bodyHeight is the rows available for the timeline after header, input and
// status lines.
func (m chatModel) bodyHeight() int {
	h := m.height - 4
	if h < 3 {
		h = 3
	}
	return h
}

// View renders the chat display.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m chatModel) renderContent() string {
	var b strings.Builder

	title := fmt.Sprintf(" parley: %s", m.workspace)
	if !m.state.Mounted {
		title += "  (mounting...)"
	}
	b.WriteString(m.theme.hintStyle().Render(title))
	b.WriteString("\n")

	b.WriteString(m.renderTimeline())
	b.WriteString("\n")

	status := m.notice
	switch {
	case m.state.Cancelling:
		status = m.spin.View() + " cancelling..."
	case m.state.Compacting:
		status = m.spin.View() + " compacting..."
	case m.state.Sending:
		status = m.spin.View() + " thinking... (Esc to cancel)"
	case m.scroll > 0:
		status = fmt.Sprintf("scrolled up %d rows (PgDn to return)", m.scroll)
	}
	b.WriteString(m.theme.hintStyle().Render(status))
	b.WriteString("\n")
	b.WriteString(m.input.View())

	return b.String()
}

// renderTimeline renders the visible window of the message list. The
// estimator decides which trailing messages can appear at all; only those
// are rendered, keeping paint cost bounded on long conversations.
func (m chatModel) renderTimeline() string {
	body := m.bodyHeight()
	if len(m.msgs) == 0 {
		return strings.Repeat("\n", body-1)
	}

	est := timeline.NewEstimator(m.width)
	heights := est.Heights(m.msgs,
		func(id string) bool { return m.expand[id] },
		func(id string) int { return len(m.engine.LiveSteps(id)) },
	)

	// Walk back from the tail until the estimate covers viewport + scroll.
	need := body + m.scroll
	start := len(m.msgs)
	covered := 0
	for start > 0 && covered < need {
		start--
		covered += heights[start]
	}

	var lines []string
	for _, msg := range m.msgs[start:] {
		lines = append(lines, m.renderMessage(msg)...)
	}

	// Clamp scroll to the rendered content and cut the visible window.
	maxScroll := len(lines) - body
	if maxScroll < 0 {
		maxScroll = 0
	}
	scroll := m.scroll
	if scroll > maxScroll {
		scroll = maxScroll
	}
	end := len(lines) - scroll
	begin := end - body
	if begin < 0 {
		begin = 0
	}
	visible := lines[begin:end]

	out := strings.Join(visible, "\n")
	if pad := body - len(visible); pad > 0 {
		out = strings.Repeat("\n", pad) + out
	}
	return out
}

// renderMessage renders one message into terminal lines.
func (m chatModel) renderMessage(msg models.Message) []string {
	var lines []string

	header := m.theme.userStyle().Render("you")
	if msg.Role == models.RoleAssistant {
		header = m.theme.assistantStyle().Render("assistant")
		switch {
		case msg.IsCompactionArtifact():
			header += m.theme.hintStyle().Render(" · summary of earlier conversation")
		case msg.Metadata[models.MetaError] != nil:
			header = m.theme.errorStyle().Render("assistant · error")
		case msg.Metadata[models.MetaCancelled] == true:
			header += m.theme.hintStyle().Render(" · cancelled")
		case msg.ID == m.state.PendingAssistantID:
			header += m.theme.hintStyle().Render(" · streaming")
		}
	}
	lines = append(lines, header)

	if len(msg.Blocks) > 0 {
		for _, block := range msg.Blocks {
			lines = append(lines, m.renderBlock(block)...)
		}
	} else {
		lines = append(lines, m.wrap(msg.Content)...)
	}

	if m.expand[msg.ID] {
		steps := m.engine.LiveSteps(msg.ID)
		if len(steps) == 0 {
			steps = models.StepsFromMeta(msg)
		}
		if len(steps) > 0 {
			lines = append(lines, m.theme.stepStyle().Render("  reasoning:"))
			for _, s := range steps {
				lines = append(lines, m.theme.stepStyle().Render("  • ["+s.Kind+"] "+s.Message))
			}
		}
	}

	lines = append(lines, "")
	return lines
}

func (m chatModel) renderBlock(block models.ContentBlock) []string {
	switch block.Kind {
	case models.BlockCode:
		lines := []string{m.theme.codeStyle().Render("```" + block.Language)}
		for _, l := range strings.Split(block.Text, "\n") {
			lines = append(lines, m.theme.codeStyle().Render(l))
		}
		return append(lines, m.theme.codeStyle().Render("```"))
	case models.BlockHeading:
		return []string{lipgloss.NewStyle().Bold(true).Render(block.Text)}
	default:
		return m.wrap(block.Text)
	}
}

// wrap hard-wraps text to the viewport width.
func (m chatModel) wrap(text string) []string {
	width := m.width - 2
	if width < 10 {
		width = 10
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for len(line) > width {
			out = append(out, line[:width])
			line = line[width:]
		}
		out = append(out, line)
	}
	return out
}

// Run starts the chat shell and blocks until the user quits. The engine must
// already be running; Run hooks its change notification to the program.
func Run(ctx context.Context, engine *session.Engine, workspace string) error {
	p := tea.NewProgram(newChatModel(engine, workspace), tea.WithContext(ctx))
	engine.Notify(func() { p.Send(refreshMsg{}) })
	defer engine.Notify(nil)

	_, err := p.Run()
	return err
}
