package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/channel"
)

const (
	roleUser       = "user"
	roleBot        = "bot"
	roleAttachment = "attachment"
	roleError      = "error"
)

type entry struct {
	role    string
	ref     string
	content string
}

type dispatchDoneMsg struct {
	err error
}

type model struct {
	ctx     context.Context
	handler channel.Handler
	replier bus.Replier
	info    Info

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	pending   int
	sent      int
	lastErr   string
	followLog bool
}

func newModel(ctx context.Context, handler channel.Handler, replier bus.Replier, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Try /help, $TSLA or /o hello..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:       ctx,
		handler:   handler,
		replier:   replier,
		info:      info,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.applyScroll(scrollForMouse(typed))
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.applyScroll(scrollKeys[typed.String()]) {
			return m, nil
		}

		if typed.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if isExitCommand(text) {
				return m, tea.Quit
			}

			m.lastErr = ""
			m.sent++
			m.entries = append(m.entries, entry{role: roleUser, content: text})
			m.input.SetValue("")
			m.pending++
			m.followLog = true
			m.refreshViewport(true)
			return m, tea.Batch(m.spinner.Tick, dispatchCmd(m.ctx, m.handler, m.replier, text))
		}
	case replyMsg:
		m.applyReply(typed)
		m.refreshViewport(false)
		return m, nil
	case dispatchDoneMsg:
		m.pending = max(0, m.pending-1)
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.entries = append(m.entries, entry{role: roleError, content: typed.err.Error()})
			m.refreshViewport(false)
		}
		return m, nil
	case spinner.TickMsg:
		if m.pending == 0 {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) applyReply(msg replyMsg) {
	switch msg.kind {
	case replySend:
		item := entry{role: roleBot, ref: msg.ref.MessageID, content: msg.text}
		if msg.attachment != nil {
			item.role = roleAttachment
			item.content = describeAttachment(msg)
		}
		m.entries = append(m.entries, item)
	case replyEdit:
		for i := range m.entries {
			if m.entries[i].ref == msg.ref.MessageID {
				m.entries[i].content = msg.text
				return
			}
		}
	case replyDelete:
		for i := range m.entries {
			if m.entries[i].ref == msg.ref.MessageID {
				m.entries = append(m.entries[:i], m.entries[i+1:]...)
				return
			}
		}
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	th := m.theme
	header := th.title.Width(m.width - 2).Render("📈 Mehran Bot Console")
	meta := th.meta.Render(fmt.Sprintf(
		"llm:%s · model:%s · sent:%d · pending:%d",
		displayOrNA(m.info.LLMBackend),
		displayOrNA(m.info.Model),
		m.sent,
		m.pending,
	))
	rule := th.rule.Render(strings.Repeat("─", max(8, m.width-2)))

	var status string
	switch {
	case m.lastErr != "":
		status = th.fail.Render("last message could not be handled: " + m.lastErr)
	case m.pending > 0:
		status = th.busy.Render(fmt.Sprintf("%s working on %d request(s)", m.spinner.View(), m.pending))
	default:
		status = th.idle.Render("Enter send · PgUp/PgDn or wheel scroll · End latest · Esc quit")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		rule,
		th.frame.Width(m.width-2).Render(m.viewport.View()),
		status,
		th.prompt.Render("> message")+" "+th.muted.Render("(/exit, quit or :q to leave)"),
		th.field.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		if c, ok := m.theme.cards[item.role]; ok {
			sections = append(sections, c.render(item.content, m.viewport.Width))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

type scroll int

const (
	scrollNone scroll = iota
	scrollPageUp
	scrollPageDown
	scrollLinesUp
	scrollLinesDown
	scrollTop
	scrollBottom
)

const wheelLines = 3

var scrollKeys = map[string]scroll{
	"pgup": scrollPageUp, "ctrl+b": scrollPageUp, "alt+up": scrollPageUp, "ctrl+up": scrollPageUp,
	"pgdown": scrollPageDown, "ctrl+f": scrollPageDown, "alt+down": scrollPageDown, "ctrl+down": scrollPageDown,
	"home": scrollTop,
	"end":  scrollBottom,
}

func scrollForMouse(msg tea.MouseMsg) scroll {
	if msg.Action != tea.MouseActionPress {
		return scrollNone
	}
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		return scrollLinesUp
	case tea.MouseButtonWheelDown:
		return scrollLinesDown
	default:
		return scrollNone
	}
}

// applyScroll moves the transcript. Scrolling up detaches it from new
// replies until the view is back at the bottom.
func (m *model) applyScroll(s scroll) bool {
	switch s {
	case scrollPageUp:
		m.viewport.PageUp()
	case scrollPageDown:
		m.viewport.PageDown()
	case scrollLinesUp:
		m.viewport.ScrollUp(wheelLines)
	case scrollLinesDown:
		m.viewport.ScrollDown(wheelLines)
	case scrollTop:
		m.viewport.GotoTop()
	case scrollBottom:
		m.viewport.GotoBottom()
	default:
		return false
	}
	m.followLog = m.viewport.AtBottom()
	return true
}

// dispatchCmd hands one message to the transport handler off the UI loop.
// Replies come back as replyMsg values through the program.
func dispatchCmd(ctx context.Context, handler channel.Handler, replier bus.Replier, text string) tea.Cmd {
	return func() tea.Msg {
		return dispatchDoneMsg{err: handler(ctx, inboundMessage(text), replier)}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}
	return trimmed
}
