package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"irie-chat/internal/chat"
)

type focusArea int

const (
	focusInput focusArea = iota
	focusChat
	focusSidebar
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const (
	sidebarWidth    = 30
	minSidebarTotal = 80
	noticeLifetime  = 4 * time.Second
)

type (
	spinTickMsg   struct{}
	noticeTickMsg struct{}
)

// MainModel is the full-screen chat UI: a sessions sidebar, the
// transcript viewport, and a one-line input box. It never mutates chat
// state directly; every action goes through the registry or pipeline
// and the screen follows the presenter event stream.
type MainModel struct {
	registry *chat.Registry
	pipeline *chat.Pipeline
	events   <-chan tea.Msg
	logger   *zap.Logger

	theme Theme
	keys  keyMap

	width  int
	height int
	ready  bool
	focus  focusArea

	sessions   []chat.Session
	sessionSel int
	activeID   string
	transcript []chat.Message

	input  textarea.Model
	chatVP viewport.Model

	typing        bool
	spinnerPos    int
	notice        string
	confirmDelete string

	markdown *glamour.TermRenderer
	mdWidth  int

	quitting bool
}

func NewMainModel(registry *chat.Registry, pipeline *chat.Pipeline, presenter *EventPresenter, theme Theme, logger *zap.Logger) *MainModel {
	if logger == nil {
		logger = zap.NewNop()
	}

	ta := textarea.New()
	ta.Placeholder = "Chat wid Mike..."
	ta.Prompt = "┃ "
	ta.CharLimit = 4000
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	m := &MainModel{
		registry: registry,
		pipeline: pipeline,
		events:   presenter.Events(),
		logger:   logger,
		theme:    theme,
		keys:     defaultKeyMap(),
		input:    ta,
	}

	// The registry rendered its initial state before the program
	// started; seed directly so the first frame is complete even if
	// those events were dropped.
	m.sessions = registry.Sessions()
	m.activeID = registry.ActiveID()
	m.reloadTranscript()
	m.syncSelection()
	return m
}

func (m *MainModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitEvent())
}

func (m *MainModel) waitEvent() tea.Cmd {
	return func() tea.Msg { return <-m.events }
}

func (m *MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.applyLayout()
		m.refreshChatViewport(true)
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)

	case MessageEvent:
		if msg.SessionID == m.activeID {
			m.transcript = append(m.transcript, msg.Message)
			m.refreshChatViewport(true)
		}
		return m, m.waitEvent()

	case PendingEvent:
		var cmd tea.Cmd
		if msg.SessionID == m.activeID {
			wasTyping := m.typing
			m.typing = msg.Pending
			if m.typing && !wasTyping {
				cmd = m.spinTick()
			}
			m.refreshChatViewport(true)
		}
		return m, tea.Batch(cmd, m.waitEvent())

	case SessionListEvent:
		m.sessions = msg.Sessions
		m.syncSelection()
		return m, m.waitEvent()

	case ActiveEvent:
		m.activeID = msg.SessionID
		m.reloadTranscript()
		m.typing = m.pipeline.Pending(m.activeID)
		m.syncSelection()
		m.refreshChatViewport(true)
		var cmd tea.Cmd
		if m.typing {
			cmd = m.spinTick()
		}
		return m, tea.Batch(cmd, m.waitEvent())

	case NoticeEvent:
		m.notice = msg.Text
		return m, tea.Batch(m.noticeTick(), m.waitEvent())

	case spinTickMsg:
		if !m.typing {
			return m, nil
		}
		m.spinnerPos = (m.spinnerPos + 1) % len(spinnerFrames)
		m.refreshChatViewport(false)
		return m, m.spinTick()

	case noticeTickMsg:
		m.notice = ""
		return m, nil
	}

	return m.updateChild(msg)
}

func (m *MainModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmDelete != "" {
		switch msg.String() {
		case "y", "Y":
			id := m.confirmDelete
			m.confirmDelete = ""
			m.notice = ""
			m.registry.DeleteSession(id)
		default:
			m.confirmDelete = ""
			m.notice = ""
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		if err := m.registry.Close(); err != nil {
			m.logger.Warn("final save failed", zap.Error(err))
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.NewChat):
		m.registry.CreateSession()
		m.focus = focusInput
		m.input.Focus()
		return m, nil

	case key.Matches(msg, m.keys.Regenerate):
		_ = m.pipeline.Regenerate(context.Background(), m.activeID)
		return m, nil

	case key.Matches(msg, m.keys.Delete):
		id := m.activeID
		if m.focus == focusSidebar && m.sessionSel < len(m.sessions) {
			id = m.sessions[m.sessionSel].ID
		}
		m.confirmDelete = id
		m.notice = fmt.Sprintf("Delete %q? y/n", m.sessionTitle(id))
		return m, nil

	case key.Matches(msg, m.keys.FocusNext):
		m.cycleFocus()
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		switch m.focus {
		case focusInput:
			return m, m.submitInput()
		case focusSidebar:
			if m.sessionSel < len(m.sessions) {
				m.registry.SwitchTo(m.sessions[m.sessionSel].ID)
			}
			return m, nil
		}
	}

	if m.focus == focusSidebar {
		switch msg.String() {
		case "up", "k":
			if m.sessionSel > 0 {
				m.sessionSel--
			}
			return m, nil
		case "down", "j":
			if m.sessionSel < len(m.sessions)-1 {
				m.sessionSel++
			}
			return m, nil
		case "q":
			m.quitting = true
			_ = m.registry.Close()
			return m, tea.Quit
		}
		return m, nil
	}
	if m.focus == focusChat {
		if msg.String() == "q" {
			m.quitting = true
			_ = m.registry.Close()
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.chatVP, cmd = m.chatVP.Update(msg)
		return m, cmd
	}

	return m.updateChild(msg)
}

func (m *MainModel) updateChild(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	if m.focus == focusInput {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.chatVP, cmd = m.chatVP.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *MainModel) submitInput() tea.Cmd {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		m.input.Reset()
		return nil
	}
	err := m.pipeline.Send(context.Background(), m.activeID, text)
	if err == chat.ErrReplyPending {
		m.notice = "Hold on, mi still a reason pon di last one."
		return m.noticeTick()
	}
	if err != nil {
		m.notice = "Someting nuh right, try again."
		m.logger.Warn("send failed", zap.Error(err))
		return m.noticeTick()
	}
	m.input.Reset()
	return nil
}

func (m *MainModel) cycleFocus() {
	switch m.focus {
	case focusInput:
		m.focus = focusChat
		m.input.Blur()
	case focusChat:
		if m.sidebarVisible() {
			m.focus = focusSidebar
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
	case focusSidebar:
		m.focus = focusInput
		m.input.Focus()
	}
}

func (m *MainModel) spinTick() tea.Cmd {
	return tea.Tick(90*time.Millisecond, func(time.Time) tea.Msg { return spinTickMsg{} })
}

func (m *MainModel) noticeTick() tea.Cmd {
	return tea.Tick(noticeLifetime, func(time.Time) tea.Msg { return noticeTickMsg{} })
}

func (m *MainModel) reloadTranscript() {
	if sess, ok := m.registry.Session(m.activeID); ok {
		m.transcript = sess.Messages
	} else {
		m.transcript = nil
	}
}

// syncSelection keeps the sidebar cursor on the active session when the
// list reorders underneath it.
func (m *MainModel) syncSelection() {
	for i, sess := range m.sessions {
		if sess.ID == m.activeID {
			m.sessionSel = i
			return
		}
	}
	if m.sessionSel >= len(m.sessions) {
		m.sessionSel = max(0, len(m.sessions)-1)
	}
}

func (m *MainModel) sessionTitle(id string) string {
	for _, sess := range m.sessions {
		if sess.ID == id {
			return sess.Title
		}
	}
	return chat.DefaultTitle
}

func (m *MainModel) sidebarVisible() bool {
	return m.width >= minSidebarTotal
}

func (m *MainModel) applyLayout() {
	chatWidth := m.chatPaneWidth()

	m.input.SetWidth(max(10, m.width-6))

	vpWidth := max(10, chatWidth-4)
	vpHeight := max(3, m.mainHeight()-2)
	if !m.ready || m.chatVP.Width == 0 {
		m.chatVP = viewport.New(vpWidth, vpHeight)
	} else {
		m.chatVP.Width = vpWidth
		m.chatVP.Height = vpHeight
	}

	if m.markdown == nil || m.mdWidth != vpWidth {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(vpWidth),
		)
		if err == nil {
			m.markdown = r
			m.mdWidth = vpWidth
		}
	}
}

func (m *MainModel) chatPaneWidth() int {
	if m.sidebarVisible() {
		return m.width - sidebarWidth
	}
	return m.width
}

func (m *MainModel) mainHeight() int {
	// top bar + input box (3) + footer
	return max(5, m.height-1-3-1)
}

func (m *MainModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "starting up..."
	}

	var b strings.Builder
	b.WriteString(m.renderTopBar())
	b.WriteString("\n")
	b.WriteString(m.renderMain())
	b.WriteString("\n")
	b.WriteString(m.renderInputArea())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m *MainModel) renderTopBar() string {
	t := m.theme
	left := t.TopBarTitle.Render("irie") + " " + t.TopBarBadge.Render("· Mike")
	right := t.TopBarMeta.Render(fmt.Sprintf("%d chat(s)", len(m.sessions)))

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return " " + left + strings.Repeat(" ", gap) + right
}

func (m *MainModel) renderMain() string {
	chatPane := m.renderChatPane()
	if !m.sidebarVisible() {
		return chatPane
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), chatPane)
}

func (m *MainModel) renderSidebar() string {
	t := m.theme
	inner := sidebarWidth - 4
	height := m.mainHeight() - 2

	title := t.PaneTitle.Render("CHATS")
	if m.focus == focusSidebar {
		title = t.PaneTitleF.Render("CHATS")
	}

	lines := []string{title}
	for i, sess := range m.sessions {
		if len(lines) >= height {
			break
		}
		lines = append(lines, m.sidebarLine(sess, i))
	}

	body := strings.Join(lines, "\n")
	pane := t.Pane
	if m.focus == focusSidebar {
		pane = t.PaneFocused
	}
	return pane.Width(sidebarWidth - 2).Height(height).Render(
		lipgloss.NewStyle().Width(inner).MaxWidth(inner).Render(body))
}

func (m *MainModel) sidebarLine(sess chat.Session, i int) string {
	t := m.theme
	inner := sidebarWidth - 4

	marker := "  "
	style := t.SidebarItem
	if sess.ID == m.activeID {
		marker = "● "
		style = t.SidebarActive
	}
	if m.focus == focusSidebar && i == m.sessionSel {
		marker = "> "
		style = t.SidebarSel
	}

	meta := relTime(sess.UpdatedAt)
	title := truncateRunes(oneLine(sess.Title), inner-len(marker)-len(meta)-1)
	pad := inner - len(marker) - lipgloss.Width(style.Render(title)) - len(meta)
	if pad < 1 {
		pad = 1
	}
	return marker + style.Render(title) + strings.Repeat(" ", pad) + t.SidebarMeta.Render(meta)
}

func (m *MainModel) renderChatPane() string {
	t := m.theme
	height := m.mainHeight() - 2
	width := m.chatPaneWidth() - 2

	pane := t.Pane
	if m.focus == focusChat {
		pane = t.PaneFocused
	}

	m.chatVP.Height = max(3, height)
	return pane.Width(width).Height(height).Render(m.chatVP.View())
}

func (m *MainModel) refreshChatViewport(follow bool) {
	if !m.ready {
		return
	}
	m.chatVP.SetContent(m.renderTranscript())
	if follow {
		m.chatVP.GotoBottom()
	}
}

func (m *MainModel) renderTranscript() string {
	t := m.theme
	var b strings.Builder

	if len(m.transcript) == 0 {
		b.WriteString(t.RoleAI.Render("MIKE") + "\n")
		b.WriteString("Wah gwaan! Mi name Mike. Ask mi anyting bout Jamaica, or just reason wid mi.\n\n")
		b.WriteString(t.RoleSys.Render("Try one a dese:") + "\n")
		for _, s := range chat.SuggestedPrompts {
			b.WriteString("  " + t.Suggestion.Render("· "+s) + "\n")
		}
	}

	for i, msg := range m.transcript {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
	}

	if m.typing {
		frame := spinnerFrames[m.spinnerPos%len(spinnerFrames)]
		b.WriteString("\n" + t.Spinner.Render(frame) + t.RoleSys.Render(" Mike a type..."))
	}
	return b.String()
}

func (m *MainModel) renderMessage(msg chat.Message) string {
	t := m.theme
	stamp := t.RoleSys.Render(msg.Timestamp.Format("3:04 PM"))

	switch msg.Role {
	case chat.RoleUser:
		return t.RoleYou.Render("YOU") + " " + stamp + "\n" + msg.Content + "\n"
	case chat.RoleAssistant:
		body := msg.Content
		if m.markdown != nil {
			if out, err := m.markdown.Render(msg.Content); err == nil {
				body = strings.TrimRight(out, "\n") + "\n"
			}
		}
		return t.RoleAI.Render("MIKE") + " " + stamp + "\n" + body
	default:
		return t.RoleSys.Render(msg.Content) + "\n"
	}
}

func (m *MainModel) renderInputArea() string {
	t := m.theme
	box := t.InputBox
	if m.focus == focusInput {
		box = t.InputBoxF
	}
	return box.Width(m.width - 2).Render(m.input.View())
}

func (m *MainModel) renderFooter() string {
	t := m.theme
	if m.notice != "" {
		return " " + t.Notice.Render(m.notice)
	}

	hints := []string{
		"enter send",
		"tab focus",
		"ctrl+n new",
		"ctrl+r regen",
		"ctrl+d delete",
		"ctrl+c quit",
	}
	return " " + t.Footer.Render(strings.Join(hints, "  ·  "))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.Join(strings.Fields(s), " ")
}

func relTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	d := time.Since(ts)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
