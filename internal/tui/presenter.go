package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"irie-chat/internal/chat"
)

// Presenter notifications surfaced to the bubbletea loop as messages.
type (
	MessageEvent struct {
		SessionID string
		Message   chat.Message
	}
	PendingEvent struct {
		SessionID string
		Pending   bool
	}
	SessionListEvent struct {
		Sessions []chat.Session
	}
	ActiveEvent struct {
		SessionID string
	}
	NoticeEvent struct {
		Text string
	}
)

// EventPresenter bridges the core's synchronous presenter calls into a
// channel the TUI drains one message at a time. The channel is buffered
// and drops on overflow; painting is best-effort, the registry owns the
// truth and the model re-reads it on session switches.
type EventPresenter struct {
	ch chan tea.Msg
}

func NewEventPresenter() *EventPresenter {
	return &EventPresenter{ch: make(chan tea.Msg, 256)}
}

// Events exposes the notification stream for the TUI to wait on.
func (p *EventPresenter) Events() <-chan tea.Msg {
	return p.ch
}

func (p *EventPresenter) RenderMessage(sessionID string, msg chat.Message) {
	p.send(MessageEvent{SessionID: sessionID, Message: msg})
}

func (p *EventPresenter) RenderPending(sessionID string, pending bool) {
	p.send(PendingEvent{SessionID: sessionID, Pending: pending})
}

func (p *EventPresenter) RenderSessionList(sessions []chat.Session) {
	p.send(SessionListEvent{Sessions: sessions})
}

func (p *EventPresenter) RenderActive(sessionID string) {
	p.send(ActiveEvent{SessionID: sessionID})
}

func (p *EventPresenter) RenderNotice(text string) {
	p.send(NoticeEvent{Text: text})
}

func (p *EventPresenter) send(msg tea.Msg) {
	select {
	case p.ch <- msg:
	default:
		// Drop if the UI can't keep up.
	}
}
