package chat

// Presenter is the capability set the core invokes after each relevant
// mutation. Implementations own painting only; they must never mutate
// core state back. Calls are synchronous and arrive in mutation order.
type Presenter interface {
	// RenderMessage paints one appended message.
	RenderMessage(sessionID string, msg Message)
	// RenderPending toggles the typing indicator for a session.
	RenderPending(sessionID string, pending bool)
	// RenderSessionList repaints the sidebar; sessions arrive front-first.
	RenderSessionList(sessions []Session)
	// RenderActive repaints the live transcript for the given session.
	// Empty id means no active session.
	RenderActive(sessionID string)
	// RenderNotice shows a transient non-blocking notice (e.g. a failed
	// save). Adapters may ignore it.
	RenderNotice(text string)
}

// NopPresenter discards every notification. Useful headless and in tests.
type NopPresenter struct{}

func (NopPresenter) RenderMessage(string, Message)  {}
func (NopPresenter) RenderPending(string, bool)     {}
func (NopPresenter) RenderSessionList([]Session)    {}
func (NopPresenter) RenderActive(string)            {}
func (NopPresenter) RenderNotice(string)            {}
