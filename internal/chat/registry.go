package chat

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry owns the ordered session collection, front = most recently
// created or updated. It is the sole mutation path for sessions and the
// store: every durable mutation persists synchronously before the call
// returns, so a crash loses at most the latest change.
type Registry struct {
	mu        sync.Mutex
	sessions  []*Session
	activeID  string
	store     Store
	presenter Presenter
	logger    *zap.Logger
}

// NewRegistry restores the registry from the store, tolerating absent or
// corrupt data, and guarantees a non-empty collection with a valid
// active session.
func NewRegistry(store Store, presenter Presenter, logger *zap.Logger) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	if presenter == nil {
		presenter = NopPresenter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{store: store, presenter: presenter, logger: logger}

	snap, err := store.Load()
	if err != nil {
		logger.Warn("restoring chat log failed, starting empty", zap.Error(err))
		snap = Snapshot{}
	}
	r.sessions = snap.Sessions
	r.activeID = snap.ActiveID

	if len(r.sessions) == 0 {
		sess := newSession()
		r.sessions = []*Session{sess}
		r.activeID = sess.ID
		r.persistLocked()
	} else if r.findLocked(r.activeID) < 0 {
		r.activeID = r.sessions[0].ID
		r.persistLocked()
	}

	r.presenter.RenderSessionList(r.sessionsLocked())
	r.presenter.RenderActive(r.activeID)
	return r
}

// CreateSession allocates a fresh session, inserts it at the front, and
// makes it active.
func (r *Registry) CreateSession() Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := newSession()
	r.sessions = append([]*Session{sess}, r.sessions...)
	r.activeID = sess.ID
	r.evictOverflowLocked()
	r.persistLocked()

	r.presenter.RenderSessionList(r.sessionsLocked())
	r.presenter.RenderActive(r.activeID)
	return *sess.clone()
}

// SwitchTo makes the given session active. Unknown ids are a silent
// no-op and leave the active session unchanged.
func (r *Registry) SwitchTo(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findLocked(sessionID) < 0 {
		r.logger.Debug("switch to unknown session ignored", zap.String("session_id", sessionID))
		return false
	}
	r.activeID = sessionID
	r.persistLocked()
	r.presenter.RenderActive(r.activeID)
	return true
}

// DeleteSession removes a session permanently. Deleting the active
// session behaves as if CreateSession ran right after, so the registry
// never ends up without an active session. Confirmation is the boundary
// layer's job.
func (r *Registry) DeleteSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findLocked(sessionID)
	if i < 0 {
		r.logger.Debug("delete of unknown session ignored", zap.String("session_id", sessionID))
		return
	}
	wasActive := r.activeID == sessionID
	r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)

	if wasActive {
		sess := newSession()
		r.sessions = append([]*Session{sess}, r.sessions...)
		r.activeID = sess.ID
	}
	r.persistLocked()

	r.presenter.RenderSessionList(r.sessionsLocked())
	r.presenter.RenderActive(r.activeID)
}

// AppendMessage constructs and appends a message to the session's
// transcript. The session moves to the front of the collection and the
// title is derived once from the first user message.
func (r *Registry) AppendMessage(sessionID, role, content string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findLocked(sessionID)
	if i < 0 {
		r.logger.Warn("append to unknown session", zap.String("session_id", sessionID))
		return Message{}, ErrInvalidSession
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyInput
	}

	sess := r.sessions[i]
	msg := newMessage(role, content)
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = msg.Timestamp
	if role == RoleUser && sess.Title == DefaultTitle {
		sess.Title = deriveTitle(content)
	}

	if i != 0 {
		r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
		r.sessions = append([]*Session{sess}, r.sessions...)
	}
	r.persistLocked()

	r.presenter.RenderSessionList(r.sessionsLocked())
	return msg, nil
}

// RemoveLastAssistantMessage drops the trailing message only when its
// role is assistant. Used exclusively by regenerate.
func (r *Registry) RemoveLastAssistantMessage(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findLocked(sessionID)
	if i < 0 {
		return false
	}
	sess := r.sessions[i]
	last, ok := sess.lastMessage()
	if !ok || last.Role != RoleAssistant {
		return false
	}
	sess.Messages = sess.Messages[:len(sess.Messages)-1]
	r.persistLocked()
	return true
}

// Sessions returns the ordered collection, front first, as copies.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionsLocked()
}

// ActiveID returns the active session id, or "" when none exists.
func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Session returns a copy of one session by id.
func (r *Registry) Session(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.findLocked(sessionID)
	if i < 0 {
		return Session{}, false
	}
	return *r.sessions[i].clone(), true
}

// History returns a copy of the session's transcript in conversation
// order.
func (r *Registry) History(sessionID string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.findLocked(sessionID)
	if i < 0 {
		return nil
	}
	return append([]Message(nil), r.sessions[i].Messages...)
}

// Close flushes the registry to the store, best effort.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Save(r.snapshotLocked())
}

func (r *Registry) findLocked(sessionID string) int {
	for i, sess := range r.sessions {
		if sess.ID == sessionID {
			return i
		}
	}
	return -1
}

func (r *Registry) sessionsLocked() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, *sess.clone())
	}
	return out
}

func (r *Registry) snapshotLocked() Snapshot {
	snap := Snapshot{ActiveID: r.activeID}
	snap.Sessions = make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		snap.Sessions = append(snap.Sessions, sess.clone())
	}
	return snap
}

// evictOverflowLocked trims the collection to the cap, discarding the
// least recent sessions permanently.
func (r *Registry) evictOverflowLocked() {
	if len(r.sessions) <= MaxSessions {
		return
	}
	evicted := r.sessions[MaxSessions:]
	r.sessions = r.sessions[:MaxSessions]
	for _, sess := range evicted {
		if sess.ID == r.activeID {
			// The active session is normally at the front; recover anyway.
			r.activeID = r.sessions[0].ID
			r.logger.Warn("active session evicted by overflow", zap.String("session_id", sess.ID))
		}
	}
}

func (r *Registry) persistLocked() {
	if err := r.store.Save(r.snapshotLocked()); err != nil {
		r.logger.Error("saving chat log failed", zap.Error(err))
		r.presenter.RenderNotice("Cyaan save di chat right now, but di conversation continues.")
	}
}
