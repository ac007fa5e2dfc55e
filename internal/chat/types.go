package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	// DefaultTitle is the sentinel shown until the first user message
	// names the session.
	DefaultTitle = "New Chat"

	// MaxSessions bounds the registry. Sessions past the cap are dropped
	// permanently on the next save.
	MaxSessions = 50

	titleMaxRunes = 50
)

type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // user|assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newSession() *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newMessage(role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	return &out
}

func (s *Session) lastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// deriveTitle truncates the first user message down to the title cap.
// Rune-aware so multi-byte patois and emoji don't get split.
func deriveTitle(content string) string {
	content = strings.TrimSpace(content)
	r := []rune(content)
	if len(r) <= titleMaxRunes {
		return content
	}
	return string(r[:titleMaxRunes]) + "…"
}
