package chat

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FallbackReply is the fixed assistant message appended when the reply
// producer fails, so the transcript always reflects what the user saw.
const FallbackReply = "Sorry mi friend, mi brain nuh work right now. Try again inna likkle bit."

// Pipeline mediates the asynchronous reply round-trip. Each session is a
// two-state machine, Idle or AwaitingReply; a send against a session that
// is already awaiting a reply is rejected, which serializes appends per
// session. Round-trips for different sessions overlap freely.
type Pipeline struct {
	mu        sync.Mutex
	pending   map[string]bool
	registry  *Registry
	producer  ReplyProducer
	presenter Presenter
	speaker   Speaker
	logger    *zap.Logger
}

func NewPipeline(registry *Registry, producer ReplyProducer, presenter Presenter, logger *zap.Logger) *Pipeline {
	if presenter == nil {
		presenter = NopPresenter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		pending:   make(map[string]bool),
		registry:  registry,
		producer:  producer,
		presenter: presenter,
		logger:    logger,
	}
}

// SetSpeaker attaches an optional voice capability; assistant replies
// are vocalized fire-and-forget. A nil speaker disables it.
func (p *Pipeline) SetSpeaker(s Speaker) {
	p.mu.Lock()
	p.speaker = s
	p.mu.Unlock()
}

// Pending reports whether the session has an outstanding reply request.
func (p *Pipeline) Pending(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending[sessionID]
}

// Send appends a user message and requests a reply. Blank input is
// silently ignored. While a reply is outstanding for the session, Send
// returns ErrReplyPending and appends nothing.
func (p *Pipeline) Send(ctx context.Context, sessionID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending[sessionID] {
		p.logger.Debug("send rejected, reply pending", zap.String("session_id", sessionID))
		return ErrReplyPending
	}

	msg, err := p.registry.AppendMessage(sessionID, RoleUser, text)
	if err != nil {
		if err == ErrEmptyInput {
			return nil
		}
		p.logger.Warn("send to unknown session", zap.String("session_id", sessionID))
		return err
	}
	p.presenter.RenderMessage(sessionID, msg)

	p.beginRoundTripLocked(ctx, sessionID)
	return nil
}

// Regenerate discards the trailing assistant reply and requests a fresh
// one for the same preceding user message. It is a no-op unless the
// session is idle and its transcript ends with exactly one assistant
// message preceded by a user message.
func (p *Pipeline) Regenerate(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending[sessionID] {
		return nil
	}
	history := p.registry.History(sessionID)
	n := len(history)
	if n < 2 || history[n-1].Role != RoleAssistant || history[n-2].Role != RoleUser {
		// Includes the malformed consecutive-assistant case: leave it be.
		return nil
	}

	if !p.registry.RemoveLastAssistantMessage(sessionID) {
		return nil
	}
	p.presenter.RenderActive(sessionID)

	p.beginRoundTripLocked(ctx, sessionID)
	return nil
}

// beginRoundTripLocked flips the session to AwaitingReply and launches
// the producer call. Callers hold p.mu.
func (p *Pipeline) beginRoundTripLocked(ctx context.Context, sessionID string) {
	p.pending[sessionID] = true
	p.presenter.RenderPending(sessionID, true)

	history := p.registry.History(sessionID)
	go p.roundTrip(ctx, sessionID, history)
}

func (p *Pipeline) roundTrip(ctx context.Context, sessionID string, history []Message) {
	reply, err := p.producer.ProduceReply(ctx, history)
	p.resolve(sessionID, reply, err)
}

// resolve returns the session to Idle and appends the outcome. The reply
// always lands in its originating session; the live transcript is only
// repainted when that session is still the active one.
func (p *Pipeline) resolve(sessionID, reply string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.pending, sessionID)
	p.presenter.RenderPending(sessionID, false)

	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyInput
	}
	if err != nil {
		p.logger.Warn("reply producer failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		reply = FallbackReply
	}

	msg, aerr := p.registry.AppendMessage(sessionID, RoleAssistant, reply)
	if aerr != nil {
		// Session deleted while the reply was in flight.
		p.logger.Warn("dropping reply for vanished session",
			zap.String("session_id", sessionID),
			zap.Error(aerr))
		return
	}

	if p.registry.ActiveID() == sessionID {
		p.presenter.RenderMessage(sessionID, msg)
	}
	if p.speaker != nil {
		p.speaker.Speak(reply)
	}
}
