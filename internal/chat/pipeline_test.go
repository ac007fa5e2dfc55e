package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// eventPresenter records presenter calls and signals every pending-state
// transition so tests can await round-trip resolution.
type eventPresenter struct {
	mu        sync.Mutex
	rendered  []Message
	pendingCh chan bool
}

func newEventPresenter() *eventPresenter {
	return &eventPresenter{pendingCh: make(chan bool, 64)}
}

func (p *eventPresenter) RenderMessage(_ string, msg Message) {
	p.mu.Lock()
	p.rendered = append(p.rendered, msg)
	p.mu.Unlock()
}

func (p *eventPresenter) RenderPending(_ string, pending bool) {
	p.pendingCh <- pending
}

func (p *eventPresenter) RenderSessionList([]Session) {}
func (p *eventPresenter) RenderActive(string)         {}
func (p *eventPresenter) RenderNotice(string)         {}

func (p *eventPresenter) renderedMessages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.rendered...)
}

// awaitRoundTrip consumes one pending=true then one pending=false.
func awaitRoundTrip(t *testing.T, p *eventPresenter) {
	t.Helper()
	for _, want := range []bool{true, false} {
		select {
		case got := <-p.pendingCh:
			require.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for pending=%v", want)
		}
	}
}

// waitFor polls until cond holds; round-trip resolution finishes a hair
// after the pending=false notification.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func echoProducer() ReplyProducer {
	return ProducerFunc(func(_ context.Context, history []Message) (string, error) {
		return "re: " + lastUserContent(history), nil
	})
}

func newTestPipeline(t *testing.T, producer ReplyProducer) (*Pipeline, *Registry, *eventPresenter) {
	t.Helper()
	pres := newEventPresenter()
	reg := NewRegistry(NewMemoryStore(), nil, nil)
	return NewPipeline(reg, producer, pres, nil), reg, pres
}

func TestSend_AwaitedSendsPairInOrder(t *testing.T) {
	p, reg, pres := newTestPipeline(t, echoProducer())
	id := reg.ActiveID()
	ctx := context.Background()

	for _, text := range []string{"A", "B", "C"} {
		require.NoError(t, p.Send(ctx, id, text))
		awaitRoundTrip(t, pres)
		waitFor(t, func() bool {
			h := reg.History(id)
			return len(h) > 0 && h[len(h)-1].Role == RoleAssistant
		})
	}

	history := reg.History(id)
	require.Len(t, history, 6)
	for i, want := range []string{"A", "re: A", "B", "re: B", "C", "re: C"} {
		assert.Equal(t, want, history[i].Content)
	}
	for i, m := range history {
		if i%2 == 0 {
			assert.Equal(t, RoleUser, m.Role)
		} else {
			assert.Equal(t, RoleAssistant, m.Role)
		}
	}
}

func TestSend_BlankInputNeverMutates(t *testing.T) {
	p, reg, _ := newTestPipeline(t, echoProducer())
	id := reg.ActiveID()

	require.NoError(t, p.Send(context.Background(), id, ""))
	require.NoError(t, p.Send(context.Background(), id, "   "))

	assert.Empty(t, reg.History(id))
	assert.False(t, p.Pending(id))
}

func TestSend_UnknownSession(t *testing.T) {
	p, _, _ := newTestPipeline(t, echoProducer())
	err := p.Send(context.Background(), "nope", "hello")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSend_RejectedWhileAwaitingReply(t *testing.T) {
	release := make(chan struct{})
	blocking := ProducerFunc(func(_ context.Context, _ []Message) (string, error) {
		<-release
		return "done", nil
	})
	p, reg, pres := newTestPipeline(t, blocking)
	id := reg.ActiveID()
	ctx := context.Background()

	require.NoError(t, p.Send(ctx, id, "A"))
	require.True(t, p.Pending(id))

	err := p.Send(ctx, id, "B")
	assert.ErrorIs(t, err, ErrReplyPending)
	assert.Len(t, reg.History(id), 1, "second user message must not append")

	close(release)
	awaitRoundTrip(t, pres)
	waitFor(t, func() bool { return len(reg.History(id)) == 2 })

	require.NoError(t, p.Send(ctx, id, "B"), "idle again after resolution")
	awaitRoundTrip(t, pres)
	waitFor(t, func() bool { return len(reg.History(id)) == 4 })
}

func TestSend_FailureAppendsFallback(t *testing.T) {
	failing := ProducerFunc(func(_ context.Context, _ []Message) (string, error) {
		return "", errors.New("transport down")
	})
	p, reg, pres := newTestPipeline(t, failing)
	id := reg.ActiveID()

	require.NoError(t, p.Send(context.Background(), id, "anybody home?"))
	awaitRoundTrip(t, pres)
	waitFor(t, func() bool { return len(reg.History(id)) == 2 })

	history := reg.History(id)
	assert.Equal(t, RoleAssistant, history[1].Role)
	assert.Equal(t, FallbackReply, history[1].Content)
	assert.False(t, p.Pending(id), "pipeline returns to idle after failure")
}

func TestSend_BlankReplyTreatedAsFailure(t *testing.T) {
	blank := ProducerFunc(func(_ context.Context, _ []Message) (string, error) {
		return "   ", nil
	})
	p, reg, pres := newTestPipeline(t, blank)
	id := reg.ActiveID()

	require.NoError(t, p.Send(context.Background(), id, "hello"))
	awaitRoundTrip(t, pres)
	waitFor(t, func() bool { return len(reg.History(id)) == 2 })

	assert.Equal(t, FallbackReply, reg.History(id)[1].Content)
}

func TestRegenerate(t *testing.T) {
	seed := func(t *testing.T, reg *Registry, roles ...string) {
		t.Helper()
		id := reg.ActiveID()
		for i, role := range roles {
			_, err := reg.AppendMessage(id, role, fmt.Sprintf("msg-%d", i))
			require.NoError(t, err)
		}
	}

	t.Run("no assistant reply yet is a no-op", func(t *testing.T) {
		p, reg, _ := newTestPipeline(t, echoProducer())
		seed(t, reg, RoleUser)

		require.NoError(t, p.Regenerate(context.Background(), reg.ActiveID()))
		assert.Len(t, reg.History(reg.ActiveID()), 1)
		assert.False(t, p.Pending(reg.ActiveID()))
	})

	t.Run("empty transcript is a no-op", func(t *testing.T) {
		p, reg, _ := newTestPipeline(t, echoProducer())
		require.NoError(t, p.Regenerate(context.Background(), reg.ActiveID()))
		assert.Empty(t, reg.History(reg.ActiveID()))
	})

	t.Run("consecutive trailing assistants is a no-op", func(t *testing.T) {
		p, reg, _ := newTestPipeline(t, echoProducer())
		seed(t, reg, RoleUser, RoleAssistant, RoleAssistant)

		require.NoError(t, p.Regenerate(context.Background(), reg.ActiveID()))
		assert.Len(t, reg.History(reg.ActiveID()), 3)
	})

	t.Run("replaces the trailing assistant reply", func(t *testing.T) {
		var gotHistory []Message
		producer := ProducerFunc(func(_ context.Context, history []Message) (string, error) {
			gotHistory = append([]Message(nil), history...)
			return "fresh take", nil
		})
		p, reg, pres := newTestPipeline(t, producer)
		id := reg.ActiveID()
		seed(t, reg, RoleUser, RoleAssistant)

		require.NoError(t, p.Regenerate(context.Background(), id))
		awaitRoundTrip(t, pres)
		waitFor(t, func() bool { return len(reg.History(id)) == 2 })

		history := reg.History(id)
		assert.Equal(t, "fresh take", history[1].Content)
		assert.Equal(t, RoleAssistant, history[1].Role)

		require.NotEmpty(t, gotHistory)
		assert.Equal(t, RoleUser, gotHistory[len(gotHistory)-1].Role,
			"producer sees the transcript ending with the preceding user message")
	})

	t.Run("rejected while awaiting reply", func(t *testing.T) {
		release := make(chan struct{})
		blocking := ProducerFunc(func(_ context.Context, _ []Message) (string, error) {
			<-release
			return "done", nil
		})
		p, reg, pres := newTestPipeline(t, blocking)
		id := reg.ActiveID()
		seed(t, reg, RoleUser, RoleAssistant)

		require.NoError(t, p.Send(context.Background(), id, "more"))
		require.NoError(t, p.Regenerate(context.Background(), id))
		assert.Len(t, reg.History(id), 3, "regenerate while pending must not remove anything")

		close(release)
		awaitRoundTrip(t, pres)
		waitFor(t, func() bool { return len(reg.History(id)) == 4 })
	})
}

func TestReplyLandsInOriginatingSession(t *testing.T) {
	release := make(chan struct{})
	blocking := ProducerFunc(func(_ context.Context, _ []Message) (string, error) {
		<-release
		return "late reply", nil
	})
	p, reg, pres := newTestPipeline(t, blocking)
	origin := reg.ActiveID()

	require.NoError(t, p.Send(context.Background(), origin, "slow question"))

	// Switch away while the reply is in flight.
	other := reg.CreateSession()
	require.Equal(t, other.ID, reg.ActiveID())

	close(release)
	awaitRoundTrip(t, pres)
	waitFor(t, func() bool { return len(reg.History(origin)) == 2 })

	assert.Equal(t, "late reply", reg.History(origin)[1].Content)
	assert.Empty(t, reg.History(other.ID), "reply never leaks into the displayed session")

	// The transcript repaint is skipped for the non-active session: only
	// the user message was rendered.
	for _, m := range pres.renderedMessages() {
		assert.NotEqual(t, "late reply", m.Content)
	}
}

func TestReplyDroppedWhenSessionDeleted(t *testing.T) {
	release := make(chan struct{})
	blocking := ProducerFunc(func(_ context.Context, _ []Message) (string, error) {
		<-release
		return "ghost reply", nil
	})
	p, reg, pres := newTestPipeline(t, blocking)
	origin := reg.ActiveID()

	require.NoError(t, p.Send(context.Background(), origin, "doomed question"))
	reg.DeleteSession(origin)

	close(release)
	awaitRoundTrip(t, pres)
	waitFor(t, func() bool { return !p.Pending(origin) })

	for _, sess := range reg.Sessions() {
		for _, m := range sess.Messages {
			assert.NotEqual(t, "ghost reply", m.Content)
		}
	}
}

func TestIndependentSessionsOverlap(t *testing.T) {
	releaseA := make(chan struct{})
	producer := ProducerFunc(func(_ context.Context, history []Message) (string, error) {
		if lastUserContent(history) == "slow" {
			<-releaseA
			return "slow reply", nil
		}
		return "fast reply", nil
	})
	p, reg, pres := newTestPipeline(t, producer)

	a := reg.ActiveID()
	b := reg.CreateSession()

	require.NoError(t, p.Send(context.Background(), a, "slow"))
	require.NoError(t, p.Send(context.Background(), b.ID, "fast"),
		"a pending reply in one session must not block another")

	waitFor(t, func() bool { return len(reg.History(b.ID)) == 2 })
	assert.Len(t, reg.History(a), 1, "slow session still awaiting")

	close(releaseA)
	waitFor(t, func() bool { return len(reg.History(a)) == 2 })

	// Drain the four pending transitions so nothing leaks.
	for i := 0; i < 4; i++ {
		select {
		case <-pres.pendingCh:
		case <-time.After(5 * time.Second):
			t.Fatal("missing pending transition")
		}
	}
}

func TestSpeakerReceivesReplies(t *testing.T) {
	p, reg, pres := newTestPipeline(t, echoProducer())
	spoken := make(chan string, 1)
	p.SetSpeaker(speakerFunc(func(text string) { spoken <- text }))
	id := reg.ActiveID()

	require.NoError(t, p.Send(context.Background(), id, "talk to mi"))
	awaitRoundTrip(t, pres)

	select {
	case text := <-spoken:
		assert.Equal(t, "re: talk to mi", text)
	case <-time.After(5 * time.Second):
		t.Fatal("speaker never invoked")
	}
}

// settledRecorder checks, at the moment the assistant render arrives,
// that the reply is already readable from the registry. Waiters keyed on
// RenderMessage depend on that ordering; pending=false fires earlier.
type settledRecorder struct {
	NopPresenter
	reg     *Registry
	mu      sync.Mutex
	settled []bool
	done    chan struct{}
}

func (p *settledRecorder) RenderMessage(sessionID string, msg Message) {
	if msg.Role != RoleAssistant {
		return
	}
	history := p.reg.History(sessionID)
	ok := len(history) > 0 && history[len(history)-1].ID == msg.ID
	p.mu.Lock()
	p.settled = append(p.settled, ok)
	p.mu.Unlock()
	close(p.done)
}

func TestAssistantRenderSeesAppendedReply(t *testing.T) {
	pres := &settledRecorder{done: make(chan struct{})}
	reg := NewRegistry(NewMemoryStore(), nil, nil)
	pres.reg = reg
	p := NewPipeline(reg, echoProducer(), pres, nil)
	id := reg.ActiveID()

	require.NoError(t, p.Send(context.Background(), id, "ready?"))

	select {
	case <-pres.done:
	case <-time.After(5 * time.Second):
		t.Fatal("assistant reply never rendered")
	}

	pres.mu.Lock()
	defer pres.mu.Unlock()
	require.Len(t, pres.settled, 1)
	assert.True(t, pres.settled[0], "the render arrives after the append")
}

type speakerFunc func(string)

func (f speakerFunc) Speak(text string) { f(text) }
