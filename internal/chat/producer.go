package chat

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

// ReplyProducer turns conversation history into a reply. Implementations
// may block; the pipeline always calls them off the mutation path. Any
// timeout policy belongs to the producer and surfaces here only as an
// error.
type ReplyProducer interface {
	ProduceReply(ctx context.Context, history []Message) (string, error)
}

// ProducerFunc adapts a function to the ReplyProducer interface.
type ProducerFunc func(ctx context.Context, history []Message) (string, error)

func (f ProducerFunc) ProduceReply(ctx context.Context, history []Message) (string, error) {
	return f(ctx, history)
}

// KeywordProducer is the built-in offline responder: a keyword table of
// patois replies with a simulated typing delay. No network, no NLU.
type KeywordProducer struct {
	delay time.Duration
	pick  func(n int) int
}

const unknownReply = "Mi nuh too sure wah yuh mean. Try ask mi inna different way."

var keywordReplies = []struct {
	keywords []string
	replies  []string
}{
	{
		keywords: []string{"hello", "hi", "wah gwaan"},
		replies: []string{
			"Wah gwaan! How yuh doing today?",
			"Big up yuhself! What can Mike help yuh with?",
			"Irie! Mi ready fi assist yuh, seen?",
			"Respect! Tell mi what yuh need help with.",
		},
	},
	{
		keywords: []string{"weather"},
		replies: []string{
			"Mi cyaan check di weather right now, but Jamaica weather usually nice and warm! Around 80-85°F most days.",
			"Di weather inna Jamaica always blessed! Hot sun, warm breeze, and beautiful beaches all year round.",
			"Jamaica weather stay consistent - warm and tropical! Perfect fi beach or just chillin' outside.",
		},
	},
	{
		keywords: []string{"food"},
		replies: []string{
			"Yuh want know bout Jamaican food? Try some ackee and saltfish, jerk chicken, curry goat, or some nice rice and peas!",
			"Mi love fi talk bout food! Jamaican cuisine full of flavor - jerk seasoning, curry, and plenty spice!",
			"Some good Jamaican food include: patties, festival, plantain, and don't forget bout di rum cake!",
		},
	},
	{
		keywords: []string{"culture", "jamaica"},
		replies: []string{
			"Jamaica culture rich with reggae music, Rastafari, and plenty love and respect for each other.",
			"We known fi Bob Marley, Usain Bolt, and di beautiful Blue Mountains. One love!",
			"Jamaica small but mighty! We bring reggae, dancehall, and positive vibes to di whole world.",
		},
	},
	{
		keywords: []string{"help"},
		replies: []string{
			"Mi here fi help yuh with anything! Ask mi bout Jamaica, get advice, or just have a reasoning.",
			"What yuh need assistance with? Mi can help translate patois, explain Jamaican culture, or just chat!",
			"Don't be shy! Mike ready fi help with whatever yuh curious about.",
		},
	},
}

// NewKeywordProducer builds the offline responder. delay simulates the
// assistant thinking; zero means reply immediately.
func NewKeywordProducer(delay time.Duration) *KeywordProducer {
	return &KeywordProducer{delay: delay, pick: rand.IntN}
}

func (p *KeywordProducer) ProduceReply(ctx context.Context, history []Message) (string, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	input := strings.ToLower(lastUserContent(history))
	for _, entry := range keywordReplies {
		for _, kw := range entry.keywords {
			if strings.Contains(input, kw) {
				return entry.replies[p.pick(len(entry.replies))], nil
			}
		}
	}
	return unknownReply, nil
}

func lastUserContent(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content
		}
	}
	return ""
}

// SuggestedPrompts are starter questions surfaced on an empty transcript.
var SuggestedPrompts = []string{
	"Teach me Patois 🇯🇲",
	"Give me di recipe for Jamaican jerk chicken 🍗",
	"Who are some great reggae musicians? 🎶",
	"Tell me about Jamaica’s best beaches 🏝️",
	"Show me some Jamaican dance moves 💃",
}
