// ABOUTME: ConversationBridge turns user text into one agent request and logs the exchange
// ABOUTME: Record first, then act: the user message is appended before the agent is asked

package conversation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-room/internal/event"
	"github.com/2389/coven-room/internal/store"
)

// Agent reply texts produced by the bridge itself.
const (
	NoResponseText   = "No response from agent."
	AgentErrorPrefix = "Error: Unable to communicate with AI agent. "
)

// BridgeOptions configures a Bridge. All fields are optional.
type BridgeOptions struct {
	// ConversationKey groups this bridge's messages in the transcript.
	ConversationKey string
	// Transcript mirrors every appended message. Failures are logged only.
	Transcript store.TranscriptStore
	// Feed receives every appended message.
	Feed *MessageFeed
	Logger      *slog.Logger
}

// Bridge is the request/response text channel to the backend agent. It
// keeps an append-only message log and a single typing indicator.
//
// SendMessage is not guarded against concurrent use: callers that want
// each user message directly followed by its reply must wait for the
// previous call to return (Typing reports true meanwhile).
type Bridge struct {
	agent      AgentClient
	transcript store.TranscriptStore
	feed       *MessageFeed
	key        string
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	messages []store.Message
	typing   bool

	messageListeners event.Listeners[store.Message]
	typingListeners  event.Listeners[bool]
}

// NewBridge creates a bridge that asks agent.
func NewBridge(agent AgentClient, opts BridgeOptions) *Bridge {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		agent:      agent,
		transcript: opts.Transcript,
		feed:       opts.Feed,
		key:        opts.ConversationKey,
		logger:     opts.Logger.With("component", "conversation"),
		now:        time.Now,
	}
}

// SendMessage appends text as a user message, asks the agent once and
// appends its reply. Any failure becomes the text of the agent message;
// SendMessage itself never fails. Whitespace-only text is ignored.
func (b *Bridge) SendMessage(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	// 1. Record the user message first
	user := b.append(store.SenderUser, text, time.Time{})

	b.setTyping(true)
	defer b.setTyping(false)

	// 2. Ask the agent
	start := time.Now()
	reply, err := b.agent.Ask(ctx, text)
	if err != nil {
		b.logger.Warn("agent request failed",
			"message_id", user.ID,
			"duration", time.Since(start),
			"error", err)
		reply = AgentErrorPrefix + err.Error()
	} else if reply == "" {
		reply = NoResponseText
	} else {
		b.logger.Debug("agent replied",
			"message_id", user.ID,
			"duration", time.Since(start),
			"length", len(reply))
	}

	// 3. Record the reply, never earlier than the question
	b.append(store.SenderAgent, reply, user.Timestamp)
}

// append adds a message to the log and mirrors it. The timestamp is never
// earlier than notBefore.
func (b *Bridge) append(sender store.Sender, text string, notBefore time.Time) store.Message {
	ts := b.now()
	if ts.Before(notBefore) {
		ts = notBefore
	}
	msg := store.Message{
		ID:              uuid.New().String(),
		ConversationKey: b.key,
		Sender:          sender,
		Text:            text,
		Timestamp:       ts,
	}

	b.mu.Lock()
	b.messages = append(b.messages, msg)
	b.mu.Unlock()

	if b.transcript != nil {
		// The transcript must not lose a message because the caller's
		// request context was cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.transcript.AppendMessage(ctx, &msg); err != nil {
			b.logger.Error("failed to store message", "message_id", msg.ID, "error", err)
		}
		cancel()
	}
	if b.feed != nil {
		b.feed.Publish(msg)
	}
	b.messageListeners.Emit(msg)
	return msg
}

func (b *Bridge) setTyping(typing bool) {
	b.mu.Lock()
	changed := b.typing != typing
	b.typing = typing
	b.mu.Unlock()

	if changed {
		b.typingListeners.Emit(typing)
	}
}

// Messages returns a copy of the log in append order.
func (b *Bridge) Messages() []store.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]store.Message(nil), b.messages...)
}

// Typing reports whether an agent request is in flight.
func (b *Bridge) Typing() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.typing
}

// ConversationKey returns the key this bridge stores messages under.
func (b *Bridge) ConversationKey() string {
	return b.key
}

// OnMessage registers fn for every appended message.
func (b *Bridge) OnMessage(fn func(store.Message)) *event.Subscription {
	return b.messageListeners.Add(fn)
}

// OnTyping registers fn for every typing indicator change.
func (b *Bridge) OnTyping(fn func(typing bool)) *event.Subscription {
	return b.typingListeners.Add(fn)
}
