// ABOUTME: Read-only status snapshot and user notices exposed by the room controller
// ABOUTME: Backs the connection and agent indicators of the terminal client

package room

import (
	"time"

	"github.com/2389/coven-room/internal/conversation"
	"github.com/2389/coven-room/internal/event"
	"github.com/2389/coven-room/internal/media"
	"github.com/2389/coven-room/internal/participant"
	"github.com/2389/coven-room/internal/session"
	"github.com/2389/coven-room/internal/store"
	"github.com/2389/coven-room/internal/token"
)

// NoticeKind classifies a user-facing notice.
type NoticeKind string

const (
	NoticeAgentConnected    NoticeKind = "agent_connected"
	NoticeAgentDisconnected NoticeKind = "agent_disconnected"
	NoticeReconnecting      NoticeKind = "reconnecting"
	NoticeReconnected       NoticeKind = "reconnected"
	NoticeConnectionLost    NoticeKind = "connection_lost"
)

// Notice is a short message meant to be shown to the user.
type Notice struct {
	Kind NoticeKind
	Text string
	At   time.Time
}

// Status is a snapshot of everything the indicators show.
type Status struct {
	State        session.State
	Room         string
	Identity     string
	AgentPresent bool
	Participants int
	Recording    bool
	Duration     time.Duration
	Typing       bool
	// LastError is the last connection failure; cleared by a successful Start.
	LastError error
}

// Status returns the current snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	lastErr := c.lastErr
	c.mu.Unlock()

	info := c.session.Info()
	roomName := info.Room
	if roomName == "" {
		roomName = c.cfg.Room.Name
	}
	return Status{
		State:        info.State,
		Room:         roomName,
		Identity:     c.identity,
		AgentPresent: c.registry.AgentPresent(),
		Participants: c.registry.Len(),
		Recording:    c.media.Recording(),
		Duration:     c.media.Duration(),
		Typing:       c.bridge.Typing(),
		LastError:    lastErr,
	}
}

// Identity returns the local participant identity.
func (c *Controller) Identity() string {
	return c.identity
}

// Claims returns the claims of the last accepted credential, or nil.
func (c *Controller) Claims() *token.Claims {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims
}

// Participants returns the remote participants, sorted by identity.
func (c *Controller) Participants() []participant.Participant {
	return c.registry.Participants()
}

// Messages returns the conversation so far.
func (c *Controller) Messages() []store.Message {
	return c.bridge.Messages()
}

// ConversationKey returns the key the conversation is stored under.
func (c *Controller) ConversationKey() string {
	return c.bridge.ConversationKey()
}

// Feed returns the live message feed. It is closed by Close.
func (c *Controller) Feed() *conversation.MessageFeed {
	return c.feed
}

// Publications returns the remote publications seen in this session.
func (c *Controller) Publications() []session.TrackPublication {
	return c.media.Publications()
}

// OnNotice registers fn for user-facing notices.
func (c *Controller) OnNotice(fn func(Notice)) *event.Subscription {
	return c.subs.Add(c.notices.Add(fn))
}

// OnStateChange registers fn for session state changes.
func (c *Controller) OnStateChange(fn func(prev, next session.State)) *event.Subscription {
	return c.subs.Add(c.session.Subscribe(func(ev session.Event) {
		if ev.Type == session.EventStateChanged {
			fn(ev.Previous, ev.State)
		}
	}))
}

// OnMessage registers fn for every appended conversation message.
func (c *Controller) OnMessage(fn func(store.Message)) *event.Subscription {
	return c.subs.Add(c.bridge.OnMessage(fn))
}

// OnTyping registers fn for typing indicator flips.
func (c *Controller) OnTyping(fn func(bool)) *event.Subscription {
	return c.subs.Add(c.bridge.OnTyping(fn))
}

// OnRecordingChange registers fn for microphone state flips.
func (c *Controller) OnRecordingChange(fn func(bool)) *event.Subscription {
	return c.subs.Add(c.media.OnRecordingChange(fn))
}

// OnDuration registers fn for recording timer ticks.
func (c *Controller) OnDuration(fn func(time.Duration)) *event.Subscription {
	return c.subs.Add(c.media.OnDuration(fn))
}

// FormatDuration renders a recording duration as MM:SS.
func FormatDuration(d time.Duration) string {
	return media.FormatDuration(d)
}
