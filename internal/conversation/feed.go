// ABOUTME: MessageFeed delivers appended conversation messages to channel subscribers
// ABOUTME: Subscribers filter by conversation and sender and may replay recent history

package conversation

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/2389/coven-room/internal/store"
)

const (
	// DefaultFeedBacklog is how many recent messages a feed keeps for replay.
	DefaultFeedBacklog = 50

	minSubscriberBuffer = 64
)

// FeedFilter selects the messages a subscriber receives. The zero value
// matches every message and replays nothing.
type FeedFilter struct {
	ConversationKey string         // empty matches every conversation
	Senders         []store.Sender // empty matches every sender
	Replay          int            // recent matching messages delivered first
}

func (f FeedFilter) match(msg store.Message) bool {
	if f.ConversationKey != "" && msg.ConversationKey != f.ConversationKey {
		return false
	}
	return len(f.Senders) == 0 || slices.Contains(f.Senders, msg.Sender)
}

// FeedSubscription is one consumer of a MessageFeed. C is closed when the
// subscription is closed, its context ends or the feed closes.
type FeedSubscription struct {
	C <-chan store.Message

	ch      chan store.Message
	filter  FeedFilter
	feed    *MessageFeed
	id      uint64
	dropped atomic.Uint64
}

// Dropped returns how many matching messages were discarded because the
// subscriber fell behind.
func (s *FeedSubscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops delivery and closes C. It is safe to call more than once.
func (s *FeedSubscription) Close() {
	s.feed.remove(s.id)
}

// MessageFeed fans appended messages out to subscribers without ever
// blocking the publisher.
type MessageFeed struct {
	logger  *slog.Logger
	backlog int

	mu     sync.Mutex
	subs   map[uint64]*FeedSubscription
	nextID uint64
	recent []store.Message
	closed bool
}

// NewMessageFeed creates a feed keeping up to backlog messages for replay.
// A negative backlog selects DefaultFeedBacklog. Pass nil logger for default.
func NewMessageFeed(backlog int, logger *slog.Logger) *MessageFeed {
	if backlog < 0 {
		backlog = DefaultFeedBacklog
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageFeed{
		logger:  logger.With("component", "feed"),
		backlog: backlog,
		subs:    make(map[uint64]*FeedSubscription),
	}
}

// Subscribe registers a consumer. Replayed messages arrive before any
// message published after this call. The subscription is closed when ctx
// ends. Subscribing to a closed feed returns a closed channel.
func (f *MessageFeed) Subscribe(ctx context.Context, filter FeedFilter) *FeedSubscription {
	var replay []store.Message
	f.mu.Lock()
	if filter.Replay > 0 {
		for i := len(f.recent) - 1; i >= 0 && len(replay) < filter.Replay; i-- {
			if filter.match(f.recent[i]) {
				replay = append(replay, f.recent[i])
			}
		}
		slices.Reverse(replay)
	}

	ch := make(chan store.Message, max(minSubscriberBuffer, len(replay)))
	f.nextID++
	sub := &FeedSubscription{C: ch, ch: ch, filter: filter, feed: f, id: f.nextID}
	for _, msg := range replay {
		ch <- msg
	}
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return sub
	}
	f.subs[sub.id] = sub
	f.mu.Unlock()

	f.logger.Debug("feed subscriber added",
		"conversation_key", filter.ConversationKey,
		"replayed", len(replay))

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub
}

// Publish delivers msg to every matching subscriber and records it for
// replay. A subscriber whose buffer is full misses the message.
func (f *MessageFeed) Publish(msg store.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	if f.backlog > 0 {
		if len(f.recent) == f.backlog {
			f.recent = slices.Delete(f.recent, 0, 1)
		}
		f.recent = append(f.recent, msg)
	}

	for _, sub := range f.subs {
		if !sub.filter.match(msg) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			sub.dropped.Add(1)
			f.logger.Debug("feed subscriber behind; message dropped",
				"conversation_key", msg.ConversationKey,
				"message_id", msg.ID)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (f *MessageFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *MessageFeed) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return
	}
	delete(f.subs, id)
	close(sub.ch)
}

// Close closes every subscription. Later publishes are ignored.
func (f *MessageFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, sub := range f.subs {
		close(sub.ch)
		delete(f.subs, id)
	}
	f.recent = nil
	f.logger.Debug("feed closed")
}
