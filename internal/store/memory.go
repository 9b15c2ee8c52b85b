// ABOUTME: In-memory TranscriptStore implementation
// ABOUTME: Used by tests and when no transcript path is configured

package store

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-memory TranscriptStore.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*Message // keyed by conversation key
	ids      map[string]bool
	order    []string // conversation keys, by most recent append

	// AppendErr, when set, is returned by every AppendMessage call.
	AppendErr error
}

var _ TranscriptStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]*Message),
		ids:      make(map[string]bool),
	}
}

// AppendMessage stores a copy of msg.
func (m *MemoryStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return m.AppendErr
	}
	if m.ids[msg.ID] {
		return ErrDuplicateMessage
	}

	// Make a copy to avoid external modification
	stored := *msg
	m.messages[msg.ConversationKey] = append(m.messages[msg.ConversationKey], &stored)
	m.ids[msg.ID] = true

	m.order = slices.DeleteFunc(m.order, func(k string) bool { return k == msg.ConversationKey })
	m.order = append([]string{msg.ConversationKey}, m.order...)
	return nil
}

// ListMessages returns copies of the most recent limit messages in order.
func (m *MemoryStore) ListMessages(ctx context.Context, conversationKey string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[conversationKey]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}

	out := make([]*Message, 0, len(all))
	for _, msg := range all {
		c := *msg
		out = append(out, &c)
	}
	return out, nil
}

// ListConversations summarizes stored conversations, most recently active first.
func (m *MemoryStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Conversation, 0, len(m.order))
	for _, key := range m.order {
		msgs := m.messages[key]
		out = append(out, Conversation{
			Key:          key,
			MessageCount: len(msgs),
			FirstAt:      msgs[0].Timestamp,
			LastAt:       msgs[len(msgs)-1].Timestamp,
		})
	}
	return out, nil
}

// Close is a no-op; stored messages stay readable.
func (m *MemoryStore) Close() error {
	return nil
}
