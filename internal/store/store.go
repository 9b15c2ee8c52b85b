// ABOUTME: Transcript store interface and data types for the conversation log
// ABOUTME: Defines Message, Conversation and the TranscriptStore interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when a message ID is stored twice
var ErrDuplicateMessage = errors.New("message already exists")

// Sender identifies who wrote a conversation message
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Message is one entry of a conversation log. Messages are append-only.
type Message struct {
	ID              string
	ConversationKey string // room name plus local identity, see ConversationKey
	Sender          Sender
	Text            string
	Timestamp       time.Time
}

// Conversation summarizes the stored messages of one conversation key
type Conversation struct {
	Key          string
	MessageCount int
	FirstAt      time.Time
	LastAt       time.Time
}

// TranscriptStore persists conversation logs.
type TranscriptStore interface {
	// AppendMessage stores msg. It returns ErrDuplicateMessage if msg.ID is
	// already stored.
	AppendMessage(ctx context.Context, msg *Message) error

	// ListMessages returns the most recent limit messages of a conversation
	// in chronological order. A limit of 0 or less returns all of them.
	ListMessages(ctx context.Context, conversationKey string, limit int) ([]*Message, error)

	// ListConversations returns every stored conversation, most recently
	// active first.
	ListConversations(ctx context.Context) ([]Conversation, error)

	Close() error
}

// ConversationKey builds the key under which one room session's transcript
// is stored.
func ConversationKey(room, identity string) string {
	return room + "/" + identity
}
