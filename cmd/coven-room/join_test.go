// ABOUTME: Tests for the join command's reply printing
// ABOUTME: Drives a bridge over a message feed and checks only agent replies are shown

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-room/internal/conversation"
	"github.com/2389/coven-room/internal/store"
)

type echoAgent struct{}

func (echoAgent) Ask(_ context.Context, message string) (string, error) {
	return "echo: " + message, nil
}

func TestPrintReplies(t *testing.T) {
	color.NoColor = true
	feed := conversation.NewMessageFeed(conversation.DefaultFeedBacklog, nil)
	defer feed.Close()

	key := store.ConversationKey("corelance-main-room", "user-7f3k2")
	bridge := conversation.NewBridge(echoAgent{}, conversation.BridgeOptions{
		ConversationKey: key,
		Feed:            feed,
	})
	replies := feed.Subscribe(t.Context(), conversation.FeedFilter{
		ConversationKey: key,
		Senders:         []store.Sender{store.SenderAgent},
	})
	defer replies.Close()

	var out bytes.Buffer
	bridge.SendMessage(t.Context(), "Summarize meeting")
	printReplies(&out, replies)

	assert.Equal(t, "agent> echo: Summarize meeting\n", out.String())

	out.Reset()
	printReplies(&out, replies)
	assert.Empty(t, out.String(), "nothing pending")
}

func TestPrintReplies_ClosedSubscription(t *testing.T) {
	feed := conversation.NewMessageFeed(0, nil)
	replies := feed.Subscribe(t.Context(), conversation.FeedFilter{})
	feed.Close()

	var out bytes.Buffer
	printReplies(&out, replies)
	assert.Empty(t, out.String())
}
