// ABOUTME: The history command: prints the stored transcript or exports it as HTML
// ABOUTME: Transcripts are rendered to Markdown first and converted with goldmark

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-room/internal/assets"
	"github.com/2389/coven-room/internal/store"
)

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file (default: $COVEN_ROOM_CONFIG or ~/.config/coven/room.yaml)")
	htmlOut := fs.String("html", "", "Write the transcript as HTML to this file")
	key := fs.String("conversation", "", "Only this conversation key")
	limit := fs.Int("limit", 0, "Most recent messages per conversation (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	transcript, err := store.NewSQLiteStore(cfg.TranscriptPath())
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer transcript.Close()

	convs, err := loadTranscript(ctx, transcript, *key, *limit)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("No conversations stored.")
		return nil
	}

	if *htmlOut != "" {
		page, err := renderHTML(convs)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*htmlOut, page, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", *htmlOut, err)
		}
		fmt.Printf("Wrote %d conversations to %s\n", len(convs), *htmlOut)
		return nil
	}

	for _, c := range convs {
		bold.Println(c.Key)
		for _, m := range c.Messages {
			gray.Printf("  %s ", m.Timestamp.Local().Format("2006-01-02 15:04:05"))
			if m.Sender == store.SenderAgent {
				cyan.Print("agent> ")
			} else {
				green.Print("you>   ")
			}
			fmt.Println(m.Text)
		}
		fmt.Println()
	}
	return nil
}

// conversationLog is one conversation with its messages.
type conversationLog struct {
	Key      string
	Messages []*store.Message
}

func loadTranscript(ctx context.Context, ts store.TranscriptStore, key string, limit int) ([]conversationLog, error) {
	convs, err := ts.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	var out []conversationLog
	for _, c := range convs {
		if key != "" && c.Key != key {
			continue
		}
		msgs, err := ts.ListMessages(ctx, c.Key, limit)
		if err != nil {
			return nil, fmt.Errorf("listing messages of %s: %w", c.Key, err)
		}
		out = append(out, conversationLog{Key: c.Key, Messages: msgs})
	}
	return out, nil
}

// renderMarkdown writes conversations as a Markdown document. Message text
// is kept as-is, so agent replies that use Markdown render as such.
func renderMarkdown(convs []conversationLog) []byte {
	var buf bytes.Buffer
	buf.WriteString("# Room transcript\n")
	for _, c := range convs {
		fmt.Fprintf(&buf, "\n## %s\n", c.Key)
		for _, m := range c.Messages {
			who := "You"
			if m.Sender == store.SenderAgent {
				who = "Agent"
			}
			fmt.Fprintf(&buf, "\n**%s** _%s_\n\n%s\n", who, m.Timestamp.UTC().Format(time.RFC3339), strings.TrimSpace(m.Text))
		}
	}
	return buf.Bytes()
}

func renderHTML(convs []conversationLog) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert(renderMarkdown(convs), &body); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}

	var page bytes.Buffer
	err := assets.RenderTranscript(&page, assets.Page{
		Title: "Room transcript",
		Body:  template.HTML(body.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}
	return page.Bytes(), nil
}
