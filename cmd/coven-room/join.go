// ABOUTME: The join command: connects to the room and runs the interactive chat loop
// ABOUTME: Prints connection and agent indicators, notices and agent replies

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/coven-room/internal/config"
	"github.com/2389/coven-room/internal/conversation"
	"github.com/2389/coven-room/internal/room"
	"github.com/2389/coven-room/internal/session"
	"github.com/2389/coven-room/internal/store"
	"github.com/2389/coven-room/internal/token"
	"github.com/2389/coven-room/internal/transport"
	"github.com/2389/coven-room/internal/transport/livekit"
)

var (
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)
)

func runJoin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("join", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file (default: $COVEN_ROOM_CONFIG or ~/.config/coven/room.yaml)")
	identity := fs.String("identity", "", "Participant identity (default: generated)")
	roomName := fs.String("room", "", "Room name override")
	transportName := fs.String("transport", "", "Transport override: livekit or memory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *identity != "" {
		cfg.Room.Identity = *identity
	}
	if *roomName != "" {
		cfg.Room.Name = *roomName
	}
	if *transportName != "" {
		cfg.Room.Transport = *transportName
	}
	if cfg.Room.Identity == "" {
		cfg.Room.Identity = token.NewIdentity()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stderr)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("Room:       %s\n", cfg.Room.Name)
	green.Print("    ▶ ")
	fmt.Printf("Identity:   %s\n", cfg.Room.Identity)
	green.Print("    ▶ ")
	fmt.Printf("Transport:  %s\n", cfg.Room.Transport)
	green.Print("    ▶ ")
	fmt.Printf("Playback:   %s\n", cfg.Media.Playback)
	green.Print("    ▶ ")
	fmt.Printf("Transcript: %s\n\n", cfg.TranscriptPath())

	transcript, err := store.NewSQLiteStore(cfg.TranscriptPath())
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer transcript.Close()

	tr := newTransport(cfg, logger)
	httpClient := &http.Client{Timeout: cfg.Backend.Timeout}

	ctrl, err := room.New(cfg, room.Deps{
		Transport:  tr,
		Tokens:     token.NewHTTPProvisioner(cfg.TokenURL(), httpClient),
		Agent:      conversation.NewHTTPAgentClient(cfg.AgentURL(), httpClient),
		Transcript: transcript,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating room: %w", err)
	}
	defer ctrl.Close()

	ctrl.OnNotice(func(n room.Notice) {
		switch n.Kind {
		case room.NoticeAgentConnected, room.NoticeReconnected:
			green.Printf("\n* %s\n", n.Text)
		case room.NoticeConnectionLost:
			red.Printf("\n* %s\n", n.Text)
		default:
			yellow.Printf("\n* %s\n", n.Text)
		}
	})
	ctrl.OnRecordingChange(func(on bool) {
		if on {
			red.Println("● recording")
		} else {
			gray.Println("○ microphone off")
		}
	})

	connect(ctx, ctrl)
	printStatus(ctrl.Status())
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	replies := ctrl.Feed().Subscribe(ctx, conversation.FeedFilter{
		ConversationKey: ctrl.ConversationKey(),
		Senders:         []store.Sender{store.SenderAgent},
	})
	defer replies.Close()

	err = chatLoop(ctx, ctrl, replies)
	fmt.Println("\nGoodbye!")
	return err
}

func newTransport(cfg *config.Config, logger *slog.Logger) session.Transport {
	if cfg.Room.Transport == config.TransportMemory {
		if cfg.Room.ServerURL == "" {
			cfg.Room.ServerURL = "memory://" + cfg.Room.Name
		}
		mem := transport.NewMemory(cfg.Room.Name, cfg.Room.Identity)
		// A stand-in agent so the indicators have something to show.
		mem.Join(session.ParticipantInfo{
			Identity:   "agent-primary",
			SID:        "PA_agent-primary",
			Name:       "AI Agent",
			Attributes: map[string]string{token.AttrRole: "agent"},
			Tracks: []session.TrackPublication{
				{SID: "TR_agent-voice", Name: "voice", Kind: session.TrackKindAudio, Source: session.SourceMicrophone},
			},
		})
		return mem
	}
	return livekit.New(livekit.DeviceFor(cfg.Media.Capture), livekit.SinkFor(cfg.Media.Playback), logger)
}

// connect starts the room. Failures are shown but never end the client.
func connect(ctx context.Context, ctrl *room.Controller) {
	if err := ctrl.Start(ctx); err != nil {
		var connErr *session.ConnectionError
		if errors.As(err, &connErr) {
			red.Printf("Connection failed (%s): %v\n", connErr.Op, connErr.Err)
		} else {
			red.Printf("Connection failed: %v\n", err)
		}
		gray.Println("Chat with the agent still works. Use /connect to retry.")
	}
}

func printStatus(st room.Status) {
	bold.Print("Room: ")
	switch st.State {
	case session.StateConnected:
		green.Print(st.State)
	case session.StateConnecting, session.StateReconnecting:
		yellow.Print(st.State)
	default:
		red.Print(st.State)
	}
	fmt.Printf("  (%s as %s)\n", st.Room, st.Identity)

	bold.Print("Agent: ")
	if st.AgentPresent {
		green.Println("connected")
	} else {
		gray.Println("not in room")
	}

	bold.Print("Microphone: ")
	if st.Recording {
		red.Printf("recording %s\n", room.FormatDuration(st.Duration))
	} else {
		gray.Println("off")
	}

	if st.LastError != nil {
		bold.Print("Last error: ")
		red.Println(st.LastError)
	}
	fmt.Println()
}

func printParticipants(ctrl *room.Controller) {
	participants := ctrl.Participants()
	if len(participants) == 0 {
		gray.Println("No remote participants.")
		return
	}
	for _, p := range participants {
		name := p.Identity
		if p.Name != "" && p.Name != p.Identity {
			name = fmt.Sprintf("%s (%s)", p.Identity, p.Name)
		}
		fmt.Printf("  %-32s %-6s", name, p.Role)
		gray.Printf(" via %s, %d tracks\n", p.RoleSource, len(p.Tracks))
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /mic           Toggle the microphone")
	fmt.Println("  /status        Show connection, agent and microphone status")
	fmt.Println("  /participants  List remote participants")
	fmt.Println("  /connect       Retry the room connection")
	fmt.Println("  /leave         Disconnect from the room")
	fmt.Println("  /quit          Exit")
}

// printReplies prints the agent replies already delivered to replies.
// SendMessage publishes its reply before returning, so none are missed.
func printReplies(w io.Writer, replies *conversation.FeedSubscription) {
	for {
		select {
		case m, ok := <-replies.C:
			if !ok {
				return
			}
			cyan.Fprint(w, "agent> ")
			fmt.Fprintln(w, m.Text)
		default:
			return
		}
	}
}

func chatLoop(ctx context.Context, ctrl *room.Controller, replies *conversation.FeedSubscription) error {
	scanner := bufio.NewScanner(os.Stdin)
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	for {
		if interactive {
			fmt.Print("> ")
		}

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch input {
		case "/quit", "/exit", "/q":
			return nil
		case "/help":
			printHelp()
		case "/status":
			printStatus(ctrl.Status())
		case "/participants":
			printParticipants(ctrl)
		case "/connect":
			connect(ctx, ctrl)
		case "/leave":
			ctrl.Stop()
		case "/mic":
			if _, err := ctrl.ToggleMicrophone(ctx); err != nil {
				red.Printf("[error] %v\n", err)
			}
		default:
			if strings.HasPrefix(input, "/") {
				fmt.Printf("Unknown command %s. /help lists commands.\n", input)
				continue
			}
			gray.Println("agent is typing...")
			ctrl.SendMessage(ctx, input)
			printReplies(os.Stdout, replies)
		}
		fmt.Println()
	}
}
