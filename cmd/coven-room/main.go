// ABOUTME: Entry point for coven-room, a terminal client for one voice room with an AI agent
// ABOUTME: Dispatches the join, token and history commands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/coven-room/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        _ __ ___   ___  _ __ ___
 / __/ _ \ \ / / _ \ '_ \ _____| '__/ _ \ / _ \| '_ ' _ \
| (_| (_) \ V /  __/ | | |_____| | | (_) | (_) | | | | | |
 \___\___/ \_/ \___|_| |_|     |_|  \___/ \___/|_| |_| |_|
`

func usage() {
	fmt.Println("Usage: coven-room <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  join      Join the room and chat with the agent")
	fmt.Println("  token     Fetch a room credential and show its claims")
	fmt.Println("  history   Print or export the stored transcript")
	fmt.Println("  version   Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "join":
		err = runJoin(ctx, args)
	case "token":
		err = runToken(ctx, args)
	case "history":
		err = runHistory(ctx, args)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads path, or the default location when path is empty.
// A missing file at the default location yields the built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, path, fmt.Errorf("loading config: %w", err)
		}
		return cfg, path, nil
	}

	path = config.DefaultPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}
