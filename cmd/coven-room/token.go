// ABOUTME: The token command: fetches a room credential and prints its decoded claims
// ABOUTME: Useful for checking the token endpoint and the role it issues

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/coven-room/internal/token"
)

func runToken(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file (default: $COVEN_ROOM_CONFIG or ~/.config/coven/room.yaml)")
	identity := fs.String("identity", "", "Participant identity (default: generated)")
	roomName := fs.String("room", "", "Room name override")
	raw := fs.Bool("raw", false, "Print only the raw token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	id := *identity
	if id == "" {
		id = cfg.Room.Identity
	}
	if id == "" {
		id = token.NewIdentity()
	}
	name := *roomName
	if name == "" {
		name = cfg.Room.Name
	}

	provisioner := token.NewHTTPProvisioner(cfg.TokenURL(), &http.Client{Timeout: cfg.Backend.Timeout})
	tok, err := provisioner.Token(ctx, id, name)
	if err != nil {
		return err
	}
	if *raw {
		fmt.Println(tok)
		return nil
	}

	claims, err := token.ParseClaims(tok)
	if err != nil {
		return fmt.Errorf("decoding token: %w", err)
	}
	printClaims(claims, time.Now())
	return nil
}

func printClaims(c *token.Claims, now time.Time) {
	bold.Print("Issuer:   ")
	fmt.Println(c.Issuer)
	bold.Print("Identity: ")
	fmt.Println(c.Identity())
	bold.Print("Room:     ")
	fmt.Println(c.Room())
	bold.Print("Role:     ")
	if role := c.Role(); role != "" {
		fmt.Println(role)
	} else {
		gray.Println("(none, identity markers apply)")
	}
	bold.Print("Expires:  ")
	switch {
	case c.ExpiresAt == nil:
		gray.Println("never")
	case c.Expired(now):
		red.Printf("%s (expired)\n", c.ExpiresAt.Time.Format(time.RFC3339))
	default:
		green.Printf("%s (in %s)\n", c.ExpiresAt.Time.Format(time.RFC3339), c.ExpiresAt.Time.Sub(now).Round(time.Second))
	}
}
