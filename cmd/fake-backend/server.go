// ABOUTME: HTTP handlers of the development backend: token issuance, echo agent, health
// ABOUTME: Agent identities receive the agent role attribute in their tokens

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/coven-room/internal/conversation"
	"github.com/2389/coven-room/internal/token"
)

type server struct {
	issuer *token.Issuer
	delay  time.Duration
	logger *slog.Logger
}

func newServer(issuer *token.Issuer, delay time.Duration, logger *slog.Logger) *server {
	return &server{issuer: issuer, delay: delay, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+token.DefaultTokenPath, s.handleToken)
	mux.HandleFunc("POST "+conversation.DefaultAgentPath, s.handleAgent)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "LiveKit credentials not configured"})
		return
	}

	var req struct {
		Identity string `json:"identity"`
		Room     string `json:"room"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Identity == "" || req.Room == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "identity and room are required"})
		return
	}

	role := "human"
	if strings.HasPrefix(strings.ToLower(req.Identity), "agent") {
		role = "agent"
	}

	tok, err := s.issuer.Issue(token.Grant{Identity: req.Identity, Room: req.Room, Role: role})
	if err != nil {
		s.logger.Error("failed to issue token", "identity", req.Identity, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to issue token"})
		return
	}

	s.logger.Info("issued token", "identity", req.Identity, "room", req.Room, "role", role)
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	select {
	case <-time.After(s.delay):
	case <-r.Context().Done():
		return
	}

	s.logger.Info("agent message", "length", len(req.Message))
	writeJSON(w, http.StatusOK, map[string]string{"response": echoReply(req.Message)})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote.\n"
	}
	return fmt.Sprintf("Echo: **%s**\n\nI received your message and am responding with some *formatted* text.", input)
}
