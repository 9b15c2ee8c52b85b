// ABOUTME: Local development backend answering the token and agent endpoints
// ABOUTME: Usage: fake-backend [-addr localhost:5000] [-api-key devkey] [-api-secret secret]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2389/coven-room/internal/token"
)

func main() {
	addr := flag.String("addr", "localhost:5000", "HTTP listen address")
	apiKey := flag.String("api-key", os.Getenv("LIVEKIT_API_KEY"), "LiveKit API key (default: $LIVEKIT_API_KEY)")
	apiSecret := flag.String("api-secret", os.Getenv("LIVEKIT_API_SECRET"), "LiveKit API secret (default: $LIVEKIT_API_SECRET)")
	delay := flag.Duration("agent-delay", 300*time.Millisecond, "Simulated agent thinking time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr, *apiKey, *apiSecret, *delay, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, apiKey, apiSecret string, delay time.Duration, logger *slog.Logger) error {
	var issuer *token.Issuer
	if apiKey != "" && apiSecret != "" {
		issuer = token.NewIssuer(apiKey, []byte(apiSecret))
	} else {
		logger.Warn("no LiveKit credentials configured, token requests will fail")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newServer(issuer, delay, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake backend listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
	}

	// The original context is already canceled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serverErr == nil {
		serverErr = fmt.Errorf("HTTP shutdown: %w", err)
	}
	return serverErr
}
