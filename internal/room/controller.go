// ABOUTME: Top-level room controller that owns the session and wires its dependents
// ABOUTME: Fetches a credential, connects, and guarantees teardown of every subscription

package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-room/internal/config"
	"github.com/2389/coven-room/internal/conversation"
	"github.com/2389/coven-room/internal/event"
	"github.com/2389/coven-room/internal/media"
	"github.com/2389/coven-room/internal/participant"
	"github.com/2389/coven-room/internal/session"
	"github.com/2389/coven-room/internal/store"
	"github.com/2389/coven-room/internal/token"
)

// Deps are the collaborators a Controller is built from.
type Deps struct {
	Transport session.Transport
	Tokens    token.Provisioner
	Agent     conversation.AgentClient
	// Transcript is optional and owned by the caller.
	Transcript store.TranscriptStore
	Logger     *slog.Logger
}

// Controller is the single owner of the room session. It constructs the
// participant registry, the media manager and the conversation bridge and
// hands them references; nothing else can change the session state.
type Controller struct {
	cfg      *config.Config
	identity string
	tokens   token.Provisioner
	session  *session.Controller
	registry *participant.Registry
	media    *media.Manager
	bridge   *conversation.Bridge
	feed     *conversation.MessageFeed
	logger   *slog.Logger
	now      func() time.Time

	subs    event.Group
	notices event.Listeners[Notice]

	mu      sync.Mutex
	lastErr error
	claims  *token.Claims
	closed  bool
}

// New wires a controller from cfg. The local identity is cfg.Room.Identity
// when set, otherwise a fresh per-process identity.
func New(cfg *config.Config, deps Deps) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("token provisioner is required")
	}
	if deps.Agent == nil {
		return nil, errors.New("agent client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	identity := cfg.Room.Identity
	if identity == "" {
		identity = token.NewIdentity()
	}

	sess := session.NewController(deps.Transport, logger)
	registry := participant.NewRegistry(participant.NewClassifier(cfg.Participants.AgentMarkers), logger)
	registry.SetLocalIdentity(identity)
	mediaMgr := media.NewManager(sess, media.Options{
		SettleInterval: cfg.Media.MicSettle,
		Logger:         logger,
	})
	feed := conversation.NewMessageFeed(conversation.DefaultFeedBacklog, logger)
	bridge := conversation.NewBridge(deps.Agent, conversation.BridgeOptions{
		ConversationKey: store.ConversationKey(cfg.Room.Name, identity),
		Transcript:      deps.Transcript,
		Feed:            feed,
		Logger:          logger,
	})

	c := &Controller{
		cfg:      cfg,
		identity: identity,
		tokens:   deps.Tokens,
		session:  sess,
		registry: registry,
		media:    mediaMgr,
		bridge:   bridge,
		feed:     feed,
		logger:   logger.With("component", "room"),
		now:      time.Now,
	}

	// Registration order is delivery order: the registry sees membership
	// before the media manager acts on the same event.
	c.subs.Add(sess.Subscribe(registry.HandleEvent))
	c.subs.Add(sess.Subscribe(mediaMgr.HandleEvent))
	c.subs.Add(sess.Subscribe(c.handleSessionEvent))
	c.subs.Add(registry.OnAgentPresenceChange(c.handleAgentPresence))

	return c, nil
}

// Start fetches a credential for the local identity and connects. Failures
// are returned as *session.ConnectionError and recorded as the status error;
// the controller stays usable and Start may be called again.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return session.ErrClosed
	}
	c.mu.Unlock()

	if c.session.State().Live() {
		return session.ErrAlreadyActive
	}

	roomName := c.cfg.Room.Name
	c.logger.Info("requesting room credential", "identity", c.identity, "room", roomName)

	credential, err := c.tokens.Token(ctx, c.identity, roomName)
	if err != nil {
		return c.recordErr(&session.ConnectionError{Op: session.OpToken, URL: c.cfg.TokenURL(), Err: err})
	}

	claims, err := token.Check(credential, c.now())
	if err != nil {
		cause := session.ErrInvalidCredential
		if errors.Is(err, token.ErrExpiredToken) {
			cause = session.ErrCredentialExpired
		}
		return c.recordErr(&session.ConnectionError{
			Op:  session.OpToken,
			URL: c.cfg.TokenURL(),
			Err: fmt.Errorf("%w: %v", cause, err),
		})
	}
	if claims.Identity() != c.identity {
		c.logger.Warn("credential issued for a different identity",
			"requested", c.identity,
			"issued", claims.Identity())
	}
	if r := claims.Room(); r != "" && r != roomName {
		c.logger.Warn("credential issued for a different room", "requested", roomName, "issued", r)
	}

	c.mu.Lock()
	c.claims = claims
	c.mu.Unlock()
	c.registry.SetLocalIdentity(claims.Identity())

	if err := c.session.Connect(ctx, c.cfg.Room.ServerURL, credential); err != nil {
		return c.recordErr(err)
	}

	if local := c.session.LocalIdentity(); local != "" {
		c.registry.SetLocalIdentity(local)
	}

	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	return nil
}

func (c *Controller) recordErr(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Error("room connection failed", "error", err)
	return err
}

// Stop disconnects the session but keeps the controller usable.
func (c *Controller) Stop() {
	c.session.Disconnect()
}

// Close tears everything down: the session is disconnected, every
// subscription registered by the controller is released, the recording
// timer is cleared and dispatch stops. It is safe to call multiple times.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.session.Close()
	c.subs.Release()
	c.media.Close()
	c.registry.Reset()
	c.feed.Close()

	c.logger.Info("room controller closed")
}

// Sync waits until every session event emitted so far has been handled.
func (c *Controller) Sync(ctx context.Context) error {
	return c.session.Sync(ctx)
}

// ToggleMicrophone flips the local microphone and returns the new state.
func (c *Controller) ToggleMicrophone(ctx context.Context) (bool, error) {
	return c.media.ToggleMicrophone(ctx)
}

// SendMessage forwards text to the agent and waits for the reply to be
// appended to the conversation.
func (c *Controller) SendMessage(ctx context.Context, text string) {
	c.bridge.SendMessage(ctx, text)
}

func (c *Controller) handleSessionEvent(ev session.Event) {
	if ev.Type != session.EventStateChanged {
		return
	}
	switch ev.State {
	case session.StateConnected:
		if ev.Previous == session.StateReconnecting {
			c.notify(NoticeReconnected, "Reconnected to room")
		}
	case session.StateReconnecting:
		c.notify(NoticeReconnecting, "Connection lost, reconnecting...")
	case session.StateFailed:
		if ev.Previous.Active() {
			err := &session.ConnectionError{Op: session.OpJoin, URL: c.cfg.Room.ServerURL, Err: errors.New("link lost")}
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
			c.notify(NoticeConnectionLost, "Connection to room lost")
		}
	}
}

func (c *Controller) handleAgentPresence(present bool) {
	if present {
		c.notify(NoticeAgentConnected, "AI Agent connected!")
		return
	}
	c.notify(NoticeAgentDisconnected, "AI Agent disconnected")
}

func (c *Controller) notify(kind NoticeKind, text string) {
	c.logger.Info("room notice", "kind", kind, "text", text)
	c.notices.Emit(Notice{Kind: kind, Text: text, At: c.now()})
}
