// ABOUTME: SessionController owns one room connection lifecycle and its state machine
// ABOUTME: Normalizes transport callbacks into one ordered event stream for dependents

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-room/internal/event"
)

// Controller owns the Session value. Dependents receive it as a Room and
// subscribe to its events; only the controller changes the state.
type Controller struct {
	transport Transport
	events    *event.Queue[Event]
	logger    *slog.Logger
	now       func() time.Time

	mu            sync.Mutex
	state         State
	serverURL     string
	credential    string
	roomName      string
	localIdentity string
	attempt       uint64 // bumped by every Connect and Disconnect; stale callbacks are dropped
	linkOpen      bool   // transport joined and not yet torn down
	cancelConnect context.CancelFunc
	closed        bool
}

// NewController creates an Idle controller. Pass nil logger for default.
func NewController(transport Transport, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session")
	return &Controller{
		transport: transport,
		events:    event.NewQueue[Event](logger),
		logger:    logger,
		now:       time.Now,
		state:     StateIdle,
	}
}

// Subscribe registers a handler for the normalized event stream. Handlers
// run one at a time on the dispatch goroutine, in emission order.
func (c *Controller) Subscribe(h event.Handler[Event]) *event.Subscription {
	return c.events.Subscribe(h)
}

// Sync waits until every event emitted so far has been delivered.
// It must not be called from an event handler.
func (c *Controller) Sync(ctx context.Context) error {
	return c.events.Sync(ctx)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LocalIdentity returns the identity the transport joined with.
func (c *Controller) LocalIdentity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localIdentity
}

// Info returns a snapshot of the session value. The credential itself is
// never exposed.
func (c *Controller) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		State:         c.state,
		ServerURL:     c.serverURL,
		Room:          c.roomName,
		LocalIdentity: c.localIdentity,
		HasCredential: c.credential != "",
	}
}

// Connect establishes the session. Failures are returned as *ConnectionError
// and leave the session Failed. A Disconnect issued while Connect is in
// flight wins: the session ends Disconnected and Connect reports ErrCancelled.
func (c *Controller) Connect(ctx context.Context, serverURL, credential string) error {
	if credential == "" {
		return c.failEarly(serverURL, ErrInvalidCredential)
	}
	if serverURL == "" {
		return c.failEarly(serverURL, ErrUnreachable)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Live() {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.attempt++
	attempt := c.attempt
	connectCtx, cancel := context.WithCancel(ctx)
	c.cancelConnect = cancel
	c.serverURL = serverURL
	c.credential = credential
	c.localIdentity = ""
	c.roomName = ""
	stale := c.linkOpen
	c.linkOpen = false
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	defer cancel()

	if stale {
		// A dropped link from the previous attempt still holds transport resources.
		if err := c.transport.Disconnect(); err != nil {
			c.logger.Warn("teardown of dropped link failed", "error", err)
		}
	}

	c.logger.Info("connecting to room", "server_url", serverURL)

	info, err := c.transport.Connect(connectCtx, serverURL, credential, func(ev TransportEvent) {
		c.handleTransportEvent(attempt, ev)
	})

	c.mu.Lock()
	c.cancelConnect = nil
	if attempt != c.attempt || c.state != StateConnecting {
		// Disconnect ran while the transport was still joining.
		c.mu.Unlock()
		if err == nil {
			if derr := c.transport.Disconnect(); derr != nil {
				c.logger.Warn("teardown after cancelled connect failed", "error", derr)
			}
		}
		c.logger.Info("connect superseded by disconnect", "server_url", serverURL)
		return &ConnectionError{Op: OpJoin, URL: serverURL, Err: ErrCancelled}
	}

	if err != nil {
		c.setStateLocked(StateFailed)
		c.mu.Unlock()
		c.logger.Error("failed to connect to room", "server_url", serverURL, "error", err)
		return &ConnectionError{Op: OpJoin, URL: serverURL, Err: err}
	}

	if info == nil {
		info = &RoomInfo{}
	}
	c.roomName = info.Name
	c.localIdentity = info.LocalIdentity
	c.linkOpen = true
	c.setStateLocked(StateConnected)
	for _, p := range info.Participants {
		p := p.clone()
		c.pushLocked(Event{Type: EventParticipantJoined, Participant: &p})
	}
	c.mu.Unlock()

	c.logger.Info("connected to room",
		"room", info.Name,
		"local_identity", info.LocalIdentity,
		"existing_participants", len(info.Participants),
	)
	return nil
}

// failEarly rejects a connect attempt before the transport is involved.
func (c *Controller) failEarly(serverURL string, cause error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Live() {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.setStateLocked(StateFailed)
	c.mu.Unlock()
	return &ConnectionError{Op: OpJoin, URL: serverURL, Err: cause}
}

// Disconnect ends the session. It is idempotent: once Disconnected, further
// calls do nothing, and the transport is torn down at most once per attempt.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	prev := c.state
	switch prev {
	case StateDisconnected:
		c.mu.Unlock()
		return

	case StateConnecting:
		// The in-flight Connect tears the transport down if it joins anyway.
		c.attempt++
		cancel := c.cancelConnect
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		c.logger.Info("disconnect requested while connecting")
		return
	}

	c.attempt++
	teardown := c.linkOpen
	c.linkOpen = false
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if teardown {
		if err := c.transport.Disconnect(); err != nil {
			c.logger.Warn("transport disconnect failed", "error", err)
		}
	}
	c.logger.Info("disconnected from room", "previous_state", prev)
}

// Close disconnects and stops event dispatch. No handler runs after Close
// returns. It is safe to call multiple times but not from an event handler.
func (c *Controller) Close() {
	c.Disconnect()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.events.Close()
}

// SetSubscribed forwards a subscription change to the transport.
func (c *Controller) SetSubscribed(ctx context.Context, participantIdentity, trackSID string, subscribed bool) error {
	if !c.State().Active() {
		return ErrNotConnected
	}
	return c.transport.SetSubscribed(ctx, participantIdentity, trackSID, subscribed)
}

// SetMicrophoneEnabled forwards a microphone publish/unpublish to the transport.
func (c *Controller) SetMicrophoneEnabled(ctx context.Context, enabled bool) (*TrackPublication, error) {
	if !c.State().Active() {
		return nil, ErrNotConnected
	}
	return c.transport.SetMicrophoneEnabled(ctx, enabled)
}

// handleTransportEvent maps a raw callback into the normalized stream.
func (c *Controller) handleTransportEvent(attempt uint64, ev TransportEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if attempt != c.attempt {
		c.logger.Debug("dropping transport event from stale attempt", "kind", ev.Kind)
		return
	}

	switch ev.Kind {
	case TransportConnectionStateChanged:
		c.applyLinkStateLocked(ev.Link)

	case TransportParticipantConnected:
		if ev.Participant == nil {
			return
		}
		p := ev.Participant.clone()
		c.pushLocked(Event{Type: EventParticipantJoined, Participant: &p})

	case TransportParticipantDisconnected:
		if ev.Participant == nil {
			return
		}
		p := ev.Participant.clone()
		c.pushLocked(Event{Type: EventParticipantLeft, Participant: &p})

	case TransportTrackPublished:
		c.pushTrackLocked(EventTrackPublished, ev)

	case TransportTrackSubscribed:
		c.pushTrackLocked(EventTrackSubscribed, ev)

	case TransportLocalTrackPublished:
		c.pushTrackLocked(EventLocalTrackPublished, ev)

	default:
		c.logger.Debug("ignoring unknown transport event", "kind", ev.Kind)
	}
}

func (c *Controller) pushTrackLocked(typ EventType, ev TransportEvent) {
	if ev.Track == nil {
		return
	}
	track := *ev.Track
	out := Event{Type: typ, Track: &track}
	if ev.Participant != nil {
		p := ev.Participant.clone()
		out.Participant = &p
	}
	c.pushLocked(out)
}

// applyLinkStateLocked keeps transitions monotonic: the transport can move
// Connected<->Reconnecting, and a drop while live ends in Failed. Link
// reports during Connecting are left to Connect's own result.
func (c *Controller) applyLinkStateLocked(link ConnectionState) {
	switch link {
	case LinkReconnecting:
		if c.state == StateConnected {
			c.setStateLocked(StateReconnecting)
		}
	case LinkConnected:
		if c.state == StateReconnecting {
			c.setStateLocked(StateConnected)
		}
	case LinkDisconnected:
		if c.state.Active() {
			c.attempt++
			c.setStateLocked(StateFailed)
		}
	default:
		c.logger.Debug("ignoring unknown link state", "link", link)
	}
}

func (c *Controller) setStateLocked(next State) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.pushLocked(Event{Type: EventStateChanged, State: next, Previous: prev})
	c.logger.Debug("session state changed", "from", prev, "to", next)
}

func (c *Controller) pushLocked(ev Event) {
	ev.At = c.now()
	if !c.events.Push(ev) {
		c.logger.Debug("event dropped after close", "type", ev.Type)
	}
}
