// ABOUTME: TrackSubscriptionManager applies the audio auto-subscribe policy
// ABOUTME: Also owns the local microphone toggle and the recording duration timer

package media

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/coven-room/internal/event"
	"github.com/2389/coven-room/internal/session"
)

const (
	// DefaultSettleInterval bounds the wait for the local publication event
	// after the transport acknowledges a microphone publish.
	DefaultSettleInterval = 500 * time.Millisecond
	// DefaultTickInterval is the recording duration resolution.
	DefaultTickInterval = time.Second
)

// Options configures a Manager.
type Options struct {
	SettleInterval time.Duration
	TickInterval   time.Duration
	Logger         *slog.Logger
}

// Manager subscribes every remote audio publication and toggles the local
// microphone. Video and data publications are tracked but never subscribed.
type Manager struct {
	room   session.Room
	logger *slog.Logger
	settle time.Duration
	tick   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	opMu sync.Mutex // serializes EnableMicrophone and DisableMicrophone

	mu           sync.Mutex
	publications map[string]session.TrackPublication // remote, by SID
	localSIDs    map[string]bool
	waiters      map[string]chan struct{}
	recording    bool
	duration     time.Duration
	stopTicker   chan struct{}
	closed       bool
	epoch        uint64 // bumped each time the session ends

	durationListeners  event.Listeners[time.Duration]
	recordingListeners event.Listeners[bool]
}

// NewManager creates a manager bound to room. A nil room is allowed; every
// microphone operation then fails with ErrNoSession.
func NewManager(room session.Room, opts Options) *Manager {
	if opts.SettleInterval <= 0 {
		opts.SettleInterval = DefaultSettleInterval
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		room:         room,
		logger:       opts.Logger.With("component", "media"),
		settle:       opts.SettleInterval,
		tick:         opts.TickInterval,
		ctx:          ctx,
		cancel:       cancel,
		publications: make(map[string]session.TrackPublication),
		localSIDs:    make(map[string]bool),
		waiters:      make(map[string]chan struct{}),
	}
}

// HandleEvent applies one normalized session event.
func (m *Manager) HandleEvent(ev session.Event) {
	switch ev.Type {
	case session.EventParticipantJoined:
		if ev.Participant == nil {
			return
		}
		for _, track := range ev.Participant.Tracks {
			if track.ParticipantIdentity == "" {
				track.ParticipantIdentity = ev.Participant.Identity
			}
			m.observe(track)
		}

	case session.EventTrackPublished:
		if ev.Track != nil {
			m.observe(*ev.Track)
		}

	case session.EventTrackSubscribed:
		if ev.Track != nil {
			m.markSubscribed(ev.Track.SID)
		}

	case session.EventParticipantLeft:
		if ev.Participant != nil {
			m.forgetParticipant(ev.Participant.Identity)
		}

	case session.EventLocalTrackPublished:
		if ev.Track != nil {
			m.localPublished(ev.Track.SID)
		}

	case session.EventStateChanged:
		if ev.State == session.StateDisconnected || ev.State == session.StateFailed {
			m.sessionEnded()
		}
	}
}

// observe records a remote publication and subscribes it if it is audio.
func (m *Manager) observe(track session.TrackPublication) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if prev, ok := m.publications[track.SID]; ok && prev.Subscribed {
		track.Subscribed = true
	}
	m.publications[track.SID] = track
	m.mu.Unlock()

	if track.Kind != session.TrackKindAudio || track.Subscribed {
		return
	}
	if m.room == nil {
		return
	}

	if err := m.room.SetSubscribed(m.ctx, track.ParticipantIdentity, track.SID, true); err != nil {
		m.logger.Warn("failed to subscribe audio track",
			"participant_identity", track.ParticipantIdentity,
			"track_sid", track.SID,
			"error", err,
		)
		return
	}
	m.markSubscribed(track.SID)
	m.logger.Debug("subscribed audio track",
		"participant_identity", track.ParticipantIdentity,
		"track_sid", track.SID,
		"source", track.Source,
	)
}

func (m *Manager) markSubscribed(sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pub, ok := m.publications[sid]
	if !ok || pub.Kind != session.TrackKindAudio {
		return
	}
	pub.Subscribed = true
	m.publications[sid] = pub
}

func (m *Manager) forgetParticipant(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sid, pub := range m.publications {
		if pub.ParticipantIdentity == identity {
			delete(m.publications, sid)
		}
	}
}

func (m *Manager) localPublished(sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localSIDs[sid] = true
	if ch, ok := m.waiters[sid]; ok {
		close(ch)
		delete(m.waiters, sid)
	}
}

// sessionEnded drops remote state and forces recording off.
func (m *Manager) sessionEnded() {
	m.mu.Lock()
	m.publications = make(map[string]session.TrackPublication)
	m.localSIDs = make(map[string]bool)
	m.epoch++
	wasRecording := m.stopRecordingLocked()
	m.mu.Unlock()

	if wasRecording {
		m.logger.Info("recording stopped because the session ended")
		m.recordingListeners.Emit(false)
	}
}

// EnableMicrophone publishes the local microphone. Calling it while already
// recording does nothing.
func (m *Manager) EnableMicrophone(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	closed, recording, epoch := m.closed, m.recording, m.epoch
	m.mu.Unlock()

	if closed {
		return &MicrophoneError{Op: OpEnable, Err: session.ErrClosed}
	}
	if recording {
		m.logger.Debug("microphone already enabled")
		return nil
	}
	if m.room == nil || !m.room.State().Active() {
		return &MicrophoneError{Op: OpEnable, Err: ErrNoSession}
	}

	pub, err := m.room.SetMicrophoneEnabled(ctx, true)
	if err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			err = ErrNoSession
		}
		m.forceOff()
		m.logger.Error("failed to enable microphone", "error", err)
		return &MicrophoneError{Op: OpEnable, Err: err}
	}

	if pub != nil && pub.SID != "" {
		if !m.awaitLocalPublication(ctx, pub.SID) {
			m.logger.Warn("microphone publication not confirmed within settle interval",
				"track_sid", pub.SID,
				"settle", m.settle,
			)
		}
	} else {
		m.logger.Warn("microphone publish acknowledged without a publication")
	}

	active := m.room.State().Active()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &MicrophoneError{Op: OpEnable, Err: session.ErrClosed}
	}
	if !active || m.epoch != epoch {
		m.mu.Unlock()
		m.logger.Warn("session ended while enabling microphone")
		if _, err := m.room.SetMicrophoneEnabled(ctx, false); err != nil {
			m.logger.Debug("unpublishing microphone after session end", "error", err)
		}
		return &MicrophoneError{Op: OpEnable, Err: ErrNoSession}
	}
	m.recording = true
	m.duration = 0
	m.stopTicker = make(chan struct{})
	go m.runTicker(m.stopTicker)
	m.mu.Unlock()

	m.logger.Info("microphone enabled")
	m.recordingListeners.Emit(true)
	return nil
}

// awaitLocalPublication waits for the localTrackPublished event of sid,
// bounded by the settle interval. It reports whether the event was seen.
func (m *Manager) awaitLocalPublication(ctx context.Context, sid string) bool {
	m.mu.Lock()
	if m.localSIDs[sid] {
		m.mu.Unlock()
		return true
	}
	ch, ok := m.waiters[sid]
	if !ok {
		ch = make(chan struct{})
		m.waiters[sid] = ch
	}
	m.mu.Unlock()

	timer := time.NewTimer(m.settle)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
	case <-ctx.Done():
	case <-m.ctx.Done():
	}

	m.mu.Lock()
	delete(m.waiters, sid)
	seen := m.localSIDs[sid]
	m.mu.Unlock()
	return seen
}

// DisableMicrophone unpublishes the local microphone. Calling it while not
// recording does nothing.
func (m *Manager) DisableMicrophone(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	recording := m.recording
	m.mu.Unlock()

	if !recording {
		m.logger.Debug("microphone already disabled")
		return nil
	}
	if m.room == nil {
		m.forceOff()
		return &MicrophoneError{Op: OpDisable, Err: ErrNoSession}
	}

	_, err := m.room.SetMicrophoneEnabled(ctx, false)
	m.forceOff()
	if err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			err = ErrNoSession
		}
		m.logger.Error("failed to disable microphone", "error", err)
		return &MicrophoneError{Op: OpDisable, Err: err}
	}

	m.logger.Info("microphone disabled")
	return nil
}

// ToggleMicrophone enables the microphone when it is off and disables it
// when it is on. It returns the resulting recording state.
func (m *Manager) ToggleMicrophone(ctx context.Context) (bool, error) {
	if m.Recording() {
		err := m.DisableMicrophone(ctx)
		return m.Recording(), err
	}
	err := m.EnableMicrophone(ctx)
	return m.Recording(), err
}

// forceOff stops recording and notifies listeners if it was on.
func (m *Manager) forceOff() {
	m.mu.Lock()
	wasRecording := m.stopRecordingLocked()
	m.mu.Unlock()

	if wasRecording {
		m.recordingListeners.Emit(false)
	}
}

func (m *Manager) stopRecordingLocked() bool {
	wasRecording := m.recording
	m.recording = false
	m.duration = 0
	if m.stopTicker != nil {
		close(m.stopTicker)
		m.stopTicker = nil
	}
	return wasRecording
}

func (m *Manager) runTicker(stop chan struct{}) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.stopTicker != stop {
				m.mu.Unlock()
				return
			}
			m.duration += m.tick
			d := m.duration
			m.mu.Unlock()
			m.durationListeners.Emit(d)
		}
	}
}

// Recording reports whether the local microphone is published.
func (m *Manager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// Duration returns how long the microphone has been recording, in whole
// ticks. It is zero when not recording.
func (m *Manager) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

// Ticking reports whether the recording timer is running.
func (m *Manager) Ticking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopTicker != nil
}

// OnDuration registers fn for every recording timer tick.
func (m *Manager) OnDuration(fn func(time.Duration)) *event.Subscription {
	return m.durationListeners.Add(fn)
}

// OnRecordingChange registers fn for every recording state change.
func (m *Manager) OnRecordingChange(fn func(recording bool)) *event.Subscription {
	return m.recordingListeners.Add(fn)
}

// Publications returns the remote publications seen so far, ordered by
// participant identity then SID.
func (m *Manager) Publications() []session.TrackPublication {
	m.mu.Lock()
	out := make([]session.TrackPublication, 0, len(m.publications))
	for _, pub := range m.publications {
		out = append(out, pub)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b session.TrackPublication) int {
		return cmp.Or(
			cmp.Compare(a.ParticipantIdentity, b.ParticipantIdentity),
			cmp.Compare(a.SID, b.SID),
		)
	})
	return out
}

// Close stops the recording timer and cancels in-flight subscription calls.
// The published microphone, if any, is torn down with the session.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	wasRecording := m.stopRecordingLocked()
	m.mu.Unlock()

	m.cancel()
	if wasRecording {
		m.recordingListeners.Emit(false)
	}
}

// FormatDuration renders d as MM:SS. Minutes are not wrapped at an hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
