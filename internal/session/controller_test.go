// ABOUTME: Tests for the session Controller state machine and event normalization
// ABOUTME: Drives the controller through the in-memory transport

package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-room/internal/session"
	"github.com/2389/coven-room/internal/transport"
)

const testURL = "wss://rooms.example.test"

type recorder struct {
	mu     sync.Mutex
	events []session.Event
}

func (r *recorder) handle(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states() []session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []session.State
	for _, ev := range r.events {
		if ev.Type == session.EventStateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}

func (r *recorder) ofType(typ session.EventType) []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []session.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newController(t *testing.T, mem *transport.Memory) (*session.Controller, *recorder) {
	t.Helper()
	ctrl := session.NewController(mem, nil)
	rec := &recorder{}
	ctrl.Subscribe(rec.handle)
	t.Cleanup(ctrl.Close)
	return ctrl, rec
}

func syncEvents(t *testing.T, ctrl *session.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	require.NoError(t, ctrl.Sync(ctx))
}

func TestController_ConnectSuccess(t *testing.T) {
	mem := transport.NewMemory("corelance-main-room", "user-7f3k2")
	ctrl, rec := newController(t, mem)

	assert.Equal(t, session.StateIdle, ctrl.State())

	require.NoError(t, ctrl.Connect(t.Context(), testURL, "tok"))
	syncEvents(t, ctrl)

	assert.Equal(t, session.StateConnected, ctrl.State())
	assert.Equal(t, "user-7f3k2", ctrl.LocalIdentity())
	assert.Equal(t, []session.State{session.StateConnecting, session.StateConnected}, rec.states())

	info := ctrl.Info()
	assert.Equal(t, "corelance-main-room", info.Room)
	assert.Equal(t, testURL, info.ServerURL)
	assert.True(t, info.HasCredential)
}

func TestController_ConnectReportsExistingParticipants(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	mem.Join(session.ParticipantInfo{
		Identity: "agent-primary",
		Tracks:   []session.TrackPublication{{SID: "TR_a", Kind: session.TrackKindAudio}},
	})
	ctrl, rec := newController(t, mem)

	require.NoError(t, ctrl.Connect(t.Context(), testURL, "tok"))
	syncEvents(t, ctrl)

	joined := rec.ofType(session.EventParticipantJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "agent-primary", joined[0].Participant.Identity)
	require.Len(t, joined[0].Participant.Tracks, 1)
	assert.Equal(t, "agent-primary", joined[0].Participant.Tracks[0].ParticipantIdentity)
}

func TestController_ConnectFailureLeavesFailed(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	mem.SetConnectErr(session.ErrRejected)
	ctrl, rec := newController(t, mem)

	err := ctrl.Connect(t.Context(), testURL, "tok")
	require.Error(t, err)

	var connErr *session.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, session.OpJoin, connErr.Op)
	assert.ErrorIs(t, err, session.ErrRejected)

	syncEvents(t, ctrl)
	assert.Equal(t, session.StateFailed, ctrl.State())
	assert.Equal(t, []session.State{session.StateConnecting, session.StateFailed}, rec.states())
}

func TestController_ConnectRejectsEmptyInputs(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	ctrl, _ := newController(t, mem)

	err := ctrl.Connect(t.Context(), testURL, "")
	assert.ErrorIs(t, err, session.ErrInvalidCredential)
	assert.Equal(t, session.StateFailed, ctrl.State())

	err = ctrl.Connect(t.Context(), "", "tok")
	assert.ErrorIs(t, err, session.ErrUnreachable)
	assert.Equal(t, 0, mem.ConnectCalls())
}

func TestController_ConnectWhileActiveIsRejected(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	ctrl, _ := newController(t, mem)

	require.NoError(t, ctrl.Connect(t.Context(), testURL, "tok"))
	err := ctrl.Connect(t.Context(), testURL, "tok")
	assert.ErrorIs(t, err, session.ErrAlreadyActive)
	assert.Equal(t, 1, mem.ConnectCalls())
}

func TestController_RetryAfterFailure(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	mem.SetConnectErr(session.ErrUnreachable)
	ctrl, _ := newController(t, mem)

	require.Error(t, ctrl.Connect(t.Context(), testURL, "tok"))
	mem.SetConnectErr(nil)
	require.NoError(t, ctrl.Connect(t.Context(), testURL, "tok"))
	assert.Equal(t, session.StateConnected, ctrl.State())
}

func TestController_DisconnectIsIdempotent(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	ctrl, rec := newController(t, mem)

	require.NoError(t, ctrl.Connect(t.Context(), testURL, "tok"))
	ctrl.Disconnect()
	ctrl.Disconnect()
	ctrl.Disconnect()
	syncEvents(t, ctrl)

	assert.Equal(t, session.StateDisconnected, ctrl.State())
	assert.Equal(t, 1, mem.DisconnectCalls())
	assert.Equal(t, []session.State{
		session.StateConnecting,
		session.StateConnected,
		session.StateDisconnected,
	}, rec.states())
}

func TestController_DisconnectDuringConnect(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	mem.ConnectGate = make(chan struct{})
	ctrl, _ := newController(t, mem)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ctrl.Connect(context.Background(), testURL, "tok")
	}()

	require.Eventually(t, func() bool {
		return ctrl.State() == session.StateConnecting
	}, time.Second, 5*time.Millisecond)

	ctrl.Disconnect()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, session.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("connect did not return after disconnect")
	}

	assert.Equal(t, session.StateDisconnected, ctrl.State())
	assert.Equal(t, 0, mem.DisconnectCalls(), "transport never joined, nothing to tear down")
}

func TestController_ReconnectingAndRecovered(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	ctrl, rec := newController(t, mem)

	require.NoError(t, ctrl.Connect(t.Context(), testURL, "tok"))
	mem.SetLink(session.LinkReconnecting)
	mem.SetLink(session.LinkConnected)
	syncEvents(t, ctrl)

	assert.Equal(t, []session.State{
		session.StateConnecting,
		session.StateConnected,
		session.StateReconnecting,
		session.StateConnected,
	}, rec.states())
}

func TestController_LinkLossEndsFailed(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	ctrl, rec := newController(t, mem)

	require.NoError(t, ctrl.Connect(t.Context(), testURL, "tok"))
	mem.SetLink(session.LinkReconnecting)
	mem.SetLink(session.LinkDisconnected)
	syncEvents(t, ctrl)

	assert.Equal(t, session.StateFailed, ctrl.State())
	assert.Equal(t, session.StateFailed, rec.states()[len(rec.states())-1])

	// The dropped link is still torn down exactly once.
	ctrl.Disconnect()
	ctrl.Disconnect()
	assert.Equal(t, 1, mem.DisconnectCalls())
	assert.Equal(t, session.StateDisconnected, ctrl.State())
}

func TestController_StaleEventsAreDropped(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	ctrl, rec := newController(t, mem)

	require.NoError(t, ctrl.Connect(t.Context(), testURL, "tok"))
	ctrl.Disconnect()

	// A late callback from the finished attempt must not surface.
	mem.Emit(session.TransportEvent{
		Kind:        session.TransportParticipantConnected,
		Participant: &session.ParticipantInfo{Identity: "ghost"},
	})
	syncEvents(t, ctrl)

	assert.Empty(t, rec.ofType(session.EventParticipantJoined))
}

func TestController_NormalizesTrackEvents(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	ctrl, rec := newController(t, mem)

	require.NoError(t, ctrl.Connect(t.Context(), testURL, "tok"))
	mem.Join(session.ParticipantInfo{Identity: "agent-primary"})
	require.NoError(t, mem.Publish("agent-primary", session.TrackPublication{SID: "TR_1", Kind: session.TrackKindAudio}))
	require.NoError(t, ctrl.SetSubscribed(t.Context(), "agent-primary", "TR_1", true))
	mem.Leave("agent-primary")
	syncEvents(t, ctrl)

	rec.mu.Lock()
	var types []session.EventType
	for _, ev := range rec.events {
		if ev.Type != session.EventStateChanged {
			types = append(types, ev.Type)
		}
	}
	rec.mu.Unlock()

	assert.Equal(t, []session.EventType{
		session.EventParticipantJoined,
		session.EventTrackPublished,
		session.EventTrackSubscribed,
		session.EventParticipantLeft,
	}, types)

	subscribed := rec.ofType(session.EventTrackSubscribed)
	require.Len(t, subscribed, 1)
	assert.True(t, subscribed[0].Track.Subscribed)
	assert.False(t, subscribed[0].At.IsZero())
}

func TestController_OperationsRequireActiveSession(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	ctrl, _ := newController(t, mem)

	err := ctrl.SetSubscribed(t.Context(), "x", "TR_1", true)
	assert.ErrorIs(t, err, session.ErrNotConnected)

	_, err = ctrl.SetMicrophoneEnabled(t.Context(), true)
	assert.ErrorIs(t, err, session.ErrNotConnected)
	assert.Empty(t, mem.MicrophoneCalls())
}

func TestController_ConnectAfterCloseFails(t *testing.T) {
	mem := transport.NewMemory("room", "user-1")
	ctrl := session.NewController(mem, nil)
	ctrl.Close()
	ctrl.Close()

	err := ctrl.Connect(t.Context(), testURL, "tok")
	assert.True(t, errors.Is(err, session.ErrClosed))
}

func TestConnectionError_Message(t *testing.T) {
	err := &session.ConnectionError{Op: session.OpToken, URL: "http://x/api/livekit-token", Err: session.ErrUnreachable}
	assert.Equal(t, "connection error (token http://x/api/livekit-token): endpoint unreachable", err.Error())

	bare := &session.ConnectionError{Op: session.OpJoin, Err: session.ErrRejected}
	assert.Equal(t, "connection error (join): connection rejected", bare.Error())
}
