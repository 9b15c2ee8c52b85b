// ABOUTME: In-process Transport that simulates a room without any network
// ABOUTME: Scripted joins, publishes and link changes drive the session in tests and demos

package transport

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-room/internal/session"
)

// Compile-time interface check.
var _ session.Transport = (*Memory)(nil)

// Memory is an in-process session.Transport. Remote participants and their
// publications are scripted by the caller with Join, Publish and Leave.
// Emits always happen outside the transport's lock.
type Memory struct {
	mu           sync.Mutex
	roomName     string
	identity     string
	emit         session.EmitFunc
	connected    bool
	participants map[string]*session.ParticipantInfo
	order        []string
	subscribed   map[string]bool // trackSID -> subscribed
	micSID       string

	// Failure injection. Each field is consulted on every call.
	ConnectErr      error
	SubscribeErr    error
	MicrophoneErr   error
	ConnectGate     chan struct{} // when set, Connect blocks until it is closed or ctx ends
	SkipLocalEvent  bool          // suppress localTrackPublished after a microphone publish
	connectCalls    int
	disconnectCalls int
	subscribeCalls  []SubscribeCall
	micCalls        []bool
}

// SubscribeCall records one SetSubscribed request.
type SubscribeCall struct {
	Identity   string
	TrackSID   string
	Subscribed bool
}

// NewMemory creates a memory transport for the named room. identity is the
// local identity reported once joined; when empty, the credential string
// itself is used.
func NewMemory(roomName, identity string) *Memory {
	return &Memory{
		roomName:     roomName,
		identity:     identity,
		participants: make(map[string]*session.ParticipantInfo),
		subscribed:   make(map[string]bool),
	}
}

// Connect joins the simulated room and returns participants already present.
func (m *Memory) Connect(ctx context.Context, serverURL, credential string, emit session.EmitFunc) (*session.RoomInfo, error) {
	m.mu.Lock()
	m.connectCalls++
	gate := m.ConnectGate
	connectErr := m.ConnectErr
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("connect %s: %w", serverURL, session.ErrCancelled)
		}
	}
	if connectErr != nil {
		return nil, connectErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.emit = emit
	m.connected = true
	identity := m.identity
	if identity == "" {
		identity = credential
	}
	m.identity = identity

	info := &session.RoomInfo{Name: m.roomName, LocalIdentity: identity}
	for _, id := range m.order {
		info.Participants = append(info.Participants, snapshot(m.participants[id]))
	}
	return info, nil
}

// Disconnect leaves the simulated room.
func (m *Memory) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	m.connected = false
	m.micSID = ""
	return nil
}

// SetSubscribed records the request and, on success, reports trackSubscribed.
func (m *Memory) SetSubscribed(_ context.Context, participantIdentity, trackSID string, subscribed bool) error {
	m.mu.Lock()
	m.subscribeCalls = append(m.subscribeCalls, SubscribeCall{participantIdentity, trackSID, subscribed})
	if m.SubscribeErr != nil {
		err := m.SubscribeErr
		m.mu.Unlock()
		return err
	}
	p, ok := m.participants[participantIdentity]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("participant %q not in room", participantIdentity)
	}
	var track *session.TrackPublication
	for i := range p.Tracks {
		if p.Tracks[i].SID == trackSID {
			p.Tracks[i].Subscribed = subscribed
			t := p.Tracks[i]
			track = &t
		}
	}
	if track == nil {
		m.mu.Unlock()
		return fmt.Errorf("track %q not published by %q", trackSID, participantIdentity)
	}
	m.subscribed[trackSID] = subscribed
	emit := m.emit
	out := snapshot(p)
	m.mu.Unlock()

	if subscribed && emit != nil {
		emit(session.TransportEvent{Kind: session.TransportTrackSubscribed, Participant: &out, Track: track})
	}
	return nil
}

// SetMicrophoneEnabled publishes or unpublishes the simulated microphone.
func (m *Memory) SetMicrophoneEnabled(_ context.Context, enabled bool) (*session.TrackPublication, error) {
	m.mu.Lock()
	m.micCalls = append(m.micCalls, enabled)
	if m.MicrophoneErr != nil {
		err := m.MicrophoneErr
		m.mu.Unlock()
		return nil, err
	}
	if !enabled {
		m.micSID = ""
		m.mu.Unlock()
		return nil, nil
	}
	if m.micSID == "" {
		m.micSID = "TR_" + uuid.New().String()[:8]
	}
	pub := &session.TrackPublication{
		SID:                 m.micSID,
		Name:                "microphone",
		Kind:                session.TrackKindAudio,
		Source:              session.SourceMicrophone,
		ParticipantIdentity: m.identity,
	}
	emit := m.emit
	skip := m.SkipLocalEvent
	m.mu.Unlock()

	if emit != nil && !skip {
		local := *pub
		emit(session.TransportEvent{Kind: session.TransportLocalTrackPublished, Track: &local})
	}
	return pub, nil
}

// Join adds a remote participant. While connected it reports
// participantConnected; otherwise the participant is returned by the next
// Connect as already present.
func (m *Memory) Join(p session.ParticipantInfo) {
	p.Tracks = slices.Clone(p.Tracks)
	m.mu.Lock()
	if _, ok := m.participants[p.Identity]; !ok {
		m.order = append(m.order, p.Identity)
	}
	for i := range p.Tracks {
		p.Tracks[i].ParticipantIdentity = p.Identity
	}
	stored := snapshot(&p)
	m.participants[p.Identity] = &stored
	out := snapshot(&p)
	emit := m.liveEmitLocked()
	m.mu.Unlock()

	if emit != nil {
		emit(session.TransportEvent{Kind: session.TransportParticipantConnected, Participant: &out})
	}
}

// Leave removes a remote participant and reports participantDisconnected.
func (m *Memory) Leave(identity string) {
	m.mu.Lock()
	p, ok := m.participants[identity]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.participants, identity)
	for i, id := range m.order {
		if id == identity {
			m.order = slices.Delete(m.order, i, i+1)
			break
		}
	}
	out := snapshot(p)
	emit := m.liveEmitLocked()
	m.mu.Unlock()

	if emit != nil {
		emit(session.TransportEvent{Kind: session.TransportParticipantDisconnected, Participant: &out})
	}
}

// Publish adds a track to a remote participant and reports trackPublished.
func (m *Memory) Publish(identity string, track session.TrackPublication) error {
	m.mu.Lock()
	p, ok := m.participants[identity]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("participant %q not in room", identity)
	}
	track.ParticipantIdentity = identity
	p.Tracks = append(p.Tracks, track)
	out := snapshot(p)
	emit := m.liveEmitLocked()
	m.mu.Unlock()

	if emit != nil {
		emit(session.TransportEvent{Kind: session.TransportTrackPublished, Participant: &out, Track: &track})
	}
	return nil
}

// SetLink reports a change of the transport's own link state.
func (m *Memory) SetLink(state session.ConnectionState) {
	m.mu.Lock()
	emit := m.liveEmitLocked()
	if state == session.LinkDisconnected {
		m.connected = false
	}
	m.mu.Unlock()

	if emit != nil {
		emit(session.TransportEvent{Kind: session.TransportConnectionStateChanged, Link: state})
	}
}

// Emit delivers an arbitrary raw event through the most recent Connect's
// callback, even after Disconnect, to simulate late or malformed callbacks.
func (m *Memory) Emit(ev session.TransportEvent) {
	m.mu.Lock()
	emit := m.emit
	m.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

// snapshot copies p so emitted values never share memory with room state.
func snapshot(p *session.ParticipantInfo) session.ParticipantInfo {
	out := *p
	out.Attributes = maps.Clone(p.Attributes)
	out.Tracks = slices.Clone(p.Tracks)
	return out
}

func (m *Memory) liveEmitLocked() session.EmitFunc {
	if !m.connected {
		return nil
	}
	return m.emit
}

// Connected reports whether the simulated link is up.
func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// ConnectCalls returns how many times Connect was invoked.
func (m *Memory) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// DisconnectCalls returns how many times Disconnect was invoked.
func (m *Memory) DisconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCalls
}

// SubscribeCalls returns a copy of every SetSubscribed request.
func (m *Memory) SubscribeCalls() []SubscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SubscribeCall(nil), m.subscribeCalls...)
}

// MicrophoneCalls returns a copy of every SetMicrophoneEnabled argument.
func (m *Memory) MicrophoneCalls() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.micCalls...)
}

// Subscribed reports whether the track is currently subscribed.
func (m *Memory) Subscribed(trackSID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed[trackSID]
}

// SetConnectErr sets the error returned by subsequent Connect calls.
func (m *Memory) SetConnectErr(err error) {
	m.mu.Lock()
	m.ConnectErr = err
	m.mu.Unlock()
}

// SetMicrophoneErr sets the error returned by subsequent microphone calls.
func (m *Memory) SetMicrophoneErr(err error) {
	m.mu.Lock()
	m.MicrophoneErr = err
	m.mu.Unlock()
}
