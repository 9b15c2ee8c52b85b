// ABOUTME: LiveKit implementation of session.Transport on top of the server SDK
// ABOUTME: Reports SDK callbacks as transport events and publishes the microphone track

package livekit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/2389/coven-room/internal/dedupe"
	"github.com/2389/coven-room/internal/session"
)

// Compile-time interface check.
var _ session.Transport = (*Transport)(nil)

// MicrophoneTrackName names the published local audio track.
const MicrophoneTrackName = "microphone"

// announcedLimit bounds how many participant and track SIDs are remembered
// per connection.
const announcedLimit = 4096

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: opusSampleRate,
	Channels:  2,
}

// Transport joins a LiveKit room. Subscriptions are left to the caller:
// the SDK's auto-subscribe is disabled.
type Transport struct {
	device    CaptureDevice
	sink      PlaybackSink
	logger    *slog.Logger
	announced *dedupe.Cache // SIDs already reported; a resume replays them

	mu         sync.Mutex
	room       *lksdk.Room
	emit       session.EmitFunc
	generation uint64 // bumped on every Connect and Disconnect
	mic        *microphone
}

type microphone struct {
	sid      string
	source   SampleSource
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a transport that captures the microphone from device and
// hands subscribed remote audio to sink. Nil device, sink or logger select
// silence, DiscardSink and the default logger.
func New(device CaptureDevice, sink PlaybackSink, logger *slog.Logger) *Transport {
	if device == nil {
		device = SilenceDevice{}
	}
	if sink == nil {
		sink = DiscardSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		device:    device,
		sink:      sink,
		logger:    logger.With("component", "livekit"),
		announced: dedupe.New(0, announcedLimit),
	}
}

// Connect joins the room with the given access token. The SDK call has no
// context of its own; if ctx ends first, the late room is disconnected as
// soon as it arrives.
func (t *Transport) Connect(ctx context.Context, serverURL, credential string, emit session.EmitFunc) (*session.RoomInfo, error) {
	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.emit = emit
	t.mu.Unlock()
	t.announced.Reset()

	type result struct {
		room *lksdk.Room
		err  error
	}
	done := make(chan result, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(serverURL, credential, t.callbacks(gen), lksdk.WithAutoSubscribe(false))
		done <- result{room, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.room != nil {
				late.room.Disconnect()
			}
		}()
		return nil, fmt.Errorf("%w: %v", session.ErrCancelled, ctx.Err())
	}
	if res.err != nil {
		t.logger.Warn("failed to join room", "server_url", serverURL, "error", res.err)
		return nil, connectError(res.err)
	}

	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		res.room.Disconnect()
		return nil, session.ErrCancelled
	}
	t.room = res.room
	t.mu.Unlock()

	info := &session.RoomInfo{Name: res.room.Name()}
	if lp := res.room.LocalParticipant; lp != nil {
		info.LocalIdentity = lp.Identity()
	}
	for _, rp := range res.room.GetRemoteParticipants() {
		p := participantInfo(rp)
		t.markAnnounced(p)
		info.Participants = append(info.Participants, p)
	}

	t.logger.Info("joined room",
		"room", info.Name,
		"local_identity", info.LocalIdentity,
		"remote_participants", len(info.Participants))
	return info, nil
}

// Disconnect leaves the room. Callbacks arriving afterwards are dropped.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.generation++
	room := t.room
	mic := t.mic
	t.room = nil
	t.mic = nil
	t.emit = nil
	t.mu.Unlock()

	if mic != nil {
		mic.halt()
	}
	if room != nil {
		room.Disconnect()
		t.logger.Info("left room")
	}
	return nil
}

// SetSubscribed changes the subscription of one remote publication. The
// result is reported by the SDK's track subscribed callback.
func (t *Transport) SetSubscribed(_ context.Context, participantIdentity, trackSID string, subscribed bool) error {
	t.mu.Lock()
	room := t.room
	t.mu.Unlock()
	if room == nil {
		return session.ErrNotConnected
	}

	rp := room.GetParticipantByIdentity(participantIdentity)
	if rp == nil {
		return fmt.Errorf("participant %q not in room", participantIdentity)
	}
	for _, pub := range rp.TrackPublications() {
		if pub.SID() != trackSID {
			continue
		}
		remote, ok := pub.(*lksdk.RemoteTrackPublication)
		if !ok {
			return fmt.Errorf("track %q is not a remote publication", trackSID)
		}
		if err := remote.SetSubscribed(subscribed); err != nil {
			return fmt.Errorf("setting subscription of %s: %w", trackSID, err)
		}
		return nil
	}
	return fmt.Errorf("track %q not published by %q", trackSID, participantIdentity)
}

// SetMicrophoneEnabled publishes or unpublishes the local microphone track.
func (t *Transport) SetMicrophoneEnabled(_ context.Context, enabled bool) (*session.TrackPublication, error) {
	t.mu.Lock()
	room := t.room
	current := t.mic
	gen := t.generation
	t.mu.Unlock()
	if room == nil || room.LocalParticipant == nil {
		return nil, session.ErrNotConnected
	}

	if !enabled {
		if current == nil {
			return nil, nil
		}
		t.mu.Lock()
		if t.mic == current {
			t.mic = nil
		}
		t.mu.Unlock()
		current.halt()
		if err := room.LocalParticipant.UnpublishTrack(current.sid); err != nil {
			return nil, fmt.Errorf("unpublishing microphone: %w", err)
		}
		t.logger.Info("microphone unpublished", "track_sid", current.sid)
		return nil, nil
	}

	if current != nil {
		pub := t.localPublication(current.sid, room.LocalParticipant.Identity())
		return &pub, nil
	}

	source, err := t.device.Open()
	if err != nil {
		return nil, err
	}
	track, err := lksdk.NewLocalSampleTrack(opusCapability)
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("creating microphone track: %w", err)
	}
	lpub, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   MicrophoneTrackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("publishing microphone: %w", err)
	}

	mic := &microphone{
		sid:    lpub.SID(),
		source: source,
		logger: t.logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go mic.pump(track)

	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		mic.halt()
		return nil, session.ErrNotConnected
	}
	t.mic = mic
	t.mu.Unlock()

	pub := t.localPublication(mic.sid, room.LocalParticipant.Identity())
	t.logger.Info("microphone published", "track_sid", mic.sid)
	t.send(gen, session.TransportEvent{Kind: session.TransportLocalTrackPublished, Track: &pub})
	return &pub, nil
}

func (t *Transport) localPublication(sid, identity string) session.TrackPublication {
	return session.TrackPublication{
		SID:                 sid,
		Name:                MicrophoneTrackName,
		Kind:                session.TrackKindAudio,
		Source:              session.SourceMicrophone,
		ParticipantIdentity: identity,
	}
}

// send delivers ev if gen is still the current connection.
func (t *Transport) send(gen uint64, ev session.TransportEvent) {
	t.mu.Lock()
	emit := t.emit
	current := gen == t.generation
	t.mu.Unlock()
	if emit == nil || !current {
		return
	}
	emit(ev)
}

func (t *Transport) callbacks(gen uint64) *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if t.announced.CheckAndMark(trackKey(pub.SID())) {
					t.logger.Debug("dropping repeated track announcement", "track_sid", pub.SID())
					return
				}
				info := participantInfo(rp)
				track := publicationInfo(pub, rp.Identity())
				t.send(gen, session.TransportEvent{Kind: session.TransportTrackPublished, Participant: &info, Track: &track})
			},
			OnTrackSubscribed: func(remote *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				go t.play(remote, rp.Identity(), pub.SID())
				info := participantInfo(rp)
				track := publicationInfo(pub, rp.Identity())
				track.Subscribed = true
				t.send(gen, session.TransportEvent{Kind: session.TransportTrackSubscribed, Participant: &info, Track: &track})
			},
			OnTrackUnpublished: func(pub *lksdk.RemoteTrackPublication, _ *lksdk.RemoteParticipant) {
				t.announced.Forget(trackKey(pub.SID()))
			},
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			if t.announced.CheckAndMark(participantKey(rp.SID())) {
				t.logger.Debug("dropping repeated participant announcement", "participant", rp.Identity())
				return
			}
			info := participantInfo(rp)
			t.send(gen, session.TransportEvent{Kind: session.TransportParticipantConnected, Participant: &info})
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			info := participantInfo(rp)
			t.forgetAnnounced(info)
			t.send(gen, session.TransportEvent{Kind: session.TransportParticipantDisconnected, Participant: &info})
		},
		OnReconnecting: func() {
			t.logger.Info("reconnecting to room")
			t.send(gen, session.TransportEvent{Kind: session.TransportConnectionStateChanged, Link: session.LinkReconnecting})
		},
		OnReconnected: func() {
			t.logger.Info("reconnected to room")
			t.send(gen, session.TransportEvent{Kind: session.TransportConnectionStateChanged, Link: session.LinkConnected})
		},
		OnDisconnected: func() {
			t.logger.Info("room link closed")
			t.send(gen, session.TransportEvent{Kind: session.TransportConnectionStateChanged, Link: session.LinkDisconnected})
		},
	}
}

func participantKey(sid string) string { return "p:" + sid }

func trackKey(sid string) string { return "t:" + sid }

// markAnnounced records a participant and its tracks as already reported.
func (t *Transport) markAnnounced(p session.ParticipantInfo) {
	t.announced.CheckAndMark(participantKey(p.SID))
	for _, track := range p.Tracks {
		t.announced.CheckAndMark(trackKey(track.SID))
	}
}

// forgetAnnounced lets a participant that left be reported again on rejoin.
func (t *Transport) forgetAnnounced(p session.ParticipantInfo) {
	t.announced.Forget(participantKey(p.SID))
	for _, track := range p.Tracks {
		t.announced.Forget(trackKey(track.SID))
	}
}

// play reads a subscribed remote track into the playback sink until the
// track ends. A sink failure drops the audio but keeps the track read.
func (t *Transport) play(track *webrtc.TrackRemote, identity, sid string) {
	w, err := t.sink.Open(identity, sid)
	if err != nil {
		t.logger.Warn("playback sink unavailable; discarding audio",
			"participant_identity", identity,
			"track_sid", sid,
			"error", err)
		w = discardWriter{}
	}

	written, err := copyPackets(func() (*rtp.Packet, error) {
		packet, _, err := track.ReadRTP()
		return packet, err
	}, w)
	if err != nil {
		t.logger.Debug("remote track playback stopped",
			"participant_identity", identity,
			"track_sid", sid,
			"error", err)
	}
	if cerr := w.Close(); cerr != nil {
		t.logger.Warn("closing playback sink", "track_sid", sid, "error", cerr)
	}
	t.logger.Debug("remote track ended", "track_sid", sid, "packets", written)
}

func (m *microphone) pump(track *lksdk.LocalSampleTrack) {
	defer close(m.done)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-timer.C:
		}

		sample, err := m.source.NextSample()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.logger.Warn("capture source failed", "track_sid", m.sid, "error", err)
			}
			return
		}
		if err := track.WriteSample(sample, nil); err != nil {
			m.logger.Debug("dropping microphone sample", "track_sid", m.sid, "error", err)
		}
		timer.Reset(sample.Duration)
	}
}

// halt stops the pump and releases the capture source. Safe to call twice.
func (m *microphone) halt() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
		if err := m.source.Close(); err != nil {
			m.logger.Debug("closing capture source", "track_sid", m.sid, "error", err)
		}
	})
}
