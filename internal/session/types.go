// ABOUTME: Session data model: connection states, participants, track publications, events
// ABOUTME: Shared vocabulary between the controller, its dependents and media transports

package session

import "time"

// State is the lifecycle state of the one room connection.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

// Live reports whether a connection attempt is underway or established.
func (s State) Live() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// Active reports whether room operations (subscribe, publish) are allowed.
func (s State) Active() bool {
	return s == StateConnected || s == StateReconnecting
}

// Settled reports whether the state tells the caller the outcome of the
// last attempt: Connected, Disconnected or Failed.
func (s State) Settled() bool {
	return s == StateConnected || s == StateDisconnected || s == StateFailed
}

// TrackKind is the media kind of a publication.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
	TrackKindData  TrackKind = "data"
)

// TrackSource names where a published track comes from.
type TrackSource string

const (
	SourceUnknown          TrackSource = "unknown"
	SourceMicrophone       TrackSource = "microphone"
	SourceCamera           TrackSource = "camera"
	SourceScreenShare      TrackSource = "screen_share"
	SourceScreenShareAudio TrackSource = "screen_share_audio"
)

// TrackPublication is an advertised media stream from a participant.
type TrackPublication struct {
	SID                 string
	Name                string
	Kind                TrackKind
	Source              TrackSource
	ParticipantIdentity string
	Subscribed          bool
}

// ParticipantInfo describes a remote participant as reported by the transport.
// Attributes carry whatever the participant's credential granted, including
// the explicit role attribute.
type ParticipantInfo struct {
	Identity   string
	SID        string
	Name       string
	Attributes map[string]string
	Tracks     []TrackPublication
}

// clone returns a deep copy so consumers can never alias transport state.
func (p ParticipantInfo) clone() ParticipantInfo {
	out := p
	if p.Attributes != nil {
		out.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			out.Attributes[k] = v
		}
	}
	if p.Tracks != nil {
		out.Tracks = append([]TrackPublication(nil), p.Tracks...)
	}
	return out
}

// RoomInfo is the snapshot a transport returns once joined.
type RoomInfo struct {
	Name          string
	LocalIdentity string
	Participants  []ParticipantInfo
}

// EventType identifies a normalized session event.
type EventType string

const (
	EventStateChanged        EventType = "state_changed"
	EventParticipantJoined   EventType = "participant_joined"
	EventParticipantLeft     EventType = "participant_left"
	EventTrackPublished      EventType = "track_published"
	EventTrackSubscribed     EventType = "track_subscribed"
	EventLocalTrackPublished EventType = "local_track_published"
)

// Event is one entry of the controller's normalized stream.
type Event struct {
	Type        EventType
	At          time.Time
	State       State // EventStateChanged: new state
	Previous    State // EventStateChanged: state before the change
	Participant *ParticipantInfo
	Track       *TrackPublication
}

// Info is a read-only view of the session value.
type Info struct {
	State         State
	ServerURL     string
	Room          string
	LocalIdentity string
	HasCredential bool
}
