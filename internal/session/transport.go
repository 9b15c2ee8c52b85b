// ABOUTME: Contract between the session controller and a media transport
// ABOUTME: Transports report raw callbacks as TransportEvents and expose four operations

package session

import "context"

// TransportEventKind names a raw transport callback.
type TransportEventKind string

const (
	TransportConnectionStateChanged  TransportEventKind = "connectionStateChanged"
	TransportParticipantConnected    TransportEventKind = "participantConnected"
	TransportParticipantDisconnected TransportEventKind = "participantDisconnected"
	TransportTrackPublished          TransportEventKind = "trackPublished"
	TransportTrackSubscribed         TransportEventKind = "trackSubscribed"
	TransportLocalTrackPublished     TransportEventKind = "localTrackPublished"
)

// ConnectionState is the transport's own view of its link.
type ConnectionState string

const (
	LinkConnected    ConnectionState = "connected"
	LinkReconnecting ConnectionState = "reconnecting"
	LinkDisconnected ConnectionState = "disconnected"
)

// TransportEvent is a raw callback reported by a transport.
type TransportEvent struct {
	Kind        TransportEventKind
	Link        ConnectionState
	Participant *ParticipantInfo
	Track       *TrackPublication
}

// EmitFunc receives transport events. Transports may call it from any
// goroutine, including before Connect returns.
type EmitFunc func(TransportEvent)

// Transport is the media transport collaborator. Credential format and wire
// protocol are opaque to the session.
type Transport interface {
	// Connect joins the room. Participants already present are returned in
	// the RoomInfo rather than reported as participantConnected events.
	Connect(ctx context.Context, serverURL, credential string, emit EmitFunc) (*RoomInfo, error)

	// Disconnect leaves the room and stops emitting events.
	Disconnect() error

	// SetSubscribed changes the subscription of one remote publication.
	SetSubscribed(ctx context.Context, participantIdentity, trackSID string, subscribed bool) error

	// SetMicrophoneEnabled publishes (true) or unpublishes (false) the local
	// microphone track. On enable it returns the acknowledged publication.
	SetMicrophoneEnabled(ctx context.Context, enabled bool) (*TrackPublication, error)
}

// Room is the non-owning reference handed to the session's dependents. It
// exposes operations and read access; the state field itself can only be
// changed by the owning Controller.
type Room interface {
	State() State
	LocalIdentity() string
	SetSubscribed(ctx context.Context, participantIdentity, trackSID string, subscribed bool) error
	SetMicrophoneEnabled(ctx context.Context, enabled bool) (*TrackPublication, error)
}
