// ABOUTME: Conversions from LiveKit SDK values into the session data model
// ABOUTME: Keeps SDK types out of every package except this transport

package livekit

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"strings"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/2389/coven-room/internal/session"
)

func trackKind(k lksdk.TrackKind) session.TrackKind {
	switch k {
	case lksdk.TrackKindAudio:
		return session.TrackKindAudio
	case lksdk.TrackKindVideo:
		return session.TrackKindVideo
	default:
		return session.TrackKindData
	}
}

func trackSource(s livekit.TrackSource) session.TrackSource {
	switch s {
	case livekit.TrackSource_MICROPHONE:
		return session.SourceMicrophone
	case livekit.TrackSource_CAMERA:
		return session.SourceCamera
	case livekit.TrackSource_SCREEN_SHARE:
		return session.SourceScreenShare
	case livekit.TrackSource_SCREEN_SHARE_AUDIO:
		return session.SourceScreenShareAudio
	default:
		return session.SourceUnknown
	}
}

func publicationInfo(pub lksdk.TrackPublication, identity string) session.TrackPublication {
	return session.TrackPublication{
		SID:                 pub.SID(),
		Name:                pub.Name(),
		Kind:                trackKind(pub.Kind()),
		Source:              trackSource(pub.Source()),
		ParticipantIdentity: identity,
		Subscribed:          pub.IsSubscribed(),
	}
}

func participantInfo(rp *lksdk.RemoteParticipant) session.ParticipantInfo {
	info := session.ParticipantInfo{
		Identity:   rp.Identity(),
		SID:        rp.SID(),
		Name:       rp.Name(),
		Attributes: maps.Clone(rp.Attributes()),
	}
	for _, pub := range rp.TrackPublications() {
		info.Tracks = append(info.Tracks, publicationInfo(pub, info.Identity))
	}
	return info
}

// connectError classifies a join failure into a session sentinel.
func connectError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", session.ErrUnreachable, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid token"):
		return fmt.Errorf("%w: %v", session.ErrInvalidCredential, err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %v", session.ErrUnreachable, err)
	default:
		return fmt.Errorf("%w: %v", session.ErrRejected, err)
	}
}
