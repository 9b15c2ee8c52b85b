// ABOUTME: Playback sinks for subscribed remote audio tracks
// ABOUTME: Received Opus packets are discarded or recorded per track as Ogg/Opus files

package livekit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// PlaybackDiscard selects the sink that reads and drops remote audio.
const PlaybackDiscard = "discard"

// opusChannels is the channel count written to Ogg headers.
const opusChannels = 2

// PlaybackSink receives the audio of every subscribed remote track. Open is
// called once per track, from the goroutine that reads it.
type PlaybackSink interface {
	Open(participantIdentity, trackSID string) (PacketWriter, error)
}

// PacketWriter consumes the RTP packets of one remote track.
type PacketWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// DiscardSink keeps remote tracks flowing without playing them.
type DiscardSink struct{}

// Open implements PlaybackSink.
func (DiscardSink) Open(string, string) (PacketWriter, error) {
	return discardWriter{}, nil
}

type discardWriter struct{}

func (discardWriter) WriteRTP(*rtp.Packet) error { return nil }
func (discardWriter) Close() error               { return nil }

// OggSink records each remote track to <Dir>/<identity>-<track sid>.ogg.
type OggSink struct {
	Dir string
}

// Open implements PlaybackSink.
func (s OggSink) Open(participantIdentity, trackSID string) (PacketWriter, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating playback dir: %w", err)
	}
	path := s.Path(participantIdentity, trackSID)
	w, err := oggwriter.New(path, opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return w, nil
}

// Path returns the file a track is recorded to.
func (s OggSink) Path(participantIdentity, trackSID string) string {
	return filepath.Join(s.Dir, fileSafe(participantIdentity)+"-"+fileSafe(trackSID)+".ogg")
}

var unsafeFileChars = strings.NewReplacer("/", "_", `\`, "_", "..", "_", ":", "_")

func fileSafe(name string) string {
	if name == "" {
		return "unknown"
	}
	return unsafeFileChars.Replace(name)
}

// SinkFor returns the sink named by a media.playback setting: "discard"
// or a directory to record received audio into.
func SinkFor(playback string) PlaybackSink {
	if playback == "" || playback == PlaybackDiscard {
		return DiscardSink{}
	}
	return OggSink{Dir: playback}
}

// copyPackets feeds packets from next into w until next fails. After the
// first write error the remaining packets are still read but dropped. It
// returns the number of packets written and the first error other than
// io.EOF.
func copyPackets(next func() (*rtp.Packet, error), w PacketWriter) (int, error) {
	var written int
	var writeErr error
	for {
		packet, err := next()
		if err != nil {
			if writeErr != nil || errors.Is(err, io.EOF) {
				return written, writeErr
			}
			return written, err
		}
		if writeErr != nil {
			continue
		}
		if err := w.WriteRTP(packet); err != nil {
			writeErr = err
			continue
		}
		written++
	}
}
