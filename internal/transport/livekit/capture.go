// ABOUTME: Microphone capture sources that feed Opus samples to the published track
// ABOUTME: Generated silence or an Ogg/Opus file; device errors map to session sentinels

package livekit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/2389/coven-room/internal/session"
)

// opusSampleRate is the Opus clock rate used for RTP timestamps.
const opusSampleRate = 48000

// frameDuration is the pacing of generated frames.
const frameDuration = 20 * time.Millisecond

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// CaptureDevice opens a fresh sample source each time the microphone is enabled.
type CaptureDevice interface {
	Open() (SampleSource, error)
}

// SampleSource yields Opus samples in playback order. NextSample returns
// io.EOF when the source is exhausted.
type SampleSource interface {
	NextSample() (media.Sample, error)
	Close() error
}

// SilenceDevice produces an endless stream of silent frames.
type SilenceDevice struct{}

// Open implements CaptureDevice.
func (SilenceDevice) Open() (SampleSource, error) {
	return &silenceSource{}, nil
}

type silenceSource struct {
	closed bool
}

func (s *silenceSource) NextSample() (media.Sample, error) {
	if s.closed {
		return media.Sample{}, io.EOF
	}
	return media.Sample{Data: opusSilence, Duration: frameDuration}, nil
}

func (s *silenceSource) Close() error {
	s.closed = true
	return nil
}

// OggDevice streams an Ogg/Opus file as the microphone.
type OggDevice struct {
	Path string
}

// Open implements CaptureDevice. A missing file is reported as
// session.ErrNoCaptureDevice and an unreadable one as
// session.ErrPermissionDenied.
func (d OggDevice) Open() (SampleSource, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, deviceError(d.Path, err)
	}
	reader, header, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is not an Ogg/Opus file: %v", session.ErrNoCaptureDevice, d.Path, err)
	}
	if header.SampleRate == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s has no sample rate", session.ErrNoCaptureDevice, d.Path)
	}
	return &oggSource{file: f, reader: reader}, nil
}

func deviceError(path string, err error) error {
	switch {
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %s: %v", session.ErrPermissionDenied, path, err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s: %v", session.ErrNoCaptureDevice, path, err)
	default:
		return fmt.Errorf("opening capture %s: %w", path, err)
	}
}

type oggSource struct {
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func (s *oggSource) NextSample() (media.Sample, error) {
	for {
		page, header, err := s.reader.ParseNextPage()
		if err != nil {
			return media.Sample{}, err
		}
		// The comment header page carries no audio.
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}

		samples := header.GranulePosition - s.lastGranule
		s.lastGranule = header.GranulePosition
		d := time.Duration(float64(samples) / opusSampleRate * float64(time.Second))
		if d <= 0 {
			d = frameDuration
		}
		return media.Sample{Data: page, Duration: d}, nil
	}
}

func (s *oggSource) Close() error {
	return s.file.Close()
}

// DeviceFor returns the capture device named by a media.capture setting:
// "silence" or the path of an Ogg/Opus file.
func DeviceFor(capture string) CaptureDevice {
	if capture == "" || capture == "silence" {
		return SilenceDevice{}
	}
	return OggDevice{Path: capture}
}
