// ABOUTME: Tests for microphone capture devices
// ABOUTME: Covers generated silence and Ogg file error mapping

package livekit

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-room/internal/session"
)

func TestSilenceDevice(t *testing.T) {
	src, err := SilenceDevice{}.Open()
	require.NoError(t, err)

	for range 3 {
		sample, err := src.NextSample()
		require.NoError(t, err)
		assert.Equal(t, opusSilence, sample.Data)
		assert.Equal(t, frameDuration, sample.Duration)
	}

	require.NoError(t, src.Close())
	_, err = src.NextSample()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOggDevice_MissingFile(t *testing.T) {
	_, err := OggDevice{Path: filepath.Join(t.TempDir(), "absent.ogg")}.Open()
	assert.ErrorIs(t, err, session.ErrNoCaptureDevice)
}

func TestOggDevice_NotOgg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.ogg")
	require.NoError(t, os.WriteFile(path, []byte("definitely not an ogg stream"), 0o644))

	_, err := OggDevice{Path: path}.Open()
	assert.ErrorIs(t, err, session.ErrNoCaptureDevice)
}

func TestDeviceError(t *testing.T) {
	assert.ErrorIs(t, deviceError("mic", os.ErrPermission), session.ErrPermissionDenied)
	assert.ErrorIs(t, deviceError("mic", os.ErrNotExist), session.ErrNoCaptureDevice)

	other := deviceError("mic", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, other, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, other, session.ErrPermissionDenied)
}

func TestDeviceFor(t *testing.T) {
	assert.Equal(t, SilenceDevice{}, DeviceFor(""))
	assert.Equal(t, SilenceDevice{}, DeviceFor("silence"))
	assert.Equal(t, OggDevice{Path: "/tmp/voice.ogg"}, DeviceFor("/tmp/voice.ogg"))
}
