// ABOUTME: Microphone error type and media sentinels
// ABOUTME: Callers match causes with errors.Is against session capture sentinels

package media

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned when the microphone is toggled without an
// active session.
var ErrNoSession = errors.New("no active session")

// Microphone operations.
const (
	OpEnable  = "enable"
	OpDisable = "disable"
)

// MicrophoneError reports a failed microphone toggle. Recording is always
// false after one is returned.
type MicrophoneError struct {
	Op  string
	Err error
}

func (e *MicrophoneError) Error() string {
	return fmt.Sprintf("microphone %s: %v", e.Op, e.Err)
}

func (e *MicrophoneError) Unwrap() error {
	return e.Err
}
