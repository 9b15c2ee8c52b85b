// ABOUTME: Session error taxonomy: sentinel causes and the ConnectionError wrapper
// ABOUTME: Transports return the sentinels so callers can match with errors.Is

package session

import (
	"errors"
	"fmt"
)

// Connection failure causes.
var (
	ErrAlreadyActive     = errors.New("session already active")
	ErrNotConnected      = errors.New("session not connected")
	ErrClosed            = errors.New("session closed")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrCredentialExpired = errors.New("credential expired")
	ErrUnreachable       = errors.New("endpoint unreachable")
	ErrRejected          = errors.New("connection rejected")
	ErrCancelled         = errors.New("connect cancelled by disconnect")
)

// Capture device causes, returned by transports from SetMicrophoneEnabled.
var (
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrNoCaptureDevice  = errors.New("no capture device")
)

// Connection error operations.
const (
	OpToken = "token"
	OpJoin  = "join"
)

// ConnectionError reports a failed token fetch or room join. It is never
// fatal: the client keeps running in a disconnected state.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("connection error (%s %s): %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("connection error (%s): %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
