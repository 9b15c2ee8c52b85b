// Package transport holds session.Transport implementations.
//
// Memory simulates a room in-process and is what the tests and the
// offline demo mode run against. The LiveKit-backed transport lives in
// the livekit subpackage.
package transport
