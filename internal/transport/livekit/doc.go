// Package livekit implements session.Transport with the LiveKit server SDK.
//
// The SDK's own auto-subscribe is turned off so the media manager decides
// which publications to receive. SDK callbacks are translated into
// session.TransportEvents tagged with a connection generation; callbacks
// from a room that has since been left are dropped.
//
// The microphone is an Opus sample track fed by a CaptureDevice: generated
// silence by default, or an Ogg/Opus file.
package livekit
