// Package media applies the audio auto-subscribe policy and controls the
// local microphone.
//
// Every remote audio publication, whether present when the session joined
// or published later, is subscribed as soon as the Manager sees it. Video
// and data publications are never subscribed automatically.
//
// EnableMicrophone trusts the transport's publish acknowledgment. It then
// waits, at most one settle interval, for the localTrackPublished event of
// that same publication; a missing event is logged as a warning and does
// not fail the call.
package media
