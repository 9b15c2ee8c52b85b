// Package room is the entry point of the client core.
//
// New builds the session controller and hands narrow references to the
// participant registry, the media manager and the conversation bridge.
// Start fetches a credential from the token endpoint and connects; any
// failure is returned as a *session.ConnectionError, recorded in Status and
// leaves the controller usable.
//
// Close disconnects, releases every subscription the controller registered
// (including those handed out by OnNotice, OnMessage and friends), clears
// the recording timer and stops event dispatch.
package room
