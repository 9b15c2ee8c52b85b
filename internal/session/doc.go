// Package session owns the one room connection of the client.
//
// The Controller drives the lifecycle state machine
//
//	Idle -> Connecting -> Connected <-> Reconnecting
//	                   \-> Failed      \-> Failed
//	any live state -> Disconnected (explicit teardown)
//
// and turns the raw callbacks of a Transport into an ordered stream of
// Events. Dependents (participant registry, media manager) hold the
// Controller as a Room: they may read its state and ask it to subscribe
// or publish, but they never change the state themselves.
//
// Callbacks from a superseded connection attempt are dropped. A transport
// that reports a lost link while the session is live moves it to Failed;
// only Disconnect moves it to Disconnected.
package session
