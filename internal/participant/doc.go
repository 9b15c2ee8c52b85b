// Package participant keeps track of who else is in the room and whether
// an AI agent is among them.
package participant
