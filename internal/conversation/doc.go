// Package conversation is the text channel between the user and the
// backend agent.
//
// # Bridge
//
// Bridge.SendMessage performs one exchange:
//
//  1. Append the user message (and mirror it to the transcript store)
//  2. Set the typing indicator
//  3. POST {"message": text} to the agent endpoint, once, without retries
//  4. Append the agent message: the response text, "No response from
//     agent." for an empty response, or an "Error: Unable to communicate
//     with AI agent. ..." text when the request failed
//  5. Clear the typing indicator
//
// Failures never reach the caller; the conversation log is the single
// place where agent problems show up.
//
// # Fan-out
//
// Appended messages reach observers three ways: synchronous OnMessage
// listeners, MessageFeed subscriptions filtered by conversation and
// sender (with replay of recent messages), and the optional
// TranscriptStore.
package conversation
