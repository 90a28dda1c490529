// Package session owns the setup protocol carried over the bridge control channel.
//
// Ownership boundary:
// - session lifecycle (create, evict, terminate, expire)
// - the per-session stage machine and transaction counter
// - delegation into plugin configuration dialogues
// - upward configuration events
//
// The channel only supports "write a request" and "poll the last response".
// A Manager owns that channel and at most one valid Session. Every write is
// acknowledged by the transport before it is processed; the response it
// produces becomes readable after Config.ResponseDelay.
//
// Stage order:
// - awaiting negotiate -> main menu -> platform selection -> delegated
// - main menu -> accessory menu -> main menu
//
// Negotiate resets a session from any stage.
package session
