// Package bridge owns the bridge process.
//
// Ownership boundary:
// - platform catalog and registry construction
//
// - persisted configuration (the upward sink of setup sessions)
//
// - control channel transports: HTTP and line-delimited JSON over TCP
//
// Lifecycle order:
// - bootstrap -> serve -> shutdown
//
// The bridge does not interpret setup envelopes; the session manager does.
package bridge
