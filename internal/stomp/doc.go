// Package stomp is the STOMP client core: one broker connection with its
// read loop, synchronous listener dispatch, and a bounded-retry supervisor.
//
// Ownership boundary:
// - connection lifecycle and state machine (Conn)
// - in-order delivery of MESSAGE/ERROR/RECEIPT frames to observers (Dispatcher)
// - connect retry budget (Supervisor)
//
// Wire encoding lives in internal/protocol/frame; timeouts, heart-beats,
// TLS and receipt tracking live in internal/protocol/session.
package stomp
