// Package session owns STOMP transport/session helpers shared by the client.
//
// Ownership boundary:
// - timeouts, heart-beat negotiation, disconnect grace
// - retry/backoff primitives
// - transport security (TLS/mTLS) validation and client config
// - pending receipt tracking
package session
