package stomp

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEndpoint    = errors.New("stomp: invalid endpoint")
	ErrInvalidBudget      = errors.New("stomp: invalid retry budget")
	ErrNotConnected       = errors.New("stomp: not connected")
	ErrConnUsed           = errors.New("stomp: connection already opened")
	ErrAlreadyRunning     = errors.New("stomp: read loop already running")
	ErrUngracefulClose    = errors.New("stomp: ungraceful close")
	ErrUnsupportedVersion = errors.New("stomp: unsupported protocol version")

	ErrConnectTimeout   = errors.New("stomp: connect timeout")
	ErrConnectRefused   = errors.New("stomp: connect refused")
	ErrRetriesExhausted = errors.New("stomp: connect retries exhausted")
	ErrConnectRejected  = errors.New("stomp: connect rejected by broker")
	ErrConnectCancelled = errors.New("stomp: connect cancelled")
)

// ConnectErrorKind classifies why a connect attempt failed.
type ConnectErrorKind int

const (
	ConnectTimeout ConnectErrorKind = iota + 1
	ConnectRefused
	ConnectRetriesExhausted
	ConnectRejected
	ConnectCancelled
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectTimeout:
		return "timeout"
	case ConnectRefused:
		return "refused"
	case ConnectRetriesExhausted:
		return "retries_exhausted"
	case ConnectRejected:
		return "rejected"
	case ConnectCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (k ConnectErrorKind) sentinel() error {
	switch k {
	case ConnectTimeout:
		return ErrConnectTimeout
	case ConnectRefused:
		return ErrConnectRefused
	case ConnectRetriesExhausted:
		return ErrRetriesExhausted
	case ConnectRejected:
		return ErrConnectRejected
	case ConnectCancelled:
		return ErrConnectCancelled
	default:
		return nil
	}
}

// ConnectError is returned by Open and ConnectWithRetry. For
// ConnectRetriesExhausted, Err holds the last attempt's error and Attempts
// the number of attempts made.
type ConnectError struct {
	Kind     ConnectErrorKind
	Endpoint Endpoint
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("%v endpoint=%s", e.Kind.sentinel(), e.Endpoint)
	if e.Kind == ConnectRetriesExhausted {
		msg += fmt.Sprintf(" attempts=%d", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// DisconnectReason says why a read loop ended.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonRequested
	ReasonPeerClosed
	ReasonTransportError
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonRequested:
		return "requested"
	case ReasonPeerClosed:
		return "peer_closed"
	case ReasonTransportError:
		return "transport_error"
	default:
		return "none"
	}
}

// DisconnectError is returned by Run when the stream ends without a local
// close request.
type DisconnectError struct {
	Reason DisconnectReason
	Err    error
}

func (e *DisconnectError) Error() string {
	if e.Err == nil {
		return "stomp: disconnected reason=" + e.Reason.String()
	}
	return fmt.Sprintf("stomp: disconnected reason=%s: %v", e.Reason, e.Err)
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}
