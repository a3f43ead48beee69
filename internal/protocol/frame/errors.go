package frame

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame = errors.New("frame: malformed frame")
	ErrUnknownCommand = errors.New("frame: unknown command")
	ErrLengthMismatch = errors.New("frame: content-length mismatch")
	ErrMissingHeader  = errors.New("frame: missing required header")
	ErrFrameTooLarge  = errors.New("frame: frame exceeds limits")
)

// ErrorKind classifies a ProtocolError.
type ErrorKind int

const (
	KindMalformedFrame ErrorKind = iota + 1
	KindUnknownCommand
	KindLengthMismatch
	KindMissingHeader
	KindFrameTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedFrame:
		return "malformed_frame"
	case KindUnknownCommand:
		return "unknown_command"
	case KindLengthMismatch:
		return "length_mismatch"
	case KindMissingHeader:
		return "missing_header"
	case KindFrameTooLarge:
		return "frame_too_large"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindMalformedFrame:
		return ErrMalformedFrame
	case KindUnknownCommand:
		return ErrUnknownCommand
	case KindLengthMismatch:
		return ErrLengthMismatch
	case KindMissingHeader:
		return ErrMissingHeader
	case KindFrameTooLarge:
		return ErrFrameTooLarge
	default:
		return nil
	}
}

// ProtocolError reports a frame that violates the wire contract. It matches
// the sentinel for its Kind under errors.Is.
type ProtocolError struct {
	Kind    ErrorKind
	Command Command
	Detail  string
	Err     error
}

func (e *ProtocolError) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Command != "" {
		msg += fmt.Sprintf(" command=%s", e.Command)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErrorf(kind ErrorKind, cmd Command, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: kind, Command: cmd, Detail: fmt.Sprintf(format, args...)}
}

func wrapProtocolError(kind ErrorKind, cmd Command, detail string, err error) *ProtocolError {
	return &ProtocolError{Kind: kind, Command: cmd, Detail: detail, Err: err}
}
