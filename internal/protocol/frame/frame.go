package frame

import (
	"bytes"
	"strconv"
	"strings"
)

// Command is the first line of a STOMP frame.
type Command string

// Client commands.
const (
	CmdConnect     Command = "CONNECT"
	CmdStomp       Command = "STOMP"
	CmdSend        Command = "SEND"
	CmdSubscribe   Command = "SUBSCRIBE"
	CmdUnsubscribe Command = "UNSUBSCRIBE"
	CmdAck         Command = "ACK"
	CmdNack        Command = "NACK"
	CmdBegin       Command = "BEGIN"
	CmdCommit      Command = "COMMIT"
	CmdAbort       Command = "ABORT"
	CmdDisconnect  Command = "DISCONNECT"
)

// Server commands.
const (
	CmdConnected Command = "CONNECTED"
	CmdMessage   Command = "MESSAGE"
	CmdReceipt   Command = "RECEIPT"
	CmdError     Command = "ERROR"
)

// Well-known header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrHost          = "host"
	HdrLogin         = "login"
	HdrPasscode      = "passcode"
	HdrHeartBeat     = "heart-beat"
	HdrVersion       = "version"
	HdrSession       = "session"
	HdrServer        = "server"
	HdrDestination   = "destination"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrMessageID     = "message-id"
	HdrSubscription  = "subscription"
	HdrID            = "id"
	HdrAck           = "ack"
	HdrTransaction   = "transaction"
	HdrMessage       = "message"
)

const (
	nul     = byte(0)
	newline = byte('\n')
	cr      = byte('\r')
	colon   = byte(':')
)

type commandRule struct {
	allowsBody bool
	required   []string
}

var commands = map[Command]commandRule{
	CmdConnect:     {required: []string{HdrAcceptVersion, HdrHost}},
	CmdStomp:       {required: []string{HdrAcceptVersion, HdrHost}},
	CmdSend:        {allowsBody: true, required: []string{HdrDestination}},
	CmdSubscribe:   {required: []string{HdrDestination, HdrID}},
	CmdUnsubscribe: {required: []string{HdrID}},
	CmdAck:         {required: []string{HdrID}},
	CmdNack:        {required: []string{HdrID}},
	CmdBegin:       {required: []string{HdrTransaction}},
	CmdCommit:      {required: []string{HdrTransaction}},
	CmdAbort:       {required: []string{HdrTransaction}},
	CmdDisconnect:  {},
	CmdConnected:   {},
	CmdMessage:     {allowsBody: true, required: []string{HdrDestination, HdrMessageID, HdrSubscription}},
	CmdReceipt:     {required: []string{HdrReceiptID}},
	CmdError:       {allowsBody: true},
}

// Known reports whether c is a STOMP 1.0-1.2 command.
func (c Command) Known() bool {
	_, ok := commands[c]
	return ok
}

// AllowsBody reports whether frames of this command may carry a body.
func (c Command) AllowsBody() bool {
	return commands[c].allowsBody
}

// escapes reports whether header values of this command use 1.2 escaping.
// CONNECT and CONNECTED are exempt for 1.0 compatibility.
func (c Command) escapes() bool {
	return c != CmdConnect && c != CmdConnected
}

// Frame is one complete STOMP wire message.
type Frame struct {
	Command Command
	Headers Headers
	Body    []byte
}

// New builds a frame from alternating header key/value strings.
// A trailing key without a value is ignored.
func New(cmd Command, kv ...string) Frame {
	f := Frame{Command: cmd}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers.Add(kv[i], kv[i+1])
	}
	return f
}

// Validate checks the command, required headers, body placement, and
// content-length agreement. Headers of CONNECT and CONNECTED are written
// unescaped, so line breaks in them (and colons in their keys) are rejected.
func (f Frame) Validate() error {
	rule, ok := commands[f.Command]
	if !ok {
		return protocolErrorf(KindUnknownCommand, f.Command, "unknown command %q", string(f.Command))
	}
	for _, key := range rule.required {
		if _, ok := f.Headers.Lookup(key); !ok {
			return protocolErrorf(KindMissingHeader, f.Command, "missing header %q", key)
		}
	}
	if !f.Command.escapes() {
		for _, kv := range f.Headers {
			if strings.ContainsAny(kv.Key, "\r\n:") || strings.ContainsAny(kv.Value, "\r\n") {
				return protocolErrorf(KindMalformedFrame, f.Command, "header %q cannot be sent unescaped", kv.Key)
			}
		}
	}
	if len(f.Body) > 0 && !rule.allowsBody {
		return protocolErrorf(KindMalformedFrame, f.Command, "body not allowed")
	}
	if raw, ok := f.Headers.Lookup(HdrContentLength); ok {
		n, err := parseContentLength(raw)
		if err != nil {
			return protocolErrorf(KindMalformedFrame, f.Command, "%v", err)
		}
		if n != len(f.Body) {
			return protocolErrorf(KindLengthMismatch, f.Command, "content-length=%d body=%d", n, len(f.Body))
		}
	} else if bytes.IndexByte(f.Body, nul) >= 0 {
		return protocolErrorf(KindMalformedFrame, f.Command, "body contains NUL without content-length")
	}
	return nil
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	out := Frame{Command: f.Command, Headers: f.Headers.Clone()}
	if f.Body != nil {
		out.Body = append([]byte(nil), f.Body...)
	}
	return out
}

// parseContentLength accepts base-10 digits only; no sign, no spaces.
func parseContentLength(raw string) (int, error) {
	if raw == "" || strings.TrimLeft(raw, "0123456789") != "" {
		return 0, &strconv.NumError{Func: "content-length", Num: raw, Err: strconv.ErrSyntax}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &strconv.NumError{Func: "content-length", Num: raw, Err: strconv.ErrRange}
	}
	return n, nil
}
