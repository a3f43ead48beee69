package client

import (
	"github.com/danmuck/stompctl/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogListener logs every MESSAGE and ERROR it receives. The zero value logs
// through the global zerolog logger.
type LogListener struct {
	Logger *zerolog.Logger
}

func NewLogListener(logger zerolog.Logger) *LogListener {
	return &LogListener{Logger: &logger}
}

func (l *LogListener) logger() *zerolog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return &log.Logger
}

func (l *LogListener) OnMessage(headers frame.Headers, body []byte) error {
	l.logger().Info().
		Str("destination", headers.Get(frame.HdrDestination)).
		Str("message_id", headers.Get(frame.HdrMessageID)).
		Str("subscription", headers.Get(frame.HdrSubscription)).
		Msgf("received a message %q", body)
	return nil
}

func (l *LogListener) OnError(headers frame.Headers, message string) error {
	l.logger().Error().
		Str("receipt_id", headers.Get(frame.HdrReceiptID)).
		Msgf("received an error %q", message)
	return nil
}
