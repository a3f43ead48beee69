// Package testlog routes zerolog output through the test configuration and
// brackets each test with start and finish lines.
package testlog

import (
	"testing"

	"github.com/danmuck/stompctl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start returns a logger tagged with the test name.
func Start(t testing.TB) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	logger := log.With().Str("test", t.Name()).Logger()
	logger.Debug().Msg("start")
	t.Cleanup(func() {
		if t.Failed() {
			logger.Warn().Msg("failed")
			return
		}
		logger.Debug().Msg("done")
	})
	return logger
}
