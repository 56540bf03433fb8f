package testlog

import (
	"testing"

	"github.com/danmuck/onethread/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures the test logging profile and marks the start of t in the
// log stream.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("test start")
}
