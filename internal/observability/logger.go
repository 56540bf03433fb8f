package observability

import (
	"github.com/danmuck/onethread/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime logging profile and tags the global
// logger with the application name.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
