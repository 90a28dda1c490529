package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the global logger with the app and bridge id. Output and
// level stay whatever logging.Configure installed.
func InitLogger(app, bridgeID string) zerolog.Logger {
	logger := log.Logger.With().Str("app", app).Str("bridge", bridgeID).Logger()
	log.Logger = logger
	return logger
}
