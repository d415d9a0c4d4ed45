package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger from environment variables.
// CARD_LOG_LEVEL controls the log level: debug, info, warn, error (default: info).
// CARD_LOG_FORMAT selects console (default) or json output.
func Init() {
	InitWith(os.Getenv("CARD_LOG_LEVEL"), os.Getenv("CARD_LOG_FORMAT"))
}

// InitWith configures the global logger with an explicit level and format.
func InitWith(level, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
