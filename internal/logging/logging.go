// Package logging configures the process-wide zerolog logger. Components
// obtain a tagged logger via WithComponent so log lines stay attributable.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. Call once from the runner before any
// component starts. Debug enables debug-level output and human-readable
// console formatting; otherwise logs are JSON at info level.
func Init(debug bool) {
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var logger zerolog.Logger

	if debug {
		console := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02 15:04:05",
		}
		logger = zerolog.New(console)
	} else {
		logger = zerolog.New(os.Stderr)
	}

	log.Logger = logger.Level(level).With().Timestamp().Logger()
}

// WithComponent returns a logger tagged with the component name
func WithComponent(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
