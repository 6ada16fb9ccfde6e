package observability

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initialized  bool
)

// InitLogger initializes the global structured logger
func InitLogger(level string, pretty bool) {
	if initialized {
		return
	}

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || logLevel == zerolog.NoLevel {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		// Console output for local development
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		globalLogger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		// JSON output for production
		globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	log.Logger = globalLogger
	initialized = true
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	if !initialized {
		InitLogger("info", false)
	}
	return globalLogger
}

// WithSession creates a logger tagged with a dictation session ID
func WithSession(sessionID string) zerolog.Logger {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return GetLogger().With().Str("session_id", sessionID).Logger()
}

// NewSessionID generates a new session identifier
func NewSessionID() string {
	return uuid.New().String()
}
