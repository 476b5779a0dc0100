package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the base logger. Unknown levels fall back to info.
func Init(level string) zerolog.Logger {
	return InitWithWriter(level, os.Stdout)
}

// InitWithWriter configures the base logger to write to out.
func InitWithWriter(level string, out io.Writer) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	output := out
	if os.Getenv("ENV") == "development" {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(output).
		With().
		Timestamp().
		Logger()

	Logger.Info().Str("level", logLevel.String()).Msg("logger initialized")
	return Logger
}

// WithComponent returns a logger tagged with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
