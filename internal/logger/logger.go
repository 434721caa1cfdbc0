package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Packages derive component loggers
// from it via WithComponent.
var Logger zerolog.Logger

func init() {
	// A usable default so library consumers and tests get output without
	// calling Init.
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Init configures the global logger. Level is a zerolog level name; an
// unparseable level falls back to info. Set ENV=development for pretty
// console output.
func Init(level string) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var output io.Writer = os.Stdout
	if os.Getenv("ENV") == "development" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(output).
		With().
		Timestamp().
		Logger()

	Logger.Info().
		Str("level", logLevel.String()).
		Msg("logger initialized")
}

// WithComponent returns a logger tagged with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRule returns a logger tagged with rule identity fields.
func WithRule(ruleID, ruleName string) zerolog.Logger {
	return Logger.With().Str("rule_id", ruleID).Str("rule_name", ruleName).Logger()
}
