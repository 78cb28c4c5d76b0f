package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Global logger instance
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Initialize sets up the global logger. format "json" writes raw JSON lines,
// anything else a human readable console. extra writers (e.g. a log file) receive JSON.
func Initialize(logLevel, format string, extra ...io.Writer) {
	// Set time format to be more human-readable
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    false,
	}
	if format == "json" {
		output = os.Stdout
	}
	if len(extra) > 0 {
		output = zerolog.MultiLevelWriter(append([]io.Writer{output}, extra...)...)
	}

	// Setup logger
	Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()

	// Set log level
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Replace standard log with zerolog
	log.Logger = Logger
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &Logger
}

// GetForComponent returns a logger with a component field for better filtering.
// Call it after Initialize; loggers taken earlier keep the default output.
func GetForComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// FileWriter returns a writer to a log file for optional use alongside console logging
func FileWriter(path string) (io.Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	return file, nil
}
