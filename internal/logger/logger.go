// Package logger initializes the zerolog logger shared by all Engram
// components. Structured JSON goes to a file or stdout; the console writer is
// available for interactive runs.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Init initializes a stdout JSON logger. Log level comes from the
// ENGRAM_LOG_LEVEL environment variable (debug, info, warn, error).
func Init() zerolog.Logger {
	l, _ := InitWithOptions("", false)
	return l
}

// InitWithOptions initializes the logger with explicit options. When logFile
// is non-empty, JSON logs append to that file. When pretty is true (and no
// file is given), a human-readable console writer is used instead.
func InitWithOptions(logFile string, pretty bool) (zerolog.Logger, error) {
	level := parseLogLevel(os.Getenv("ENGRAM_LOG_LEVEL"))

	switch {
	case logFile != "":
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		return zerolog.New(file).Level(level).With().Timestamp().Logger(), nil
	case pretty:
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger(), nil
	default:
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger(), nil
	}
}

// parseLogLevel maps a level string to a zerolog level, defaulting to info.
func parseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
