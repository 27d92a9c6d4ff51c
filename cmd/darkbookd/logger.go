// logger.go - Structured logging setup for the exchange daemon
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the daemon's root logger: human-readable console output
// plus, when a log file is configured, JSON lines appended to it. The caller
// closes the returned file on shutdown; it is nil when file logging is off.
func NewLogger(level, logFile string) (zerolog.Logger, *os.File, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
	writers := []io.Writer{console}

	var file *os.File
	if logFile != "" {
		file, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return log, file, nil
}
