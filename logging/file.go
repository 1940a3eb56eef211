// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package logging builds the logger factory and log sinks shared by the
// camstream components.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pion/logging"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrUnknownLevel is returned for an unrecognised log level name.
var ErrUnknownLevel = errors.New("unknown log level")

// Rotation limits for log files.
const (
	maxLogSizeMB  = 100
	maxLogBackups = 3
)

// GetLogFile opens a log sink. "" discards, "stdout" and "stderr" map to the
// process streams and anything else is a size rotated file.
func GetLogFile(file string) (io.WriteCloser, error) {
	switch file {
	case "":
		return nopCloser{io.Discard}, nil
	case "stdout":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	}

	// lumberjack opens lazily, so probe the path now to fail early.
	fd, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304
	if err != nil {
		return nil, err
	}
	if err = fd.Close(); err != nil {
		return nil, err
	}

	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
	}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// ParseLevel resolves a level name such as "debug" or "warn".
func ParseLevel(name string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info", "":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("%w: %q", ErrUnknownLevel, name)
	}
}

// NewLoggerFactory returns a factory writing every scope to writer at level.
func NewLoggerFactory(level string, writer io.Writer) (*logging.DefaultLoggerFactory, error) {
	logLevel, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = logLevel
	factory.Writer = writer

	return factory, nil
}
