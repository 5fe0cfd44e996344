// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the structured logger shared by the engine,
// the server and the CLI.
//
// Logs are JSON by default. Pretty mode switches to zerolog's console writer
// for interactive use. Each turn gets a correlation ID so the lines of a
// multi-round turn can be grouped.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu          sync.RWMutex
	global      zerolog.Logger
	initialized bool
)

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Init configures the process logger. out defaults to stderr.
// Calling Init again replaces the previous configuration.
func Init(level string, pretty bool, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()

	mu.Lock()
	global = logger
	initialized = true
	log.Logger = logger
	mu.Unlock()

	return logger
}

// Logger returns the process logger, initializing it with defaults
// (info level, JSON to stderr) if Init has not been called.
func Logger() zerolog.Logger {
	mu.RLock()
	if initialized {
		l := global
		mu.RUnlock()
		return l
	}
	mu.RUnlock()
	return Init("info", false, nil)
}

// Component returns the process logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// NewTurnID generates a correlation ID for one conversational turn.
func NewTurnID() string {
	return uuid.NewString()
}

// WithTurn returns a child of base carrying the turn correlation ID.
// An empty turnID generates a fresh one.
func WithTurn(base zerolog.Logger, turnID string) zerolog.Logger {
	if turnID == "" {
		turnID = NewTurnID()
	}
	return base.With().Str("turn_id", turnID).Logger()
}
