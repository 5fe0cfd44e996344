// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInit_JSONWithTurn(t *testing.T) {
	var buf bytes.Buffer
	logger := Init("debug", false, &buf)

	WithTurn(logger, "turn-1").Debug().Str("state", "streaming").Msg("transition")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "turn-1", entry["turn_id"])
	assert.Equal(t, "streaming", entry["state"])
	assert.Equal(t, "debug", entry["level"])
}

func TestInit_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init("warn", false, &buf)

	Logger().Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	Component("engine").Warn().Msg("shown")
	assert.Contains(t, buf.String(), `"component":"engine"`)
}

func TestWithTurn_GeneratesID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	WithTurn(logger, "").Info().Msg("x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	id, _ := entry["turn_id"].(string)
	assert.Len(t, id, 36)
}
