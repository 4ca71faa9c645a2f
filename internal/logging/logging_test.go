package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter("production", "debug", &buf)

	logger.Debug().Str("room_id", "!a").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "!a", line["room_id"])
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter("production", "warn", &buf)

	logger.Info().Msg("dropped")

	assert.Zero(t, buf.Len())
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter("production", "loud", &buf)

	logger.Debug().Msg("dropped")
	logger.Info().Msg("kept")

	assert.Contains(t, buf.String(), "kept")
	assert.NotContains(t, buf.String(), "dropped")
}

func TestNew_DevelopmentConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter("development", "info", &buf)

	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}
