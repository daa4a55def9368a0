package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestComponentLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf, Service: "warden"})

	logger := WithComponent("heartbeat")
	logger.Info().Str("node_id", "n-1").Msg("heartbeat accepted")
	logger.Debug().Msg("filtered out")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "heartbeat", entry["component"])
	assert.Equal(t, "warden", entry["service"])
	assert.Equal(t, "n-1", entry["node_id"])
	assert.Equal(t, "heartbeat accepted", entry["message"])
	assert.Equal(t, "info", entry["level"])
}
