package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &payload))
	return payload
}

func TestLogger_IncludesServiceAndTimestamp(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "vratlas")
	log.Info().Msg("hello")

	payload := lastLine(t, &buf)
	assert.Equal(t, "vratlas", payload["service"])
	assert.Equal(t, "info", payload["level"])
	assert.Contains(t, payload, "time")
}

func TestCritical_AttachesSeverityAndStack(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "vratlas")
	Critical(&log).Err(errors.New("boom")).Msg("handler failed")

	payload := lastLine(t, &buf)
	assert.Equal(t, "error", payload["level"])
	assert.Equal(t, "critical", payload["severity"])
	assert.Contains(t, payload, "stack")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}
