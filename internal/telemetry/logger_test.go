package telemetry

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		" warn ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestSlogLogger_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := With(NewSlogLogger(LevelDebug, "json", &buf), "component", "dht")
	l.Info("peer added", "peer", "abc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "peer added", rec["msg"])
	assert.Equal(t, "dht", rec["component"])
	assert.Equal(t, "abc", rec["peer"])
}

func TestSlogLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(LevelWarn, "text", &buf)
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWith_WrapsForeignLogger(t *testing.T) {
	rec := &Recorder{}
	l := With(rec, "component", "rpc")
	l.Warn("unknown procedure", "name", "f")

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, []any{"component", "rpc", "name", "f"}, entries[0].Args)
	assert.Equal(t, 1, rec.Count(LevelWarn, "unknown procedure"))
	assert.Equal(t, "WARN unknown procedure component=rpc name=f", entries[0].String())
}
