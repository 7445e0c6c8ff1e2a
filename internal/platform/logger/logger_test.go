package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"":      zapcore.InfoLevel,
		"loud":  zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewFormats(t *testing.T) {
	for _, format := range []string{"", "json", "console"} {
		l, err := New("debug", format, "startpop")
		require.NoError(t, err, format)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	}
	_, err := New("info", "xml", "")
	require.Error(t, err)
}

func TestNewWriterFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info", "startpop")
	l.Debug("hidden")
	l.Info("built", zap.String("country", "UK"))
	require.NoError(t, l.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "built", entry["msg"])
	assert.Equal(t, "UK", entry["country"])
	assert.Equal(t, "startpop", entry["service_name"])
	assert.Contains(t, entry, "timestamp")
}
