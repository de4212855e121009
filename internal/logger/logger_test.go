package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FormatAutoDetection(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantJSON    bool
	}{
		{name: "production uses json", environment: "production", wantJSON: true},
		{name: "development uses pretty", environment: "development", wantJSON: false},
		{name: "staging uses pretty", environment: "staging", wantJSON: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(Config{Environment: tt.environment, Writer: &buf, Level: "info"})
			log.Info("cycle finished", "synced", 3)

			out := buf.String()
			if tt.wantJSON {
				assert.Contains(t, out, `"msg":"cycle finished"`)
				assert.Contains(t, out, `"synced":3`)
			} else {
				assert.Contains(t, out, "INF")
				assert.Contains(t, out, "synced=3")
			}
		})
	}
}

func TestSetLevel_AppliesAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Writer: &buf, Level: "warn"})

	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.SetLevel("debug")
	log.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Equal(t, slog.LevelDebug, log.Level())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNew_FileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgersync.log")
	var buf bytes.Buffer

	log := New(Config{Format: "pretty", Writer: &buf, Level: "info", FilePath: path, MaxSizeMB: 1})
	log.Info("stored", "record_id", "e1")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "stored", entry["msg"])
	assert.Equal(t, "e1", entry["record_id"])
	assert.Contains(t, buf.String(), "record_id=e1")
}

func TestPrettyHandler_GroupsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(h).With("component", "engine").WithGroup("result")

	log.Debug("done", "synced", 2, slog.Group("pull", slog.Int("conflicts", 1)))

	out := buf.String()
	assert.Contains(t, out, "DBG")
	assert.Contains(t, out, "component=engine")
	assert.Contains(t, out, "result.synced=2")
	assert.Contains(t, out, "result.pull.conflicts=1")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Writer: &buf})
	log.Component("listener").Info("started")

	assert.Contains(t, buf.String(), `"component":"listener"`)
}
