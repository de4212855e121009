package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Environment: "development", DataDir: "/data"},
		Logger: LoggerConfig{Level: "info"},
		Store:  StoreConfig{Path: "/data/ledger.db"},
		Stats:  StatsConfig{Path: "/data/stats", TTL: time.Minute},
		Remote: RemoteConfig{BaseURL: "http://localhost:8787", Timeout: time.Second, RateLimit: 5, Burst: 5},
		Sync:   SyncConfig{DebounceInterval: time.Second, ProbeInterval: time.Second},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad environment", func(c *Config) { c.App.Environment = "test" }},
		{"uppercase environment", func(c *Config) { c.App.Environment = "DEVELOPMENT" }},
		{"bad level", func(c *Config) { c.Logger.Level = "verbose" }},
		{"bad format", func(c *Config) { c.Logger.Format = "xml" }},
		{"empty store path", func(c *Config) { c.Store.Path = "" }},
		{"zero ttl", func(c *Config) { c.Stats.TTL = 0 }},
		{"relative remote url", func(c *Config) { c.Remote.BaseURL = "localhost" }},
		{"zero timeout", func(c *Config) { c.Remote.Timeout = 0 }},
		{"zero burst", func(c *Config) { c.Remote.Burst = 0 }},
		{"zero debounce", func(c *Config) { c.Sync.DebounceInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("data_dir: "+dir+"\n"), 0o600))

	cfg, err := Load(NewViper(file))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, filepath.Join(dir, "ledger.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(dir, "stats"), cfg.Stats.Path)
	assert.Equal(t, 15*time.Minute, cfg.Stats.TTL)
	assert.Equal(t, 2*time.Second, cfg.Sync.DebounceInterval)
	assert.True(t, cfg.Realtime.Enabled)
	assert.Equal(t, "ws://localhost:8787/api/v1/realtime", cfg.Realtime.URL)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
data_dir: `+dir+`
log:
  level: warn
  format: json
remote:
  base_url: https://ledger.example.com/
sync:
  user_id: from-file
  debounce: 5s
`), 0o600))

	t.Setenv("LEDGERSYNC_SYNC_USER_ID", "from-env")
	t.Setenv("LEDGERSYNC_LOG_LEVEL", "error")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	require.NoError(t, cmd.Flags().Set("log-level", "debug"))

	v := NewViper(file)
	require.NoError(t, v.BindPFlag(FlagKeys["log-level"], cmd.Flags().Lookup("log-level")))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level, "flag beats env and file")
	assert.Equal(t, "from-env", cfg.Sync.UserID, "env beats file")
	assert.Equal(t, "json", cfg.Logger.Format, "file beats default")
	assert.Equal(t, 5*time.Second, cfg.Sync.DebounceInterval)
	assert.Equal(t, "https://ledger.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "wss://ledger.example.com/api/v1/realtime", cfg.Realtime.URL)
	assert.Equal(t, file, cfg.App.ConfigFile)
}

func TestLoad_InvalidFileFails(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("log: [unterminated"), 0o600))

	_, err := Load(NewViper(file))
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/ledger/db", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "ledger", "db"), got)

	got, err = expandPath("", "/default")
	require.NoError(t, err)
	assert.Equal(t, "/default", got)

	got, err = expandPath(":memory:", "")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", got)
}

func TestRealtimeURLFor(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:9000/api/v1/realtime", RealtimeURLFor("http://127.0.0.1:9000"))
	assert.Equal(t, "wss://x.io/base/api/v1/realtime", RealtimeURLFor("https://x.io/base/"))
	assert.Empty(t, RealtimeURLFor(""))
}
