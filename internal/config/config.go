// Package config loads ledgersync configuration from command-line flags,
// LEDGERSYNC_* environment variables, an optional config file and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable (LEDGERSYNC_LOG_LEVEL).
const EnvPrefix = "LEDGERSYNC"

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Store     StoreConfig
	Stats     StatsConfig
	Remote    RemoteConfig
	Realtime  RealtimeConfig
	Sync      SyncConfig
	DevServer DevServerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
	DataDir     string
	ConfigFile  string // file actually read, empty if none
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level      string
	Format     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// StoreConfig locates the local SQLite database.
type StoreConfig struct {
	Path string
}

// StatsConfig configures the local statistics cache.
type StatsConfig struct {
	Path string
	TTL  time.Duration
}

// RemoteConfig configures the remote store adapter.
type RemoteConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second per collection
	Burst     int
}

// RealtimeConfig configures the realtime change feed.
type RealtimeConfig struct {
	Enabled        bool
	URL            string
	ReconnectDelay time.Duration
}

// SyncConfig configures the sync trigger policy.
type SyncConfig struct {
	UserID           string
	AutoSync         bool
	DebounceInterval time.Duration
	ProbeInterval    time.Duration
}

// DevServerConfig configures the development remote.
type DevServerConfig struct {
	Addr string
}

// FlagKeys maps command-line flag names to configuration keys. Commands
// register the flags they expose and bind them with viper.BindPFlag.
var FlagKeys = map[string]string{
	"env":            "env",
	"data-dir":       "data_dir",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"log-file":       "log.file",
	"db":             "store.path",
	"remote-url":     "remote.base_url",
	"remote-token":   "remote.token",
	"realtime-url":   "realtime.url",
	"no-realtime":    "realtime.disabled",
	"user":           "sync.user_id",
	"debounce":       "sync.debounce",
	"probe-interval": "sync.probe_interval",
	"addr":           "devserver.addr",
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("data_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("store.path", "")
	v.SetDefault("stats.path", "")
	v.SetDefault("stats.ttl", "15m")

	v.SetDefault("remote.base_url", "http://localhost:8787")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", "10s")
	v.SetDefault("remote.rate_limit", 20.0)
	v.SetDefault("remote.burst", 40)

	v.SetDefault("realtime.disabled", false)
	v.SetDefault("realtime.url", "")
	v.SetDefault("realtime.reconnect_delay", "5s")

	v.SetDefault("sync.user_id", "")
	v.SetDefault("sync.auto", true)
	v.SetDefault("sync.debounce", "2s")
	v.SetDefault("sync.probe_interval", "30s")

	v.SetDefault("devserver.addr", ":8787")
}

// NewViper returns a viper instance with defaults and environment binding
// configured. configFile may be empty to search the default locations.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "ledgersync"))
		}
		v.AddConfigPath(".")
	}
	return v
}

// Load reads the config file (if any) and builds a validated Config.
// Precedence: flags bound on v > environment > config file > defaults.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Environment: v.GetString("env"),
			DataDir:     v.GetString("data_dir"),
			ConfigFile:  v.ConfigFileUsed(),
		},
		Logger: LoggerConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			FilePath:   v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		Store: StoreConfig{
			Path: v.GetString("store.path"),
		},
		Stats: StatsConfig{
			Path: v.GetString("stats.path"),
			TTL:  v.GetDuration("stats.ttl"),
		},
		Remote: RemoteConfig{
			BaseURL:   strings.TrimRight(v.GetString("remote.base_url"), "/"),
			Token:     v.GetString("remote.token"),
			Timeout:   v.GetDuration("remote.timeout"),
			RateLimit: v.GetFloat64("remote.rate_limit"),
			Burst:     v.GetInt("remote.burst"),
		},
		Realtime: RealtimeConfig{
			Enabled:        !v.GetBool("realtime.disabled"),
			URL:            v.GetString("realtime.url"),
			ReconnectDelay: v.GetDuration("realtime.reconnect_delay"),
		},
		Sync: SyncConfig{
			UserID:           v.GetString("sync.user_id"),
			AutoSync:         v.GetBool("sync.auto"),
			DebounceInterval: v.GetDuration("sync.debounce"),
			ProbeInterval:    v.GetDuration("sync.probe_interval"),
		},
		DevServer: DevServerConfig{
			Addr: v.GetString("devserver.addr"),
		},
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if cfg.Realtime.URL == "" {
		cfg.Realtime.URL = RealtimeURLFor(cfg.Remote.BaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{"development": true, "staging": true, "production": true}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %q (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %q (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Logger.Format != "" && c.Logger.Format != "json" && c.Logger.Format != "pretty" {
		return fmt.Errorf("invalid log format: %q (must be json or pretty)", c.Logger.Format)
	}

	if c.Store.Path == "" {
		return errors.New("store path cannot be empty after expansion")
	}
	if c.Stats.TTL <= 0 {
		return errors.New("stats ttl must be positive")
	}

	if c.Remote.BaseURL != "" {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid remote url: %q", c.Remote.BaseURL)
		}
	}
	if c.Remote.Timeout <= 0 {
		return errors.New("remote timeout must be positive")
	}
	if c.Remote.RateLimit <= 0 || c.Remote.Burst <= 0 {
		return errors.New("remote rate limit and burst must be positive")
	}

	if c.Sync.DebounceInterval <= 0 || c.Sync.ProbeInterval <= 0 {
		return errors.New("sync debounce and probe intervals must be positive")
	}
	return nil
}

// RealtimeURLFor derives the websocket feed URL served next to a remote base URL.
func RealtimeURLFor(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/realtime"
	return u.String()
}

func (c *Config) expandPaths() error {
	dataDir := c.App.DataDir
	if dataDir == "" {
		base, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(base, ".local", "share", "ledgersync")
	}

	var err error
	if c.App.DataDir, err = expandPath(dataDir, ""); err != nil {
		return fmt.Errorf("invalid data dir: %w", err)
	}
	if c.Store.Path, err = expandPath(c.Store.Path, filepath.Join(c.App.DataDir, "ledger.db")); err != nil {
		return fmt.Errorf("invalid store path: %w", err)
	}
	if c.Stats.Path, err = expandPath(c.Stats.Path, filepath.Join(c.App.DataDir, "stats")); err != nil {
		return fmt.Errorf("invalid stats path: %w", err)
	}
	if c.Logger.FilePath != "" {
		if c.Logger.FilePath, err = expandPath(c.Logger.FilePath, ""); err != nil {
			return fmt.Errorf("invalid log file: %w", err)
		}
	}
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned unchanged.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}
	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}
