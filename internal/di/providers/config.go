// Package providers contains dependency injection providers for ledgersync.
package providers

import (
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/viper"

	"github.com/pocketledger/ledgersync/internal/config"
	"github.com/pocketledger/ledgersync/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// ProvideConfig builds the configuration from the viper instance registered
// by the command.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	v := do.MustInvoke[*viper.Viper](i)
	return config.Load(v)
}

// LoggerHandle wraps the logger so its log file is closed on shutdown.
type LoggerHandle struct {
	*logger.Logger
}

// Shutdown implements do.ShutdownerWithError.
func (h *LoggerHandle) Shutdown() error {
	return h.Close()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*LoggerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Format:      cfg.Logger.Format,
		Environment: cfg.App.Environment,
		Level:       cfg.Logger.Level,
		AddSource:   cfg.App.Environment == "development",
		FilePath:    cfg.Logger.FilePath,
		MaxSizeMB:   cfg.Logger.MaxSizeMB,
		MaxBackups:  cfg.Logger.MaxBackups,
		MaxAgeDays:  cfg.Logger.MaxAgeDays,
	})

	log.Debug("logger ready",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"config_file", cfg.App.ConfigFile,
		"data_dir", cfg.App.DataDir,
	)
	return &LoggerHandle{Logger: log}, nil
}
