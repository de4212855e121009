package providers

import (
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/pocketledger/ledgersync/internal/config"
	"github.com/pocketledger/ledgersync/internal/statscache"
	"github.com/pocketledger/ledgersync/internal/store/sqlite"
)

// StoreHandle wraps the local store with shutdown capability.
type StoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.ShutdownerWithError.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the local SQLite store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	if cfg.Store.Path != sqlite.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, err
		}
	}
	st, err := sqlite.Open(cfg.Store.Path, log.Component("store"))
	if err != nil {
		return nil, err
	}

	log.Info("local store opened", "path", cfg.Store.Path)
	return &StoreHandle{Store: st}, nil
}

// StatsCacheHandle wraps the stats cache with shutdown capability.
type StatsCacheHandle struct {
	*statscache.Cache
}

// Shutdown implements do.ShutdownerWithError.
func (h *StatsCacheHandle) Shutdown() error {
	return h.Close()
}

// ProvideStatsCache opens the badger stats cache.
func ProvideStatsCache(i do.Injector) (*StatsCacheHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	if cfg.Stats.Path != "" {
		if err := os.MkdirAll(cfg.Stats.Path, 0o755); err != nil {
			return nil, err
		}
	}
	cache, err := statscache.Open(cfg.Stats.Path, cfg.Stats.TTL, log.Component("statscache"))
	if err != nil {
		return nil, err
	}
	return &StatsCacheHandle{Cache: cache}, nil
}
