// Package statscache stores computed stats snapshots on badger. Entries are
// local-only, expire after a TTL and are dropped explicitly when the
// underlying expenses change.
package statscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
)

const keyPrefix = "stats:"

// Cache is a TTL cache of stats snapshots keyed by user and period.
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// Open opens the cache at path. An empty path keeps the cache in memory.
func Open(path string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Disable Badger's internal logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open stats cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("stats cache opened", "path", path, "ttl", ttl)
	return &Cache{db: db, logger: logger, ttl: ttl, now: time.Now}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// TTL returns how long snapshots stay valid.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func snapshotKey(userID, period string) []byte {
	return []byte(keyPrefix + userID + ":" + period)
}

// Get returns the cached snapshot. The boolean is false on a miss or when
// the snapshot is older than the TTL.
func (c *Cache) Get(_ context.Context, userID, period string) (*domain.StatsSnapshot, bool, error) {
	var snap domain.StatsSnapshot
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(userID, period))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domainerrors.StorageFailure(err, "read stats cache")
	}

	// Badger expires in whole seconds; check the exact age as well.
	if c.ttl > 0 && c.now().Sub(snap.ComputedAt) >= c.ttl {
		return nil, false, nil
	}
	return &snap, true, nil
}

// Put stores a snapshot with the cache TTL.
func (c *Cache) Put(_ context.Context, snap *domain.StatsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode stats snapshot: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(snapshotKey(snap.UserID, snap.Period), data)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return domainerrors.StorageFailure(err, "write stats cache")
	}
	return nil
}

// Invalidate drops the user's snapshots for the given periods.
func (c *Cache) Invalidate(_ context.Context, userID string, periods ...string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		for _, p := range periods {
			if err := txn.Delete(snapshotKey(userID, p)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domainerrors.StorageFailure(err, "invalidate stats cache")
	}
	c.logger.Debug("stats invalidated", "user_id", userID, "periods", periods)
	return nil
}

// Purge drops every snapshot.
func (c *Cache) Purge(_ context.Context) error {
	if err := c.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return domainerrors.StorageFailure(err, "purge stats cache")
	}
	return nil
}
