package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/store"
)

// Unsynced returns records not yet pushed, tombstones included, in local
// insertion order.
func (c *Collection[T, P]) Unsynced(ctx context.Context, scope domain.ScopeFilter) ([]store.RawRecord, error) {
	query := "SELECT id, updated_at, data FROM " + c.table + " WHERE synced = 0"
	clause, args := scopeClause(scope)
	if clause != "" {
		query += " AND " + clause
	}
	query += " ORDER BY seq"

	rows, err := c.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(err, "list unsynced "+c.kind.String())
	}
	defer rows.Close()

	var out []store.RawRecord
	for rows.Next() {
		var (
			rec       store.RawRecord
			updatedAt string
			data      []byte
		)
		if err := rows.Scan(&rec.ID, &updatedAt, &data); err != nil {
			return nil, storageError(err, "scan unsynced "+c.kind.String())
		}
		if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, storageError(err, "parse updated_at")
		}
		rec.Data = json.RawMessage(data)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "list unsynced "+c.kind.String())
	}
	return out, nil
}

// MarkSynced flags the record as pushed if it is still at version
// updatedAt. A record edited after it was read for pushing stays unsynced.
func (c *Collection[T, P]) MarkSynced(ctx context.Context, id string, updatedAt time.Time) (bool, error) {
	c.s.writeMu.Lock()
	res, err := c.s.db.ExecContext(ctx,
		"UPDATE "+c.table+" SET synced = 1 WHERE id = ? AND updated_at = ? AND synced = 0",
		id, formatTime(updatedAt))
	c.s.writeMu.Unlock()
	if err != nil {
		return false, storageError(err, "mark "+c.kind.String()+" synced")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageError(err, "mark "+c.kind.String()+" synced")
	}
	if n == 0 {
		return false, nil
	}

	after, err := c.Find(ctx, id)
	if err != nil {
		// The flag is committed; only the notification is lost.
		c.s.logger.Warn("reload after mark synced failed",
			"collection", c.kind,
			"id", id,
			"error", err,
		)
		return true, nil
	}
	before := *after
	P(&before).Envelope().Synced = false
	c.s.publish(ctx, store.Change{Collection: c.kind, Before: P(&before), After: P(after)})
	return true, nil
}

// ApplyRemote merges a pulled or realtime record. The remote version
// replaces the local one only when its updated_at is strictly later; ties
// and older versions leave the local record untouched and report a conflict.
func (c *Collection[T, P]) ApplyRemote(ctx context.Context, raw json.RawMessage) (store.Outcome, error) {
	rec, err := c.decodeRemote(raw)
	if err != nil {
		return 0, err
	}

	c.s.writeMu.Lock()
	outcome, before, err := c.applyLocked(ctx, rec)
	c.s.writeMu.Unlock()
	if err != nil {
		return 0, err
	}

	if outcome != store.OutcomeConflict {
		ch := store.Change{Collection: c.kind, After: P(rec)}
		if before != nil {
			ch.Before = P(before)
		}
		c.s.publish(ctx, ch)
	}
	return outcome, nil
}

func (c *Collection[T, P]) applyLocked(ctx context.Context, rec *T) (store.Outcome, *T, error) {
	env := P(rec).Envelope()

	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, storageError(err, "begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	data, synced, err := c.load(ctx, tx, env.ID)
	switch {
	case domainerrors.Is(err, domainerrors.ErrNotFound):
		if err := c.write(ctx, tx, rec, true); err != nil {
			return 0, nil, storageError(err, "insert remote "+c.kind.String())
		}
		if err := tx.Commit(); err != nil {
			return 0, nil, storageError(err, "commit remote insert")
		}
		return store.OutcomeInserted, nil, nil
	case err != nil:
		return 0, nil, err
	}

	before, err := c.decode(data, synced)
	if err != nil {
		return 0, nil, err
	}
	if !env.UpdatedAt.After(P(before).Envelope().UpdatedAt) {
		return store.OutcomeConflict, before, nil
	}

	if err := c.write(ctx, tx, rec, false); err != nil {
		return 0, nil, storageError(err, "update from remote "+c.kind.String())
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, storageError(err, "commit remote update")
	}
	return store.OutcomeUpdated, before, nil
}

// ApplyRemoteDelete stores the remote tombstone regardless of the local
// version. The tombstone keeps the later of the two updated_at values so a
// stale replay of the live record cannot resurrect it.
func (c *Collection[T, P]) ApplyRemoteDelete(ctx context.Context, raw json.RawMessage) error {
	rec, err := c.decodeRemote(raw)
	if err != nil {
		return err
	}
	env := P(rec).Envelope()
	if env.DeletedAt == nil {
		deleted := env.UpdatedAt
		env.DeletedAt = &deleted
	}

	c.s.writeMu.Lock()
	before, err := c.tombstoneLocked(ctx, rec)
	c.s.writeMu.Unlock()
	if err != nil {
		return err
	}

	ch := store.Change{Collection: c.kind, After: P(rec)}
	if before != nil {
		ch.Before = P(before)
	}
	c.s.publish(ctx, ch)
	return nil
}

func (c *Collection[T, P]) tombstoneLocked(ctx context.Context, rec *T) (*T, error) {
	env := P(rec).Envelope()

	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError(err, "begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var before *T
	data, synced, err := c.load(ctx, tx, env.ID)
	switch {
	case domainerrors.Is(err, domainerrors.ErrNotFound):
		err = c.write(ctx, tx, rec, true)
	case err != nil:
		return nil, err
	default:
		if before, err = c.decode(data, synced); err != nil {
			return nil, err
		}
		if local := P(before).Envelope().UpdatedAt; local.After(env.UpdatedAt) {
			env.UpdatedAt = local
		}
		err = c.write(ctx, tx, rec, false)
	}
	if err != nil {
		return nil, storageError(err, "store remote tombstone")
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError(err, "commit remote tombstone")
	}
	return before, nil
}

func (c *Collection[T, P]) decodeRemote(raw json.RawMessage) (*T, error) {
	rec := new(T)
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "malformed remote "+c.kind.String()+" record")
	}
	env := P(rec).Envelope()
	if env.ID == "" {
		return nil, domainerrors.Validationf("remote %s record has no id", c.kind)
	}
	if env.UpdatedAt.IsZero() {
		env.UpdatedAt = env.CreatedAt
	}
	env.CreatedAt = env.CreatedAt.UTC()
	env.UpdatedAt = env.UpdatedAt.UTC()
	env.Synced = true
	return rec, nil
}

// AppendSyncLog records a completed sync cycle.
func (s *Store) AppendSyncLog(ctx context.Context, entry store.SyncLogEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sync_log (user_id, last_sync_time, synced_count) VALUES (?, ?, ?)",
		entry.UserID, formatTime(entry.LastSyncTime), entry.SyncedCount)
	return storageError(err, "append sync log")
}

// LastSync returns the user's watermark: the latest recorded sync time.
// The boolean is false when the user has never completed a cycle.
func (s *Store) LastSync(ctx context.Context, userID string) (time.Time, bool, error) {
	var last string
	err := s.db.QueryRowContext(ctx,
		"SELECT last_sync_time FROM sync_log WHERE user_id = ? ORDER BY last_sync_time DESC, seq DESC LIMIT 1",
		userID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, storageError(err, "read sync log")
	}
	t, err := parseTime(last)
	if err != nil {
		return time.Time{}, false, storageError(err, "parse sync log time")
	}
	return t, true, nil
}

// SyncHistory returns the user's most recent sync log entries, newest first.
func (s *Store) SyncHistory(ctx context.Context, userID string, limit int) ([]store.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, user_id, last_sync_time, synced_count FROM sync_log WHERE user_id = ? ORDER BY seq DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, storageError(err, "read sync log")
	}
	defer rows.Close()
	return scanSyncLog(rows)
}

func scanSyncLog(rows *sql.Rows) ([]store.SyncLogEntry, error) {
	var out []store.SyncLogEntry
	for rows.Next() {
		var (
			e    store.SyncLogEntry
			last string
		)
		if err := rows.Scan(&e.Seq, &e.UserID, &last, &e.SyncedCount); err != nil {
			return nil, storageError(err, "scan sync log")
		}
		t, err := parseTime(last)
		if err != nil {
			return nil, storageError(err, "parse sync log time")
		}
		e.LastSyncTime = t
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "read sync log")
	}
	return out, nil
}
