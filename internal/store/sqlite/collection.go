package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/store"
)

// entity constrains P to the pointer type of T implementing domain.Record.
type entity[T any] interface {
	*T
	domain.Record
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Collection is a typed handle on one collection table.
type Collection[T any, P entity[T]] struct {
	s     *Store
	kind  domain.Collection
	table string
}

func newCollection[T any, P entity[T]](s *Store, kind domain.Collection) *Collection[T, P] {
	return &Collection[T, P]{s: s, kind: kind, table: tableName(kind)}
}

// Kind returns the collection this handle reads and writes.
func (c *Collection[T, P]) Kind() domain.Collection {
	return c.kind
}

// Insert stores a new record. Missing timestamps are stamped with the
// current time and the record is marked unsynced. A record with the same id
// fails with a constraint violation.
func (c *Collection[T, P]) Insert(ctx context.Context, rec *T) error {
	p := P(rec)
	env := p.Envelope()
	if env.ID == "" {
		return domainerrors.Validation("record id is required")
	}
	if env.CreatedAt.IsZero() {
		env.InitTimestamps(c.s.now())
	} else if env.UpdatedAt.IsZero() {
		env.UpdatedAt = env.CreatedAt
	}
	env.Synced = false

	c.s.writeMu.Lock()
	err := c.write(ctx, c.s.db, rec, true)
	c.s.writeMu.Unlock()
	if err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ConstraintViolationf("%s record %s already exists", c.kind, env.ID)
		}
		return storageError(err, "insert "+c.kind.String()+" record")
	}

	c.s.publish(ctx, store.Change{Collection: c.kind, After: p})
	return nil
}

// Update applies mutate to the stored record, stamps updated_at and marks
// the record unsynced. Tombstones cannot be updated.
func (c *Collection[T, P]) Update(ctx context.Context, id string, mutate func(*T) error) (*T, error) {
	return c.modify(ctx, id, func(rec *T, _ time.Time) error {
		return mutate(rec)
	})
}

// SoftDelete turns the record into a tombstone that will be synced.
func (c *Collection[T, P]) SoftDelete(ctx context.Context, id string) error {
	_, err := c.modify(ctx, id, func(rec *T, now time.Time) error {
		P(rec).Envelope().DeletedAt = &now
		return nil
	})
	return err
}

// Edit is one step of a Batch. It updates the record like Update, or
// turns it into a tombstone like SoftDelete when Delete is set.
type Edit[T any] struct {
	ID     string
	Mutate func(*T) error
	Delete bool
}

// Batch applies edits in order within one transaction. If any edit fails
// nothing is written.
func (c *Collection[T, P]) Batch(ctx context.Context, edits []Edit[T]) ([]*T, error) {
	c.s.writeMu.Lock()
	changes, err := c.batchLocked(ctx, edits)
	c.s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(changes))
	for _, ch := range changes {
		c.s.publish(ctx, ch)
		out = append(out, any(ch.After).(*T))
	}
	return out, nil
}

func (c *Collection[T, P]) batchLocked(ctx context.Context, edits []Edit[T]) ([]store.Change, error) {
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError(err, "begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	changes := make([]store.Change, 0, len(edits))
	for _, ed := range edits {
		before, after, err := c.modifyTx(ctx, tx, ed.ID, func(rec *T, now time.Time) error {
			if ed.Mutate != nil {
				if err := ed.Mutate(rec); err != nil {
					return err
				}
			}
			if ed.Delete {
				P(rec).Envelope().DeletedAt = &now
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		changes = append(changes, store.Change{Collection: c.kind, Before: P(before), After: P(after)})
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError(err, "commit batch")
	}
	return changes, nil
}

// Get returns a live record by id.
func (c *Collection[T, P]) Get(ctx context.Context, id string) (*T, error) {
	rec, err := c.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if P(rec).Envelope().IsDeleted() {
		return nil, domainerrors.NotFoundf("%s record %s not found", c.kind, id)
	}
	return rec, nil
}

// Find returns a record by id, including tombstones.
func (c *Collection[T, P]) Find(ctx context.Context, id string) (*T, error) {
	data, synced, err := c.load(ctx, c.s.db, id)
	if err != nil {
		return nil, err
	}
	return c.decode(data, synced)
}

// Query returns the records matching q.
func (c *Collection[T, P]) Query(ctx context.Context, q store.Query[T]) ([]*T, error) {
	var b strings.Builder
	var args []any

	b.WriteString("SELECT synced, data FROM ")
	b.WriteString(c.table)
	b.WriteString(" WHERE 1=1")

	switch q.Tombstones {
	case store.ExcludeDeleted:
		b.WriteString(" AND deleted_at IS NULL")
	case store.OnlyDeleted:
		b.WriteString(" AND deleted_at IS NOT NULL")
	}
	if q.UnsyncedOnly {
		b.WriteString(" AND synced = 0")
	}
	if !q.UpdatedAfter.IsZero() {
		b.WriteString(" AND updated_at > ?")
		args = append(args, formatTime(q.UpdatedAfter))
	}
	if clause, scopeArgs := scopeClause(q.Scope); clause != "" {
		b.WriteString(" AND ")
		b.WriteString(clause)
		args = append(args, scopeArgs...)
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	switch q.OrderBy {
	case store.OrderUpdatedAt:
		b.WriteString(" ORDER BY updated_at " + dir + ", seq " + dir)
	case store.OrderCreatedAt:
		b.WriteString(" ORDER BY created_at " + dir + ", seq " + dir)
	default:
		b.WriteString(" ORDER BY seq " + dir)
	}

	rows, err := c.s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, storageError(err, "query "+c.kind.String())
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var (
			synced int
			data   []byte
		)
		if err := rows.Scan(&synced, &data); err != nil {
			return nil, storageError(err, "scan "+c.kind.String())
		}
		rec, err := c.decode(data, synced == 1)
		if err != nil {
			return nil, err
		}
		if q.Where != nil && !q.Where(rec) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "query "+c.kind.String())
	}
	return out, nil
}

// Watch subscribes to the results of q. The first snapshot holds the
// current results; later snapshots follow every committed change that
// affects them.
func (c *Collection[T, P]) Watch(ctx context.Context, q store.Query[T]) (*store.LiveQuery[T], error) {
	return store.Watch(ctx, c.s.hub, c.kind, q, c.Query)
}

func (c *Collection[T, P]) modify(ctx context.Context, id string, mutate func(rec *T, now time.Time) error) (*T, error) {
	c.s.writeMu.Lock()
	before, after, err := c.modifyLocked(ctx, id, mutate)
	c.s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	c.s.publish(ctx, store.Change{Collection: c.kind, Before: P(before), After: P(after)})
	return after, nil
}

func (c *Collection[T, P]) modifyLocked(ctx context.Context, id string, mutate func(rec *T, now time.Time) error) (before, after *T, err error) {
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, storageError(err, "begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if before, after, err = c.modifyTx(ctx, tx, id, mutate); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, storageError(err, "commit update")
	}
	return before, after, nil
}

func (c *Collection[T, P]) modifyTx(ctx context.Context, tx *sql.Tx, id string, mutate func(rec *T, now time.Time) error) (before, after *T, err error) {
	data, synced, err := c.load(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if before, err = c.decode(data, synced); err != nil {
		return nil, nil, err
	}
	prev := P(before).Envelope()
	if prev.IsDeleted() {
		return nil, nil, domainerrors.NotFoundf("%s record %s not found", c.kind, id)
	}
	if after, err = c.decode(data, synced); err != nil {
		return nil, nil, err
	}

	now := c.stamp(prev.UpdatedAt)
	if err := mutate(after, now); err != nil {
		return nil, nil, err
	}
	env := P(after).Envelope()
	env.ID = id
	env.CreatedAt = prev.CreatedAt
	env.UpdatedAt = now
	env.Synced = false

	if err := c.write(ctx, tx, after, false); err != nil {
		return nil, nil, storageError(err, "update "+c.kind.String()+" record")
	}
	return before, after, nil
}

// stamp returns the time for a local edit. It never goes backwards relative
// to the record's current version, even when the clock is behind a pulled
// remote timestamp.
func (c *Collection[T, P]) stamp(prev time.Time) time.Time {
	now := c.s.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

func (c *Collection[T, P]) load(ctx context.Context, q querier, id string) ([]byte, bool, error) {
	var (
		synced int
		data   []byte
	)
	err := q.QueryRowContext(ctx,
		"SELECT synced, data FROM "+c.table+" WHERE id = ?", id).Scan(&synced, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, domainerrors.NotFoundf("%s record %s not found", c.kind, id)
	}
	if err != nil {
		return nil, false, storageError(err, "load "+c.kind.String()+" record")
	}
	return data, synced == 1, nil
}

func (c *Collection[T, P]) decode(data []byte, synced bool) (*T, error) {
	rec := new(T)
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, storageError(err, "decode "+c.kind.String()+" record")
	}
	P(rec).Envelope().Synced = synced
	return rec, nil
}

func (c *Collection[T, P]) write(ctx context.Context, q querier, rec *T, insert bool) error {
	p := P(rec)
	env := p.Envelope()
	scope := p.Scope()

	data, err := json.Marshal(rec)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "encode "+c.kind.String()+" record")
	}

	if insert {
		_, err = q.ExecContext(ctx, `INSERT INTO `+c.table+`
			(id, owner_id, group_id, created_at, updated_at, deleted_at, synced, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			env.ID, scope.OwnerID, scope.GroupID,
			formatTime(env.CreatedAt), formatTime(env.UpdatedAt), nullTimeString(env.DeletedAt),
			boolToInt(env.Synced), data,
		)
		return err
	}

	_, err = q.ExecContext(ctx, `UPDATE `+c.table+` SET
			owner_id = ?, group_id = ?, created_at = ?, updated_at = ?,
			deleted_at = ?, synced = ?, data = ?
		WHERE id = ?`,
		scope.OwnerID, scope.GroupID, formatTime(env.CreatedAt), formatTime(env.UpdatedAt),
		nullTimeString(env.DeletedAt), boolToInt(env.Synced), data,
		env.ID,
	)
	return err
}

// scopeClause renders a ScopeFilter as a SQL predicate over the owner_id and
// group_id columns.
func scopeClause(f domain.ScopeFilter) (string, []any) {
	if f.IsZero() {
		return "", nil
	}
	var (
		parts []string
		args  []any
	)
	if f.UserID != "" {
		parts = append(parts, "owner_id = ?")
		args = append(args, f.UserID)
	}
	if len(f.GroupIDs) > 0 {
		parts = append(parts, "group_id IN ("+placeholders(len(f.GroupIDs))+")")
		for _, g := range f.GroupIDs {
			args = append(args, g)
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
