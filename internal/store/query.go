// Package store defines the local store contracts shared by the SQLite
// implementation, the sync engine and the reactive query layer.
package store

import (
	"fmt"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
)

// TombstoneMode controls whether soft-deleted records are returned.
type TombstoneMode int

const (
	// ExcludeDeleted hides tombstones. This is what application views use.
	ExcludeDeleted TombstoneMode = iota
	// IncludeDeleted returns live records and tombstones.
	IncludeDeleted
	// OnlyDeleted returns tombstones only.
	OnlyDeleted
)

// OrderBy selects the result ordering of a query.
type OrderBy int

const (
	// OrderInserted orders by local insertion sequence.
	OrderInserted OrderBy = iota
	OrderUpdatedAt
	OrderCreatedAt
)

// Query describes a filtered read over one collection. The zero value
// returns every live record in insertion order.
type Query[T any] struct {
	Scope        domain.ScopeFilter
	Tombstones   TombstoneMode
	UnsyncedOnly bool
	// UpdatedAfter, when set, keeps records whose updated_at is strictly later.
	UpdatedAfter time.Time

	// Where is an optional in-memory predicate applied after the SQL filters.
	// Live queries with a Where but no Key are never shared between watchers.
	Where func(*T) bool
	Key   string

	OrderBy OrderBy
	Desc    bool
	// Limit caps the result size after Where is applied. Zero means no limit.
	Limit int
}

// Fingerprint identifies queries that always produce the same results so
// that live queries can share one listener. It returns "" for queries that
// cannot be shared.
func (q Query[T]) Fingerprint() string {
	if q.Where != nil && q.Key == "" {
		return ""
	}
	return fmt.Sprintf("u=%s|g=%v|t=%d|s=%t|a=%d|k=%s|o=%d|d=%t|l=%d",
		q.Scope.UserID, q.Scope.GroupIDs, q.Tombstones, q.UnsyncedOnly,
		q.UpdatedAfter.UnixNano(), q.Key, q.OrderBy, q.Desc, q.Limit)
}

// Match reports whether rec satisfies every filter of the query.
func (q Query[T]) Match(rec *T) bool {
	if rec == nil {
		return false
	}
	r, ok := any(rec).(domain.Record)
	if !ok {
		return false
	}
	env := r.Envelope()

	switch q.Tombstones {
	case ExcludeDeleted:
		if env.IsDeleted() {
			return false
		}
	case OnlyDeleted:
		if !env.IsDeleted() {
			return false
		}
	}
	if q.UnsyncedOnly && env.Synced {
		return false
	}
	if !q.UpdatedAfter.IsZero() && !env.UpdatedAt.After(q.UpdatedAfter) {
		return false
	}
	if !q.Scope.Matches(r.Scope()) {
		return false
	}
	if q.Where != nil && !q.Where(rec) {
		return false
	}
	return true
}
