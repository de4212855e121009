package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
)

// Outcome reports what applying a remote record did to the local copy.
type Outcome int

const (
	// OutcomeInserted means no local record existed.
	OutcomeInserted Outcome = iota + 1
	// OutcomeUpdated means the remote record was strictly newer and replaced the local one.
	OutcomeUpdated
	// OutcomeConflict means the local record was at least as recent and was kept.
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// RawRecord is a local record in wire form together with the version it
// was read at.
type RawRecord struct {
	ID        string
	UpdatedAt time.Time
	Data      json.RawMessage
}

// SyncCollection is the type-erased view of one collection used by the sync
// engine and the realtime listener.
type SyncCollection interface {
	Kind() domain.Collection

	// Unsynced returns records not yet pushed, tombstones included, in
	// insertion order.
	Unsynced(ctx context.Context, scope domain.ScopeFilter) ([]RawRecord, error)

	// MarkSynced flags the record as pushed, but only if it still carries
	// updatedAt. It reports false when the record changed in the meantime.
	MarkSynced(ctx context.Context, id string, updatedAt time.Time) (bool, error)

	// ApplyRemote merges a remote record with the recency rule: it replaces
	// the local copy only when strictly newer.
	ApplyRemote(ctx context.Context, raw json.RawMessage) (Outcome, error)

	// ApplyRemoteDelete tombstones the local copy regardless of recency.
	ApplyRemoteDelete(ctx context.Context, raw json.RawMessage) error
}

// SyncLogEntry records one completed sync cycle. The latest entry of a user
// is that user's watermark.
type SyncLogEntry struct {
	Seq          int64     `json:"seq"`
	UserID       string    `json:"user_id"`
	LastSyncTime time.Time `json:"last_sync_time"`
	SyncedCount  int       `json:"synced_count"`
}

// SyncStore is the subset of the local store the sync engine depends on.
type SyncStore interface {
	Sync(c domain.Collection) (SyncCollection, error)
	LastSync(ctx context.Context, userID string) (time.Time, bool, error)
	AppendSyncLog(ctx context.Context, entry SyncLogEntry) error
	CountUnsynced(ctx context.Context, userID string) (int, error)
	GroupIDsForUser(ctx context.Context, userID string) ([]string, error)
}
