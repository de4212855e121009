// Package remote defines the contract the sync engine expects from the
// remote store, with an HTTP client implementation and an in-memory one.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
)

// Adapter is the remote store as seen by the sync engine. Records travel as
// wire JSON with snake_case fields.
type Adapter interface {
	// Upsert inserts or replaces the record with the same id. Retrying is safe.
	Upsert(ctx context.Context, c domain.Collection, record json.RawMessage) error

	// QueryUpdatedSince returns records visible through scope whose
	// updated_at is strictly after since.
	QueryUpdatedSince(ctx context.Context, c domain.Collection, scope domain.ScopeFilter, since time.Time) ([]json.RawMessage, error)

	// Ping checks that the remote is reachable.
	Ping(ctx context.Context) error
}
