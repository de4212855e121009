// Package sqlite implements the local store on SQLite. Each collection is a
// table holding the record's wire JSON next to the envelope and scope
// columns used for filtering and sync bookkeeping.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/store"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

var _ store.SyncStore = (*Store)(nil)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite-backed local store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	hub    *store.Hub
	now    func() time.Time

	// writeMu serializes read-modify-write transactions.
	writeMu sync.Mutex

	Users          *Collection[domain.User, *domain.User]
	GroupMembers   *Collection[domain.GroupMember, *domain.GroupMember]
	Groups         *Collection[domain.Group, *domain.Group]
	Categories     *Collection[domain.Category, *domain.Category]
	Expenses       *Collection[domain.Expense, *domain.Expense]
	SharedExpenses *Collection[domain.SharedExpense, *domain.SharedExpense]

	registry map[domain.Collection]store.SyncCollection
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp local writes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates a new SQLite store at the given path.
// It configures WAL mode, sets pragmas, and applies the schema.
func Open(path string, logger *slog.Logger, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if path == MemoryPath {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(time.Hour)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		logger: logger,
		hub:    store.NewHub(logger),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Users = newCollection[domain.User](s, domain.CollectionUsers)
	s.GroupMembers = newCollection[domain.GroupMember](s, domain.CollectionGroupMembers)
	s.Groups = newCollection[domain.Group](s, domain.CollectionGroups)
	s.Categories = newCollection[domain.Category](s, domain.CollectionCategories)
	s.Expenses = newCollection[domain.Expense](s, domain.CollectionExpenses)
	s.SharedExpenses = newCollection[domain.SharedExpense](s, domain.CollectionSharedExpenses)

	s.registry = map[domain.Collection]store.SyncCollection{
		domain.CollectionUsers:          s.Users,
		domain.CollectionGroupMembers:   s.GroupMembers,
		domain.CollectionGroups:         s.Groups,
		domain.CollectionCategories:     s.Categories,
		domain.CollectionExpenses:       s.Expenses,
		domain.CollectionSharedExpenses: s.SharedExpenses,
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Hub returns the live query hub notified after every committed write.
func (s *Store) Hub() *store.Hub {
	return s.hub
}

// Sync returns the type-erased collection handle used by the sync engine.
func (s *Store) Sync(c domain.Collection) (store.SyncCollection, error) {
	sc, ok := s.registry[c]
	if !ok {
		return nil, domainerrors.Validationf("unknown collection %q", c)
	}
	return sc, nil
}

// CountUnsynced returns the number of records across all collections that
// a sync of userID would push: the user's own records and those of the
// user's groups. An empty userID counts every pending record on the device.
func (s *Store) CountUnsynced(ctx context.Context, userID string) (int, error) {
	var scope domain.ScopeFilter
	if userID != "" {
		var err error
		if scope, err = s.ScopeFor(ctx, userID); err != nil {
			return 0, err
		}
	}
	clause, scopeArgs := scopeClause(scope)

	parts := make([]string, 0, len(s.registry))
	var args []any
	for _, c := range domain.Collections() {
		part := "SELECT COUNT(*) AS n FROM " + tableName(c) + " WHERE synced = 0"
		if clause != "" {
			part += " AND " + clause
			args = append(args, scopeArgs...)
		}
		parts = append(parts, part)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(n), 0) FROM ("+strings.Join(parts, " UNION ALL ")+")", args...).Scan(&n)
	if err != nil {
		return 0, storageError(err, "count unsynced records")
	}
	return n, nil
}

// GroupIDsForUser returns the ids of groups the user owns or is a member
// of, ignoring deleted memberships and groups.
func (s *Store) GroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM group_members WHERE owner_id = ? AND deleted_at IS NULL AND group_id != ''
		UNION
		SELECT id FROM "groups" WHERE owner_id = ? AND deleted_at IS NULL
		ORDER BY 1`, userID, userID)
	if err != nil {
		return nil, storageError(err, "list groups for user")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageError(err, "scan group id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "list groups for user")
	}
	return ids, nil
}

// ScopeFor returns the filter selecting every record visible to userID.
func (s *Store) ScopeFor(ctx context.Context, userID string) (domain.ScopeFilter, error) {
	groups, err := s.GroupIDsForUser(ctx, userID)
	if err != nil {
		return domain.ScopeFilter{}, err
	}
	return domain.ScopeFilter{UserID: userID, GroupIDs: groups}, nil
}

func (s *Store) publish(ctx context.Context, ch store.Change) {
	s.hub.Publish(ctx, ch)
}

func tableName(c domain.Collection) string {
	return `"` + string(c) + `"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// nullTimeString returns a sql.NullString from a *time.Time.
func nullTimeString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// boolToInt converts a bool to an int for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// storageError wraps driver failures. Errors that already carry a domain
// code pass through unchanged.
func storageError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var de *domainerrors.Error
	if domainerrors.As(err, &de) {
		return err
	}
	return domainerrors.StorageFailure(err, msg)
}
