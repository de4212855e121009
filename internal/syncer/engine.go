// Package syncer reconciles the local store with the remote store. The
// Engine runs one push/pull cycle; the Coordinator decides when cycles run.
package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/remote"
	"github.com/pocketledger/ledgersync/internal/store"
	"github.com/pocketledger/ledgersync/internal/syncstate"
)

// CollectionResult counts what a cycle did for one collection.
type CollectionResult struct {
	Pushed    int `json:"pushed"`
	Pulled    int `json:"pulled"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

// Result summarizes a sync cycle. Success is false when the cycle was
// rejected or aborted.
type Result struct {
	Success     bool                                   `json:"success"`
	Synced      int                                    `json:"synced"`
	Failed      int                                    `json:"failed"`
	Conflicts   int                                    `json:"conflicts"`
	Collections map[domain.Collection]CollectionResult `json:"collections,omitempty"`
	StartedAt   time.Time                              `json:"started_at,omitzero"`
	Duration    time.Duration                          `json:"duration"`
}

// Engine runs sync cycles for one process. At most one cycle runs at a time.
type Engine struct {
	store   store.SyncStore
	remote  remote.Adapter
	tracker *Tracker
	state   *syncstate.Publisher
	logger  *slog.Logger
	now     func() time.Time

	running atomic.Bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source for sync log entries.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine. tracker and state may be nil.
func NewEngine(st store.SyncStore, rem remote.Adapter, tracker *Tracker, state *syncstate.Publisher, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	if state == nil {
		state = syncstate.New()
	}
	e := &Engine{
		store:   st,
		remote:  rem,
		tracker: tracker,
		state:   state,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Running reports whether a cycle is in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Sync runs one cycle for userID. A call made while another cycle is
// running returns immediately with ErrConcurrentSync and does not touch the
// store. Per-record failures are counted in the result; an error is
// returned only when the cycle could not complete.
func (e *Engine) Sync(ctx context.Context, userID string) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, domainerrors.ErrConcurrentSync
	}
	defer e.running.Store(false)

	start := e.now().UTC()
	e.tracker.Clear()
	e.state.CycleStarted()

	c := &cycle{
		engine: e,
		userID: userID,
		start:  start,
		result: Result{
			StartedAt:   start,
			Collections: make(map[domain.Collection]CollectionResult),
		},
		seen:   make(map[string]time.Time),
	}
	err := c.run(ctx)
	res := c.result
	res.Duration = time.Since(start)

	pending, countErr := e.store.CountUnsynced(context.WithoutCancel(ctx), userID)
	if countErr != nil {
		e.logger.Warn("count unsynced records failed", "error", countErr)
	}

	if err != nil {
		e.tracker.MarkChanged()
		e.state.CycleFailed(err, pending)
		e.logger.Error("sync cycle failed",
			"user_id", userID,
			"synced", res.Synced,
			"failed", res.Failed,
			"error", err,
		)
		return res, err
	}

	if res.Failed > 0 {
		e.tracker.MarkChanged()
	}
	res.Success = true
	e.state.CycleFinished(syncstate.CycleOutcome{
		FinishedAt: c.watermark,
		Synced:     res.Synced,
		Failed:     res.Failed,
		Conflicts:  res.Conflicts,
		Pending:    pending,
	})
	e.logger.Info("sync cycle complete",
		"user_id", userID,
		"synced", res.Synced,
		"failed", res.Failed,
		"conflicts", res.Conflicts,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// cycle holds the state of one Sync call.
type cycle struct {
	engine *Engine
	userID string
	start  time.Time
	result Result

	since  time.Time
	scope  domain.ScopeFilter
	groups []string
	// fresh are groups discovered during this cycle. They are pulled from
	// the beginning since the watermark predates the membership.
	fresh []string

	// seen maps records pushed or applied during this cycle to their
	// version, so echoes of our own writes and overlapping pulls are not
	// counted as conflicts.
	seen map[string]time.Time

	remoteCalls    int
	remoteFailures int
	watermark      time.Time
}

func (c *cycle) run(ctx context.Context) error {
	e := c.engine

	since, ok, err := e.store.LastSync(ctx, c.userID)
	if err != nil {
		return domainerrors.StorageFailure(err, "read sync log")
	}
	if ok {
		c.since = since
	}
	if _, err := c.refreshScope(ctx); err != nil {
		return err
	}
	c.fresh = nil

	for _, kind := range domain.Collections() {
		if err := ctx.Err(); err != nil {
			return err
		}
		coll, err := e.store.Sync(kind)
		if err != nil {
			return err
		}

		var stats CollectionResult
		if err := c.push(ctx, coll, &stats); err != nil {
			return err
		}
		if err := c.pull(ctx, coll, &stats); err != nil {
			return err
		}

		if kind == domain.CollectionGroupMembers || kind == domain.CollectionGroups {
			added, err := c.refreshScope(ctx)
			if err != nil {
				return err
			}
			// Rows of this collection belonging to the new groups were
			// outside the scope of the pull above.
			if len(added) > 0 {
				if err := c.pullScope(ctx, coll, domain.ScopeFilter{GroupIDs: added}, time.Time{}, &stats); err != nil {
					return err
				}
			}
		}
		c.record(kind, stats)
	}

	if c.remoteCalls > 0 && c.remoteFailures == c.remoteCalls {
		return domainerrors.RemoteUnavailable(nil, "every remote call failed")
	}

	// The watermark never moves backwards, even if the clock does.
	c.watermark = c.start
	if c.watermark.Before(c.since) {
		c.watermark = c.since
	}
	entry := store.SyncLogEntry{
		UserID:       c.userID,
		LastSyncTime: c.watermark,
		SyncedCount:  c.result.Synced,
	}
	if err := e.store.AppendSyncLog(ctx, entry); err != nil {
		return domainerrors.StorageFailure(err, "append sync log")
	}
	return nil
}

// refreshScope reloads the user's groups and returns the ones not seen
// before in this cycle.
func (c *cycle) refreshScope(ctx context.Context) ([]string, error) {
	groups, err := c.engine.store.GroupIDsForUser(ctx, c.userID)
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "load group memberships")
	}
	var added []string
	for _, g := range groups {
		if !slices.Contains(c.groups, g) && !slices.Contains(c.fresh, g) {
			added = append(added, g)
		}
	}
	c.fresh = append(c.fresh, added...)
	c.groups = groups
	c.scope = domain.ScopeFilter{UserID: c.userID, GroupIDs: groups}
	return added, nil
}

func (c *cycle) push(ctx context.Context, coll store.SyncCollection, stats *CollectionResult) error {
	e := c.engine
	kind := coll.Kind()

	records, err := coll.Unsynced(ctx, c.scope)
	if err != nil {
		return domainerrors.StorageFailure(err, "list unsynced "+kind.String())
	}

	for _, rec := range records {
		c.remoteCalls++
		if err := e.remote.Upsert(ctx, kind, rec.Data); err != nil {
			c.remoteFailures++
			stats.Failed++
			e.logger.Warn("push failed",
				"collection", kind,
				"record_id", rec.ID,
				"error", err,
			)
			continue
		}
		c.seen[seenKey(kind, rec.ID)] = rec.UpdatedAt

		marked, err := coll.MarkSynced(ctx, rec.ID, rec.UpdatedAt)
		if err != nil {
			return domainerrors.StorageFailure(err, "mark "+kind.String()+" synced")
		}
		if !marked {
			// Edited while the upsert was in flight; the newer version
			// stays unsynced for the next cycle.
			e.tracker.MarkChanged()
			e.logger.Debug("record changed during push",
				"collection", kind,
				"record_id", rec.ID,
			)
		}
		stats.Pushed++
	}
	return nil
}

func (c *cycle) pull(ctx context.Context, coll store.SyncCollection, stats *CollectionResult) error {
	kind := coll.Kind()

	if err := c.pullScope(ctx, coll, c.scope, c.since, stats); err != nil {
		return err
	}
	if len(c.fresh) > 0 && !c.since.IsZero() {
		discovered := domain.ScopeFilter{GroupIDs: c.fresh}
		c.engine.logger.Debug("pulling newly joined groups",
			"collection", kind,
			"groups", len(c.fresh),
		)
		if err := c.pullScope(ctx, coll, discovered, time.Time{}, stats); err != nil {
			return err
		}
	}
	return nil
}

func (c *cycle) pullScope(ctx context.Context, coll store.SyncCollection, scope domain.ScopeFilter, since time.Time, stats *CollectionResult) error {
	e := c.engine
	kind := coll.Kind()

	c.remoteCalls++
	records, err := e.remote.QueryUpdatedSince(ctx, kind, scope, since)
	if err != nil {
		c.remoteFailures++
		stats.Failed++
		e.logger.Warn("pull failed",
			"collection", kind,
			"error", err,
		)
		return nil
	}

	for _, raw := range records {
		if err := c.apply(ctx, coll, raw, scope, stats); err != nil {
			return err
		}
	}
	return nil
}

func (c *cycle) apply(ctx context.Context, coll store.SyncCollection, raw json.RawMessage, scope domain.ScopeFilter, stats *CollectionResult) error {
	e := c.engine
	kind := coll.Kind()

	h, err := domain.DecodeHeader(kind, raw)
	if err != nil {
		stats.Failed++
		e.logger.Warn("malformed remote record", "collection", kind, "error", err)
		return nil
	}
	if !scope.Matches(h.Scope) {
		return nil
	}
	if v, ok := c.seen[seenKey(kind, h.ID)]; ok && v.Equal(h.UpdatedAt) {
		return nil
	}

	outcome, err := coll.ApplyRemote(ctx, raw)
	switch {
	case domainerrors.Is(err, domainerrors.ErrValidation):
		stats.Failed++
		e.logger.Warn("rejected remote record",
			"collection", kind,
			"record_id", h.ID,
			"error", err,
		)
		return nil
	case err != nil:
		return err
	}

	if outcome == store.OutcomeConflict {
		stats.Conflicts++
		e.logger.Debug("remote version discarded",
			"collection", kind,
			"record_id", h.ID,
			"remote_updated_at", h.UpdatedAt,
		)
		return nil
	}
	c.seen[seenKey(kind, h.ID)] = h.UpdatedAt
	stats.Pulled++
	return nil
}

func (c *cycle) record(kind domain.Collection, stats CollectionResult) {
	prev := c.result.Collections[kind]
	prev.Pushed += stats.Pushed
	prev.Pulled += stats.Pulled
	prev.Failed += stats.Failed
	prev.Conflicts += stats.Conflicts
	c.result.Collections[kind] = prev

	c.result.Synced += stats.Pushed + stats.Pulled
	c.result.Failed += stats.Failed
	c.result.Conflicts += stats.Conflicts
}

func seenKey(c domain.Collection, id string) string {
	return c.String() + "/" + id
}
