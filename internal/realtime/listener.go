// Package realtime applies remote change events to the local store between
// sync cycles.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/feed"
	"github.com/pocketledger/ledgersync/internal/store"
)

// Source delivers change events for one collection until ctx is done. The
// returned channel is closed when the subscription ends. *feed.Manager and
// *WebsocketSource implement it.
type Source interface {
	Listen(ctx context.Context, c domain.Collection) (<-chan feed.Event, error)
}

// LocalStore is what the listener needs from the local store.
type LocalStore interface {
	Sync(c domain.Collection) (store.SyncCollection, error)
	WatchScope(ctx context.Context, userID string) (<-chan domain.ScopeFilter, error)
}

// Stats counts what the listener did with the events it received.
type Stats struct {
	Applied   int64 `json:"applied"`
	Conflicts int64 `json:"conflicts"`
	Deleted   int64 `json:"deleted"`
	Ignored   int64 `json:"ignored"`
	Failed    int64 `json:"failed"`
}

// Listener subscribes to every syncable collection and merges events that
// fall inside the user's scope. Start and Stop may be called repeatedly.
type Listener struct {
	store       LocalStore
	source      Source
	logger      *slog.Logger
	collections []domain.Collection

	mu     sync.Mutex
	cancel context.CancelFunc
	userID string
	wg     sync.WaitGroup

	scope atomic.Pointer[domain.ScopeFilter]

	applied, conflicts, deleted, ignored, failed atomic.Int64
}

// New creates a stopped listener.
func New(st LocalStore, src Source, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		store:       st,
		source:      src,
		logger:      logger,
		collections: domain.Collections(),
	}
}

// Start subscribes on behalf of userID. It is a no-op if the listener is
// already running for the same user; a different user replaces the running
// subscriptions. Subscriptions end when ctx is done or Stop is called.
func (l *Listener) Start(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		if l.userID == userID {
			return nil
		}
		l.stopLocked()
	}

	runCtx, cancel := context.WithCancel(ctx)

	scopes, err := l.store.WatchScope(runCtx, userID)
	if err != nil {
		cancel()
		return err
	}
	select {
	case sc, ok := <-scopes:
		if !ok {
			cancel()
			return ctx.Err()
		}
		l.scope.Store(&sc)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	type subscription struct {
		coll   store.SyncCollection
		events <-chan feed.Event
	}
	subs := make([]subscription, 0, len(l.collections))
	for _, c := range l.collections {
		coll, err := l.store.Sync(c)
		if err != nil {
			cancel()
			return err
		}
		events, err := l.source.Listen(runCtx, c)
		if err != nil {
			cancel()
			return domainerrors.RemoteUnavailable(err, "subscribe to "+c.String())
		}
		subs = append(subs, subscription{coll: coll, events: events})
	}

	l.wg.Add(1)
	go l.trackScope(runCtx, userID, scopes)
	for _, sub := range subs {
		l.wg.Add(1)
		go l.consume(runCtx, sub.coll, sub.events)
	}

	l.cancel = cancel
	l.userID = userID
	l.logger.Info("realtime listener started",
		"user_id", userID,
		"collections", len(subs),
	)
	return nil
}

// Stop releases every subscription and waits for in-flight events to
// finish. It is safe to call when not running.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

func (l *Listener) stopLocked() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.wg.Wait()
	l.logger.Info("realtime listener stopped", "user_id", l.userID)
	l.cancel = nil
	l.userID = ""
}

// Running reports whether subscriptions are active.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Scope returns the filter events are currently checked against.
func (l *Listener) Scope() domain.ScopeFilter {
	if sc := l.scope.Load(); sc != nil {
		return *sc
	}
	return domain.ScopeFilter{}
}

// Stats returns event counters since the listener was created.
func (l *Listener) Stats() Stats {
	return Stats{
		Applied:   l.applied.Load(),
		Conflicts: l.conflicts.Load(),
		Deleted:   l.deleted.Load(),
		Ignored:   l.ignored.Load(),
		Failed:    l.failed.Load(),
	}
}

// trackScope swaps the filter whenever the user's group set changes.
// Filtering happens here rather than in the feed, so no resubscription is
// needed.
func (l *Listener) trackScope(ctx context.Context, userID string, scopes <-chan domain.ScopeFilter) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sc, ok := <-scopes:
			if !ok {
				return
			}
			l.scope.Store(&sc)
			l.logger.Debug("realtime scope changed",
				"user_id", userID,
				"groups", len(sc.GroupIDs),
			)
		}
	}
}

func (l *Listener) consume(ctx context.Context, coll store.SyncCollection, events <-chan feed.Event) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					l.logger.Warn("realtime feed closed", "collection", coll.Kind())
				}
				return
			}
			l.handle(ctx, coll, evt)
		}
	}
}

func (l *Listener) handle(ctx context.Context, coll store.SyncCollection, evt feed.Event) {
	if evt.Type == feed.EventHeartbeat {
		return
	}
	c := coll.Kind()

	h, err := domain.DecodeHeader(c, evt.Record)
	if err != nil {
		l.failed.Add(1)
		l.logger.Warn("malformed realtime event",
			"collection", c,
			"event_type", evt.Type,
			"error", err,
		)
		return
	}
	if !l.Scope().Matches(h.Scope) {
		l.ignored.Add(1)
		return
	}

	switch evt.Type {
	case feed.EventInsert, feed.EventUpdate:
		outcome, err := coll.ApplyRemote(ctx, evt.Record)
		if err != nil {
			l.failed.Add(1)
			l.logger.Error("apply realtime change failed",
				"collection", c,
				"record_id", h.ID,
				"error", err,
			)
			return
		}
		if outcome == store.OutcomeConflict {
			l.conflicts.Add(1)
		} else {
			l.applied.Add(1)
		}
		l.logger.Debug("realtime change applied",
			"collection", c,
			"record_id", h.ID,
			"outcome", outcome.String(),
		)

	case feed.EventDelete:
		if err := coll.ApplyRemoteDelete(ctx, evt.Record); err != nil {
			l.failed.Add(1)
			l.logger.Error("apply realtime delete failed",
				"collection", c,
				"record_id", h.ID,
				"error", err,
			)
			return
		}
		l.deleted.Add(1)

	default:
		l.ignored.Add(1)
	}
}
