package store

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/pocketledger/ledgersync/internal/domain"
)

// Change describes one committed write. Before is nil for inserts. Reset
// marks a bulk change (such as a purge) that affects every query.
type Change struct {
	Collection domain.Collection
	Before     domain.Record
	After      domain.Record
	Reset      bool
}

// RunFunc executes a query against the store.
type RunFunc[T any] func(ctx context.Context, q Query[T]) ([]*T, error)

// Observer receives every committed change of the collection it was
// registered for.
type Observer func(ctx context.Context, ch Change)

type listener interface {
	affected(ch Change) bool
	refresh(ctx context.Context)
}

// Hub tracks live queries and re-runs them when a committed change could
// alter their results. Watchers with an identical query share one listener.
type Hub struct {
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[domain.Collection]map[string]listener
	observers map[domain.Collection]map[uint64]Observer
	nextKey   uint64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:    logger,
		listeners: make(map[domain.Collection]map[string]listener),
		observers: make(map[domain.Collection]map[uint64]Observer),
	}
}

// Publish notifies every listener whose results may change because of ch.
// It runs synchronously; listeners have seen the change when it returns.
func (h *Hub) Publish(ctx context.Context, ch Change) {
	h.mu.Lock()
	var hit []listener
	for _, l := range h.listeners[ch.Collection] {
		if ch.Reset || l.affected(ch) {
			hit = append(hit, l)
		}
	}
	observers := make([]Observer, 0, len(h.observers[ch.Collection]))
	for _, fn := range h.observers[ch.Collection] {
		observers = append(observers, fn)
	}
	h.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for _, fn := range observers {
		fn(ctx, ch)
	}
	for _, l := range hit {
		l.refresh(ctx)
	}
}

// Observe calls fn for every change published for c, including changes a
// live query would not be affected by. The returned func unregisters fn.
func (h *Hub) Observe(c domain.Collection, fn Observer) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextKey++
	key := h.nextKey
	byKey, ok := h.observers[c]
	if !ok {
		byKey = make(map[uint64]Observer)
		h.observers[c] = byKey
	}
	byKey[key] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.observers[c], key)
			if len(h.observers[c]) == 0 {
				delete(h.observers, c)
			}
		})
	}
}

// Listeners returns the number of distinct listeners registered for c.
func (h *Hub) Listeners(c domain.Collection) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[c])
}

func (h *Hub) remove(c domain.Collection, key string, empty func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !empty() {
		return
	}
	delete(h.listeners[c], key)
	if len(h.listeners[c]) == 0 {
		delete(h.listeners, c)
	}
}

// liveGroup is the shared listener behind every watcher of one query.
type liveGroup[T any] struct {
	hub        *Hub
	collection domain.Collection
	key        string
	query      Query[T]
	run        RunFunc[T]

	// refreshMu serializes re-runs so a slower, older snapshot is never
	// delivered after a newer one.
	refreshMu sync.Mutex

	mu   sync.Mutex
	subs map[*LiveQuery[T]]struct{}
}

func (g *liveGroup[T]) affected(ch Change) bool {
	if ch.Before != nil {
		if rec, ok := any(ch.Before).(*T); ok && g.query.Match(rec) {
			return true
		}
	}
	if ch.After != nil {
		if rec, ok := any(ch.After).(*T); ok && g.query.Match(rec) {
			return true
		}
	}
	return false
}

func (g *liveGroup[T]) refresh(ctx context.Context) {
	g.refreshMu.Lock()
	defer g.refreshMu.Unlock()

	results, err := g.run(ctx, g.query)
	if err != nil {
		g.hub.logger.Error("live query refresh failed",
			"collection", g.collection,
			"error", err,
		)
		return
	}

	g.mu.Lock()
	subs := make([]*LiveQuery[T], 0, len(g.subs))
	for lq := range g.subs {
		subs = append(subs, lq)
	}
	g.mu.Unlock()

	for _, lq := range subs {
		lq.deliver(results)
	}
}

func (g *liveGroup[T]) detach(lq *LiveQuery[T]) {
	g.hub.remove(g.collection, g.key, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs, lq)
		return len(g.subs) == 0
	})
}

// LiveQuery is a subscription to the results of a query. Updates delivers
// a fresh snapshot after every change affecting the results; a slow reader
// only ever sees the latest snapshot. Snapshots are shared between watchers
// and must be treated as read-only.
type LiveQuery[T any] struct {
	updates chan []*T
	group   *liveGroup[T]
	stop    func() bool

	mu     sync.Mutex
	closed bool
}

// Updates returns the snapshot channel. It is closed by Close.
func (lq *LiveQuery[T]) Updates() <-chan []*T {
	return lq.updates
}

// Close unsubscribes. It is safe to call more than once.
func (lq *LiveQuery[T]) Close() {
	lq.mu.Lock()
	if lq.closed {
		lq.mu.Unlock()
		return
	}
	lq.closed = true
	close(lq.updates)
	stop := lq.stop
	lq.mu.Unlock()

	if stop != nil {
		stop()
	}
	lq.group.detach(lq)
}

func (lq *LiveQuery[T]) deliver(snapshot []*T) {
	lq.mu.Lock()
	defer lq.mu.Unlock()
	if lq.closed {
		return
	}
	// Replace a snapshot the reader has not picked up yet.
	select {
	case <-lq.updates:
	default:
	}
	lq.updates <- snapshot
}

// Watch registers a live query on collection c and delivers the current
// results as the first snapshot. The subscription ends when ctx is done or
// Close is called.
func Watch[T any](ctx context.Context, h *Hub, c domain.Collection, q Query[T], run RunFunc[T]) (*LiveQuery[T], error) {
	lq := &LiveQuery[T]{updates: make(chan []*T, 1)}

	h.mu.Lock()
	key := q.Fingerprint()
	if key == "" {
		h.nextKey++
		key = "anon:" + strconv.FormatUint(h.nextKey, 10)
	}
	byKey, ok := h.listeners[c]
	if !ok {
		byKey = make(map[string]listener)
		h.listeners[c] = byKey
	}
	group, ok := byKey[key].(*liveGroup[T])
	if !ok {
		group = &liveGroup[T]{
			hub:        h,
			collection: c,
			key:        key,
			query:      q,
			run:        run,
			subs:       make(map[*LiveQuery[T]]struct{}),
		}
		byKey[key] = group
	}
	group.mu.Lock()
	group.subs[lq] = struct{}{}
	group.mu.Unlock()
	h.mu.Unlock()
	lq.group = group

	// Holding refreshMu orders the initial snapshot against concurrent
	// refreshes of the same group.
	group.refreshMu.Lock()
	initial, err := run(ctx, q)
	if err == nil {
		lq.deliver(initial)
	}
	group.refreshMu.Unlock()
	if err != nil {
		lq.Close()
		return nil, err
	}

	lq.mu.Lock()
	lq.stop = context.AfterFunc(ctx, lq.Close)
	lq.mu.Unlock()
	return lq, nil
}
