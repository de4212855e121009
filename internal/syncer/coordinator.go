package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/store"
	"github.com/pocketledger/ledgersync/internal/syncstate"
)

// RealtimeListener is the realtime change listener as driven by the
// coordinator.
type RealtimeListener interface {
	Start(ctx context.Context, userID string) error
	Stop()
}

// CoordinatorConfig tunes the trigger policy.
type CoordinatorConfig struct {
	// Debounce delays background syncs after a mutation so bursts of
	// edits share one cycle.
	Debounce time.Duration
	// AutoSync enables background syncs after mutations.
	AutoSync bool
}

// Coordinator applies the sync trigger policy: background syncs after
// local mutations, a full sync on reconnect, blocking manual syncs, and the
// startup sequence. It also starts and stops the realtime listener with
// connectivity.
type Coordinator struct {
	engine   *Engine
	store    store.SyncStore
	listener RealtimeListener
	monitor  *Monitor
	tracker  *Tracker
	state    *syncstate.Publisher
	cfg      CoordinatorConfig
	logger   *slog.Logger

	kick chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	userID  string
	online  bool
	running bool
	wg      sync.WaitGroup
}

// NewCoordinator creates a stopped coordinator. listener and monitor may be
// nil; without a monitor the device is assumed online until SetOnline says
// otherwise.
func NewCoordinator(engine *Engine, listener RealtimeListener, monitor *Monitor, cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	return &Coordinator{
		engine:   engine,
		store:    engine.store,
		listener: listener,
		monitor:  monitor,
		tracker:  engine.tracker,
		state:    engine.state,
		cfg:      cfg,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Start runs the startup sequence for userID: restore the published state
// from the local store, queue a background sync, then start the realtime
// listener. The local store must already be open.
func (c *Coordinator) Start(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return domainerrors.Internal("coordinator already started")
	}

	last, _, err := c.store.LastSync(ctx, userID)
	if err != nil {
		return domainerrors.StorageFailure(err, "read sync log")
	}
	pending, err := c.store.CountUnsynced(ctx, userID)
	if err != nil {
		return domainerrors.StorageFailure(err, "count unsynced records")
	}
	c.state.Restore(last, pending)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.ctx, c.cancel = runCtx, cancel
	c.userID = userID
	c.running = true

	c.online = true
	if c.monitor != nil {
		c.online = c.monitor.Probe(runCtx)
	}

	c.wg.Add(1)
	go c.loop(runCtx)

	if c.monitor != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.monitor.Run(runCtx, c.SetOnline)
		}()
	}

	if c.online {
		c.trigger()
		c.startListenerLocked()
	}
	c.logger.Info("sync coordinator started",
		"user_id", userID,
		"online", c.online,
		"pending", pending,
	)
	return nil
}

// Stop stops the listener and background work. It is safe to call more
// than once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	if c.listener != nil {
		c.listener.Stop()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("sync coordinator stopped")
}

// Online reports the last known connectivity.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records a connectivity change. Going online starts the
// listener and triggers a full sync; going offline stops the listener.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.online == online {
		return
	}
	c.online = online

	if online {
		c.logger.Info("connectivity restored")
		c.startListenerLocked()
		c.trigger()
		return
	}
	c.logger.Info("connectivity lost")
	if c.listener != nil {
		c.listener.Stop()
	}
}

// OnMutation is called after every successful local write. It never
// blocks on the sync and never fails.
func (c *Coordinator) OnMutation(ctx context.Context) {
	c.tracker.MarkChanged()
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	if n, err := c.store.CountUnsynced(ctx, userID); err == nil {
		c.state.SetPending(n)
	}
}

// SyncNow runs a cycle and waits for it. It returns ErrConcurrentSync when
// a background cycle is already running.
func (c *Coordinator) SyncNow(ctx context.Context) (Result, error) {
	c.mu.Lock()
	userID := c.userID
	running := c.running
	c.mu.Unlock()
	if !running {
		return Result{}, domainerrors.Internal("coordinator not started")
	}
	return c.engine.Sync(ctx, userID)
}

func (c *Coordinator) startListenerLocked() {
	if c.listener == nil {
		return
	}
	if err := c.listener.Start(c.ctx, c.userID); err != nil {
		c.logger.Warn("realtime listener did not start", "error", err)
	}
}

// trigger queues a background sync.
func (c *Coordinator) trigger() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.tracker.Changes():
			if !c.cfg.AutoSync {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(c.cfg.Debounce)
			} else {
				debounce.Reset(c.cfg.Debounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			if c.tracker.IsDirty() && c.Online() {
				c.background(ctx)
			}

		case <-c.kick:
			if c.Online() {
				c.background(ctx)
			}
		}
	}
}

// background runs a cycle whose errors only reach the state publisher and
// the log.
func (c *Coordinator) background(ctx context.Context) {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	_, err := c.engine.Sync(ctx, userID)
	switch {
	case err == nil:
	case domainerrors.Is(err, domainerrors.ErrConcurrentSync):
		c.logger.Debug("background sync skipped, cycle in flight")
	default:
		c.logger.Warn("background sync failed", "error", err)
	}
}
