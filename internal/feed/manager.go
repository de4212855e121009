package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
	"github.com/pocketledger/ledgersync/internal/id"
)

// Subscriber is one registered consumer of the feed.
type Subscriber struct {
	ConnectedAt time.Time
	Events      chan Event
	Done        chan struct{}
	ID          string
	// Collection restricts delivery to one collection. Empty means all.
	Collection domain.Collection
}

// Manager fans change events out to subscribers.
type Manager struct {
	subscribers       map[string]*Subscriber
	events            chan Event
	logger            *slog.Logger
	wg                sync.WaitGroup
	heartbeatInterval time.Duration
	mu                sync.RWMutex

	// Shutdown state - protected by shutdownMu
	shutdownMu sync.RWMutex
	shutdown   bool
}

// NewManager creates a new feed Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		subscribers:       make(map[string]*Subscriber),
		events:            make(chan Event, 1000),
		logger:            logger,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval changes the keepalive period. Call before Start.
func (m *Manager) SetHeartbeatInterval(d time.Duration) {
	m.heartbeatInterval = d
}

// Start runs the broadcast loop until ctx is done or the manager is shut
// down. Call it once, in its own goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	m.logger.Info("feed manager starting")

	heartbeat := time.NewTicker(m.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-m.events:
			if !ok {
				m.closeAll()
				return
			}
			m.broadcast(event)

		case <-heartbeat.C:
			m.broadcast(NewHeartbeatEvent())

		case <-ctx.Done():
			m.logger.Info("feed manager stopping")
			m.closeAll()
			return
		}
	}
}

// Shutdown stops accepting events, drains the queue and closes every
// subscriber.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownMu.Lock()
	if m.shutdown {
		m.shutdownMu.Unlock()
		return nil
	}
	m.shutdown = true
	close(m.events)
	m.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		for event := range m.events {
			m.broadcast(event)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("feed drain timeout, some events may be lost")
	}

	m.wg.Wait()
	m.closeAll()
	m.logger.Info("feed manager shutdown complete")
	return nil
}

func (m *Manager) broadcast(event Event) {
	var delivered, dropped int

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		if event.Type != EventHeartbeat && sub.Collection != "" && sub.Collection != event.Collection {
			continue
		}

		// Non-blocking send (drop if the subscriber is slow).
		select {
		case sub.Events <- event:
			delivered++
		default:
			dropped++
			m.logger.Warn("dropped event for slow subscriber",
				slog.String("subscriber_id", sub.ID),
				slog.String("event_type", string(event.Type)))
		}
	}

	if event.Type != EventHeartbeat {
		m.logger.Debug("event broadcast",
			slog.String("event_type", string(event.Type)),
			slog.String("collection", event.Collection.String()),
			slog.Group("stats",
				slog.Int("delivered", delivered),
				slog.Int("dropped", dropped)))
	}
}

// Subscribe registers a subscriber for collection c (empty for all).
func (m *Manager) Subscribe(c domain.Collection) (*Subscriber, error) {
	subID, err := id.Generate("sub")
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		ID:          subID,
		Collection:  c,
		Events:      make(chan Event, 100),
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	m.mu.Lock()
	m.subscribers[sub.ID] = sub
	total := len(m.subscribers)
	m.mu.Unlock()

	m.logger.Debug("feed subscriber connected",
		slog.String("subscriber_id", subID),
		slog.String("collection", c.String()),
		slog.Int("total_subscribers", total))
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channels.
func (m *Manager) Unsubscribe(subID string) {
	m.mu.Lock()
	sub, ok := m.subscribers[subID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subscribers, subID)
	total := len(m.subscribers)
	m.mu.Unlock()

	close(sub.Done)
	close(sub.Events)

	m.logger.Debug("feed subscriber disconnected",
		slog.String("subscriber_id", subID),
		slog.Duration("duration", time.Since(sub.ConnectedAt)),
		slog.Int("total_subscribers", total))
}

// Listen subscribes to collection c and returns the event channel. The
// subscription is released when ctx is done; the channel is then closed.
func (m *Manager) Listen(ctx context.Context, c domain.Collection) (<-chan Event, error) {
	sub, err := m.Subscribe(c)
	if err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, func() { m.Unsubscribe(sub.ID) })
	return sub.Events, nil
}

// Emit queues an event for broadcasting. Events emitted after shutdown or
// while the queue is full are dropped.
func (m *Manager) Emit(event Event) {
	m.shutdownMu.RLock()
	defer m.shutdownMu.RUnlock()

	if m.shutdown {
		return
	}

	select {
	case m.events <- event:
	default:
		m.logger.Error("feed event queue full, dropping event",
			slog.String("event_type", string(event.Type)),
			slog.String("collection", event.Collection.String()))
	}
}

// SubscriberCount returns the number of registered subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscribers {
		close(sub.Done)
		close(sub.Events)
	}
	m.subscribers = make(map[string]*Subscriber)
}
