// Package syncstate holds the sync status shown by UI indicators. It is
// driven by sync cycle outcomes and the pending-change count and performs
// no I/O of its own.
package syncstate

import (
	"sync"
	"time"
)

// Status is the activity of the sync engine.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// Health summarizes whether local data matches the remote.
type Health string

const (
	// HealthUnknown means no sync has completed yet.
	HealthUnknown Health = "unknown"
	// HealthPending means local changes are waiting to be pushed.
	HealthPending Health = "pending"
	// HealthConflict means the last cycle kept local versions over remote ones.
	HealthConflict Health = "conflict"
	// HealthSynced means nothing is pending and the last cycle had no conflicts.
	HealthSynced Health = "synced"
)

// Snapshot is the published state.
type Snapshot struct {
	Status        Status    `json:"status"`
	Health        Health    `json:"health"`
	LastSync      time.Time `json:"last_sync,omitzero"`
	Pending       int       `json:"pending"`
	LastConflicts int       `json:"last_conflicts"`
	LastSynced    int       `json:"last_synced"`
	LastFailed    int       `json:"last_failed"`
	LastError     string    `json:"last_error,omitempty"`
}

// CycleOutcome is what a finished sync cycle reports.
type CycleOutcome struct {
	FinishedAt time.Time
	Synced     int
	Failed     int
	Conflicts  int
	Pending    int
}

// Publisher keeps the current Snapshot and fans changes out to subscribers.
// Subscribers receive the latest snapshot; intermediate ones may be skipped.
type Publisher struct {
	mu        sync.Mutex
	state     Snapshot
	completed bool
	subs      map[chan Snapshot]struct{}
}

// New creates a publisher in the idle/unknown state.
func New() *Publisher {
	p := &Publisher{subs: make(map[chan Snapshot]struct{})}
	p.state = Snapshot{Status: StatusIdle, Health: HealthUnknown}
	return p
}

// Restore seeds the last-sync time from the persisted sync log, so a
// restarted process does not report unknown health.
func (p *Publisher) Restore(lastSync time.Time, pending int) {
	p.update(func(s *Snapshot) {
		s.LastSync = lastSync
		s.Pending = pending
		p.completed = !lastSync.IsZero()
	})
}

// CycleStarted marks a cycle in flight.
func (p *Publisher) CycleStarted() {
	p.update(func(s *Snapshot) {
		s.Status = StatusSyncing
	})
}

// CycleFinished records a completed cycle.
func (p *Publisher) CycleFinished(o CycleOutcome) {
	p.update(func(s *Snapshot) {
		s.Status = StatusIdle
		s.LastSync = o.FinishedAt
		s.LastSynced = o.Synced
		s.LastFailed = o.Failed
		s.LastConflicts = o.Conflicts
		s.Pending = o.Pending
		s.LastError = ""
		p.completed = true
	})
}

// CycleFailed records a cycle that could not complete. The last successful
// sync time is kept.
func (p *Publisher) CycleFailed(err error, pending int) {
	p.update(func(s *Snapshot) {
		s.Status = StatusError
		s.Pending = pending
		if err != nil {
			s.LastError = err.Error()
		}
	})
}

// SetPending updates the unsynced record count after local writes.
func (p *Publisher) SetPending(n int) {
	p.update(func(s *Snapshot) {
		s.Pending = n
	})
}

// Snapshot returns the current state.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subscribe returns a channel receiving the current snapshot and every later
// one, and a function that ends the subscription.
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	p.mu.Lock()
	p.subs[ch] = struct{}{}
	ch <- p.state
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			p.mu.Unlock()
			close(ch)
		})
	}
}

func (p *Publisher) update(fn func(*Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.state
	fn(&p.state)
	p.state.Health = p.health()
	if p.state == prev {
		return
	}
	for ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- p.state
	}
}

// health derives the classification. Pending local work outranks a
// conflict from the previous cycle.
func (p *Publisher) health() Health {
	switch {
	case !p.completed:
		return HealthUnknown
	case p.state.Pending > 0:
		return HealthPending
	case p.state.LastConflicts > 0:
		return HealthConflict
	default:
		return HealthSynced
	}
}
