package syncer

import "sync/atomic"

// Tracker is the dirty bit telling the trigger logic a sync is needed.
// Repeated MarkChanged calls before the next cycle collapse into one.
type Tracker struct {
	dirty   atomic.Bool
	changes chan struct{}
}

// NewTracker creates a clean tracker.
func NewTracker() *Tracker {
	return &Tracker{changes: make(chan struct{}, 1)}
}

// MarkChanged records that local data changed.
func (t *Tracker) MarkChanged() {
	t.dirty.Store(true)
	select {
	case t.changes <- struct{}{}:
	default:
	}
}

// IsDirty reports whether changes are waiting for a sync.
func (t *Tracker) IsDirty() bool {
	return t.dirty.Load()
}

// Clear resets the dirty bit. The engine calls it when a cycle starts, so
// changes made during the cycle mark the tracker again.
func (t *Tracker) Clear() {
	t.dirty.Store(false)
}

// Changes signals after MarkChanged. Signals coalesce.
func (t *Tracker) Changes() <-chan struct{} {
	return t.changes
}
