package remote

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/feed"
)

// Emitter receives change events for every accepted upsert.
type Emitter interface {
	Emit(event feed.Event)
}

type memRecord struct {
	header domain.Header
	data   json.RawMessage
	seq    int64
}

// Memory is an in-process remote store. It backs the development server
// and tests, and can be told to fail to simulate an unreachable backend.
type Memory struct {
	mu      sync.RWMutex
	records map[domain.Collection]map[string]*memRecord
	seq     int64
	upserts int
	emitter Emitter

	unavailable error
	failing     map[string]error
}

// NewMemory creates an empty in-memory remote. emitter may be nil.
func NewMemory(emitter Emitter) *Memory {
	return &Memory{
		records: make(map[domain.Collection]map[string]*memRecord),
		emitter: emitter,
		failing: make(map[string]error),
	}
}

// SetUnavailable makes every call fail with err until called with nil.
func (m *Memory) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = err
}

// FailRecord makes upserts of the record with the given id fail with err.
// A nil err clears the failure.
func (m *Memory) FailRecord(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, id)
		return
	}
	m.failing[id] = err
}

// Upsert stores the record keyed by id and emits an insert, update or
// delete event.
func (m *Memory) Upsert(_ context.Context, c domain.Collection, record json.RawMessage) error {
	if !c.Valid() {
		return domainerrors.Validationf("unknown collection %q", c)
	}
	h, err := domain.DecodeHeader(c, record)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "invalid record")
	}

	m.mu.Lock()
	if m.unavailable != nil {
		err := m.unavailable
		m.mu.Unlock()
		return domainerrors.RemoteUnavailable(err, "remote unavailable")
	}
	if ferr, ok := m.failing[h.ID]; ok {
		m.mu.Unlock()
		return domainerrors.RemoteUnavailable(ferr, "upsert "+h.ID+" failed")
	}

	byID, ok := m.records[c]
	if !ok {
		byID = make(map[string]*memRecord)
		m.records[c] = byID
	}
	_, existed := byID[h.ID]
	m.seq++
	m.upserts++
	data := slices.Clone(record)
	byID[h.ID] = &memRecord{header: h, data: data, seq: m.seq}
	emitter := m.emitter
	m.mu.Unlock()

	if emitter != nil {
		eventType := feed.EventInsert
		switch {
		case h.DeletedAt != nil:
			eventType = feed.EventDelete
		case existed:
			eventType = feed.EventUpdate
		}
		emitter.Emit(feed.NewChangeEvent(eventType, c, data))
	}
	return nil
}

// QueryUpdatedSince returns matching records ordered by updated_at.
func (m *Memory) QueryUpdatedSince(_ context.Context, c domain.Collection, scope domain.ScopeFilter, since time.Time) ([]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unavailable != nil {
		return nil, domainerrors.RemoteUnavailable(m.unavailable, "remote unavailable")
	}

	var matched []*memRecord
	for _, rec := range m.records[c] {
		if !rec.header.UpdatedAt.After(since) {
			continue
		}
		if !scope.Matches(rec.header.Scope) {
			continue
		}
		matched = append(matched, rec)
	}
	slices.SortFunc(matched, func(a, b *memRecord) int {
		if cmp := a.header.UpdatedAt.Compare(b.header.UpdatedAt); cmp != 0 {
			return cmp
		}
		return int(a.seq - b.seq)
	})

	out := make([]json.RawMessage, 0, len(matched))
	for _, rec := range matched {
		out = append(out, slices.Clone(rec.data))
	}
	return out, nil
}

// Ping fails only while the remote is marked unavailable.
func (m *Memory) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable != nil {
		return domainerrors.RemoteUnavailable(m.unavailable, "remote unavailable")
	}
	return nil
}

// Get returns the stored record.
func (m *Memory) Get(c domain.Collection, id string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[c][id]
	if !ok {
		return nil, false
	}
	return slices.Clone(rec.data), true
}

// Len returns the number of records stored in collection c.
func (m *Memory) Len(c domain.Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[c])
}

// Upserts returns the number of accepted upserts since creation.
func (m *Memory) Upserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts
}

var _ Adapter = (*Memory)(nil)
