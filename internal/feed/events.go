// Package feed broadcasts per-collection change events to subscribers. It is
// the change stream behind the development remote and the realtime
// listener's in-process source.
package feed

import (
	"encoding/json"

	"github.com/pocketledger/ledgersync/internal/domain"
)

// EventType is the kind of change carried by an Event.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"

	// EventHeartbeat keeps idle connections alive and carries no record.
	EventHeartbeat EventType = "heartbeat"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventInsert, EventUpdate, EventDelete, EventHeartbeat:
		return true
	default:
		return false
	}
}

// Event is one change notification as sent on the wire.
type Event struct {
	Type       EventType         `json:"event_type"`
	Collection domain.Collection `json:"collection,omitempty"`
	Record     json.RawMessage   `json:"record,omitempty"`
}

// NewHeartbeatEvent creates a keepalive event.
func NewHeartbeatEvent() Event {
	return Event{Type: EventHeartbeat}
}

// NewChangeEvent creates an insert, update or delete event for a record.
func NewChangeEvent(t EventType, c domain.Collection, record json.RawMessage) Event {
	return Event{Type: t, Collection: c, Record: record}
}
