package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Collection identifies one syncable entity collection. The string value is
// the wire name used by the remote store and must not change.
type Collection string

// Syncable collections. The stats cache is local-only and not listed here.
const (
	CollectionUsers          Collection = "users"
	CollectionGroupMembers   Collection = "group_members"
	CollectionGroups         Collection = "groups"
	CollectionCategories     Collection = "categories"
	CollectionExpenses       Collection = "expenses"
	CollectionSharedExpenses Collection = "shared_expenses"
)

// syncOrder is the order collections are reconciled in. Memberships come
// before groups so groups joined on another device are discovered in the
// same cycle, and categories come before the expenses that reference them.
var syncOrder = []Collection{
	CollectionUsers,
	CollectionGroupMembers,
	CollectionGroups,
	CollectionCategories,
	CollectionExpenses,
	CollectionSharedExpenses,
}

// scopeFields names the wire fields holding the owner and group of a record.
var scopeFields = map[Collection][2]string{
	CollectionUsers:          {"id", ""},
	CollectionGroupMembers:   {"user_id", "group_id"},
	CollectionGroups:         {"owner_id", "id"},
	CollectionCategories:     {"user_id", "group_id"},
	CollectionExpenses:       {"user_id", "group_id"},
	CollectionSharedExpenses: {"created_by", "group_id"},
}

// Collections returns every syncable collection in sync order.
func Collections() []Collection {
	out := make([]Collection, len(syncOrder))
	copy(out, syncOrder)
	return out
}

// ParseCollection converts a wire name into a Collection.
func ParseCollection(s string) (Collection, error) {
	c := Collection(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown collection %q", s)
	}
	return c, nil
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	_, ok := scopeFields[c]
	return ok
}

func (c Collection) String() string {
	return string(c)
}

// ScopeFields returns the wire field names of the owner and group columns.
// Either may be empty when the collection has no such scope.
func (c Collection) ScopeFields() (owner, group string) {
	f := scopeFields[c]
	return f[0], f[1]
}

// Header is the part of a wire record every component needs without knowing
// the concrete entity type.
type Header struct {
	ID        string
	UpdatedAt time.Time
	DeletedAt *time.Time
	Scope     Scope
}

// DecodeHeader extracts the envelope and scope of a wire record of
// collection c.
func DecodeHeader(c Collection, raw json.RawMessage) (Header, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Header{}, fmt.Errorf("decode %s record: %w", c, err)
	}

	var h Header
	if err := decodeField(fields, "id", &h.ID); err != nil {
		return Header{}, err
	}
	if h.ID == "" {
		return Header{}, fmt.Errorf("decode %s record: missing id", c)
	}
	if err := decodeField(fields, "updated_at", &h.UpdatedAt); err != nil {
		return Header{}, err
	}
	if err := decodeField(fields, "deleted_at", &h.DeletedAt); err != nil {
		return Header{}, err
	}

	ownerField, groupField := c.ScopeFields()
	if ownerField != "" {
		if err := decodeField(fields, ownerField, &h.Scope.OwnerID); err != nil {
			return Header{}, err
		}
	}
	if groupField != "" {
		if err := decodeField(fields, groupField, &h.Scope.GroupID); err != nil {
			return Header{}, err
		}
	}
	return h, nil
}

func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode field %s: %w", name, err)
	}
	return nil
}
