package domain

import "time"

// Syncable provides the envelope shared by every record that participates in
// synchronization. It is embedded in each entity type.
type Syncable struct {
	ID        string     `json:"id" validate:"required"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at"`

	// Synced is local-only state and never leaves the device.
	Synced bool `json:"-"`
}

// Envelope returns the embedded envelope. Entities satisfy Record through it.
func (s *Syncable) Envelope() *Syncable {
	return s
}

// InitTimestamps sets both CreatedAt and UpdatedAt to now.
// Call this when creating a new entity.
func (s *Syncable) InitTimestamps(now time.Time) {
	now = now.UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
}

// Touch updates UpdatedAt. Call this whenever the underlying entity changes.
func (s *Syncable) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// IsDeleted returns true if this entity is a tombstone.
func (s *Syncable) IsDeleted() bool {
	return s.DeletedAt != nil
}

// MarkDeleted turns the entity into a tombstone. UpdatedAt moves with it so
// the deletion is picked up by timestamp-based pulls.
func (s *Syncable) MarkDeleted(now time.Time) {
	now = now.UTC()
	s.DeletedAt = &now
	s.UpdatedAt = now
}

// Scope identifies who a record belongs to: an owning user, a group, or both.
type Scope struct {
	OwnerID string
	GroupID string
}

// Record is implemented by pointers to every syncable entity.
type Record interface {
	Envelope() *Syncable
	Scope() Scope
}

// ScopeFilter selects records visible to one user: records the user owns
// plus records belonging to any of GroupIDs. The zero value matches everything.
type ScopeFilter struct {
	UserID   string
	GroupIDs []string
}

// IsZero reports whether the filter places no restriction.
func (f ScopeFilter) IsZero() bool {
	return f.UserID == "" && len(f.GroupIDs) == 0
}

// Matches reports whether a record with scope s passes the filter.
func (f ScopeFilter) Matches(s Scope) bool {
	if f.IsZero() {
		return true
	}
	if f.UserID != "" && s.OwnerID == f.UserID {
		return true
	}
	if s.GroupID == "" {
		return false
	}
	for _, g := range f.GroupIDs {
		if g == s.GroupID {
			return true
		}
	}
	return false
}
