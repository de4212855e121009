package domain

import "time"

// Group is a set of users sharing expenses. InviteCode can be regenerated;
// joining requires AllowNewMembers.
type Group struct {
	Syncable
	Name            string `json:"name" validate:"required,max=64"`
	OwnerID         string `json:"owner_id" validate:"required"`
	Description     string `json:"description,omitempty" validate:"max=512"`
	InviteCode      string `json:"invite_code"`
	AllowNewMembers bool   `json:"allow_new_members"`
	Color           string `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

// Scope implements Record.
func (g *Group) Scope() Scope {
	return Scope{OwnerID: g.OwnerID, GroupID: g.ID}
}

// GroupRole is a member's permission level within a group.
type GroupRole string

const (
	RoleOwner  GroupRole = "owner"
	RoleAdmin  GroupRole = "admin"
	RoleMember GroupRole = "member"
)

// GroupMember links a user to a group.
type GroupMember struct {
	Syncable
	GroupID  string    `json:"group_id" validate:"required"`
	UserID   string    `json:"user_id" validate:"required"`
	Role     GroupRole `json:"role" validate:"required,oneof=owner admin member"`
	JoinedAt time.Time `json:"joined_at"`
}

// Scope implements Record.
func (m *GroupMember) Scope() Scope {
	return Scope{OwnerID: m.UserID, GroupID: m.GroupID}
}

// CanManage reports whether the member may change group settings.
func (m *GroupMember) CanManage() bool {
	return m.Role == RoleOwner || m.Role == RoleAdmin
}
