package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pocketledger/ledgersync/internal/color"
	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/id"
	"github.com/pocketledger/ledgersync/internal/normalize"
	"github.com/pocketledger/ledgersync/internal/store"
	"github.com/pocketledger/ledgersync/internal/store/sqlite"
)

// GroupService manages groups and their memberships.
type GroupService struct {
	base
}

// NewGroupService creates a new group service.
func NewGroupService(st *sqlite.Store, notifier ChangeNotifier, logger *slog.Logger) *GroupService {
	return &GroupService{base: newBase(st, notifier, logger)}
}

// GroupInput holds the fields of a new group.
type GroupInput struct {
	Name            string
	Description     string
	Color           string
	AllowNewMembers bool
}

// GroupUpdate changes group settings. Nil fields are left as they are.
type GroupUpdate struct {
	Name            *string
	Description     *string
	Color           *string
	AllowNewMembers *bool
}

func membersQuery(groupID, userID string) store.Query[domain.GroupMember] {
	return store.Query[domain.GroupMember]{
		Scope: domain.ScopeFilter{GroupIDs: []string{groupID}},
		Where: func(m *domain.GroupMember) bool {
			return m.GroupID == groupID && (userID == "" || m.UserID == userID)
		},
		Key: "members:" + groupID + ":" + userID,
	}
}

// Create creates a group owned by ownerID, together with the owner's
// membership and a fresh invite code.
func (s *GroupService) Create(ctx context.Context, ownerID string, in GroupInput) (*domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	code, err := id.InviteCode()
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "generate invite code")
	}
	group := &domain.Group{
		Syncable:        domain.Syncable{ID: id.New()},
		Name:            normalize.Name(in.Name),
		OwnerID:         ownerID,
		Description:     strings.TrimSpace(in.Description),
		InviteCode:      code,
		AllowNewMembers: in.AllowNewMembers,
		Color:           color.Or(strings.TrimSpace(in.Color), in.Name),
	}
	if err := s.validator.Validate(group); err != nil {
		return nil, err
	}

	if err := s.store.Groups.Insert(ctx, group); err != nil {
		return nil, err
	}
	if _, err := s.addMember(ctx, group.ID, ownerID, domain.RoleOwner); err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("group created",
		"group_id", group.ID,
		"owner_id", ownerID,
	)
	return group, nil
}

// Get returns a group the user belongs to.
func (s *GroupService) Get(ctx context.Context, userID, groupID string) (*domain.Group, error) {
	if _, err := s.requireMember(ctx, userID, groupID); err != nil {
		return nil, err
	}
	return s.store.Groups.Get(ctx, groupID)
}

// Update changes group settings. Only owners and admins may do this.
func (s *GroupService) Update(ctx context.Context, userID, groupID string, upd GroupUpdate) (*domain.Group, error) {
	if err := s.requireManager(ctx, userID, groupID); err != nil {
		return nil, err
	}

	group, err := s.store.Groups.Update(ctx, groupID, func(g *domain.Group) error {
		if upd.Name != nil {
			g.Name = normalize.Name(*upd.Name)
		}
		if upd.Description != nil {
			g.Description = strings.TrimSpace(*upd.Description)
		}
		if upd.Color != nil {
			g.Color = strings.TrimSpace(*upd.Color)
		}
		if upd.AllowNewMembers != nil {
			g.AllowNewMembers = *upd.AllowNewMembers
		}
		return s.validator.Validate(g)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)
	return group, nil
}

// RegenerateInviteCode replaces the invite code. The old code stops working.
func (s *GroupService) RegenerateInviteCode(ctx context.Context, userID, groupID string) (*domain.Group, error) {
	if err := s.requireManager(ctx, userID, groupID); err != nil {
		return nil, err
	}
	code, err := id.InviteCode()
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "generate invite code")
	}

	group, err := s.store.Groups.Update(ctx, groupID, func(g *domain.Group) error {
		g.InviteCode = code
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("invite code regenerated", "group_id", groupID, "user_id", userID)
	return group, nil
}

// JoinByInviteCode adds the user to the group holding code. Joining a group
// the user already belongs to returns the existing membership. The group
// must be in the local store, which is the case once it has been synced.
func (s *GroupService) JoinByInviteCode(ctx context.Context, userID, code string) (*domain.GroupMember, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domainerrors.Validation("invite code is required")
	}

	groups, err := s.store.Groups.Query(ctx, store.Query[domain.Group]{
		Where: func(g *domain.Group) bool { return g.InviteCode == code },
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, domainerrors.NotFound("no group with this invite code")
	}
	group := groups[0]

	if existing, err := s.requireMember(ctx, userID, group.ID); err == nil {
		return existing, nil
	}
	if !group.AllowNewMembers {
		return nil, domainerrors.Forbidden("group is not accepting new members")
	}

	member, err := s.addMember(ctx, group.ID, userID, domain.RoleMember)
	if err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("joined group",
		"group_id", group.ID,
		"user_id", userID,
	)
	return member, nil
}

// Leave removes the user from the group. The owner may leave only when no
// other members remain, in which case the group is deleted.
func (s *GroupService) Leave(ctx context.Context, userID, groupID string) error {
	member, err := s.requireMember(ctx, userID, groupID)
	if err != nil {
		return err
	}

	if member.Role == domain.RoleOwner {
		members, err := s.store.GroupMembers.Query(ctx, membersQuery(groupID, ""))
		if err != nil {
			return err
		}
		if len(members) > 1 {
			return domainerrors.ConstraintViolation("the owner cannot leave a group that still has members")
		}
		if err := s.store.Groups.SoftDelete(ctx, groupID); err != nil {
			return err
		}
	}

	if err := s.store.GroupMembers.SoftDelete(ctx, member.ID); err != nil {
		return err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("left group",
		"group_id", groupID,
		"user_id", userID,
		"role", member.Role,
	)
	return nil
}

// ListForUser returns the live groups the user belongs to.
func (s *GroupService) ListForUser(ctx context.Context, userID string) ([]*domain.Group, error) {
	ids, err := s.store.GroupIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups := make([]*domain.Group, 0, len(ids))
	for _, gid := range ids {
		g, err := s.store.Groups.Get(ctx, gid)
		if domainerrors.Is(err, domainerrors.ErrNotFound) {
			// Membership synced before its group.
			continue
		}
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Members lists the group's members. The caller must belong to the group.
func (s *GroupService) Members(ctx context.Context, userID, groupID string) ([]*domain.GroupMember, error) {
	if _, err := s.requireMember(ctx, userID, groupID); err != nil {
		return nil, err
	}
	return s.store.GroupMembers.Query(ctx, membersQuery(groupID, ""))
}

func (s *GroupService) requireManager(ctx context.Context, userID, groupID string) error {
	member, err := s.requireMember(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if !member.CanManage() {
		return domainerrors.Forbidden("only owners and admins can manage the group")
	}
	return nil
}

func (s *GroupService) addMember(ctx context.Context, groupID, userID string, role domain.GroupRole) (*domain.GroupMember, error) {
	member := &domain.GroupMember{
		Syncable: domain.Syncable{ID: id.New()},
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		JoinedAt: s.now().UTC(),
	}
	if err := s.validator.Validate(member); err != nil {
		return nil, err
	}
	if err := s.store.GroupMembers.Insert(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}
