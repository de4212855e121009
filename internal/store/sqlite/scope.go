package sqlite

import (
	"context"
	"slices"

	"github.com/pocketledger/ledgersync/internal/domain"
	"github.com/pocketledger/ledgersync/internal/store"
)

// WatchScope delivers userID's scope filter, then a new one every time the
// set of groups the user belongs to or owns changes. The channel holds at
// most one pending value and is closed when ctx is done.
func (s *Store) WatchScope(ctx context.Context, userID string) (<-chan domain.ScopeFilter, error) {
	ctx, cancel := context.WithCancel(ctx)

	own := domain.ScopeFilter{UserID: userID}
	members, err := s.GroupMembers.Watch(ctx, store.Query[domain.GroupMember]{Scope: own})
	if err != nil {
		cancel()
		return nil, err
	}
	groups, err := s.Groups.Watch(ctx, store.Query[domain.Group]{Scope: own})
	if err != nil {
		members.Close()
		cancel()
		return nil, err
	}

	out := make(chan domain.ScopeFilter, 1)
	go func() {
		defer close(out)
		defer cancel()
		defer members.Close()
		defer groups.Close()

		var last []string
		sent := false
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-members.Updates():
				if !ok {
					return
				}
			case _, ok := <-groups.Updates():
				if !ok {
					return
				}
			}

			scope, err := s.ScopeFor(ctx, userID)
			if err != nil {
				s.logger.Error("recompute sync scope failed",
					"user_id", userID,
					"error", err,
				)
				continue
			}
			if sent && slices.Equal(last, scope.GroupIDs) {
				continue
			}
			last, sent = scope.GroupIDs, true

			select {
			case <-out:
			default:
			}
			out <- scope
		}
	}()
	return out, nil
}
