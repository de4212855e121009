// Package service implements the application operations of the ledger:
// categories, expenses, groups, shared expenses, profiles and stats. Every
// write goes through the local store and then notifies the sync trigger.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/store/sqlite"
	"github.com/pocketledger/ledgersync/internal/validation"
)

// ChangeNotifier is told about every successful local write.
// syncer.Coordinator implements it.
type ChangeNotifier interface {
	OnMutation(ctx context.Context)
}

type noopNotifier struct{}

func (noopNotifier) OnMutation(context.Context) {}

// base carries the dependencies shared by every service.
type base struct {
	store     *sqlite.Store
	validator *validation.Validator
	notifier  ChangeNotifier
	logger    *slog.Logger
	now       func() time.Time
}

func newBase(st *sqlite.Store, notifier ChangeNotifier, logger *slog.Logger) base {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		store:     st,
		validator: validation.New(),
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// authorize fails with Forbidden unless the record is within the user's
// scope: owned by the user or belonging to one of the user's groups.
func (b *base) authorize(ctx context.Context, userID string, rec domain.Record) error {
	scope, err := b.store.ScopeFor(ctx, userID)
	if err != nil {
		return err
	}
	if !scope.Matches(rec.Scope()) {
		return domainerrors.Forbidden("record is outside the user's scope")
	}
	return nil
}

// requireMember returns the user's membership of groupID.
func (b *base) requireMember(ctx context.Context, userID, groupID string) (*domain.GroupMember, error) {
	members, err := b.store.GroupMembers.Query(ctx, membersQuery(groupID, userID))
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, domainerrors.Forbidden("not a member of this group")
	}
	return members[0], nil
}
