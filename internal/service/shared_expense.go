package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/id"
	"github.com/pocketledger/ledgersync/internal/store"
	"github.com/pocketledger/ledgersync/internal/store/sqlite"
)

// SharedExpenseService splits transactions between group members.
type SharedExpenseService struct {
	base
}

// NewSharedExpenseService creates a new shared expense service.
func NewSharedExpenseService(st *sqlite.Store, notifier ChangeNotifier, logger *slog.Logger) *SharedExpenseService {
	return &SharedExpenseService{base: newBase(st, notifier, logger)}
}

// SharedExpenseInput describes a split of an existing transaction.
type SharedExpenseInput struct {
	ExpenseID string
	GroupID   string
	Method    domain.SplitMethod
	Shares    []Share
}

// Create splits the transaction between group members. The creator and every
// participant must belong to the group.
func (s *SharedExpenseService) Create(ctx context.Context, userID string, in SharedExpenseInput) (*domain.SharedExpense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, userID, in.GroupID); err != nil {
		return nil, err
	}

	expense, err := s.store.Expenses.Get(ctx, in.ExpenseID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, expense); err != nil {
		return nil, err
	}
	if expense.GroupID != "" && expense.GroupID != in.GroupID {
		return nil, domainerrors.Validation("transaction belongs to another group")
	}

	for _, sh := range in.Shares {
		if _, err := s.requireMember(ctx, sh.UserID, in.GroupID); err != nil {
			return nil, domainerrors.Validationf("participant %s is not a member of the group", sh.UserID)
		}
	}
	participants, err := Split(in.Method, expense.Amount, in.Shares)
	if err != nil {
		return nil, err
	}

	shared := &domain.SharedExpense{
		Syncable:     domain.Syncable{ID: id.New()},
		ExpenseID:    expense.ID,
		GroupID:      in.GroupID,
		CreatedBy:    userID,
		SplitMethod:  in.Method,
		Participants: participants,
	}
	if err := s.validator.Validate(shared); err != nil {
		return nil, err
	}
	if err := s.store.SharedExpenses.Insert(ctx, shared); err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("shared expense created",
		"shared_expense_id", shared.ID,
		"expense_id", expense.ID,
		"group_id", in.GroupID,
		"method", in.Method,
		"participants", len(participants),
	)
	return shared, nil
}

// Settle marks participantID's share as paid. The participant or the
// creator may settle; settling twice is a no-op.
func (s *SharedExpenseService) Settle(ctx context.Context, userID, sharedID, participantID string) (*domain.SharedExpense, error) {
	shared, err := s.store.SharedExpenses.Get(ctx, sharedID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, userID, shared.GroupID); err != nil {
		return nil, err
	}
	p := shared.Participant(participantID)
	if p == nil {
		return nil, domainerrors.NotFoundf("%s is not a participant", participantID)
	}
	if userID != participantID && userID != shared.CreatedBy {
		return nil, domainerrors.Forbidden("only the participant or the creator can settle a share")
	}
	if p.Settled {
		return shared, nil
	}

	updated, err := s.store.SharedExpenses.Update(ctx, sharedID, func(se *domain.SharedExpense) error {
		if p := se.Participant(participantID); p != nil {
			p.Settled = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("share settled",
		"shared_expense_id", sharedID,
		"participant_id", participantID,
		"fully_settled", updated.FullySettled(),
	)
	return updated, nil
}

// ListForGroup returns the group's shared expenses.
func (s *SharedExpenseService) ListForGroup(ctx context.Context, userID, groupID string) ([]*domain.SharedExpense, error) {
	if _, err := s.requireMember(ctx, userID, groupID); err != nil {
		return nil, err
	}
	return s.store.SharedExpenses.Query(ctx, store.Query[domain.SharedExpense]{
		Scope: domain.ScopeFilter{GroupIDs: []string{groupID}},
		Where: func(se *domain.SharedExpense) bool { return se.GroupID == groupID },
		Key:   "shared:" + groupID,
	})
}

// Owed returns what userID still owes others across all groups. Shares of
// expenses the user created are not debts.
func (s *SharedExpenseService) Owed(ctx context.Context, userID string) (decimal.Decimal, error) {
	scope, err := s.store.ScopeFor(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	shared, err := s.store.SharedExpenses.Query(ctx, store.Query[domain.SharedExpense]{Scope: scope})
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, se := range shared {
		if se.CreatedBy == userID {
			continue
		}
		if p := se.Participant(userID); p != nil && !p.Settled {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}
