package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/id"
	"github.com/pocketledger/ledgersync/internal/store"
	"github.com/pocketledger/ledgersync/internal/store/sqlite"
)

// ExpenseService records transactions.
type ExpenseService struct {
	base
}

// NewExpenseService creates a new expense service.
func NewExpenseService(st *sqlite.Store, notifier ChangeNotifier, logger *slog.Logger) *ExpenseService {
	return &ExpenseService{base: newBase(st, notifier, logger)}
}

// ExpenseInput holds the editable fields of a transaction.
type ExpenseInput struct {
	Amount      decimal.Decimal
	Type        domain.TransactionType
	CategoryID  string
	GroupID     string
	Description string
	Date        time.Time
	Notes       string
}

func (in ExpenseInput) apply(e *domain.Expense) {
	e.Amount = in.Amount
	e.Type = in.Type
	e.CategoryID = in.CategoryID
	e.GroupID = in.GroupID
	e.Description = strings.TrimSpace(in.Description)
	e.Date = in.Date.UTC()
	e.Notes = strings.TrimSpace(in.Notes)
}

// Create records a transaction for userID.
func (s *ExpenseService) Create(ctx context.Context, userID string, in ExpenseInput) (*domain.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := &domain.Expense{
		Syncable: domain.Syncable{ID: id.New()},
		UserID:   userID,
	}
	in.apply(e)
	if err := s.check(ctx, userID, e); err != nil {
		return nil, err
	}

	if err := s.store.Expenses.Insert(ctx, e); err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("expense created",
		"expense_id", e.ID,
		"user_id", userID,
		"type", e.Type,
		"amount", e.Amount.String(),
	)
	return e, nil
}

// Get returns a transaction visible to the user.
func (s *ExpenseService) Get(ctx context.Context, userID, expenseID string) (*domain.Expense, error) {
	e, err := s.store.Expenses.Get(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Update replaces the editable fields of a transaction. Only its author may
// edit it.
func (s *ExpenseService) Update(ctx context.Context, userID, expenseID string, in ExpenseInput) (*domain.Expense, error) {
	current, err := s.owned(ctx, userID, expenseID)
	if err != nil {
		return nil, err
	}

	next := *current
	in.apply(&next)
	if err := s.check(ctx, userID, &next); err != nil {
		return nil, err
	}

	after, err := s.store.Expenses.Update(ctx, expenseID, func(e *domain.Expense) error {
		in.apply(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)
	return after, nil
}

// Delete soft-deletes a transaction.
func (s *ExpenseService) Delete(ctx context.Context, userID, expenseID string) error {
	if _, err := s.owned(ctx, userID, expenseID); err != nil {
		return err
	}
	if err := s.store.Expenses.SoftDelete(ctx, expenseID); err != nil {
		return err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("expense deleted", "expense_id", expenseID, "user_id", userID)
	return nil
}

// List returns the user's own transactions in period (YYYY-MM, or all-time
// when empty), newest first.
func (s *ExpenseService) List(ctx context.Context, userID, period string) ([]*domain.Expense, error) {
	if period != "" && period != domain.PeriodAllTime {
		if _, err := time.Parse("2006-01", period); err != nil {
			return nil, domainerrors.Validationf("invalid period %q", period)
		}
	}

	out, err := s.store.Expenses.Query(ctx, expensesQuery(userID, period))
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b *domain.Expense) int {
		return b.Date.Compare(a.Date)
	})
	return out, nil
}

// Watch returns a live query over the user's transactions in period.
func (s *ExpenseService) Watch(ctx context.Context, userID, period string) (*store.LiveQuery[domain.Expense], error) {
	return s.store.Expenses.Watch(ctx, expensesQuery(userID, period))
}

func expensesQuery(userID, period string) store.Query[domain.Expense] {
	q := store.Query[domain.Expense]{
		Scope: domain.ScopeFilter{UserID: userID},
		Key:   "expenses:" + userID + ":" + period,
	}
	q.Where = func(e *domain.Expense) bool {
		if e.UserID != userID {
			return false
		}
		return period == "" || period == domain.PeriodAllTime || e.Period() == period
	}
	return q
}

func (s *ExpenseService) owned(ctx context.Context, userID, expenseID string) (*domain.Expense, error) {
	e, err := s.store.Expenses.Get(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, domainerrors.Forbidden("only the author can change this transaction")
	}
	return e, nil
}

// check validates e and its references.
func (s *ExpenseService) check(ctx context.Context, userID string, e *domain.Expense) error {
	if err := s.validator.Validate(e); err != nil {
		return err
	}
	if e.GroupID != "" {
		if _, err := s.requireMember(ctx, userID, e.GroupID); err != nil {
			return err
		}
	}
	if e.CategoryID != "" {
		cat, err := s.store.Categories.Get(ctx, e.CategoryID)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, userID, cat); err != nil {
			return err
		}
		if cat.Type != e.Type {
			return domainerrors.Validationf("category has type %s, transaction is %s", cat.Type, e.Type)
		}
	}
	return nil
}
