package service

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pocketledger/ledgersync/internal/domain"
	"github.com/pocketledger/ledgersync/internal/statscache"
	"github.com/pocketledger/ledgersync/internal/store/sqlite"
)

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) OnMutation(context.Context) {
	n.calls.Add(1)
}

type testServices struct {
	store      *sqlite.Store
	cache      *statscache.Cache
	notifier   *countingNotifier
	categories *CategoryService
	expenses   *ExpenseService
	groups     *GroupService
	shared     *SharedExpenseService
	stats      *StatsService
	profiles   *ProfileService
}

func setupServices(t *testing.T) *testServices {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := sqlite.Open(sqlite.MemoryPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cache, err := statscache.Open("", time.Hour, logger)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	n := &countingNotifier{}
	return &testServices{
		store:      st,
		cache:      cache,
		notifier:   n,
		categories: NewCategoryService(st, n, logger),
		expenses:   NewExpenseService(st, n, logger),
		groups:     NewGroupService(st, n, logger),
		shared:     NewSharedExpenseService(st, n, logger),
		stats:      NewStatsService(st, cache, logger),
		profiles:   NewProfileService(st, n, logger),
	}
}

func (ts *testServices) category(t *testing.T, userID, name string, typ domain.TransactionType, parentID string) *domain.Category {
	t.Helper()
	c, err := ts.categories.Create(context.Background(), userID, CategoryInput{
		Name:     name,
		Type:     typ,
		ParentID: parentID,
	})
	require.NoError(t, err)
	return c
}

func (ts *testServices) expense(t *testing.T, userID string, amount string, typ domain.TransactionType, categoryID string, date time.Time) *domain.Expense {
	t.Helper()
	e, err := ts.expenses.Create(context.Background(), userID, ExpenseInput{
		Amount:     decimal.RequireFromString(amount),
		Type:       typ,
		CategoryID: categoryID,
		Date:       date,
	})
	require.NoError(t, err)
	return e
}

var may2024 = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
