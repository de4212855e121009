package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
)

func TestExpense_Create(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	food := ts.category(t, "u1", "Food", domain.TypeExpense, "")
	e := ts.expense(t, "u1", "12.50", domain.TypeExpense, food.ID, may2024)
	assert.Equal(t, "2024-05", e.Period())
	assert.False(t, e.Synced)

	n, err := ts.store.CountUnsynced(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.EqualValues(t, 2, ts.notifier.calls.Load())
}

func TestExpense_CreateValidation(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()
	salary := ts.category(t, "u1", "Salary", domain.TypeIncome, "")

	cases := []struct {
		name string
		in   ExpenseInput
		want error
	}{
		{"zero amount", ExpenseInput{Amount: decimal.Zero, Type: domain.TypeExpense, Date: may2024}, domainerrors.ErrValidation},
		{"missing date", ExpenseInput{Amount: decimal.NewFromInt(1), Type: domain.TypeExpense}, domainerrors.ErrValidation},
		{"unknown category", ExpenseInput{Amount: decimal.NewFromInt(1), Type: domain.TypeExpense, Date: may2024, CategoryID: "nope"}, domainerrors.ErrNotFound},
		{"category type mismatch", ExpenseInput{Amount: decimal.NewFromInt(1), Type: domain.TypeExpense, Date: may2024, CategoryID: salary.ID}, domainerrors.ErrValidation},
		{"foreign group", ExpenseInput{Amount: decimal.NewFromInt(1), Type: domain.TypeExpense, Date: may2024, GroupID: "g-x"}, domainerrors.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ts.expenses.Create(ctx, "u1", tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestExpense_UpdateAndDeleteOwnership(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()
	e := ts.expense(t, "u1", "10", domain.TypeExpense, "", may2024)

	in := ExpenseInput{Amount: decimal.NewFromInt(20), Type: domain.TypeExpense, Date: may2024, Description: " lunch "}
	_, err := ts.expenses.Update(ctx, "u2", e.ID, in)
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)

	updated, err := ts.expenses.Update(ctx, "u1", e.ID, in)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(updated.Amount))
	assert.Equal(t, "lunch", updated.Description)
	assert.True(t, updated.UpdatedAt.After(e.UpdatedAt))

	assert.ErrorIs(t, ts.expenses.Delete(ctx, "u2", e.ID), domainerrors.ErrForbidden)
	require.NoError(t, ts.expenses.Delete(ctx, "u1", e.ID))

	list, err := ts.expenses.List(ctx, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestExpense_ListByPeriod(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	older := ts.expense(t, "u1", "1", domain.TypeExpense, "", may2024)
	newer := ts.expense(t, "u1", "2", domain.TypeExpense, "", may2024.AddDate(0, 0, 5))
	ts.expense(t, "u1", "3", domain.TypeExpense, "", may2024.AddDate(0, 1, 0))
	ts.expense(t, "u2", "4", domain.TypeExpense, "", may2024)

	may, err := ts.expenses.List(ctx, "u1", "2024-05")
	require.NoError(t, err)
	require.Len(t, may, 2)
	assert.Equal(t, newer.ID, may[0].ID)
	assert.Equal(t, older.ID, may[1].ID)

	all, err := ts.expenses.List(ctx, "u1", domain.PeriodAllTime)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = ts.expenses.List(ctx, "u1", "May")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestStats_SummaryAndInvalidation(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	food := ts.category(t, "u1", "Food", domain.TypeExpense, "")
	rent := ts.category(t, "u1", "Rent", domain.TypeExpense, "")
	salary := ts.category(t, "u1", "Salary", domain.TypeIncome, "")
	ts.expense(t, "u1", "10.25", domain.TypeExpense, food.ID, may2024)
	ts.expense(t, "u1", "500", domain.TypeExpense, rent.ID, may2024)
	ts.expense(t, "u1", "1000", domain.TypeIncome, salary.ID, may2024)

	snap, err := ts.stats.Summary(ctx, "u1", "2024-05")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Count)
	assert.True(t, decimal.RequireFromString("510.25").Equal(snap.Totals[domain.TypeExpense]))
	assert.True(t, decimal.RequireFromString("489.75").Equal(snap.Balance))
	require.Len(t, snap.TopCategories, 2)
	assert.Equal(t, rent.ID, snap.TopCategories[0].CategoryID)

	_, ok, err := ts.cache.Get(ctx, "u1", "2024-05")
	require.NoError(t, err)
	assert.True(t, ok, "summary is cached")
	_, err = ts.stats.Summary(ctx, "u1", domain.PeriodAllTime)
	require.NoError(t, err)

	// A new transaction in the month drops the month and all-time.
	ts.expense(t, "u1", "5", domain.TypeExpense, food.ID, may2024)
	for _, p := range []string{"2024-05", domain.PeriodAllTime} {
		_, ok, err := ts.cache.Get(ctx, "u1", p)
		require.NoError(t, err)
		assert.False(t, ok, "period %s", p)
	}

	snap, err = ts.stats.Summary(ctx, "u1", "2024-05")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Count)
}

func TestStats_RemoteChangesInvalidate(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	e := ts.expense(t, "u1", "10", domain.TypeExpense, "", may2024)
	summary := func() *domain.StatsSnapshot {
		t.Helper()
		snap, err := ts.stats.Summary(ctx, "u1", "2024-05")
		require.NoError(t, err)
		return snap
	}
	assert.True(t, decimal.NewFromInt(10).Equal(summary().Totals[domain.TypeExpense]))

	// Acknowledging a push does not change totals and keeps the cache.
	ok, err := ts.store.Expenses.MarkSynced(ctx, e.ID, e.UpdatedAt)
	require.NoError(t, err)
	require.True(t, ok)
	_, cached, err := ts.cache.Get(ctx, "u1", "2024-05")
	require.NoError(t, err)
	assert.True(t, cached)

	remote := *e
	remote.Amount = decimal.NewFromInt(99)
	remote.UpdatedAt = e.UpdatedAt.Add(time.Minute)
	raw, err := json.Marshal(&remote)
	require.NoError(t, err)
	_, err = ts.store.Expenses.ApplyRemote(ctx, raw)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(99).Equal(summary().Totals[domain.TypeExpense]))

	remote.UpdatedAt = remote.UpdatedAt.Add(time.Minute)
	raw, err = json.Marshal(&remote)
	require.NoError(t, err)
	require.NoError(t, ts.store.Expenses.ApplyRemoteDelete(ctx, raw))
	assert.Zero(t, summary().Count)

	// A pulled expense in another month leaves this month cached.
	june := remote
	june.ID = "e-june"
	june.DeletedAt = nil
	june.Date = may2024.AddDate(0, 1, 0)
	raw, err = json.Marshal(&june)
	require.NoError(t, err)
	_, err = ts.store.Expenses.ApplyRemote(ctx, raw)
	require.NoError(t, err)
	_, cached, err = ts.cache.Get(ctx, "u1", "2024-05")
	require.NoError(t, err)
	assert.True(t, cached)

	ts.stats.Close()
	ts.expense(t, "u1", "1", domain.TypeExpense, "", may2024)
	_, cached, err = ts.cache.Get(ctx, "u1", "2024-05")
	require.NoError(t, err)
	assert.True(t, cached, "closed service no longer follows changes")
}

func TestStats_StorePurgeDropsCache(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	ts.expense(t, "u1", "10", domain.TypeExpense, "", may2024)
	_, err := ts.stats.Summary(ctx, "u1", domain.PeriodAllTime)
	require.NoError(t, err)

	require.NoError(t, ts.store.Purge(ctx))
	_, cached, err := ts.cache.Get(ctx, "u1", domain.PeriodAllTime)
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestStats_TopFive(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	for i := range 7 {
		c := ts.category(t, "u1", string(rune('A'+i)), domain.TypeExpense, "")
		ts.expense(t, "u1", decimal.NewFromInt(int64(i+1)).String(), domain.TypeExpense, c.ID, may2024)
	}

	snap, err := ts.stats.Summary(ctx, "u1", "2024-05")
	require.NoError(t, err)
	require.Len(t, snap.TopCategories, 5)
	assert.True(t, decimal.NewFromInt(7).Equal(snap.TopCategories[0].Total))
	assert.True(t, decimal.NewFromInt(3).Equal(snap.TopCategories[4].Total))
}

func TestStats_InvalidPeriod(t *testing.T) {
	ts := setupServices(t)
	_, err := ts.stats.Summary(context.Background(), "u1", "2024-13")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestStats_EmptyPeriodIsCurrentMonth(t *testing.T) {
	ts := setupServices(t)
	ts.stats.now = func() time.Time { return may2024 }

	snap, err := ts.stats.Summary(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-05", snap.Period)
	assert.Zero(t, snap.Count)
}
