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
	"github.com/pocketledger/ledgersync/internal/statscache"
	"github.com/pocketledger/ledgersync/internal/store"
	"github.com/pocketledger/ledgersync/internal/store/sqlite"
)

// topCategories is the size of the category breakdown in a summary.
const topCategories = 5

// StatsService computes per-period summaries through the stats cache.
// Cached summaries are dropped whenever an expense changes in the local
// store, whether the write was local, pulled or pushed by the realtime
// listener.
type StatsService struct {
	store  *sqlite.Store
	cache  *statscache.Cache
	logger *slog.Logger
	now    func() time.Time
	stop   func()
}

// NewStatsService creates a new stats service. cache may be nil, in which
// case every call recomputes.
func NewStatsService(st *sqlite.Store, cache *statscache.Cache, logger *slog.Logger) *StatsService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &StatsService{
		store:  st,
		cache:  cache,
		logger: logger,
		now:    time.Now,
		stop:   func() {},
	}
	if cache != nil {
		s.stop = st.Hub().Observe(domain.CollectionExpenses, s.expenseChanged)
	}
	return s
}

// Close stops following expense changes.
func (s *StatsService) Close() {
	s.stop()
}

// expenseChanged drops the cached stats for the months an expense moved
// out of and into, plus all-time, for every user involved. A cache
// failure only costs a recomputation, so it is logged.
func (s *StatsService) expenseChanged(ctx context.Context, ch store.Change) {
	if ch.Reset {
		if err := s.cache.Purge(ctx); err != nil {
			s.logger.Warn("stats purge failed", "error", err)
		}
		return
	}

	before, _ := ch.Before.(*domain.Expense)
	after, _ := ch.After.(*domain.Expense)
	if before != nil && after != nil && sameContent(before, after) {
		return
	}

	touched := make(map[string][]string, 2)
	for _, e := range []*domain.Expense{before, after} {
		if e == nil {
			continue
		}
		touched[e.UserID] = append(touched[e.UserID], e.Period())
	}
	for userID, periods := range touched {
		periods = append(periods, domain.PeriodAllTime)
		slices.Sort(periods)
		periods = slices.Compact(periods)
		if err := s.cache.Invalidate(ctx, userID, periods...); err != nil {
			s.logger.Warn("stats invalidation failed", "user_id", userID, "error", err)
		}
	}
}

// sameContent reports whether only the synced flag differs, as after a push.
func sameContent(a, b *domain.Expense) bool {
	return a.UpdatedAt.Equal(b.UpdatedAt) && (a.DeletedAt == nil) == (b.DeletedAt == nil)
}

// Summary returns totals per transaction type, the balance and the top
// spending categories for period, which is a YYYY-MM month or all-time.
// An empty period means the current month.
func (s *StatsService) Summary(ctx context.Context, userID, period string) (*domain.StatsSnapshot, error) {
	if period == "" {
		period = domain.PeriodKey(s.now())
	}
	if period != domain.PeriodAllTime {
		if _, err := time.Parse("2006-01", period); err != nil {
			return nil, domainerrors.Validationf("invalid period %q", period)
		}
	}

	if s.cache != nil {
		snap, ok, err := s.cache.Get(ctx, userID, period)
		if err != nil {
			s.logger.Warn("stats cache read failed", "user_id", userID, "error", err)
		} else if ok {
			return snap, nil
		}
	}

	expenses, err := s.store.Expenses.Query(ctx, expensesQuery(userID, period))
	if err != nil {
		return nil, err
	}
	snap := summarize(userID, period, expenses, s.now().UTC())

	if s.cache != nil {
		if err := s.cache.Put(ctx, snap); err != nil {
			s.logger.Warn("stats cache write failed", "user_id", userID, "error", err)
		}
	}
	s.logger.Debug("stats computed",
		"user_id", userID,
		"period", period,
		"count", snap.Count,
	)
	return snap, nil
}

func summarize(userID, period string, expenses []*domain.Expense, now time.Time) *domain.StatsSnapshot {
	snap := &domain.StatsSnapshot{
		UserID: userID,
		Period: period,
		Totals: map[domain.TransactionType]decimal.Decimal{
			domain.TypeExpense:    decimal.Zero,
			domain.TypeIncome:     decimal.Zero,
			domain.TypeInvestment: decimal.Zero,
		},
		Balance:       decimal.Zero,
		TopCategories: []domain.CategoryTotal{},
		ComputedAt:    now,
	}

	byCategory := make(map[string]*domain.CategoryTotal)
	for _, e := range expenses {
		snap.Count++
		snap.Totals[e.Type] = snap.Totals[e.Type].Add(e.Amount)
		snap.Balance = snap.Balance.Add(e.Signed())

		if e.Type != domain.TypeExpense || e.CategoryID == "" {
			continue
		}
		ct, ok := byCategory[e.CategoryID]
		if !ok {
			ct = &domain.CategoryTotal{CategoryID: e.CategoryID, Total: decimal.Zero}
			byCategory[e.CategoryID] = ct
		}
		ct.Total = ct.Total.Add(e.Amount)
		ct.Count++
	}

	for _, ct := range byCategory {
		snap.TopCategories = append(snap.TopCategories, *ct)
	}
	slices.SortFunc(snap.TopCategories, func(a, b domain.CategoryTotal) int {
		if c := b.Total.Cmp(a.Total); c != 0 {
			return c
		}
		return strings.Compare(a.CategoryID, b.CategoryID)
	})
	if len(snap.TopCategories) > topCategories {
		snap.TopCategories = snap.TopCategories[:topCategories]
	}
	return snap
}
