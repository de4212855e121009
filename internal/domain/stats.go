package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PeriodAllTime is the stats period covering every transaction.
const PeriodAllTime = "all-time"

// PeriodKey returns the monthly stats period (YYYY-MM) containing t.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CategoryTotal is one row of the top-category breakdown.
type CategoryTotal struct {
	CategoryID string          `json:"category_id"`
	Total      decimal.Decimal `json:"total"`
	Count      int             `json:"count"`
}

// StatsSnapshot is a cached aggregate for one user and period. It lives only
// in the local stats cache and is never synced.
type StatsSnapshot struct {
	UserID        string                              `json:"user_id"`
	Period        string                              `json:"period"`
	Totals        map[TransactionType]decimal.Decimal `json:"totals"`
	Balance       decimal.Decimal                     `json:"balance"`
	TopCategories []CategoryTotal                     `json:"top_categories"`
	Count         int                                 `json:"count"`
	ComputedAt    time.Time                           `json:"computed_at"`
}
