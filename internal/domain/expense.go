package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Expense is a single transaction. Amount is always positive; Type decides
// whether it adds to or subtracts from a balance.
type Expense struct {
	Syncable
	UserID      string          `json:"user_id" validate:"required"`
	GroupID     string          `json:"group_id,omitempty"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Type        TransactionType `json:"type" validate:"required,oneof=expense income investment"`
	CategoryID  string          `json:"category_id,omitempty"`
	Description string          `json:"description" validate:"max=256"`
	Date        time.Time       `json:"date" validate:"required"`
	Notes       string          `json:"notes,omitempty" validate:"max=2048"`
}

// Scope implements Record.
func (e *Expense) Scope() Scope {
	return Scope{OwnerID: e.UserID, GroupID: e.GroupID}
}

// Period returns the YYYY-MM stats period the expense falls into.
func (e *Expense) Period() string {
	return PeriodKey(e.Date)
}

// Signed returns the amount with the sign implied by the transaction type:
// income is positive, spending and investments are negative.
func (e *Expense) Signed() decimal.Decimal {
	if e.Type == TypeIncome {
		return e.Amount
	}
	return e.Amount.Neg()
}
