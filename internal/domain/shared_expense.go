package domain

import "github.com/shopspring/decimal"

// SplitMethod describes how a shared expense is divided.
type SplitMethod string

const (
	SplitEqual      SplitMethod = "equal"
	SplitPercentage SplitMethod = "percentage"
	SplitCustom     SplitMethod = "custom"
)

// Participant is one user's share of a shared expense.
type Participant struct {
	UserID  string          `json:"user_id" validate:"required"`
	Amount  decimal.Decimal `json:"amount_owed"`
	Settled bool            `json:"is_settled"`
}

// SharedExpense splits a source expense between members of a group.
type SharedExpense struct {
	Syncable
	ExpenseID    string        `json:"expense_id" validate:"required"`
	GroupID      string        `json:"group_id" validate:"required"`
	CreatedBy    string        `json:"created_by" validate:"required"`
	SplitMethod  SplitMethod   `json:"split_method" validate:"required,oneof=equal percentage custom"`
	Participants []Participant `json:"participants" validate:"required,min=1,dive"`
}

// Scope implements Record.
func (s *SharedExpense) Scope() Scope {
	return Scope{OwnerID: s.CreatedBy, GroupID: s.GroupID}
}

// Participant returns the share owed by userID, or nil.
func (s *SharedExpense) Participant(userID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// Outstanding returns the total still owed by unsettled participants.
func (s *SharedExpense) Outstanding() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Participants {
		if !p.Settled {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// FullySettled reports whether every participant has settled.
func (s *SharedExpense) FullySettled() bool {
	for _, p := range s.Participants {
		if !p.Settled {
			return false
		}
	}
	return true
}
