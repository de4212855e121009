package domain

// TransactionType classifies categories and the transactions filed under them.
type TransactionType string

const (
	TypeExpense    TransactionType = "expense"
	TypeIncome     TransactionType = "income"
	TypeInvestment TransactionType = "investment"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeExpense, TypeIncome, TypeInvestment:
		return true
	default:
		return false
	}
}

// Category is a node in a user's (or group's) category tree.
// ParentID links to another category; the chain must never loop.
type Category struct {
	Syncable
	UserID   string          `json:"user_id,omitempty" validate:"required_without=GroupID"`
	GroupID  string          `json:"group_id,omitempty"`
	Name     string          `json:"name" validate:"required,max=64"`
	Icon     string          `json:"icon,omitempty" validate:"max=64"`
	Color    string          `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Type     TransactionType `json:"type" validate:"required,oneof=expense income investment"`
	ParentID string          `json:"parent_id,omitempty"`
	Active   bool            `json:"is_active"`
}

// Scope implements Record.
func (c *Category) Scope() Scope {
	return Scope{OwnerID: c.UserID, GroupID: c.GroupID}
}

// IsRoot reports whether the category has no parent.
func (c *Category) IsRoot() bool {
	return c.ParentID == ""
}
