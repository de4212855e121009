package validation_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/validation"
)

func validExpense() *domain.Expense {
	return &domain.Expense{
		Syncable: domain.Syncable{ID: "e1"},
		UserID:   "u1",
		Amount:   decimal.NewFromInt(42),
		Type:     domain.TypeExpense,
		Date:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	var de *domainerrors.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, domainerrors.CodeValidation, de.Code)
	details, ok := de.Details.(map[string]string)
	require.True(t, ok)
	return details
}

func TestValidator_ValidExpense(t *testing.T) {
	assert.NoError(t, validation.New().Validate(validExpense()))
}

func TestValidator_ExpenseErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Expense)
		field  string
	}{
		{"zero amount", func(e *domain.Expense) { e.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(e *domain.Expense) { e.Amount = decimal.NewFromInt(-5) }, "amount"},
		{"bad type", func(e *domain.Expense) { e.Type = "gift" }, "type"},
		{"missing date", func(e *domain.Expense) { e.Date = time.Time{} }, "date"},
		{"missing user", func(e *domain.Expense) { e.UserID = "" }, "user_id"},
	}

	v := validation.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validExpense()
			tt.mutate(e)
			details := fieldErrors(t, v.Validate(e))
			assert.Contains(t, details, tt.field)
		})
	}
}

func TestValidator_CategoryOwnerRequiredWithoutGroup(t *testing.T) {
	v := validation.New()
	c := &domain.Category{
		Syncable: domain.Syncable{ID: "c1"},
		Name:     "Food",
		Type:     domain.TypeExpense,
		Color:    "#22aa88",
	}

	details := fieldErrors(t, v.Validate(c))
	assert.Equal(t, "is required", details["user_id"])

	c.GroupID = "g1"
	assert.NoError(t, v.Validate(c))

	c.Color = "green"
	details = fieldErrors(t, v.Validate(c))
	assert.Contains(t, details, "color")
}

func TestValidator_SharedExpenseParticipants(t *testing.T) {
	v := validation.New()
	s := &domain.SharedExpense{
		Syncable:    domain.Syncable{ID: "s1"},
		ExpenseID:   "e1",
		GroupID:     "g1",
		CreatedBy:   "u1",
		SplitMethod: domain.SplitEqual,
	}

	details := fieldErrors(t, v.Validate(s))
	assert.Contains(t, details, "participants")

	s.Participants = []domain.Participant{{UserID: ""}}
	details = fieldErrors(t, v.Validate(s))
	assert.Contains(t, details, "participants[0].user_id")
}
