package service

import (
	"github.com/shopspring/decimal"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
)

// centPlaces is the precision of split amounts.
const centPlaces = 2

var hundred = decimal.NewFromInt(100)

// Share is one participant's input to a split: a percentage for percentage
// splits, an amount for custom splits, nothing for equal splits.
type Share struct {
	UserID  string
	Percent decimal.Decimal
	Amount  decimal.Decimal
}

// Split divides total between shares according to method. Rounding leftovers
// go to the first participant so the amounts always add up to total.
func Split(method domain.SplitMethod, total decimal.Decimal, shares []Share) ([]domain.Participant, error) {
	if len(shares) == 0 {
		return nil, domainerrors.Validation("a split needs at least one participant")
	}
	if !total.IsPositive() {
		return nil, domainerrors.Validation("split total must be positive")
	}
	seen := make(map[string]bool, len(shares))
	for _, sh := range shares {
		if sh.UserID == "" {
			return nil, domainerrors.Validation("participant user id is required")
		}
		if seen[sh.UserID] {
			return nil, domainerrors.Validationf("participant %s listed twice", sh.UserID)
		}
		seen[sh.UserID] = true
	}

	var amounts []decimal.Decimal
	switch method {
	case domain.SplitEqual:
		amounts = splitEqual(total, len(shares))
	case domain.SplitPercentage:
		var err error
		if amounts, err = splitPercentage(total, shares); err != nil {
			return nil, err
		}
	case domain.SplitCustom:
		var err error
		if amounts, err = splitCustom(total, shares); err != nil {
			return nil, err
		}
	default:
		return nil, domainerrors.Validationf("unknown split method %q", method)
	}

	out := make([]domain.Participant, len(shares))
	for i, sh := range shares {
		out[i] = domain.Participant{UserID: sh.UserID, Amount: amounts[i]}
	}
	return out, nil
}

func splitEqual(total decimal.Decimal, n int) []decimal.Decimal {
	each := total.Div(decimal.NewFromInt(int64(n))).Truncate(centPlaces)
	amounts := make([]decimal.Decimal, n)
	for i := range amounts {
		amounts[i] = each
	}
	return withRemainder(total, amounts)
}

func splitPercentage(total decimal.Decimal, shares []Share) ([]decimal.Decimal, error) {
	sum := decimal.Zero
	for _, sh := range shares {
		if sh.Percent.IsNegative() {
			return nil, domainerrors.Validationf("negative percentage for %s", sh.UserID)
		}
		sum = sum.Add(sh.Percent)
	}
	if !sum.Equal(hundred) {
		return nil, domainerrors.ValidationWithDetails("percentages must add up to 100",
			map[string]string{"sum": sum.String()})
	}

	amounts := make([]decimal.Decimal, len(shares))
	for i, sh := range shares {
		amounts[i] = total.Mul(sh.Percent).Div(hundred).Truncate(centPlaces)
	}
	return withRemainder(total, amounts), nil
}

func splitCustom(total decimal.Decimal, shares []Share) ([]decimal.Decimal, error) {
	sum := decimal.Zero
	amounts := make([]decimal.Decimal, len(shares))
	for i, sh := range shares {
		if sh.Amount.IsNegative() {
			return nil, domainerrors.Validationf("negative amount for %s", sh.UserID)
		}
		amounts[i] = sh.Amount
		sum = sum.Add(sh.Amount)
	}
	if !sum.Equal(total) {
		return nil, domainerrors.ValidationWithDetails("custom amounts must add up to the expense amount",
			map[string]string{"sum": sum.String(), "total": total.String()})
	}
	return amounts, nil
}

func withRemainder(total decimal.Decimal, amounts []decimal.Decimal) []decimal.Decimal {
	sum := decimal.Sum(decimal.Zero, amounts...)
	amounts[0] = amounts[0].Add(total.Sub(sum))
	return amounts
}
