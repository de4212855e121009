// Package catalog holds the default category tree offered to new users.
package catalog

import "github.com/pocketledger/ledgersync/internal/domain"

// CategorySeed defines a category for seeding the default tree.
type CategorySeed struct {
	Name     string
	Icon     string
	Type     domain.TransactionType
	Children []CategorySeed
}

// DefaultCategories is the default category hierarchy.
// Users can rename, move or deactivate these after setup.
var DefaultCategories = []CategorySeed{
	{
		Name: "Housing",
		Icon: "home",
		Type: domain.TypeExpense,
		Children: []CategorySeed{
			{Name: "Rent", Icon: "key", Type: domain.TypeExpense},
			{Name: "Utilities", Icon: "bolt", Type: domain.TypeExpense},
			{Name: "Internet", Icon: "wifi", Type: domain.TypeExpense},
			{Name: "Maintenance", Icon: "wrench", Type: domain.TypeExpense},
		},
	},
	{
		Name: "Food",
		Icon: "utensils",
		Type: domain.TypeExpense,
		Children: []CategorySeed{
			{Name: "Groceries", Icon: "basket", Type: domain.TypeExpense},
			{Name: "Restaurants", Icon: "plate", Type: domain.TypeExpense},
			{Name: "Coffee", Icon: "cup", Type: domain.TypeExpense},
		},
	},
	{
		Name: "Transport",
		Icon: "bus",
		Type: domain.TypeExpense,
		Children: []CategorySeed{
			{Name: "Public Transport", Icon: "train", Type: domain.TypeExpense},
			{Name: "Fuel", Icon: "fuel", Type: domain.TypeExpense},
			{Name: "Taxi", Icon: "car", Type: domain.TypeExpense},
		},
	},
	{Name: "Health", Icon: "heart", Type: domain.TypeExpense},
	{Name: "Entertainment", Icon: "film", Type: domain.TypeExpense},
	{Name: "Shopping", Icon: "bag", Type: domain.TypeExpense},
	{Name: "Travel", Icon: "plane", Type: domain.TypeExpense},
	{
		Name: "Salary",
		Icon: "briefcase",
		Type: domain.TypeIncome,
	},
	{Name: "Freelance", Icon: "laptop", Type: domain.TypeIncome},
	{Name: "Gifts", Icon: "gift", Type: domain.TypeIncome},
	{
		Name: "Investments",
		Icon: "chart",
		Type: domain.TypeInvestment,
		Children: []CategorySeed{
			{Name: "Stocks", Type: domain.TypeInvestment},
			{Name: "Funds", Type: domain.TypeInvestment},
			{Name: "Savings", Type: domain.TypeInvestment},
		},
	},
}

// Count returns the number of categories in seeds, children included.
func Count(seeds []CategorySeed) int {
	n := 0
	for _, s := range seeds {
		n += 1 + Count(s.Children)
	}
	return n
}
