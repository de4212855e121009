package providers

import (
	"github.com/samber/do/v2"

	"github.com/pocketledger/ledgersync/internal/service"
)

// ProvideCategoryService provides the category service.
func ProvideCategoryService(i do.Injector) (*service.CategoryService, error) {
	st := do.MustInvoke[*StoreHandle](i)
	coord := do.MustInvoke[*CoordinatorHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)

	return service.NewCategoryService(st.Store, coord.Coordinator, log.Component("categories")), nil
}

// ProvideGroupService provides the group service.
func ProvideGroupService(i do.Injector) (*service.GroupService, error) {
	st := do.MustInvoke[*StoreHandle](i)
	coord := do.MustInvoke[*CoordinatorHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)

	return service.NewGroupService(st.Store, coord.Coordinator, log.Component("groups")), nil
}

// ProvideExpenseService provides the expense service.
func ProvideExpenseService(i do.Injector) (*service.ExpenseService, error) {
	st := do.MustInvoke[*StoreHandle](i)
	coord := do.MustInvoke[*CoordinatorHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)

	return service.NewExpenseService(st.Store, coord.Coordinator, log.Component("expenses")), nil
}

// ProvideSharedExpenseService provides the shared expense service.
func ProvideSharedExpenseService(i do.Injector) (*service.SharedExpenseService, error) {
	st := do.MustInvoke[*StoreHandle](i)
	coord := do.MustInvoke[*CoordinatorHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)

	return service.NewSharedExpenseService(st.Store, coord.Coordinator, log.Component("shared_expenses")), nil
}

// ProvideStatsService provides the statistics service.
func ProvideStatsService(i do.Injector) (*service.StatsService, error) {
	st := do.MustInvoke[*StoreHandle](i)
	cache := do.MustInvoke[*StatsCacheHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)

	return service.NewStatsService(st.Store, cache.Cache, log.Component("stats")), nil
}

// ProvideProfileService provides the profile service.
func ProvideProfileService(i do.Injector) (*service.ProfileService, error) {
	st := do.MustInvoke[*StoreHandle](i)
	coord := do.MustInvoke[*CoordinatorHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)

	return service.NewProfileService(st.Store, coord.Coordinator, log.Component("profile")), nil
}
