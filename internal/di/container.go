// Package di provides dependency injection configuration for ledgersync.
package di

import (
	"github.com/samber/do/v2"
	"github.com/spf13/viper"

	"github.com/pocketledger/ledgersync/internal/config"
	"github.com/pocketledger/ledgersync/internal/di/providers"
	"github.com/pocketledger/ledgersync/internal/realtime"
	"github.com/pocketledger/ledgersync/internal/service"
	"github.com/pocketledger/ledgersync/internal/syncer"
	"github.com/pocketledger/ledgersync/internal/syncstate"
)

// NewContainer creates and configures the DI container with all providers.
// v carries the command's bound flags and is resolved into *config.Config
// on first use.
func NewContainer(v *viper.Viper) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, v)
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideStatsCache)

	// Sync layer
	do.Provide(injector, providers.ProvideRemote)
	do.Provide(injector, providers.ProvideSyncState)
	do.Provide(injector, providers.ProvideTracker)
	do.Provide(injector, providers.ProvideEngine)
	do.Provide(injector, providers.ProvideMonitor)
	do.Provide(injector, providers.ProvideRealtime)
	do.Provide(injector, providers.ProvideCoordinator)

	// Business services
	do.Provide(injector, providers.ProvideCategoryService)
	do.Provide(injector, providers.ProvideGroupService)
	do.Provide(injector, providers.ProvideExpenseService)
	do.Provide(injector, providers.ProvideSharedExpenseService)
	do.Provide(injector, providers.ProvideStatsService)
	do.Provide(injector, providers.ProvideProfileService)

	// Development remote
	do.Provide(injector, providers.ProvideFeed)
	do.Provide(injector, providers.ProvideMemoryRemote)
	do.Provide(injector, providers.ProvideDevServer)

	return injector
}

// Bootstrap initializes the client side: local store, stats cache, the sync
// stack and the services. Nothing is started; callers start the
// coordinator themselves.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.LoggerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.StatsCacheHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.RemoteHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*realtime.Listener](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.CoordinatorHandle](injector); err != nil {
		return err
	}

	_ = do.MustInvoke[*syncstate.Publisher](injector)
	_ = do.MustInvoke[*syncer.Engine](injector)

	// Business services
	_ = do.MustInvoke[*service.CategoryService](injector)
	_ = do.MustInvoke[*service.GroupService](injector)
	_ = do.MustInvoke[*service.ExpenseService](injector)
	_ = do.MustInvoke[*service.SharedExpenseService](injector)
	_ = do.MustInvoke[*service.StatsService](injector)
	_ = do.MustInvoke[*service.ProfileService](injector)

	return nil
}

// BootstrapDevServer initializes the development remote only.
func BootstrapDevServer(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_, err := do.Invoke[*providers.DevServerHandle](injector)
	return err
}
