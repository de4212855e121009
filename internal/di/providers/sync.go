package providers

import (
	"github.com/samber/do/v2"

	"github.com/pocketledger/ledgersync/internal/config"
	"github.com/pocketledger/ledgersync/internal/realtime"
	"github.com/pocketledger/ledgersync/internal/syncer"
	"github.com/pocketledger/ledgersync/internal/syncstate"
)

// ProvideSyncState provides the sync state publisher.
func ProvideSyncState(_ do.Injector) (*syncstate.Publisher, error) {
	return syncstate.New(), nil
}

// ProvideTracker provides the change tracker shared by the engine and the
// coordinator.
func ProvideTracker(_ do.Injector) (*syncer.Tracker, error) {
	return syncer.NewTracker(), nil
}

// ProvideEngine provides the sync engine.
func ProvideEngine(i do.Injector) (*syncer.Engine, error) {
	st := do.MustInvoke[*StoreHandle](i)
	rem := do.MustInvoke[*RemoteHandle](i)
	tracker := do.MustInvoke[*syncer.Tracker](i)
	state := do.MustInvoke[*syncstate.Publisher](i)
	log := do.MustInvoke[*LoggerHandle](i)

	return syncer.NewEngine(st.Store, rem.HTTPClient, tracker, state, log.Component("sync")), nil
}

// ProvideMonitor provides the connectivity monitor.
func ProvideMonitor(i do.Injector) (*syncer.Monitor, error) {
	cfg := do.MustInvoke[*config.Config](i)
	rem := do.MustInvoke[*RemoteHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)

	return syncer.NewMonitor(rem.HTTPClient, cfg.Sync.ProbeInterval, log.Component("connectivity")), nil
}

// ProvideRealtime provides the realtime listener. It returns nil when the
// realtime feed is disabled.
func ProvideRealtime(i do.Injector) (*realtime.Listener, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	if !cfg.Realtime.Enabled || cfg.Realtime.URL == "" {
		log.Info("realtime feed disabled")
		return nil, nil
	}

	st := do.MustInvoke[*StoreHandle](i)
	src, err := realtime.NewWebsocketSource(cfg.Realtime.URL, cfg.Remote.Token, cfg.Realtime.ReconnectDelay, log.Component("realtime"))
	if err != nil {
		return nil, err
	}
	return realtime.New(st.Store, src, log.Component("realtime")), nil
}

// CoordinatorHandle wraps the sync coordinator with shutdown capability.
type CoordinatorHandle struct {
	*syncer.Coordinator
}

// Shutdown implements do.ShutdownerWithError.
func (h *CoordinatorHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideCoordinator provides the trigger policy coordinator. It is created
// stopped; commands call Start with the configured user.
func ProvideCoordinator(i do.Injector) (*CoordinatorHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	engine := do.MustInvoke[*syncer.Engine](i)
	monitor := do.MustInvoke[*syncer.Monitor](i)
	listener := do.MustInvoke[*realtime.Listener](i)
	log := do.MustInvoke[*LoggerHandle](i)

	// A nil *realtime.Listener must not become a non-nil interface.
	var rt syncer.RealtimeListener
	if listener != nil {
		rt = listener
	}

	c := syncer.NewCoordinator(engine, rt, monitor, syncer.CoordinatorConfig{
		Debounce: cfg.Sync.DebounceInterval,
		AutoSync: cfg.Sync.AutoSync,
	}, log.Component("coordinator"))
	return &CoordinatorHandle{Coordinator: c}, nil
}
