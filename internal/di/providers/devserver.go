package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/samber/do/v2"

	"github.com/pocketledger/ledgersync/internal/config"
	"github.com/pocketledger/ledgersync/internal/feed"
	"github.com/pocketledger/ledgersync/internal/remote"
	"github.com/pocketledger/ledgersync/internal/remote/devserver"
)

// FeedHandle wraps the change feed manager with lifecycle management.
type FeedHandle struct {
	*feed.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.ShutdownerWithError.
func (h *FeedHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Manager.Shutdown(ctx)
	h.cancel()
	return err
}

// ProvideFeed provides a running change feed manager.
func ProvideFeed(i do.Injector) (*FeedHandle, error) {
	log := do.MustInvoke[*LoggerHandle](i)

	m := feed.NewManager(log.Component("feed"))
	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx)
	return &FeedHandle{Manager: m, cancel: cancel}, nil
}

// ProvideMemoryRemote provides the in-memory remote backing the dev server.
// Accepted upserts are emitted on the change feed.
func ProvideMemoryRemote(i do.Injector) (*remote.Memory, error) {
	fm := do.MustInvoke[*FeedHandle](i)
	return remote.NewMemory(fm.Manager), nil
}

// DevServerHandle wraps the dev server HTTP listener.
type DevServerHandle struct {
	*http.Server
	handler *devserver.Server
}

// Shutdown implements do.ShutdownerWithError.
func (h *DevServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Server.Shutdown(ctx)
	h.handler.Close()
	return err
}

// ListenAndServe serves until Shutdown is called.
func (h *DevServerHandle) ListenAndServe() error {
	if err := h.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ProvideDevServer provides the HTTP server for the development remote.
func ProvideDevServer(i do.Injector) (*DevServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	mem := do.MustInvoke[*remote.Memory](i)
	fm := do.MustInvoke[*FeedHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)

	handler := devserver.New(mem, fm.Manager, log.Component("devserver"), devserver.Options{
		RateLimit: cfg.Remote.RateLimit,
		Burst:     cfg.Remote.Burst,
	})

	srv := &http.Server{
		Addr:              cfg.DevServer.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &DevServerHandle{Server: srv, handler: handler}, nil
}
