package providers

import (
	"github.com/samber/do/v2"

	"github.com/pocketledger/ledgersync/internal/config"
	"github.com/pocketledger/ledgersync/internal/remote"
)

// RemoteHandle wraps the HTTP remote adapter with shutdown capability.
type RemoteHandle struct {
	*remote.HTTPClient
}

// Shutdown implements do.ShutdownerWithError.
func (h *RemoteHandle) Shutdown() error {
	return h.Close()
}

// ProvideRemote provides the HTTP client for the remote store.
func ProvideRemote(i do.Injector) (*RemoteHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	client, err := remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL:   cfg.Remote.BaseURL,
		Token:     cfg.Remote.Token,
		Timeout:   cfg.Remote.Timeout,
		RateLimit: cfg.Remote.RateLimit,
		Burst:     cfg.Remote.Burst,
	}, log.Component("remote"))
	if err != nil {
		return nil, err
	}
	return &RemoteHandle{HTTPClient: client}, nil
}
