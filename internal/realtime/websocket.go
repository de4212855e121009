package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/feed"
)

const defaultReconnectDelay = 5 * time.Second

// WebsocketSource reads the remote change feed over one websocket per
// collection, reconnecting after failures until the subscription ends.
type WebsocketSource struct {
	base           *url.URL
	token          string
	reconnectDelay time.Duration
	logger         *slog.Logger
}

// NewWebsocketSource creates a source for the feed endpoint at rawURL
// (for example ws://localhost:8787/api/v1/realtime).
func NewWebsocketSource(rawURL, token string, reconnectDelay time.Duration, logger *slog.Logger) (*WebsocketSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, domainerrors.Validationf("invalid realtime url %q", rawURL)
	}
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketSource{
		base:           u,
		token:          token,
		reconnectDelay: reconnectDelay,
		logger:         logger,
	}, nil
}

// Listen implements Source. Dial errors are retried in the background, so
// Listen itself only fails for an invalid collection.
func (s *WebsocketSource) Listen(ctx context.Context, c domain.Collection) (<-chan feed.Event, error) {
	if !c.Valid() {
		return nil, domainerrors.Validationf("unknown collection %q", c)
	}
	u := *s.base
	q := u.Query()
	q.Set("collection", c.String())
	u.RawQuery = q.Encode()

	out := make(chan feed.Event, 64)
	go s.run(ctx, u.String(), c, out)
	return out, nil
}

func (s *WebsocketSource) run(ctx context.Context, endpoint string, c domain.Collection, out chan<- feed.Event) {
	defer close(out)
	for {
		err := s.stream(ctx, endpoint, out)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("realtime connection lost, reconnecting",
			"collection", c,
			"delay", s.reconnectDelay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *WebsocketSource) stream(ctx context.Context, endpoint string, out chan<- feed.Event) error {
	var opts *websocket.DialOptions
	if s.token != "" {
		opts = &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": []string{"Bearer " + s.token}},
		}
	}
	conn, _, err := websocket.Dial(ctx, endpoint, opts)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var evt feed.Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			return err
		}
		if !evt.Type.Valid() {
			continue
		}
		select {
		case out <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var _ Source = (*WebsocketSource)(nil)
var _ Source = (*feed.Manager)(nil)
