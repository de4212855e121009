package devserver

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/pocketledger/ledgersync/internal/domain"
	"github.com/pocketledger/ledgersync/internal/http/response"
)

const writeTimeout = 5 * time.Second

// handleRealtime upgrades to a websocket and streams feed events for the
// collection named in the "collection" query parameter.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	var c domain.Collection
	if name := r.URL.Query().Get("collection"); name != "" {
		parsed, err := domain.ParseCollection(name)
		if err != nil {
			response.BadRequest(w, err.Error(), s.logger)
			return
		}
		c = parsed
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}

	sub, err := s.feed.Subscribe(c)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer s.feed.Unsubscribe(sub.ID)

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return

		case event, ok := <-sub.Events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				s.logger.Debug("realtime write failed",
					"subscriber_id", sub.ID,
					"error", err,
				)
				return
			}
		}
	}
}
