// Package devserver serves the remote store contract over HTTP on top of
// the in-memory remote, with a websocket change feed. It is meant for local
// development and end-to-end tests.
package devserver

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pocketledger/ledgersync/internal/feed"
	"github.com/pocketledger/ledgersync/internal/http/response"
	"github.com/pocketledger/ledgersync/internal/ratelimit"
	"github.com/pocketledger/ledgersync/internal/remote"
)

// Options tunes the server.
type Options struct {
	// RateLimit is the per-client request rate; zero disables limiting.
	RateLimit float64
	Burst     int
}

// Server holds dependencies for the HTTP handlers.
type Server struct {
	store   *remote.Memory
	feed    *feed.Manager
	limiter *ratelimit.KeyedRateLimiter
	router  *chi.Mux
	api     huma.API
	logger  *slog.Logger
}

// New creates a server with all routes configured.
func New(store *remote.Memory, fm *feed.Manager, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   store,
		feed:    fm,
		limiter: ratelimit.New(opts.RateLimit, opts.Burst),
		router:  chi.NewRouter(),
		logger:  logger,
	}

	s.setupMiddleware()
	s.api = humachi.New(s.router, huma.DefaultConfig("ledgersync dev remote", "1.0.0"))
	s.registerRecordRoutes()
	s.registerHealthRoutes()
	s.router.Get("/api/v1/realtime", s.handleRealtime)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	s.router.Use(s.rateLimit)
}

// rateLimit rejects clients exceeding the configured rate with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !s.limiter.Allow(key) {
			s.logger.Warn("rate limit exceeded",
				"ip", key,
				"path", r.URL.Path,
			)
			response.TooManyRequests(w, s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of RemoteAddr, which RealIP has already
// replaced with the forwarded address when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
