// Package api exposes the customer-service core over HTTP.
//
// Endpoints:
//
//	POST /api/v1/chat           synchronous chat (JSON request/response)
//	POST /api/v1/chat/stream    streaming chat (Server-Sent Events)
//	GET  /api/v1/sessions/{id}  session inspection
//	POST /api/v1/cache/reload   reload the static policy document set
//	GET  /health                liveness probe
//	GET  /ready                 readiness probe
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: recovery, logging, CORS, rate limiting
//   - chat.go: sync and SSE chat handlers
//   - session.go: session inspection
//   - cache.go: cache reload
//   - health.go: health probes
//   - response.go: JSON response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/tripdesk/tripdesk/internal/cache"
	"github.com/tripdesk/tripdesk/internal/chat"
	"github.com/tripdesk/tripdesk/internal/session"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to resist slowloris clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// ServerConfig contains the HTTP server dependencies and settings.
type ServerConfig struct {
	Orchestrator *chat.Orchestrator
	Sessions     *session.Store
	Cache        *cache.Set
	Pool         *pgxpool.Pool
	Logger       *slog.Logger

	CORSOrigins     []string
	RateLimitPerSec float64
	RateLimitBurst  int
}

// Server is the HTTP server for the customer-service API.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger

	corsOrigins []string
	limiter     *rate.Limiter

	chat    *ChatHandler
	session *SessionHandler
	cache   *CacheHandler
	health  *HealthHandler
}

// NewServer creates the HTTP server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	perSec := cfg.RateLimitPerSec
	if perSec <= 0 {
		perSec = 10
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 30
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:         mux,
		logger:      logger,
		corsOrigins: cfg.CORSOrigins,
		limiter:     rate.NewLimiter(rate.Limit(perSec), burst),
		chat:        NewChatHandler(cfg.Orchestrator, logger),
		session:     NewSessionHandler(cfg.Sessions, logger),
		cache:       NewCacheHandler(cfg.Cache, logger),
		health:      NewHealthHandler(cfg.Pool, cfg.Cache),
	}

	s.chat.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.cache.RegisterRoutes(mux)
	s.health.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery, logging, CORS, rate limit, handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		corsMiddleware(s.corsOrigins),
		rateLimitMiddleware(s.limiter),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
//
// WriteTimeout is intentionally unset: SSE responses stay open for the full
// generation, which can exceed any fixed write limit.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
