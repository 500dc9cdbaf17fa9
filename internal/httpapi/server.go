package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrMissingSecret is returned when the server is created without a JWT secret
var ErrMissingSecret = errors.New("jwt secret cannot be empty")

// Server represents the admin HTTP API server
type Server struct {
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	metrics    http.Handler
	server     *http.Server
}

// Config holds server configuration
type Config struct {
	// Addr is the listen address, e.g. ":8080"
	Addr      string
	SecretKey string
	TokenTTL  time.Duration

	// Metrics serves /metrics when set
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewServer creates a new HTTP API server
func NewServer(status Status, config Config) (*Server, error) {
	if status == nil {
		return nil, errors.New("status cannot be nil")
	}
	if config.SecretKey == "" {
		return nil, ErrMissingSecret
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	jwtAuth := NewJWTAuth(config.SecretKey, config.TokenTTL)
	server := &Server{
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(status),
		middleware: NewMiddleware(jwtAuth, logger.With(zap.String("component", "httpapi"))),
		metrics:    config.Metrics,
	}

	server.server = &http.Server{
		Addr:           config.Addr,
		Handler:        server.setupRoutes(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return server, nil
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. It returns nil after Stop.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve serves on an existing listener. It returns nil after Stop.
func (s *Server) Serve(l net.Listener) error {
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.ContentType(handler)))
	}

	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))
	mux.Handle("/api/v1/admin/subscriptions", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminListSubscriptions)))
	if s.metrics != nil {
		mux.Handle("/metrics", s.middleware.Recovery(s.metrics.ServeHTTP))
	}
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service": "eth-engine admin API",
		"endpoints": map[string]string{
			"health":        "GET /api/v1/health",
			"subscriptions": "GET /api/v1/admin/subscriptions",
			"metrics":       "GET /metrics",
		},
		"authentication": "Bearer JWT with admin claim required for /api/v1/admin",
	}
	writeJSON(w, info, http.StatusOK)
}
