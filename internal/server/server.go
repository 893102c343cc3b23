package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/datascout-ai/datascout/internal/auth"
	"github.com/datascout-ai/datascout/internal/ratelimit"
)

// Server is the datascout HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): DB, Limiter, MCPServer.
type ServerConfig struct {
	// Handler dependencies; see HandlersDeps for which are optional.
	Handlers HandlersDeps

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// OpenAPISpec, when non-empty, is served at GET /openapi.yaml.
	OpenAPISpec []byte

	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.Handlers)
	logger := cfg.Handlers.Logger

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Authenticated endpoints are limited per client; the token endpoint is
	// limited by IP because it runs before any identity exists.
	clientRL := ratelimit.Middleware(cfg.Limiter, clientKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Search.
	mux.Handle("POST /v1/search", clientRL(http.HandlerFunc(h.HandleSearch)))

	// Job submission.
	mux.Handle("POST /v1/acquisitions", clientRL(http.HandlerFunc(h.HandleCreateAcquisition)))
	mux.Handle("POST /v1/trainings", clientRL(http.HandlerFunc(h.HandleCreateTraining)))

	// Job inspection and control.
	mux.Handle("GET /v1/jobs/{job_id}", clientRL(http.HandlerFunc(h.HandleGetJob)))
	mux.Handle("GET /v1/jobs/{job_id}/artifacts", clientRL(http.HandlerFunc(h.HandleListArtifacts)))
	mux.Handle("POST /v1/jobs/{job_id}/cancel", clientRL(http.HandlerFunc(h.HandleCancelJob)))

	// Progress stream (no rate limit; long-lived connection).
	mux.Handle("GET /v1/jobs/{job_id}/events", http.HandlerFunc(h.HandleJobEvents))

	// MCP StreamableHTTP transport (auth required via middleware chain).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// OpenAPI spec (no auth, no rate limit).
	if len(cfg.OpenAPISpec) > 0 {
		mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(cfg.OpenAPISpec)
		})
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(logger, handler)
	handler = authMiddleware(cfg.Handlers.JWTMgr, handler)
	handler = loggingMiddleware(logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   logger,
	}
}

// clientKeyFunc extracts the client ID from the request context for rate
// limiting. Admin clients are exempt.
func clientKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if claims.Role == auth.RoleAdmin {
		return ""
	}
	return claims.ClientID
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
