package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/openfleet/beacon/internal/apikey"
	"github.com/openfleet/beacon/internal/archive"
	"github.com/openfleet/beacon/internal/ingest"
	"github.com/openfleet/beacon/internal/ratelimit"
)

// Server is the Beacon HTTP server.
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

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Broker, ArchiveDB, Buffer, Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Registry  *ingest.Registry
	Assembler *ingest.Assembler
	Keys      *apikey.Manager
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	Broker    *Broker
	ArchiveDB *archive.DB
	Buffer    *archive.Buffer
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// Rate limit rules (zero values disable the corresponding limit).
	IngestRule ratelimit.Rule
	QueryRule  ratelimit.Rule

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	SSEKeepalive        time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Registry:            cfg.Registry,
		Assembler:           cfg.Assembler,
		Keys:                cfg.Keys,
		Broker:              cfg.Broker,
		ArchiveDB:           cfg.ArchiveDB,
		Buffer:              cfg.Buffer,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		SSEKeepalive:        cfg.SSEKeepalive,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Ingest is limited per API key so one noisy fleet cannot starve another;
	// queries are limited per client IP.
	ingestRL := ratelimit.Middleware(cfg.Limiter, cfg.IngestRule, keyPrefixKeyFunc, reqIDFunc)
	queryRL := ratelimit.Middleware(cfg.Limiter, cfg.QueryRule, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Ingestion gateway.
	mux.Handle("POST /api/ingest/register", ingestRL(http.HandlerFunc(h.HandleRegister)))
	mux.Handle("POST /api/ingest/status", ingestRL(http.HandlerFunc(h.HandleStatus)))
	mux.Handle("POST /api/ingest/activity", ingestRL(http.HandlerFunc(h.HandleActivity)))
	mux.Handle("POST /api/ingest/trace", ingestRL(http.HandlerFunc(h.HandleTrace)))
	mux.Handle("POST /api/ingest/batch", ingestRL(http.HandlerFunc(h.HandleBatch)))

	// Key management.
	mux.Handle("POST /api/ingest/keys", http.HandlerFunc(h.HandleCreateKey))
	mux.Handle("GET /api/ingest/keys", http.HandlerFunc(h.HandleListKeys))
	mux.Handle("DELETE /api/ingest/keys/{prefix}", http.HandlerFunc(h.HandleRevokeKey))

	// Query surface.
	mux.Handle("GET /api/agents", queryRL(http.HandlerFunc(h.HandleListAgents)))
	mux.Handle("GET /api/agents/{agent_id}", queryRL(http.HandlerFunc(h.HandleGetAgent)))
	mux.Handle("GET /api/agents/{agent_id}/activity", queryRL(http.HandlerFunc(h.HandleAgentActivity)))
	mux.Handle("GET /api/agents/{agent_id}/events", queryRL(http.HandlerFunc(h.HandleAgentEvents)))
	mux.Handle("GET /api/traces", queryRL(http.HandlerFunc(h.HandleListTraces)))
	mux.Handle("GET /api/traces/{trace_id}", queryRL(http.HandlerFunc(h.HandleGetTrace)))
	mux.Handle("GET /api/metrics", queryRL(http.HandlerFunc(h.HandleMetrics)))

	// Live stream (no rate limit; the connection is long-lived).
	mux.Handle("GET /api/stream", http.HandlerFunc(h.HandleStream))

	// MCP StreamableHTTP transport (auth required via the middleware chain).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.Keys, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
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
		logger:   cfg.Logger,
	}
}

// keyPrefixKeyFunc extracts the authenticated API key prefix for rate limiting.
// Returns empty string (skip) when auth has not populated the context.
func keyPrefixKeyFunc(r *http.Request) string {
	return KeyPrefixFromContext(r.Context())
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
