package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/openfleet/beacon/internal/apikey"
	"github.com/openfleet/beacon/internal/archive"
	"github.com/openfleet/beacon/internal/ingest"
	"github.com/openfleet/beacon/internal/model"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	registry            *ingest.Registry
	assembler           *ingest.Assembler
	keys                *apikey.Manager
	broker              *Broker
	archiveDB           *archive.DB
	buffer              *archive.Buffer
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	sseKeepalive        time.Duration
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker, ArchiveDB, Buffer.
type HandlersDeps struct {
	Registry            *ingest.Registry
	Assembler           *ingest.Assembler
	Keys                *apikey.Manager
	Broker              *Broker
	ArchiveDB           *archive.DB
	Buffer              *archive.Buffer
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	SSEKeepalive        time.Duration
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	keepalive := d.SSEKeepalive
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	return &Handlers{
		registry:            d.Registry,
		assembler:           d.Assembler,
		keys:                d.Keys,
		broker:              d.Broker,
		archiveDB:           d.ArchiveDB,
		buffer:              d.Buffer,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		sseKeepalive:        keepalive,
	}
}

// writeInternalError logs the underlying error and writes a generic 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	resp := model.HealthResponse{
		Version: h.version,
		Agents:  h.registry.Count(),
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}

	if h.archiveDB != nil {
		if err := h.archiveDB.Ping(r.Context()); err != nil {
			resp.Archive = "disconnected"
			status = "degraded"
		} else {
			resp.Archive = "connected"
		}
	}

	// Buffer health: >50% capacity = high, >75% capacity = critical.
	if h.buffer != nil {
		depth := h.buffer.Len()
		capacity := h.buffer.Capacity()
		resp.BufferDepth = depth
		resp.BufferStatus = "ok"
		if depth > capacity*3/4 {
			resp.BufferStatus = "critical"
			if status == "healthy" {
				status = "degraded"
			}
		} else if depth > capacity/2 {
			resp.BufferStatus = "high"
		}
	}

	resp.Status = status
	writeJSON(w, r, httpStatus, resp)
}

// HandleStream handles GET /api/stream (SSE).
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "streaming not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(h.sseKeepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
