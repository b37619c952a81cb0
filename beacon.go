// Package beacon is the public API for embedding the Beacon telemetry server.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := beacon.New(
//	    beacon.WithVersion(version),
//	    beacon.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: beacon (root) imports
// internal/*, but internal/* never imports beacon (root).
package beacon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/openfleet/beacon/internal/apikey"
	"github.com/openfleet/beacon/internal/archive"
	"github.com/openfleet/beacon/internal/config"
	"github.com/openfleet/beacon/internal/ingest"
	"github.com/openfleet/beacon/internal/mcp"
	"github.com/openfleet/beacon/internal/ratelimit"
	"github.com/openfleet/beacon/internal/server"
	"github.com/openfleet/beacon/internal/telemetry"
	"github.com/openfleet/beacon/migrations"
)

// App is the Beacon server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	registry     *ingest.Registry
	assembler    *ingest.Assembler
	keys         *apikey.Manager
	broker       *server.Broker
	archiveDB    *archive.DB // nil when the archive is disabled
	buf          *archive.Buffer
	limiter      ratelimit.Limiter
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Beacon server. It connects to the archive (when
// configured), runs migrations, and wires all subsystems. It does NOT start
// any goroutines or accept HTTP connections; call Run() for that.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("beacon starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Live state. Memory is the source of truth; the archive is a
	// best-effort durable mirror.
	registry := ingest.NewRegistry(logger)
	assembler := ingest.NewAssembler()

	// Archive (optional; disabled when DATABASE_URL is empty).
	var archiveDB *archive.DB
	var buf *archive.Buffer
	if cfg.DatabaseURL != "" {
		archiveDB, err = archive.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("archive: %w", err)
		}
		if err := archiveDB.RunMigrations(context.Background(), migrations.FS); err != nil {
			archiveDB.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("archive migrations: %w", err)
		}
		for i, extraFS := range o.extraMigrations {
			if err := archiveDB.RunMigrations(context.Background(), extraFS); err != nil {
				archiveDB.Close()
				_ = otelShutdown(context.Background())
				return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
			}
		}
		buf = archive.NewBuffer(archiveDB, logger, cfg.ArchiveBufferSize, cfg.ArchiveFlushTimeout)
		logger.Info("archive: enabled", "buffer_size", cfg.ArchiveBufferSize)
	} else {
		logger.Info("archive: disabled (no DATABASE_URL), running memory-only")
	}

	// API keys. Install the configured bootstrap key, or mint a dev key and
	// log it once so a fresh instance is usable immediately.
	keys := apikey.NewManager(logger)
	if cfg.APIKey != "" {
		if err := keys.Bootstrap(cfg.APIKey, "bootstrap"); err != nil {
			if archiveDB != nil {
				archiveDB.Close()
			}
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("apikey bootstrap: %w", err)
		}
	} else {
		minted, err := keys.Mint("dev")
		if err != nil {
			if archiveDB != nil {
				archiveDB.Close()
			}
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("apikey mint: %w", err)
		}
		logger.Warn("no BEACON_API_KEY configured, minted ephemeral dev key",
			"prefix", minted.Prefix, "raw_key", minted.RawKey)
	}

	// SSE broker for the live dashboard stream.
	broker := server.NewBroker(logger)

	// MCP server over the shared live state, mounted at /mcp.
	mcpSrv := mcp.New(registry, assembler, logger, version)

	// Rate limiter: external override, built-in token bucket, or disabled.
	var limiter ratelimit.Limiter
	switch {
	case o.limiter != nil:
		limiter = &limiterAdapter{l: o.limiter}
		logger.Info("rate limiting: external limiter")
	case cfg.RateLimitEnabled:
		limiter = ratelimit.NewMemoryLimiter()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"ingest_rate", cfg.IngestRate, "ingest_burst", cfg.IngestBurst,
			"query_rate", cfg.QueryRate, "query_burst", cfg.QueryBurst)
	default:
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		Registry:            registry,
		Assembler:           assembler,
		Keys:                keys,
		Logger:              logger,
		Broker:              broker,
		ArchiveDB:           archiveDB,
		Buffer:              buf,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		IngestRule:          ratelimit.Rule{Name: "ingest", Rate: cfg.IngestRate, Burst: cfg.IngestBurst},
		QueryRule:           ratelimit.Rule{Name: "query", Rate: cfg.QueryRate, Burst: cfg.QueryBurst},
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		SSEKeepalive:        cfg.SSEKeepalive,
	})

	return &App{
		cfg:          cfg,
		registry:     registry,
		assembler:    assembler,
		keys:         keys,
		broker:       broker,
		archiveDB:    archiveDB,
		buf:          buf,
		limiter:      limiter,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for embedding Beacon into a larger
// mux or for testing without binding a socket.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the archive flush loop and the HTTP server, then blocks until
// ctx is cancelled or the server fails. On cancellation it shuts everything
// down gracefully: HTTP drain first (in-flight requests may still append to
// the archive buffer), then the buffer flush, then telemetry. Each phase
// gets its own timeout so early completion doesn't steal budget from later
// phases.
func (a *App) Run(ctx context.Context) error {
	defer func() { _ = a.otelShutdown(context.Background()) }()
	defer func() { _ = a.limiter.Close() }()
	if a.archiveDB != nil {
		defer a.archiveDB.Close()
	}

	if a.buf != nil {
		a.buf.Start(ctx)
	}

	// Fleet trend sampler: one point per interval for the metrics trend rings.
	go func() {
		ticker := time.NewTicker(a.cfg.TrendInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.registry.SampleTrends()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	a.logger.Info("beacon shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if a.buf != nil {
		bufCtx, bufCancel := context.WithTimeout(context.Background(), 10*time.Second)
		a.buf.Drain(bufCtx)
		bufCancel()
	}

	a.logger.Info("beacon stopped")
	return nil
}

// limiterAdapter bridges the public Limiter interface to the internal one.
type limiterAdapter struct {
	l Limiter
}

func (a *limiterAdapter) Allow(ctx context.Context, rule ratelimit.Rule, key string) (bool, error) {
	return a.l.Allow(ctx, rule.Name, rule.Rate, rule.Burst, key)
}

func (a *limiterAdapter) Close() error { return a.l.Close() }
