package beacon

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	logger          *slog.Logger
	version         string
	limiter         Limiter
	extraMigrations []fs.FS
}

// WithPort overrides the TCP port from config (BEACON_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the archive connection string from config
// (DATABASE_URL env var). An empty string leaves the env value in place.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithLimiter replaces the built-in in-process token bucket, e.g. with a
// shared store for multi-instance deployments. Only the last call wins.
func WithLimiter(l Limiter) Option {
	return func(o *resolvedOptions) { o.limiter = l }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run
// after the built-in archive migrations. Multiple filesystems may be
// registered; they are applied in registration order. Ignored when the
// archive is disabled.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
