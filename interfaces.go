package beacon

import "context"

// Limiter decides whether a request identified by an opaque key may proceed
// under a named rule. When provided via WithLimiter, it replaces the
// in-process token bucket for all rate-limited routes. Implementations must
// be safe for concurrent use.
type Limiter interface {
	// Allow reports whether the request should proceed. Errors are treated
	// as fail-open by the server; a broken limiter never blocks traffic.
	Allow(ctx context.Context, ruleName string, rate float64, burst int, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}
