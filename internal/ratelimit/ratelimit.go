// Package ratelimit provides a pluggable rate limiting interface.
//
// The in-memory token bucket (MemoryLimiter) is the default. Multi-instance
// deployments can substitute a shared implementation behind the Limiter
// interface for cross-instance coordination.
package ratelimit

import "context"

// Rule describes one rate limit: a sustained rate with a burst allowance.
// The name namespaces bucket keys so the same client identifier can carry
// independent budgets on different routes.
type Rule struct {
	Name  string
	Rate  float64 // sustained requests per second
	Burst int     // bucket capacity
}

// Limiter decides whether a request identified by key should be allowed
// under a given rule. Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed.
	// The key is opaque; callers construct it (e.g. an API key prefix or
	// client IP). Returning an error signals a limiter malfunction; callers
	// should treat errors as fail-open rather than blocking traffic.
	Allow(ctx context.Context, rule Rule, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, Rule, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
