package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket is a single token bucket for one rule/key pair.
type bucket struct {
	tokens     float64
	lastAccess time.Time
}

// MemoryLimiter implements Limiter using an in-memory token bucket per
// rule/key pair. Each bucket refills at the rule's sustained rate up to the
// rule's burst capacity. A background goroutine evicts stale entries every
// minute to bound memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a token bucket limiter. A background goroutine
// evicts keys not accessed in the last 10 minutes. Call Close to stop it.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow consumes one token from the bucket for the rule/key pair. Returns
// true if a token was available (request should proceed), false otherwise.
func (m *MemoryLimiter) Allow(_ context.Context, rule Rule, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	burst := float64(rule.Burst)
	bucketKey := rule.Name + ":" + key

	now := time.Now()
	b, ok := m.buckets[bucketKey]
	if !ok {
		// First request for this key: start with a full bucket minus one token.
		m.buckets[bucketKey] = &bucket{
			tokens:     burst - 1,
			lastAccess: now,
		}
		return true, nil
	}

	// Refill tokens based on elapsed time.
	elapsed := now.Sub(b.lastAccess).Seconds()
	b.tokens += elapsed * rule.Rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.lastAccess = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

// cleanup periodically evicts buckets that haven't been accessed recently.
func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-staleThreshold)
	for key, b := range m.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
