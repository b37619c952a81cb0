package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Manager holds the live key set and answers verification queries.
//
// Verification caches successes keyed by a SHA-256 digest of the raw key,
// so Argon2 runs once per key rather than once per request, and collapses
// concurrent first-time verifications of the same key with singleflight.
// Revocation invalidates the cache entry immediately.
type Manager struct {
	logger *slog.Logger

	mu       sync.RWMutex
	keys     map[string]*Key     // by prefix
	verified map[[32]byte]string // raw-key digest -> prefix

	group singleflight.Group
}

// NewManager creates an empty key manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:   logger,
		keys:     make(map[string]*Key),
		verified: make(map[[32]byte]string),
	}
}

// Bootstrap installs a key supplied via environment so deployments can pin
// a credential across restarts. The raw key is hashed like any minted key.
func (m *Manager) Bootstrap(rawKey, name string) error {
	prefix, err := ParseRawKey(rawKey)
	if err != nil {
		return err
	}
	hash, err := Hash(rawKey)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.keys[prefix] = &Key{
		Prefix:    prefix,
		Hash:      hash,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Unlock()

	m.logger.Info("apikey: bootstrap key installed", "prefix", prefix, "name", name)
	return nil
}

// Mint creates a new key and returns the record with the raw key attached.
// This is the only time the raw key is available.
func (m *Manager) Mint(name string) (KeyWithRaw, error) {
	if err := ValidateKeyName(name); err != nil {
		return KeyWithRaw{}, fmt.Errorf("apikey: %w", err)
	}
	rawKey, prefix, err := GenerateRawKey()
	if err != nil {
		return KeyWithRaw{}, err
	}
	hash, err := Hash(rawKey)
	if err != nil {
		return KeyWithRaw{}, err
	}

	key := &Key{
		Prefix:    prefix,
		Hash:      hash,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.keys[prefix] = key
	m.mu.Unlock()

	return KeyWithRaw{Key: *key, RawKey: rawKey}, nil
}

// List returns all keys (hashes excluded via the json tag), newest first.
func (m *Manager) List() []Key {
	m.mu.RLock()
	out := make([]Key, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, *k)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Revoke marks the key with the given prefix as revoked. Revoked keys stop
// authenticating immediately. Returns false when the prefix is unknown or
// the key is already revoked.
func (m *Manager) Revoke(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[prefix]
	if !ok || key.RevokedAt != nil {
		return false
	}
	now := time.Now().UTC()
	key.RevokedAt = &now

	for digest, p := range m.verified {
		if p == prefix {
			delete(m.verified, digest)
		}
	}

	m.logger.Info("apikey: key revoked", "prefix", prefix)
	return true
}

// Verify checks a raw key against the stored hash for its prefix. Invalid
// format, unknown prefix, revoked key, and hash mismatch all return false;
// the dummy hash keeps those paths constant-time relative to a real check.
func (m *Manager) Verify(ctx context.Context, rawKey string) bool {
	prefix, err := ParseRawKey(rawKey)
	if err != nil {
		DummyVerify()
		return false
	}

	digest := sha256.Sum256([]byte(rawKey))

	m.mu.RLock()
	cachedPrefix, cached := m.verified[digest]
	key, known := m.keys[prefix]
	m.mu.RUnlock()

	if !known || key.RevokedAt != nil {
		DummyVerify()
		return false
	}
	if cached && subtle.ConstantTimeCompare([]byte(cachedPrefix), []byte(prefix)) == 1 {
		m.touch(prefix)
		return true
	}

	// Collapse concurrent first-time verifications of the same key so the
	// expensive Argon2 check runs once.
	v, err, _ := m.group.Do(prefix+":"+string(digest[:8]), func() (any, error) {
		ok, err := Verify(rawKey, key.Hash)
		if err != nil {
			return false, err
		}
		return ok, nil
	})
	if err != nil {
		m.logger.Warn("apikey: verification error", "prefix", prefix, "error", err)
		return false
	}
	ok := v.(bool)
	if !ok {
		return false
	}

	m.mu.Lock()
	m.verified[digest] = prefix
	m.mu.Unlock()
	m.touch(prefix)

	select {
	case <-ctx.Done():
		return false
	default:
	}
	return true
}

// Count returns the number of non-revoked keys.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, k := range m.keys {
		if k.RevokedAt == nil {
			n++
		}
	}
	return n
}

func (m *Manager) touch(prefix string) {
	now := time.Now().UTC()
	m.mu.Lock()
	if key, ok := m.keys[prefix]; ok {
		key.LastUsedAt = &now
	}
	m.mu.Unlock()
}
