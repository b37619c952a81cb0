package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// keyPrefixLen is the number of random bytes used for the key prefix (8 hex chars).
	keyPrefixLen = 4
	// keySecretLen is the number of random bytes for the secret portion (32 hex chars).
	keySecretLen = 16
	// keyFormatPrefix is the static prefix for all Beacon ingest keys.
	keyFormatPrefix = "bcn_"
)

// Key is the stored record for one ingest credential. The raw key is never
// stored; only the prefix (for addressing) and the Argon2id hash.
type Key struct {
	Prefix     string     `json:"prefix"`
	Hash       string     `json:"-"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// KeyWithRaw is returned only at mint time, the only moment the raw key exists.
type KeyWithRaw struct {
	Key
	RawKey string `json:"raw_key"`
}

// GenerateRawKey produces a new raw key in the format
// bcn_<8-char-prefix>_<32-char-secret>. Returns the full raw key and the
// prefix separately.
func GenerateRawKey() (rawKey, prefix string, err error) {
	prefixBytes := make([]byte, keyPrefixLen)
	if _, err := rand.Read(prefixBytes); err != nil {
		return "", "", fmt.Errorf("apikey: generate key prefix: %w", err)
	}

	secretBytes := make([]byte, keySecretLen)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("apikey: generate key secret: %w", err)
	}

	prefix = hex.EncodeToString(prefixBytes)
	secret := hex.EncodeToString(secretBytes)
	rawKey = keyFormatPrefix + prefix + "_" + secret

	return rawKey, prefix, nil
}

// ParseRawKey extracts the prefix from a raw key string.
// Returns an error if the format is invalid.
func ParseRawKey(rawKey string) (prefix string, err error) {
	if !strings.HasPrefix(rawKey, keyFormatPrefix) {
		return "", fmt.Errorf("apikey: invalid key format: missing %s prefix", keyFormatPrefix)
	}

	rest := rawKey[len(keyFormatPrefix):]
	underIdx := strings.IndexByte(rest, '_')
	if underIdx < 1 || underIdx == len(rest)-1 {
		return "", fmt.Errorf("apikey: invalid key format: expected bcn_<prefix>_<secret>")
	}

	return rest[:underIdx], nil
}

// ValidateKeyName checks that a key label is reasonable.
func ValidateKeyName(name string) error {
	if len(name) > 255 {
		return fmt.Errorf("name must be at most 255 characters")
	}
	return nil
}
