package apikey

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateRawKey_Format(t *testing.T) {
	rawKey, prefix, err := GenerateRawKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rawKey, "bcn_"))
	assert.Len(t, prefix, 8)
	assert.Equal(t, rawKey, "bcn_"+prefix+"_"+rawKey[len("bcn_")+9:])

	parsed, err := ParseRawKey(rawKey)
	require.NoError(t, err)
	assert.Equal(t, prefix, parsed)
}

func TestParseRawKey_Invalid(t *testing.T) {
	for _, raw := range []string{"", "bcn_", "bcn_nounderscore", "bcn_abc_", "ak_aaaa_bbbb"} {
		_, err := ParseRawKey(raw)
		assert.Error(t, err, raw)
	}
}

func TestHashVerify_RoundTrip(t *testing.T) {
	hash, err := Hash("bcn_deadbeef_secret")
	require.NoError(t, err)

	ok, err := Verify("bcn_deadbeef_secret", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("bcn_deadbeef_wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_MintAndVerify(t *testing.T) {
	m := newTestManager()
	minted, err := m.Mint("ci")
	require.NoError(t, err)

	assert.True(t, m.Verify(context.Background(), minted.RawKey))
	// Second call hits the digest cache.
	assert.True(t, m.Verify(context.Background(), minted.RawKey))
	assert.False(t, m.Verify(context.Background(), "bcn_00000000_"+strings.Repeat("0", 32)))
}

func TestManager_Revoke(t *testing.T) {
	m := newTestManager()
	minted, err := m.Mint("ephemeral")
	require.NoError(t, err)

	// Warm the cache, then revoke: the cached entry must not outlive the key.
	require.True(t, m.Verify(context.Background(), minted.RawKey))
	require.True(t, m.Revoke(minted.Prefix))
	assert.False(t, m.Verify(context.Background(), minted.RawKey))

	assert.False(t, m.Revoke(minted.Prefix), "double revoke")
	assert.False(t, m.Revoke("ffffffff"), "unknown prefix")
}

func TestManager_Bootstrap(t *testing.T) {
	m := newTestManager()
	rawKey, _, err := GenerateRawKey()
	require.NoError(t, err)

	require.NoError(t, m.Bootstrap(rawKey, "env"))
	assert.True(t, m.Verify(context.Background(), rawKey))
	assert.Equal(t, 1, m.Count())

	assert.Error(t, m.Bootstrap("not-a-key", "env"))
}

func TestManager_List_MasksHash(t *testing.T) {
	m := newTestManager()
	_, err := m.Mint("a")
	require.NoError(t, err)
	_, err = m.Mint("b")
	require.NoError(t, err)

	keys := m.List()
	require.Len(t, keys, 2)
	for _, k := range keys {
		assert.NotEmpty(t, k.Hash, "hash retained internally")
		assert.NotEmpty(t, k.Prefix)
	}
}

func TestManager_ConcurrentVerify(t *testing.T) {
	m := newTestManager()
	minted, err := m.Mint("load")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]bool, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Verify(context.Background(), minted.RawKey)
		}(i)
	}
	wg.Wait()

	for i, ok := range results {
		assert.True(t, ok, "goroutine %d", i)
	}
}
