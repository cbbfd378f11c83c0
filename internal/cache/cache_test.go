// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodub/vodub/internal/jobs"
)

func openTestCache(t *testing.T) *TranslationCache {
	t.Helper()
	c, err := Open(t.TempDir(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := openTestCache(t)

	c.Store("hello\nworld", "en", "ru", jobs.SyncSpeed, []string{"привет", "мир"}, 92)

	got, ok := c.Lookup("hello\nworld", "en", "ru", jobs.SyncSpeed)
	require.True(t, ok)
	assert.Equal(t, []string{"привет", "мир"}, got)
}

func TestCacheMiss(t *testing.T) {
	c := openTestCache(t)
	_, ok := c.Lookup("never stored", "en", "ru", jobs.SyncSpeed)
	assert.False(t, ok)
}

func TestCacheKeyDiscriminatesDimensions(t *testing.T) {
	c := openTestCache(t)
	c.Store("hello", "en", "ru", jobs.SyncSpeed, []string{"привет"}, 95)

	_, ok := c.Lookup("hello", "en", "ko", jobs.SyncSpeed)
	assert.False(t, ok, "target language is part of the key")

	_, ok = c.Lookup("hello", "en", "ru", jobs.SyncNatural)
	assert.False(t, ok, "sync mode is part of the key")

	_, ok = c.Lookup("hello!", "en", "ru", jobs.SyncSpeed)
	assert.False(t, ok, "source text is part of the key")
}

func TestCacheQualityFloor(t *testing.T) {
	c := openTestCache(t)
	c.Store("low quality source", "en", "ru", jobs.SyncSpeed, []string{"плохо"}, 40)

	_, ok := c.Lookup("low quality source", "en", "ru", jobs.SyncSpeed)
	assert.False(t, ok, "entries under the floor are never served")
}

func TestCacheInvalidate(t *testing.T) {
	c := openTestCache(t)
	c.Store("hello", "en", "ru", jobs.SyncSpeed, []string{"привет"}, 95)

	require.NoError(t, c.Invalidate("hello", "en", "ru", jobs.SyncSpeed))
	_, ok := c.Lookup("hello", "en", "ru", jobs.SyncSpeed)
	assert.False(t, ok)

	// Invalidating an absent key is not an error.
	require.NoError(t, c.Invalidate("absent", "en", "ru", jobs.SyncSpeed))
}

func TestKeyStableAndBounded(t *testing.T) {
	k1 := Key("text", "en", "ru", jobs.SyncSpeed)
	k2 := Key("text", "en", "ru", jobs.SyncSpeed)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, keyLen)
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, time.Hour)
	require.NoError(t, err)
	c.Store("hello", "en", "ru", jobs.SyncSpeed, []string{"привет"}, 95)
	require.NoError(t, c.Close())

	c2, err := Open(dir, time.Hour)
	require.NoError(t, err)
	defer c2.Close()

	got, ok := c2.Lookup("hello", "en", "ru", jobs.SyncSpeed)
	require.True(t, ok)
	assert.Equal(t, []string{"привет"}, got)
}
