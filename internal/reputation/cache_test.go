package reputation

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewCache(client, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestLookupCleanAddress(t *testing.T) {
	_, cache := setupCache(t)

	entry, err := cache.Lookup(context.Background(), "203.0.113.10")
	require.NoError(t, err)
	assert.False(t, entry.IsMalicious)
	assert.Equal(t, 10, entry.ConfidenceScore, "geo baseline only")
	assert.Empty(t, entry.ThreatTypes)
	assert.ElementsMatch(t, []string{"pattern", "known_bad", "geo"}, entry.Sources)
	assert.Equal(t, SourceLookup, entry.Source)
}

func TestLookupPrivateRange(t *testing.T) {
	_, cache := setupCache(t)

	entry, err := cache.Lookup(context.Background(), "10.0.0.5")
	require.NoError(t, err)
	assert.False(t, entry.IsMalicious)
	assert.Equal(t, 30, entry.ConfidenceScore)
	assert.Equal(t, []string{"suspicious_range"}, entry.ThreatTypes)
}

func TestLookupWellKnownInfra(t *testing.T) {
	_, cache := setupCache(t)

	entry, err := cache.Lookup(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.False(t, entry.IsMalicious)
	assert.Equal(t, 30, entry.ConfidenceScore)
	assert.Contains(t, entry.ThreatTypes, "suspicious_range")
}

func TestLookupKnownBadLiteral(t *testing.T) {
	_, cache := setupCache(t)

	entry, err := cache.Lookup(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.True(t, entry.IsMalicious)
	// 90 from the literal match beats 30 from the loopback range.
	assert.Equal(t, 90, entry.ConfidenceScore)
	assert.ElementsMatch(t, []string{"invalid_source", "suspicious_range"}, entry.ThreatTypes)
}

func TestLookupServesFromCache(t *testing.T) {
	_, cache := setupCache(t)
	ctx := context.Background()

	first, err := cache.Lookup(ctx, "203.0.113.11")
	require.NoError(t, err)
	require.Equal(t, SourceLookup, first.Source)

	second, err := cache.Lookup(ctx, "203.0.113.11")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.CachedAt.Unix(), second.CachedAt.Unix())
}

func TestLookupExpiredEntryRecomputed(t *testing.T) {
	mr, cache := setupCache(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	first, err := cache.Lookup(ctx, "203.0.113.12")
	require.NoError(t, err)
	require.Equal(t, SourceLookup, first.Source)

	mr.FastForward(entryTTL + time.Minute)
	cache.now = func() time.Time { return now.Add(entryTTL + time.Minute) }

	second, err := cache.Lookup(ctx, "203.0.113.12")
	require.NoError(t, err)
	assert.Equal(t, SourceLookup, second.Source, "expired entry must force recomputation")
	assert.True(t, second.CachedAt.After(first.CachedAt))
}

type failingChecker struct{}

func (failingChecker) Name() string { return "flaky" }

func (failingChecker) Check(context.Context, string) (Verdict, error) {
	return Verdict{IsMalicious: true, Confidence: 100}, errors.New("feed unavailable")
}

func TestLookupCheckerFailureDegrades(t *testing.T) {
	_, cache := setupCache(t)
	cache.checkers = []Checker{failingChecker{}, GeoChecker{}}

	entry, err := cache.Lookup(context.Background(), "203.0.113.13")
	require.NoError(t, err)
	assert.False(t, entry.IsMalicious, "failed checker contributes the safe default")
	assert.Equal(t, 10, entry.ConfidenceScore)
	assert.ElementsMatch(t, []string{"flaky", "geo"}, entry.Sources)
}
