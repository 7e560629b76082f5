// Package reputation implements a read-through, TTL-bound reputation
// cache merging verdicts from independent checkers.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortify-systems/sentinel/internal/metrics"
)

const (
	// SourceCache marks an entry served from the cache without recomputation.
	SourceCache = "cache"
	// SourceLookup marks a freshly computed and re-cached entry.
	SourceLookup = "lookup"

	entryTTL = 4 * time.Hour
)

// Entry is the merged reputation record for one identity.
type Entry struct {
	Identity        string    `json:"identity"`
	IsMalicious     bool      `json:"is_malicious"`
	ThreatTypes     []string  `json:"threat_types"`
	ConfidenceScore int       `json:"confidence_score"`
	Sources         []string  `json:"sources"`
	CachedAt        time.Time `json:"cached_at"`
	ExpiresAt       time.Time `json:"expires_at"`

	// Source is cache|lookup; set per read, never persisted.
	Source string `json:"-"`
}

// Cache is the sole owner of reputation entries.
type Cache struct {
	redis    *redis.Client
	checkers []Checker
	logger   *slog.Logger
	now      func() time.Time
}

// NewCache creates a reputation cache with the default checker set.
func NewCache(client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{
		redis:    client,
		checkers: []Checker{PatternChecker{}, KnownBadChecker{}, GeoChecker{}},
		logger:   logger,
		now:      time.Now,
	}
}

func entryKey(identity string) string {
	return "rep:" + identity
}

// Lookup returns the entry for the identity, serving from cache when a
// non-expired entry exists and recomputing otherwise. Expired entries are
// never returned.
func (c *Cache) Lookup(ctx context.Context, identity string) (*Entry, error) {
	cached, err := c.getCached(ctx, identity)
	if err != nil {
		c.logger.Warn("reputation cache read failed, recomputing", "identity", identity, "error", err)
	}
	if cached != nil && cached.ExpiresAt.After(c.now()) {
		cached.Source = SourceCache
		metrics.ReputationLookups.WithLabelValues(SourceCache).Inc()
		return cached, nil
	}

	entry := c.compute(ctx, identity)
	if err := c.put(ctx, entry); err != nil {
		// Serving the fresh verdict matters more than caching it.
		c.logger.Warn("reputation cache write failed", "identity", identity, "error", err)
	}
	entry.Source = SourceLookup
	metrics.ReputationLookups.WithLabelValues(SourceLookup).Inc()
	return entry, nil
}

func (c *Cache) compute(ctx context.Context, identity string) *Entry {
	now := c.now().UTC()
	entry := &Entry{
		Identity:    identity,
		ThreatTypes: []string{},
		Sources:     []string{},
		CachedAt:    now,
		ExpiresAt:   now.Add(entryTTL),
	}

	threats := make(map[string]bool)
	for _, checker := range c.checkers {
		verdict, err := checker.Check(ctx, identity)
		if err != nil {
			c.logger.Warn("reputation checker failed",
				"checker", checker.Name(),
				"identity", identity,
				"error", err)
			verdict = Verdict{}
		}

		entry.IsMalicious = entry.IsMalicious || verdict.IsMalicious
		if verdict.Confidence > entry.ConfidenceScore {
			entry.ConfidenceScore = verdict.Confidence
		}
		for _, tt := range verdict.ThreatTypes {
			threats[tt] = true
		}
		entry.Sources = append(entry.Sources, checker.Name())
	}

	for tt := range threats {
		entry.ThreatTypes = append(entry.ThreatTypes, tt)
	}
	sort.Strings(entry.ThreatTypes)
	return entry
}

func (c *Cache) getCached(ctx context.Context, identity string) (*Entry, error) {
	raw, err := c.redis.Get(ctx, entryKey(identity)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reputation entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("malformed reputation entry: %w", err)
	}
	return &entry, nil
}

func (c *Cache) put(ctx context.Context, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode reputation entry: %w", err)
	}
	if err := c.redis.Set(ctx, entryKey(entry.Identity), raw, entryTTL).Err(); err != nil {
		return fmt.Errorf("failed to write reputation entry: %w", err)
	}
	return nil
}
