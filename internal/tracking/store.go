// Package tracking implements the windowed aggregation store backing abuse
// detection. State lives in Redis: one hash plus three accumulator sets per
// (identity, window), and one index set per score range for mitigation
// target discovery.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortify-systems/sentinel/internal/models"
)

// ErrNotFound is returned when no live record exists for a key. A record
// past its expiry is observably identical to one never written.
var ErrNotFound = errors.New("tracking record not found")

// recordTTL bounds how long a record outlives its window. Set on first
// write and never extended.
const recordTTL = 24 * time.Hour

// updateScript applies one event to a record atomically. Counters are
// incremented server-side so concurrent writers never lose updates, set
// membership is idempotent under retries, and score_range is recomputed
// from the post-increment sum inside the same script so it can never be
// stale relative to the sum.
var updateScript = redis.NewScript(`
local key = KEYS[1]
redis.call('HINCRBY', key, 'request_count', 1)
local sum = redis.call('HINCRBY', key, 'abuse_score_sum', tonumber(ARGV[1]))
redis.call('HSET', key, 'last_seen', ARGV[5])
if redis.call('HSETNX', key, 'expires_at', ARGV[7]) == 1 then
	redis.call('HSET', key, 'identity', ARGV[8], 'window_key', ARGV[9])
	redis.call('EXPIRE', key, tonumber(ARGV[6]))
end
if ARGV[2] ~= '' then redis.call('SADD', KEYS[2], ARGV[2]) end
if ARGV[3] ~= '' then redis.call('SADD', KEYS[3], ARGV[3]) end
if ARGV[4] ~= '' then redis.call('SADD', KEYS[4], ARGV[4]) end
local ttl = redis.call('TTL', key)
if ttl > 0 then
	for i = 2, 4 do
		if redis.call('EXISTS', KEYS[i]) == 1 then redis.call('EXPIRE', KEYS[i], ttl) end
	end
end
local range = 'critical'
if sum < 10 then range = 'low'
elseif sum < 30 then range = 'medium'
elseif sum < 60 then range = 'high' end
local idx = {low = KEYS[5], medium = KEYS[6], high = KEYS[7], critical = KEYS[8]}
local old = redis.call('HGET', key, 'score_range')
if old ~= range then
	if old then redis.call('SREM', idx[old], key) end
	redis.call('HSET', key, 'score_range', range)
	redis.call('SADD', idx[range], key)
end
return sum
`)

// Store is the sole owner of tracking records. All mutation goes through
// Update; other components only read.
type Store struct {
	redis *redis.Client
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's time source. Used by tests to pin
// window bucketing and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a tracking store on the given Redis client.
func NewStore(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		redis: client,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func recordKey(identity, windowKey string) string {
	return fmt.Sprintf("track:%s:%s", identity, windowKey)
}

func indexKey(scoreRange string) string {
	return "trackidx:" + scoreRange
}

// Update applies one scored event to the (identity, window) record.
// Safe under unbounded concurrent callers on the same key.
func (s *Store) Update(ctx context.Context, ev *models.RequestEvent, window time.Duration, score int) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	wk := WindowKey(ts, window)
	key := recordKey(ev.Identity, wk)

	keys := []string{
		key,
		key + ":status",
		key + ":methods",
		key + ":resources",
		indexKey(RangeLow),
		indexKey(RangeMedium),
		indexKey(RangeHigh),
		indexKey(RangeCritical),
	}
	args := []interface{}{
		score,
		ev.Status,
		ev.Method,
		ev.Resource,
		ts.UTC().Format(time.RFC3339),
		int(recordTTL.Seconds()),
		s.now().Add(recordTTL).Unix(),
		ev.Identity,
		wk,
	}

	if err := updateScript.Run(ctx, s.redis, keys, args...).Err(); err != nil {
		return fmt.Errorf("failed to update tracking record: %w", err)
	}
	return nil
}

// Track writes the event to both window granularities with the same score.
func (s *Store) Track(ctx context.Context, ev *models.RequestEvent, score int) error {
	if err := s.Update(ctx, ev, ShortWindow, score); err != nil {
		return err
	}
	return s.Update(ctx, ev, LongWindow, score)
}

// Get returns the record for the identity's current window at the given
// granularity, or ErrNotFound when no live record exists.
func (s *Store) Get(ctx context.Context, identity string, window time.Duration) (*Record, error) {
	wk := WindowKey(s.now(), window)
	return s.getByKey(ctx, recordKey(identity, wk))
}

func (s *Store) getByKey(ctx context.Context, key string) (*Record, error) {
	pipe := s.redis.Pipeline()
	hashCmd := pipe.HGetAll(ctx, key)
	statusCmd := pipe.SMembers(ctx, key+":status")
	methodsCmd := pipe.SMembers(ctx, key+":methods")
	resourcesCmd := pipe.SMembers(ctx, key+":resources")
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read tracking record: %w", err)
	}

	fields := hashCmd.Val()
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec, err := parseRecord(fields)
	if err != nil {
		return nil, err
	}
	rec.StatusCodes = statusCmd.Val()
	rec.Methods = methodsCmd.Val()
	rec.Resources = resourcesCmd.Val()

	// Redis TTL already reaps dead records; the explicit check keeps the
	// expired-equals-absent contract even mid-eviction.
	if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(s.now()) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// QueryByScoreRange returns up to limit live records currently in the given
// range, across identities. Order is stable for a snapshot but otherwise
// unspecified; bounded staleness against concurrent writers is acceptable.
func (s *Store) QueryByScoreRange(ctx context.Context, scoreRange string, limit int) ([]*Record, error) {
	switch scoreRange {
	case RangeLow, RangeMedium, RangeHigh, RangeCritical:
	default:
		return nil, fmt.Errorf("unknown score range %q", scoreRange)
	}

	keys, err := s.redis.SMembers(ctx, indexKey(scoreRange)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read score range index: %w", err)
	}
	sort.Strings(keys)

	records := make([]*Record, 0, limit)
	for _, key := range keys {
		if len(records) >= limit {
			break
		}
		rec, err := s.getByKey(ctx, key)
		if errors.Is(err, ErrNotFound) {
			// Record expired out from under its index entry; prune lazily.
			s.redis.SRem(ctx, indexKey(scoreRange), key)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(fields map[string]string) (*Record, error) {
	rec := &Record{
		Identity:   fields["identity"],
		WindowKey:  fields["window_key"],
		ScoreRange: fields["score_range"],
	}

	var err error
	if rec.RequestCount, err = strconv.ParseInt(fields["request_count"], 10, 64); err != nil {
		return nil, fmt.Errorf("malformed request_count: %w", err)
	}
	if rec.AbuseScoreSum, err = strconv.ParseInt(fields["abuse_score_sum"], 10, 64); err != nil {
		return nil, fmt.Errorf("malformed abuse_score_sum: %w", err)
	}
	if ls := fields["last_seen"]; ls != "" {
		if rec.LastSeen, err = time.Parse(time.RFC3339, ls); err != nil {
			return nil, fmt.Errorf("malformed last_seen: %w", err)
		}
	}
	if ea := fields["expires_at"]; ea != "" {
		unix, err := strconv.ParseInt(ea, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed expires_at: %w", err)
		}
		rec.ExpiresAt = time.Unix(unix, 0)
	}
	return rec, nil
}
