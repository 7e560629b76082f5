// Package alertstate tracks per-identity alert cooldowns so a sustained
// attack does not re-trigger a full orchestration run on every event.
package alertstate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker records when an identity last alerted and suppresses repeats
// inside the cooldown window. A zero cooldown disables suppression
// entirely (continuous alerting).
type Tracker struct {
	redis    *redis.Client
	cooldown time.Duration
}

// NewTracker creates a cooldown tracker.
func NewTracker(client *redis.Client, cooldown time.Duration) *Tracker {
	return &Tracker{redis: client, cooldown: cooldown}
}

func cooldownKey(identity string) string {
	return "alertcd:" + identity
}

// ShouldAlert atomically claims the cooldown slot for the identity.
// It returns true exactly once per cooldown window; concurrent callers
// racing on the same identity see exactly one winner.
func (t *Tracker) ShouldAlert(ctx context.Context, identity string) (bool, error) {
	if t.cooldown <= 0 {
		return true, nil
	}

	ok, err := t.redis.SetNX(ctx, cooldownKey(identity), time.Now().UTC().Format(time.RFC3339), t.cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim alert cooldown: %w", err)
	}
	return ok, nil
}

// LastAlertedAt returns when the identity last alerted, or the zero time
// if it is not in cooldown.
func (t *Tracker) LastAlertedAt(ctx context.Context, identity string) (time.Time, error) {
	val, err := t.redis.Get(ctx, cooldownKey(identity)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read alert cooldown: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed cooldown timestamp: %w", err)
	}
	return ts, nil
}
