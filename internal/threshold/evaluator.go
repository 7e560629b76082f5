// Package threshold decides whether an identity's rolling aggregates have
// crossed alerting thresholds.
package threshold

import (
	"context"
	"errors"
	"fmt"

	"github.com/shortify-systems/sentinel/internal/tracking"
)

// Abuse score sums above these values alert regardless of request volume.
const (
	shortWindowScoreLimit = 50
	longWindowScoreLimit  = 100
)

// Config carries the request-count thresholds. These are deployment
// tuning knobs, not detection constants.
type Config struct {
	CountThresholdShort int64
	CountThresholdLong  int64
}

// Evaluator reads the aggregation store and returns an ALERT / NO-ALERT
// verdict per identity. It is stateless across calls; alert de-duplication
// is handled downstream by the alert cooldown state.
type Evaluator struct {
	store *tracking.Store
	cfg   Config
}

// NewEvaluator creates an evaluator over the given store.
func NewEvaluator(store *tracking.Store, cfg Config) *Evaluator {
	return &Evaluator{store: store, cfg: cfg}
}

// Evaluate checks the short window first, then the long window. An absent
// short-window record falls through to the long window; both absent means
// NO-ALERT.
func (e *Evaluator) Evaluate(ctx context.Context, identity string) (bool, error) {
	short, err := e.store.Get(ctx, identity, tracking.ShortWindow)
	switch {
	case err == nil:
		if short.RequestCount > e.cfg.CountThresholdShort || short.AbuseScoreSum > shortWindowScoreLimit {
			return true, nil
		}
	case !errors.Is(err, tracking.ErrNotFound):
		return false, fmt.Errorf("failed to read short window: %w", err)
	}

	long, err := e.store.Get(ctx, identity, tracking.LongWindow)
	switch {
	case err == nil:
		if long.RequestCount > e.cfg.CountThresholdLong || long.AbuseScoreSum > longWindowScoreLimit {
			return true, nil
		}
	case !errors.Is(err, tracking.ErrNotFound):
		return false, fmt.Errorf("failed to read long window: %w", err)
	}

	return false, nil
}
