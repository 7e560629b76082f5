// Package pipeline is the per-event ingestion path: validate, score,
// update both aggregation windows, evaluate thresholds, and raise a
// cooldown-gated alarm when an identity crosses them. Only the score
// update is load-bearing; every downstream call (alarm publish,
// notification, persistence, archive) is fire-and-forget.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortify-systems/sentinel/internal/alertstate"
	"github.com/shortify-systems/sentinel/internal/archive"
	"github.com/shortify-systems/sentinel/internal/messaging"
	"github.com/shortify-systems/sentinel/internal/metrics"
	"github.com/shortify-systems/sentinel/internal/models"
	"github.com/shortify-systems/sentinel/internal/notify"
	"github.com/shortify-systems/sentinel/internal/repository"
	"github.com/shortify-systems/sentinel/internal/scoring"
	"github.com/shortify-systems/sentinel/internal/threshold"
	"github.com/shortify-systems/sentinel/internal/tracking"
)

// Alarm names raised by the pipeline. The response planner keys its
// policy table on tokens inside these names.
const (
	AlarmURLCreation = "sentinel-url-creation-abuse"
	AlarmScanner     = "sentinel-custom-abuse-scanner-activity"
	AlarmHighVolume  = "sentinel-high-volume-requests"
)

// Pipeline processes request events.
type Pipeline struct {
	store    *tracking.Store
	eval     *threshold.Evaluator
	cooldown *alertstate.Tracker
	bus      messaging.Publisher
	notifier notify.Channel
	repo     repository.Repository
	archiver archive.Archiver
	logger   *slog.Logger
}

// New wires a pipeline. bus, notifier, repo, and archiver may be nil;
// the corresponding side effects are skipped.
func New(
	store *tracking.Store,
	eval *threshold.Evaluator,
	cooldown *alertstate.Tracker,
	bus messaging.Publisher,
	notifier notify.Channel,
	repo repository.Repository,
	archiver archive.Archiver,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		store:    store,
		eval:     eval,
		cooldown: cooldown,
		bus:      bus,
		notifier: notifier,
		repo:     repo,
		archiver: archiver,
		logger:   logger,
	}
}

// Process scores one event, updates both windows, and raises an alarm if
// the identity is over threshold and out of cooldown. The only error
// path is validation or a failed score update; everything downstream
// degrades to logging.
func (p *Pipeline) Process(ctx context.Context, ev *models.RequestEvent) (*models.ProcessResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	score := scoring.Score(ev)
	metrics.EventScore.Observe(float64(score))

	start := time.Now()
	if err := p.store.Track(ctx, ev, score); err != nil {
		metrics.TrackingErrors.Inc()
		return nil, fmt.Errorf("failed to track event: %w", err)
	}
	metrics.TrackingDuration.Observe(time.Since(start).Seconds())

	result := &models.ProcessResult{
		Identity:   ev.Identity,
		AbuseScore: score,
	}

	alert, err := p.eval.Evaluate(ctx, ev.Identity)
	if err != nil {
		// The score update already landed; a failed read must not fail
		// the event.
		p.logger.Error("threshold evaluation failed", "identity", ev.Identity, "error", err)
	}

	if alert {
		p.raiseAlarm(ctx, ev, score, result)
	}

	p.archiveEvent(ctx, ev, score, result.AlertSent)
	return result, nil
}

func (p *Pipeline) raiseAlarm(ctx context.Context, ev *models.RequestEvent, score int, result *models.ProcessResult) {
	ok, err := p.cooldown.ShouldAlert(ctx, ev.Identity)
	if err != nil {
		p.logger.Error("alert cooldown check failed", "identity", ev.Identity, "error", err)
		return
	}
	if !ok {
		result.Suppressed = true
		metrics.AlertsSuppressed.Inc()
		return
	}

	alarmName := alarmNameFor(ev)
	reason := fmt.Sprintf("identity %s over abuse thresholds (event score %d)", ev.Identity, score)
	metrics.AlertsTotal.WithLabelValues(alarmName).Inc()
	p.logger.Warn("abuse alert raised",
		"identity", ev.Identity,
		"alarm", alarmName,
		"score", score)

	if p.bus != nil {
		signal := &models.AlarmSignal{
			AlarmName:  alarmName,
			AlarmState: models.AlarmStateAlarm,
			Reason:     reason,
		}
		if data, err := json.Marshal(signal); err == nil {
			if err := p.bus.Publish(ctx, messaging.SubjectAlarmsState, data); err != nil {
				p.logger.Error("failed to publish alarm", "alarm", alarmName, "error", err)
			}
		}
	}

	if p.notifier != nil {
		n := &notify.Notification{
			Title:    fmt.Sprintf("Abuse threshold crossed: %s", ev.Identity),
			Severity: "high",
			Body:     reason,
			Details: map[string]interface{}{
				"identity": ev.Identity,
				"alarm":    alarmName,
				"score":    score,
			},
		}
		if err := p.notifier.Send(ctx, n); err != nil {
			p.logger.Error("alert notification failed", "identity", ev.Identity, "error", err)
		}
	}

	if p.repo != nil {
		alert := &models.Alert{
			ID:         uuid.New().String(),
			Identity:   ev.Identity,
			AbuseScore: score,
			Reason:     reason,
			Status:     ev.Status,
			Method:     ev.Method,
			Resource:   ev.Resource,
			UserAgent:  ev.UserAgent,
			CreatedAt:  time.Now().UTC(),
		}
		if err := p.repo.CreateAlert(ctx, alert); err != nil {
			p.logger.Error("failed to persist alert", "identity", ev.Identity, "error", err)
		}
	}

	result.AlertSent = true
}

func (p *Pipeline) archiveEvent(ctx context.Context, ev *models.RequestEvent, score int, alerted bool) {
	if p.archiver == nil {
		return
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	archived := archive.ScoredEvent{
		Identity:  ev.Identity,
		Status:    ev.Status,
		UserAgent: ev.UserAgent,
		Method:    ev.Method,
		Resource:  ev.Resource,
		Score:     score,
		Alerted:   alerted,
		Timestamp: ts.UTC(),
	}
	if err := p.archiver.Archive(ctx, []archive.ScoredEvent{archived}); err != nil {
		p.logger.Warn("event archive failed", "identity", ev.Identity, "error", err)
	}
}

// alarmNameFor picks the alarm name whose category matches the event's
// dominant trait, so the orchestrator plans the right response.
func alarmNameFor(ev *models.RequestEvent) string {
	switch {
	case ev.Method == "POST" && strings.Contains(ev.Resource, "/create"):
		return AlarmURLCreation
	case ev.Status == "404":
		return AlarmScanner
	default:
		return AlarmHighVolume
	}
}
