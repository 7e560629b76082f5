// Package bus wires the detection pipeline and the response
// orchestrator to the message bus.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shortify-systems/sentinel/internal/messaging"
	"github.com/shortify-systems/sentinel/internal/metrics"
	"github.com/shortify-systems/sentinel/internal/models"
	"github.com/shortify-systems/sentinel/internal/pipeline"
	"github.com/shortify-systems/sentinel/internal/response"
)

// Handler consumes bus messages for detection and response.
type Handler struct {
	client       messaging.Client
	pipeline     *pipeline.Pipeline
	orchestrator *response.Orchestrator
	subs         []messaging.Subscription
	logger       *slog.Logger
}

// NewHandler creates a bus handler.
func NewHandler(client messaging.Client, p *pipeline.Pipeline, o *response.Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{
		client:       client,
		pipeline:     p,
		orchestrator: o,
		subs:         make([]messaging.Subscription, 0),
		logger:       logger.With(slog.String("component", "bus-handler")),
	}
}

// Start subscribes to the event and alarm subjects. Both use queue
// groups so horizontally scaled instances share the load.
func (h *Handler) Start(ctx context.Context) error {
	sub1, err := h.client.QueueSubscribe(
		messaging.SubjectEventsRequests,
		messaging.QueueDetectors,
		h.handleEvent,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to request events: %w", err)
	}
	h.subs = append(h.subs, sub1)

	sub2, err := h.client.QueueSubscribe(
		messaging.SubjectAlarmsState,
		messaging.QueueResponders,
		h.handleAlarm,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to alarm state: %w", err)
	}
	h.subs = append(h.subs, sub2)

	h.logger.Info("bus handler started",
		slog.String("events_subject", messaging.SubjectEventsRequests),
		slog.String("alarms_subject", messaging.SubjectAlarmsState))
	return nil
}

// Stop unsubscribes from all subjects.
func (h *Handler) Stop() error {
	h.logger.Info("stopping bus handler")
	for _, sub := range h.subs {
		if err := sub.Unsubscribe(); err != nil {
			h.logger.Warn("failed to unsubscribe", slog.String("subject", sub.Subject()), slog.String("error", err.Error()))
		}
	}
	h.subs = nil
	return nil
}

// handleEvent scores one request event off the bus. Malformed payloads
// are logged and dropped; redelivery cannot fix them.
func (h *Handler) handleEvent(ctx context.Context, msg *messaging.Message) error {
	var ev models.RequestEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		h.logger.Error("failed to unmarshal request event", slog.String("error", err.Error()))
		return nil
	}

	metrics.EventsTotal.WithLabelValues("bus", ev.Status).Inc()

	result, err := h.pipeline.Process(ctx, &ev)
	if err != nil {
		h.logger.Error("event processing failed",
			slog.String("identity", ev.Identity),
			slog.String("error", err.Error()))
		return err
	}

	if result.AlertSent {
		h.logger.Info("bus event raised alert",
			slog.String("identity", result.Identity),
			slog.Int("score", result.AbuseScore))
	}
	return nil
}

// handleAlarm runs orchestration for ALARM transitions. OK and
// INSUFFICIENT_DATA transitions are ignored.
func (h *Handler) handleAlarm(ctx context.Context, msg *messaging.Message) error {
	var signal models.AlarmSignal
	if err := json.Unmarshal(msg.Data, &signal); err != nil {
		h.logger.Error("failed to unmarshal alarm signal", slog.String("error", err.Error()))
		return nil
	}

	if signal.AlarmState != models.AlarmStateAlarm {
		h.logger.Debug("ignoring alarm transition",
			slog.String("alarm", signal.AlarmName),
			slog.String("state", signal.AlarmState))
		return nil
	}

	run := h.orchestrator.Respond(ctx, &signal)
	h.logger.Info("orchestration run finished",
		slog.String("run_id", run.ID),
		slog.String("alarm", signal.AlarmName),
		slog.String("category", string(run.Category)),
		slog.Int("successful", len(run.Successful)),
		slog.Int("failed", len(run.Failed)),
		slog.Int("skipped", len(run.Skipped)))
	return nil
}
