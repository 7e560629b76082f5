// Package telemetry publishes anonymous aggregate metrics for dashboards.
// Publication is fire-and-forget: a failure never blocks or rolls back
// the pipeline that produced the datapoints.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shortify-systems/sentinel/internal/messaging"
)

// maxBatchSize is the largest batch the downstream metrics sink accepts.
const maxBatchSize = 20

// Datapoint is one aggregate metric sample. No identity-level data goes
// through here.
type Datapoint struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Publisher ships datapoints to a metrics sink.
type Publisher interface {
	Publish(ctx context.Context, points []Datapoint) error
}

// BusPublisher publishes datapoint batches on the message bus, splitting
// oversized batches so no single message exceeds the sink's batch limit.
type BusPublisher struct {
	bus    messaging.Publisher
	logger *slog.Logger
}

// NewBusPublisher creates a bus-backed metrics publisher.
func NewBusPublisher(bus messaging.Publisher, logger *slog.Logger) *BusPublisher {
	return &BusPublisher{bus: bus, logger: logger}
}

// Publish ships the datapoints in batches of at most 20.
func (p *BusPublisher) Publish(ctx context.Context, points []Datapoint) error {
	for start := 0; start < len(points); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(points) {
			end = len(points)
		}

		data, err := json.Marshal(points[start:end])
		if err != nil {
			return fmt.Errorf("failed to encode metric batch: %w", err)
		}
		if err := p.bus.Publish(ctx, messaging.SubjectMetricsBatch, data); err != nil {
			return fmt.Errorf("failed to publish metric batch: %w", err)
		}
	}

	if len(points) > 0 {
		p.logger.Debug("published metric datapoints", "count", len(points))
	}
	return nil
}

// NopPublisher drops all datapoints. Used when no sink is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []Datapoint) error { return nil }
