package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortify-systems/sentinel/internal/messaging"
	"github.com/shortify-systems/sentinel/internal/models"
	"github.com/shortify-systems/sentinel/internal/notify"
	"github.com/shortify-systems/sentinel/internal/telemetry"
)

// stubQuerier dispatches canned rows by a substring of the query text.
type stubQuerier struct {
	rows    map[string][]map[string]interface{}
	queries []string
}

func (s *stubQuerier) RunQuery(_ context.Context, query string, _, _ time.Time) ([]map[string]interface{}, error) {
	s.queries = append(s.queries, query)
	for needle, rows := range s.rows {
		if strings.Contains(query, needle) {
			return rows, nil
		}
	}
	return nil, nil
}

type capturingBus struct {
	published []*messaging.Message
}

func (c *capturingBus) Publish(_ context.Context, subject string, data []byte) error {
	c.published = append(c.published, &messaging.Message{Subject: subject, Data: data})
	return nil
}

func (c *capturingBus) Request(context.Context, string, []byte, time.Duration) (*messaging.Message, error) {
	return nil, nil
}

func (c *capturingBus) Close() error { return nil }

type capturingNotifier struct {
	sent []*notify.Notification
}

func (c *capturingNotifier) Send(_ context.Context, n *notify.Notification) error {
	c.sent = append(c.sent, n)
	return nil
}

func (c *capturingNotifier) Type() string { return "capturing" }

type capturingTelemetry struct {
	points []telemetry.Datapoint
}

func (c *capturingTelemetry) Publish(_ context.Context, points []telemetry.Datapoint) error {
	c.points = append(c.points, points...)
	return nil
}

func newAnalyzer(querier *stubQuerier, bus *capturingBus, notifier *capturingNotifier, tel *capturingTelemetry) *Analyzer {
	cfg := DefaultConfig()
	cfg.VolumeThreshold = 100
	return New(querier, bus, notifier, tel, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSweepQuietPeriod(t *testing.T) {
	querier := &stubQuerier{}
	bus := &capturingBus{}
	notifier := &capturingNotifier{}
	a := newAnalyzer(querier, bus, notifier, &capturingTelemetry{})

	result, err := a.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.HighVolume)
	assert.Empty(t, result.Scanners)
	assert.Empty(t, result.Suspicious)
	assert.Empty(t, bus.published)
	assert.Empty(t, notifier.sent)
	assert.Len(t, querier.queries, 3)
}

func TestSweepHighVolume(t *testing.T) {
	querier := &stubQuerier{rows: map[string][]map[string]interface{}{
		"request_count by identity": {
			{"identity": "203.0.113.1", "request_count": float64(450)},
			{"identity": "203.0.113.2", "request_count": float64(120)},
			{"identity": "203.0.113.3", "request_count": float64(40)},
		},
	}}
	bus := &capturingBus{}
	notifier := &capturingNotifier{}
	a := newAnalyzer(querier, bus, notifier, &capturingTelemetry{})

	result, err := a.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, result.HighVolume, 2)
	assert.Equal(t, "203.0.113.1", result.HighVolume[0].Identity)
	assert.Equal(t, int64(450), result.HighVolume[0].RequestCount)

	require.Len(t, bus.published, 1)
	assert.Equal(t, messaging.SubjectAlarmsState, bus.published[0].Subject)
	var signal models.AlarmSignal
	require.NoError(t, json.Unmarshal(bus.published[0].Data, &signal))
	assert.Equal(t, "sentinel-high-volume-requests", signal.AlarmName)
	assert.Equal(t, models.AlarmStateAlarm, signal.AlarmState)

	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0].Body, "203.0.113.1")
	assert.NotContains(t, notifier.sent[0].Body, "203.0.113.3")
}

func TestSweepScannerRequiresRateAndVolume(t *testing.T) {
	querier := &stubQuerier{rows: map[string][]map[string]interface{}{
		"error_requests": {
			// 80% of 20: flagged.
			{"identity": "198.51.100.1", "error_requests": float64(16), "total_requests": float64(20)},
			// High rate but too few requests.
			{"identity": "198.51.100.2", "error_requests": float64(5), "total_requests": float64(6)},
			// High volume but low rate.
			{"identity": "198.51.100.3", "error_requests": float64(10), "total_requests": float64(100)},
		},
	}}
	a := newAnalyzer(querier, &capturingBus{}, &capturingNotifier{}, &capturingTelemetry{})

	result, err := a.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Scanners, 1)
	assert.Equal(t, "198.51.100.1", result.Scanners[0].Identity)
	assert.InDelta(t, 80.0, result.Scanners[0].ErrorRate, 0.01)
}

func TestSweepSuspiciousAgents(t *testing.T) {
	querier := &stubQuerier{rows: map[string][]map[string]interface{}{
		"suspicious_requests": {
			{"identity": "192.0.2.1", "user_agent": "evil-crawler/1.0", "suspicious_requests": float64(12)},
			{"identity": "192.0.2.2", "user_agent": "somebot", "suspicious_requests": float64(3)},
		},
	}}
	notifier := &capturingNotifier{}
	tel := &capturingTelemetry{}
	a := newAnalyzer(querier, &capturingBus{}, notifier, tel)

	result, err := a.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Suspicious, 1)
	assert.Equal(t, "evil-crawler/1.0", result.Suspicious[0].UserAgent)

	require.Len(t, tel.points, 1)
	assert.Equal(t, "abuse_detections", tel.points[0].Name)
	assert.Equal(t, 1.0, tel.points[0].Value)
	assert.Equal(t, "suspicious_patterns", tel.points[0].Labels["pattern_type"])
}

func TestSweepNotificationCapsOffenders(t *testing.T) {
	rows := make([]map[string]interface{}, 0, 8)
	for i := 0; i < 8; i++ {
		rows = append(rows, map[string]interface{}{
			"identity":      fmt.Sprintf("203.0.113.%d", i+1),
			"request_count": float64(500 - i),
		})
	}
	querier := &stubQuerier{rows: map[string][]map[string]interface{}{
		"request_count by identity": rows,
	}}
	notifier := &capturingNotifier{}
	a := newAnalyzer(querier, &capturingBus{}, notifier, &capturingTelemetry{})

	_, err := a.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	body := notifier.sent[0].Body
	assert.Contains(t, body, "8 detections")
	assert.Contains(t, body, "5. ")
	assert.NotContains(t, body, "6. ")
}
