// Package analyzer runs periodic sweeps over the raw request logs to
// catch abuse patterns the per-event path cannot see, such as volume
// spread across many windows or bot fleets with rotating identities.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shortify-systems/sentinel/internal/messaging"
	"github.com/shortify-systems/sentinel/internal/models"
	"github.com/shortify-systems/sentinel/internal/notify"
	"github.com/shortify-systems/sentinel/internal/telemetry"
)

// LogQuerier runs bounded log queries; a timed-out query yields empty
// rows.
type LogQuerier interface {
	RunQuery(ctx context.Context, query string, start, end time.Time) ([]map[string]interface{}, error)
}

// Detection is one identity flagged by a sweep.
type Detection struct {
	Identity     string  `json:"identity"`
	RequestCount int64   `json:"request_count,omitempty"`
	ErrorRate    float64 `json:"error_rate,omitempty"`
	UserAgent    string  `json:"user_agent,omitempty"`
}

// SweepResult aggregates one sweep's findings by pattern type.
type SweepResult struct {
	HighVolume []Detection
	Scanners   []Detection
	Suspicious []Detection
}

// Config tunes the sweep.
type Config struct {
	// Window is how far back each sweep looks.
	Window time.Duration

	// VolumeThreshold is the request count above which an identity is a
	// high-volume detection.
	VolumeThreshold int64
}

// DefaultConfig matches the 5-minute sweep cadence.
func DefaultConfig() Config {
	return Config{
		Window:          5 * time.Minute,
		VolumeThreshold: 300,
	}
}

// Analyzer owns the sweep loop.
type Analyzer struct {
	logs      LogQuerier
	bus       messaging.Publisher
	notifier  notify.Channel
	telemetry telemetry.Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New wires an analyzer. bus, notifier, and telemetry may be nil.
func New(logs LogQuerier, bus messaging.Publisher, notifier notify.Channel, tel telemetry.Publisher, cfg Config, logger *slog.Logger) *Analyzer {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	return &Analyzer{
		logs:      logs,
		bus:       bus,
		notifier:  notifier,
		telemetry: tel,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps at the given interval until ctx is cancelled.
func (a *Analyzer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				a.logger.Error("abuse sweep failed", "error", err)
			}
		}
	}
}

// Sweep analyzes the last window of logs and raises alarms for each
// pattern type with detections.
func (a *Analyzer) Sweep(ctx context.Context) (*SweepResult, error) {
	end := a.now().UTC()
	start := end.Add(-a.cfg.Window)

	result := &SweepResult{}
	var err error
	if result.HighVolume, err = a.sweepHighVolume(ctx, start, end); err != nil {
		return nil, err
	}
	if result.Scanners, err = a.sweepScanners(ctx, start, end); err != nil {
		return nil, err
	}
	if result.Suspicious, err = a.sweepSuspiciousAgents(ctx, start, end); err != nil {
		return nil, err
	}

	a.report(ctx, "high_volume", "sentinel-high-volume-requests", result.HighVolume)
	a.report(ctx, "scanner", "sentinel-custom-abuse-scanner-activity", result.Scanners)
	a.report(ctx, "suspicious_patterns", "sentinel-custom-abuse-suspicious_patterns", result.Suspicious)

	a.logger.Info("abuse sweep complete",
		"high_volume", len(result.HighVolume),
		"scanners", len(result.Scanners),
		"suspicious", len(result.Suspicious))
	return result, nil
}

func (a *Analyzer) sweepHighVolume(ctx context.Context, start, end time.Time) ([]Detection, error) {
	query := "* | stats count() as request_count by identity | sort -request_count | limit 100"
	rows, err := a.logs.RunQuery(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("high volume sweep: %w", err)
	}

	detections := make([]Detection, 0)
	for _, row := range rows {
		count := asInt64(row["request_count"])
		if count > a.cfg.VolumeThreshold {
			detections = append(detections, Detection{
				Identity:     asString(row["identity"]),
				RequestCount: count,
			})
		}
	}
	return detections, nil
}

func (a *Analyzer) sweepScanners(ctx context.Context, start, end time.Time) ([]Detection, error) {
	query := `status:4* | stats count() as error_requests, count_all() as total_requests by identity | limit 100`
	rows, err := a.logs.RunQuery(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("scanner sweep: %w", err)
	}

	detections := make([]Detection, 0)
	for _, row := range rows {
		total := asInt64(row["total_requests"])
		errs := asInt64(row["error_requests"])
		if total == 0 {
			continue
		}
		rate := float64(errs) / float64(total) * 100
		if rate > 50 && total > 10 {
			detections = append(detections, Detection{
				Identity:     asString(row["identity"]),
				RequestCount: total,
				ErrorRate:    rate,
			})
		}
	}
	return detections, nil
}

func (a *Analyzer) sweepSuspiciousAgents(ctx context.Context, start, end time.Time) ([]Detection, error) {
	query := `user_agent:/bot|crawler|scanner|scraper/i | stats count() as suspicious_requests by identity, user_agent | limit 100`
	rows, err := a.logs.RunQuery(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("suspicious agent sweep: %w", err)
	}

	detections := make([]Detection, 0)
	for _, row := range rows {
		count := asInt64(row["suspicious_requests"])
		if count > 5 {
			detections = append(detections, Detection{
				Identity:     asString(row["identity"]),
				RequestCount: count,
				UserAgent:    asString(row["user_agent"]),
			})
		}
	}
	return detections, nil
}

// report raises the alarm, notifies with the top offenders, and ships a
// detection-count datapoint. All best-effort.
func (a *Analyzer) report(ctx context.Context, patternType, alarmName string, detections []Detection) {
	if len(detections) == 0 {
		return
	}

	if a.bus != nil {
		signal := &models.AlarmSignal{
			AlarmName:  alarmName,
			AlarmState: models.AlarmStateAlarm,
			Reason:     fmt.Sprintf("%d %s detections in sweep", len(detections), patternType),
		}
		if data, err := json.Marshal(signal); err == nil {
			if err := a.bus.Publish(ctx, messaging.SubjectAlarmsState, data); err != nil {
				a.logger.Error("failed to publish sweep alarm", "alarm", alarmName, "error", err)
			}
		}
	}

	if a.notifier != nil {
		var top strings.Builder
		for i, d := range detections {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&top, "%d. %s", i+1, d.Identity)
			if d.RequestCount > 0 {
				fmt.Fprintf(&top, " - requests: %d", d.RequestCount)
			}
			if d.ErrorRate > 0 {
				fmt.Fprintf(&top, " - error rate: %.1f%%", d.ErrorRate)
			}
			if d.UserAgent != "" {
				ua := d.UserAgent
				if len(ua) > 100 {
					ua = ua[:100]
				}
				fmt.Fprintf(&top, " - user agent: %s", ua)
			}
			top.WriteString("\n")
		}

		n := &notify.Notification{
			Title:    fmt.Sprintf("Abuse sweep: %s", patternType),
			Severity: "high",
			Body:     fmt.Sprintf("%d detections. Top offenders:\n%s", len(detections), top.String()),
			Details:  map[string]interface{}{"pattern_type": patternType, "detections": strconv.Itoa(len(detections))},
		}
		if err := a.notifier.Send(ctx, n); err != nil {
			a.logger.Error("sweep notification failed", "pattern", patternType, "error", err)
		}
	}

	if a.telemetry != nil {
		point := telemetry.Datapoint{
			Name:      "abuse_detections",
			Value:     float64(len(detections)),
			Unit:      "count",
			Labels:    map[string]string{"pattern_type": patternType},
			Timestamp: a.now().UTC(),
		}
		if err := a.telemetry.Publish(ctx, []telemetry.Datapoint{point}); err != nil {
			a.logger.Warn("sweep telemetry failed", "pattern", patternType, "error", err)
		}
	}
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
