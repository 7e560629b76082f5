// Package logquery is the client side of the asynchronous log query
// service. Jobs go out on the bus, results come back on a per-query
// subject, and the caller polls with a bounded deadline: a query that
// does not finish in time yields an empty result, not an error.
package logquery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shortify-systems/sentinel/internal/messaging"
)

// Terminal job statuses.
const (
	StatusRunning   = "Running"
	StatusComplete  = "Complete"
	StatusFailed    = "Failed"
	StatusCancelled = "Cancelled"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// Job is the request published to the log query service.
type Job struct {
	QueryID string    `json:"query_id"`
	Query   string    `json:"query"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// Result is one status update from the log query service. Non-terminal
// updates carry StatusRunning; the final update carries the rows.
type Result struct {
	QueryID string                   `json:"query_id"`
	Status  string                   `json:"status"`
	Rows    []map[string]interface{} `json:"rows,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// Service runs log queries over the bus.
type Service struct {
	bus          messaging.Client
	timeout      time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewService creates a log query client. A zero timeout gets the 30s
// default.
func NewService(bus messaging.Client, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		bus:          bus,
		timeout:      timeout,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

// RunQuery publishes a query job and polls for its terminal status.
// Timeout and cancellation yield empty rows without error; only an
// explicit Failed status or a bus failure is an error.
func (s *Service) RunQuery(ctx context.Context, query string, start, end time.Time) ([]map[string]interface{}, error) {
	queryID := uuid.New().String()

	updates := make(chan Result, 8)
	sub, err := s.bus.Subscribe(messaging.LogQueryResultSubject(queryID), func(_ context.Context, msg *messaging.Message) error {
		var res Result
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			return fmt.Errorf("malformed query result: %w", err)
		}
		select {
		case updates <- res:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe for query results: %w", err)
	}
	defer sub.Unsubscribe()

	job, err := json.Marshal(Job{QueryID: queryID, Query: query, Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query job: %w", err)
	}
	if err := s.bus.Publish(ctx, messaging.SubjectLogJobsQuery, job); err != nil {
		return nil, fmt.Errorf("failed to publish query job: %w", err)
	}

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-updates:
			switch res.Status {
			case StatusComplete:
				return res.Rows, nil
			case StatusFailed:
				return nil, fmt.Errorf("query %s failed: %s", queryID, res.Error)
			case StatusCancelled:
				s.logger.Warn("log query cancelled", "query_id", queryID)
				return nil, nil
			default:
				// Still running; keep polling.
			}
		case <-ticker.C:
			// No update this interval; loop until a terminal status or the
			// deadline.
		case <-deadline.C:
			s.logger.Warn("log query timed out, returning empty result",
				"query_id", queryID,
				"timeout", s.timeout)
			return nil, nil
		case <-ctx.Done():
			return nil, nil
		}
	}
}
