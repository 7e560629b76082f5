package logquery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortify-systems/sentinel/internal/messaging"
)

// busStub is an in-process messaging.Client: published messages are
// delivered synchronously to matching subscribers.
type busStub struct {
	mu       sync.Mutex
	handlers map[string]messaging.MessageHandler
	jobs     []*messaging.Message
}

func newBusStub() *busStub {
	return &busStub{handlers: make(map[string]messaging.MessageHandler)}
}

func (b *busStub) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	msg := &messaging.Message{Subject: subject, Data: data, Timestamp: time.Now()}
	b.jobs = append(b.jobs, msg)
	handler := b.handlers[subject]
	b.mu.Unlock()

	if handler != nil {
		return handler(ctx, msg)
	}
	return nil
}

func (b *busStub) Request(context.Context, string, []byte, time.Duration) (*messaging.Message, error) {
	return nil, nil
}

func (b *busStub) Subscribe(subject string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	b.mu.Lock()
	b.handlers[subject] = handler
	b.mu.Unlock()
	return &stubSubscription{subject: subject, bus: b}, nil
}

func (b *busStub) QueueSubscribe(subject, _ string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	return b.Subscribe(subject, handler)
}

func (b *busStub) Close() error      { return nil }
func (b *busStub) Drain() error      { return nil }
func (b *busStub) IsConnected() bool { return true }

type stubSubscription struct {
	subject string
	bus     *busStub
}

func (s *stubSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.handlers, s.subject)
	s.bus.mu.Unlock()
	return nil
}

func (s *stubSubscription) Subject() string { return s.subject }
func (s *stubSubscription) IsValid() bool   { return true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// respondWith wires the stub so that publishing a job immediately
// delivers the given sequence of status updates.
func respondWith(t *testing.T, bus *busStub, statuses ...Result) {
	t.Helper()
	bus.Subscribe(messaging.SubjectLogJobsQuery, func(ctx context.Context, msg *messaging.Message) error {
		var job Job
		require.NoError(t, json.Unmarshal(msg.Data, &job))
		for _, res := range statuses {
			res.QueryID = job.QueryID
			data, err := json.Marshal(res)
			require.NoError(t, err)
			require.NoError(t, bus.Publish(ctx, messaging.LogQueryResultSubject(job.QueryID), data))
		}
		return nil
	})
}

func TestRunQueryComplete(t *testing.T) {
	bus := newBusStub()
	rows := []map[string]interface{}{{"identity": "203.0.113.1", "count": float64(42)}}
	respondWith(t, bus, Result{Status: StatusRunning}, Result{Status: StatusComplete, Rows: rows})

	svc := NewService(bus, 5*time.Second, testLogger())
	got, err := svc.RunQuery(context.Background(), "status:404", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestRunQueryFailed(t *testing.T) {
	bus := newBusStub()
	respondWith(t, bus, Result{Status: StatusFailed, Error: "syntax error"})

	svc := NewService(bus, 5*time.Second, testLogger())
	_, err := svc.RunQuery(context.Background(), "bad query", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestRunQueryCancelledYieldsEmpty(t *testing.T) {
	bus := newBusStub()
	respondWith(t, bus, Result{Status: StatusCancelled})

	svc := NewService(bus, 5*time.Second, testLogger())
	rows, err := svc.RunQuery(context.Background(), "q", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunQueryTimeoutYieldsEmpty(t *testing.T) {
	bus := newBusStub()
	// No responder: the query never completes.

	svc := NewService(bus, 100*time.Millisecond, testLogger())
	svc.pollInterval = 10 * time.Millisecond

	start := time.Now()
	rows, err := svc.RunQuery(context.Background(), "q", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err, "timeout is empty result, not an error")
	assert.Empty(t, rows)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunQueryPublishesJob(t *testing.T) {
	bus := newBusStub()
	respondWith(t, bus, Result{Status: StatusComplete})

	svc := NewService(bus, 5*time.Second, testLogger())
	start := time.Now().Add(-time.Hour).UTC()
	end := time.Now().UTC()
	_, err := svc.RunQuery(context.Background(), "status:4*", start, end)
	require.NoError(t, err)

	var job Job
	for _, msg := range bus.jobs {
		if strings.HasPrefix(msg.Subject, messaging.SubjectLogJobsQuery) {
			require.NoError(t, json.Unmarshal(msg.Data, &job))
		}
	}
	assert.Equal(t, "status:4*", job.Query)
	assert.NotEmpty(t, job.QueryID)
	assert.Equal(t, start.Unix(), job.Start.Unix())
	assert.Equal(t, end.Unix(), job.End.Unix())
}
