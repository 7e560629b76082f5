package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortify-systems/sentinel/internal/alertstate"
	"github.com/shortify-systems/sentinel/internal/archive"
	"github.com/shortify-systems/sentinel/internal/firewall"
	"github.com/shortify-systems/sentinel/internal/messaging"
	"github.com/shortify-systems/sentinel/internal/models"
	"github.com/shortify-systems/sentinel/internal/notify"
	"github.com/shortify-systems/sentinel/internal/pipeline"
	"github.com/shortify-systems/sentinel/internal/repository"
	"github.com/shortify-systems/sentinel/internal/reputation"
	"github.com/shortify-systems/sentinel/internal/response"
	"github.com/shortify-systems/sentinel/internal/threshold"
	"github.com/shortify-systems/sentinel/internal/tracking"
)

// fakeClient records queue subscriptions and lets tests deliver
// messages straight to the registered handlers.
type fakeClient struct {
	handlers  map[string]messaging.MessageHandler
	queues    map[string]string
	published []*messaging.Message
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		handlers: make(map[string]messaging.MessageHandler),
		queues:   make(map[string]string),
	}
}

func (f *fakeClient) Publish(_ context.Context, subject string, data []byte) error {
	f.published = append(f.published, &messaging.Message{Subject: subject, Data: data})
	return nil
}

func (f *fakeClient) Request(context.Context, string, []byte, time.Duration) (*messaging.Message, error) {
	return nil, nil
}

func (f *fakeClient) Subscribe(subject string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	f.handlers[subject] = handler
	return &fakeSubscription{subject: subject}, nil
}

func (f *fakeClient) QueueSubscribe(subject, queue string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	f.handlers[subject] = handler
	f.queues[subject] = queue
	return &fakeSubscription{subject: subject}, nil
}

func (f *fakeClient) Close() error      { return nil }
func (f *fakeClient) Drain() error      { return nil }
func (f *fakeClient) IsConnected() bool { return true }

func (f *fakeClient) deliver(t *testing.T, subject string, payload interface{}) error {
	t.Helper()
	handler, ok := f.handlers[subject]
	require.True(t, ok, "no handler registered for %s", subject)
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return handler(context.Background(), &messaging.Message{Subject: subject, Data: data})
}

type fakeSubscription struct {
	subject      string
	unsubscribed bool
}

func (s *fakeSubscription) Unsubscribe() error { s.unsubscribed = true; return nil }
func (s *fakeSubscription) Subject() string    { return s.subject }
func (s *fakeSubscription) IsValid() bool      { return !s.unsubscribed }

type recordingNotifier struct {
	sent []*notify.Notification
}

func (r *recordingNotifier) Send(_ context.Context, n *notify.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) Type() string { return "recording" }

type fixture struct {
	handler *Handler
	client  *fakeClient
	store   *tracking.Store
	repo    *repository.MemoryRepository
}

func setupHandler(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := tracking.NewStore(rc)
	repo := repository.NewMemoryRepository()

	p := pipeline.New(
		store,
		threshold.NewEvaluator(store, threshold.Config{CountThresholdShort: 100, CountThresholdLong: 1000}),
		alertstate.NewTracker(rc, 10*time.Minute),
		nil,
		nil,
		repo,
		archive.NopArchiver{},
		logger,
	)
	o := response.NewOrchestrator(
		store,
		reputation.NewCache(rc, logger),
		firewall.NopClient{},
		&recordingNotifier{},
		nil,
		repo,
		logger,
	)

	client := newFakeClient()
	f := &fixture{
		handler: NewHandler(client, p, o, logger),
		client:  client,
		store:   store,
		repo:    repo,
	}
	require.NoError(t, f.handler.Start(context.Background()))
	return f
}

func TestStartSubscribesQueueGroups(t *testing.T) {
	f := setupHandler(t)

	assert.Equal(t, messaging.QueueDetectors, f.client.queues[messaging.SubjectEventsRequests])
	assert.Equal(t, messaging.QueueResponders, f.client.queues[messaging.SubjectAlarmsState])
}

func TestHandleEventTracksIdentity(t *testing.T) {
	f := setupHandler(t)

	err := f.client.deliver(t, messaging.SubjectEventsRequests, &models.RequestEvent{
		Identity:  "203.0.113.7",
		Status:    "200",
		Method:    "GET",
		Resource:  "/abc",
		UserAgent: "Mozilla/5.0",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	rec, err := f.store.Get(context.Background(), "203.0.113.7", tracking.ShortWindow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.RequestCount)
}

func TestHandleEventDropsMalformedPayload(t *testing.T) {
	f := setupHandler(t)

	handler := f.client.handlers[messaging.SubjectEventsRequests]
	err := handler(context.Background(), &messaging.Message{
		Subject: messaging.SubjectEventsRequests,
		Data:    []byte("{not json"),
	})
	// Redelivery cannot fix a malformed payload, so the handler swallows it.
	assert.NoError(t, err)
}

func TestHandleAlarmRunsOrchestration(t *testing.T) {
	f := setupHandler(t)

	err := f.client.deliver(t, messaging.SubjectAlarmsState, &models.AlarmSignal{
		AlarmName:  "sentinel-high-volume-requests",
		AlarmState: models.AlarmStateAlarm,
	})
	require.NoError(t, err)

	runs, total, err := f.repo.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, response.StateCompleted, runs[0].State)
}

func TestHandleAlarmIgnoresOKTransitions(t *testing.T) {
	f := setupHandler(t)

	err := f.client.deliver(t, messaging.SubjectAlarmsState, &models.AlarmSignal{
		AlarmName:  "sentinel-high-volume-requests",
		AlarmState: models.AlarmStateOK,
	})
	require.NoError(t, err)

	_, total, err := f.repo.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestStopUnsubscribes(t *testing.T) {
	f := setupHandler(t)
	require.NoError(t, f.handler.Stop())
	assert.Empty(t, f.handler.subs)
}
