package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortify-systems/sentinel/internal/messaging"
)

func TestWebhookChannelSend(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, 5*time.Second)
	n := &Notification{
		Title:    "abuse detected",
		Severity: "high",
		Body:     "identity 203.0.113.1 crossed thresholds",
		Details:  map[string]interface{}{"identity": "203.0.113.1"},
	}
	require.NoError(t, ch.Send(context.Background(), n))
	assert.Equal(t, "abuse detected", got["title"])
	assert.Equal(t, "high", got["severity"])
}

func TestWebhookChannelServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, 5*time.Second)
	assert.Error(t, ch.Send(context.Background(), &Notification{Title: "x"}))
}

func TestSlackChannelSend(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, 5*time.Second)
	n := &Notification{Title: "scanner activity", Severity: "critical", Body: "details"}
	require.NoError(t, ch.Send(context.Background(), n))
	assert.Contains(t, got["text"], "scanner activity")
	require.NotEmpty(t, got["attachments"])
}

type stubPublisher struct {
	subject string
	data    []byte
	err     error
}

func (s *stubPublisher) Publish(_ context.Context, subject string, data []byte) error {
	s.subject = subject
	s.data = data
	return s.err
}

func (s *stubPublisher) Request(context.Context, string, []byte, time.Duration) (*messaging.Message, error) {
	return nil, errors.New("not implemented")
}

func (s *stubPublisher) Close() error { return nil }

func TestBusChannelSend(t *testing.T) {
	pub := &stubPublisher{}
	ch := NewBusChannel(pub)

	n := &Notification{Title: "rate limit applied", Severity: "medium"}
	require.NoError(t, ch.Send(context.Background(), n))
	assert.Equal(t, messaging.SubjectNotifySecurity, pub.subject)

	var decoded Notification
	require.NoError(t, json.Unmarshal(pub.data, &decoded))
	assert.Equal(t, "rate limit applied", decoded.Title)
}

type countingChannel struct {
	calls int
	err   error
}

func (c *countingChannel) Send(context.Context, *Notification) error {
	c.calls++
	return c.err
}

func (c *countingChannel) Type() string { return "counting" }

func TestMultiChannelPartialFailure(t *testing.T) {
	good := &countingChannel{}
	bad := &countingChannel{err: errors.New("down")}
	multi := NewMultiChannel(bad, good)

	require.NoError(t, multi.Send(context.Background(), &Notification{Title: "x"}))
	assert.Equal(t, 1, good.calls)
	assert.Equal(t, 1, bad.calls)
}

func TestMultiChannelAllFail(t *testing.T) {
	bad1 := &countingChannel{err: errors.New("down")}
	bad2 := &countingChannel{err: errors.New("down")}
	multi := NewMultiChannel(bad1, bad2)

	assert.Error(t, multi.Send(context.Background(), &Notification{Title: "x"}))
}
