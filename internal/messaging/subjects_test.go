package messaging

import (
	"strings"
	"testing"
)

func TestSubjectConstants_Defined(t *testing.T) {
	subjects := map[string]string{
		"SubjectEventsRequests":  SubjectEventsRequests,
		"SubjectAlarmsState":     SubjectAlarmsState,
		"SubjectNotifySecurity":  SubjectNotifySecurity,
		"SubjectMetricsBatch":    SubjectMetricsBatch,
		"SubjectLogJobsQuery":    SubjectLogJobsQuery,
		"SubjectLogResultsQuery": SubjectLogResultsQuery,
	}

	for name, value := range subjects {
		if value == "" {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestSubjectConstants_FollowNamingConvention(t *testing.T) {
	// Subjects should follow the pattern: {domain}.{action}.{resource}
	subjects := []string{
		SubjectEventsRequests,
		SubjectAlarmsState,
		SubjectNotifySecurity,
		SubjectMetricsBatch,
		SubjectLogJobsQuery,
		SubjectLogResultsQuery,
	}

	for _, subject := range subjects {
		if !strings.HasPrefix(subject, "sentinel.") {
			t.Errorf("subject %q does not start with sentinel.", subject)
		}
		parts := strings.Split(subject, ".")
		if len(parts) < 3 {
			t.Errorf("subject %q does not follow {domain}.{action}.{resource} pattern", subject)
		}
	}
}

func TestLogQueryResultSubject(t *testing.T) {
	got := LogQueryResultSubject("abc123")
	want := "sentinel.logs.results.query.abc123"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
