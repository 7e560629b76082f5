package messaging

// Subject constants for the sentinel message bus.
// Follow the pattern: {domain}.{action}.{resource}
const (
	// SubjectEventsRequests carries raw per-request security events into
	// the detection pipeline.
	SubjectEventsRequests = "sentinel.events.requests"

	// SubjectAlarmsState carries alarm state transitions that trigger
	// orchestration runs.
	SubjectAlarmsState = "sentinel.alarms.state"

	// SubjectNotifySecurity carries human-facing security notifications.
	SubjectNotifySecurity = "sentinel.notify.security"

	// SubjectMetricsBatch carries anonymous aggregate metric batches for
	// dashboards.
	SubjectMetricsBatch = "sentinel.metrics.batch"

	// Log query job subjects - requests to the log query service and the
	// prefix its results come back on.
	SubjectLogJobsQuery    = "sentinel.logs.jobs.query"
	SubjectLogResultsQuery = "sentinel.logs.results.query"
)

// Queue group names for load-balanced consumers.
const (
	// QueueDetectors is the pool of event-scoring workers.
	QueueDetectors = "sentinel-detectors"

	// QueueResponders is the pool of orchestration workers.
	QueueResponders = "sentinel-responders"
)

// LogQueryResultSubject returns the result subject for one query job.
// Example: sentinel.logs.results.query.abc123
func LogQueryResultSubject(queryID string) string {
	return SubjectLogResultsQuery + "." + queryID
}
