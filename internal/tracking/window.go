package tracking

import (
	"fmt"
	"time"
)

// Window granularities maintained per event. Every event is written to
// both windows with independent TTLs.
const (
	ShortWindow = 5 * time.Minute
	LongWindow  = 60 * time.Minute
)

// WindowKey returns the deterministic bucket label for an event time and
// granularity: the event time floored to the window size, concatenated
// with the size in minutes. Example: 12:07:33 at 5m buckets to
// "2026-08-29T12:05:00_5min".
func WindowKey(ts time.Time, size time.Duration) string {
	start := ts.UTC().Truncate(size)
	return fmt.Sprintf("%s_%dmin", start.Format("2006-01-02T15:04:05"), int(size.Minutes()))
}
