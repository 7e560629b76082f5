package tracking

import "time"

// Score range buckets derived from the accumulated abuse score. The range
// is a pure function of the sum and doubles as a secondary index for
// mitigation target discovery.
const (
	RangeLow      = "low"
	RangeMedium   = "medium"
	RangeHigh     = "high"
	RangeCritical = "critical"
)

// ScoreRange maps an accumulated abuse score to its bucket.
func ScoreRange(sum int64) string {
	switch {
	case sum < 10:
		return RangeLow
	case sum < 30:
		return RangeMedium
	case sum < 60:
		return RangeHigh
	default:
		return RangeCritical
	}
}

// Record is the rolling aggregate state for one (identity, window) pair.
type Record struct {
	Identity      string    `json:"identity"`
	WindowKey     string    `json:"window_key"`
	RequestCount  int64     `json:"request_count"`
	AbuseScoreSum int64     `json:"abuse_score_sum"`
	StatusCodes   []string  `json:"status_codes"`
	Methods       []string  `json:"methods"`
	Resources     []string  `json:"resources"`
	LastSeen      time.Time `json:"last_seen"`
	ScoreRange    string    `json:"score_range"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// HasStatus reports whether the record accumulated the given status code.
func (r *Record) HasStatus(code string) bool {
	for _, s := range r.StatusCodes {
		if s == code {
			return true
		}
	}
	return false
}

// ErrorRate returns the share of accumulated status codes that are client
// errors, in percent. Used for scanner identification.
func (r *Record) ErrorRate() float64 {
	if len(r.StatusCodes) == 0 {
		return 0
	}
	errors := 0
	for _, s := range r.StatusCodes {
		if len(s) > 0 && s[0] == '4' {
			errors++
		}
	}
	return float64(errors) / float64(len(r.StatusCodes)) * 100
}
