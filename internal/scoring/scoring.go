// Package scoring assigns an abuse score to a single request event.
// Scoring is deterministic and side-effect free; the same event always
// produces the same score.
package scoring

import (
	"strings"

	"github.com/shortify-systems/sentinel/internal/models"
)

// MaxScore is the upper clamp for a single event's score.
const MaxScore = 100

// suspiciousAgents are user-agent substrings associated with automated
// clients. Matching is case-insensitive and the weight applies once.
var suspiciousAgents = []string{"bot", "crawler", "spider", "scraper", "scanner"}

// Score computes the abuse score for one event. Rules are additive and
// independently applicable; missing fields count as empty strings.
func Score(e *models.RequestEvent) int {
	score := 0

	// Status code signals
	if strings.HasPrefix(e.Status, "4") {
		score += 2
	}
	if e.Status == "404" {
		score += 3 // scanner behavior
	}
	if e.Status == "429" {
		score += 5 // rate limiting already triggered upstream
	}

	// User agent signals
	ua := strings.ToLower(e.UserAgent)
	for _, agent := range suspiciousAgents {
		if strings.Contains(ua, agent) {
			score += 4
			break
		}
	}
	if len(e.UserAgent) < 10 {
		score += 3
	}

	// Method and resource signals
	if e.Method == "POST" && e.Resource == "/create" {
		score += 1
	}
	if strings.HasPrefix(e.Resource, "/admin") || strings.HasPrefix(e.Resource, "/.") {
		score += 5
	}

	if score > MaxScore {
		score = MaxScore
	}
	return score
}
