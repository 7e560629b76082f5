// Package response plans and executes mitigation for alarm signals. One
// orchestration run walks RECEIVED -> PLANNED -> EXECUTING -> COMPLETED;
// the terminal state is always reached and a completion notification is
// always sent, partial action failures included.
package response

import (
	"strings"
	"time"
)

// Category classifies an alarm by tokens in its name. The set is closed;
// anything unrecognized is CategoryUnknown and gets the fallback plan.
type Category string

const (
	CategoryHighVolume        Category = "high_volume"
	CategoryURLCreation       Category = "url_creation"
	CategoryScanner           Category = "scanner"
	CategorySuspiciousPattern Category = "suspicious_pattern"
	CategoryUnknown           Category = "unknown"
)

// Classify maps an alarm name to its category.
func Classify(alarmName string) Category {
	name := strings.ToLower(alarmName)
	switch {
	case strings.Contains(name, "high-volume"):
		return CategoryHighVolume
	case strings.Contains(name, "url-creation"):
		return CategoryURLCreation
	case strings.Contains(name, "scanner"):
		return CategoryScanner
	case strings.Contains(name, "suspicious-pattern"), strings.Contains(name, "suspicious_pattern"):
		return CategorySuspiciousPattern
	default:
		return CategoryUnknown
	}
}

// ActionType enumerates the orchestrator's action vocabulary.
type ActionType string

const (
	ActionIdentifyHighVolume  ActionType = "identify_high_volume_ips"
	ActionIdentifySpamCreator ActionType = "identify_spam_creators"
	ActionIdentifyScanners    ActionType = "identify_scanners"
	ActionBlockSuspicious     ActionType = "block_suspicious_ips"
	ActionBlockScanners       ActionType = "block_scanner_ips"
	ActionTemporaryRateLimit  ActionType = "temporary_rate_limit"
	ActionAnalyzePatterns     ActionType = "analyze_suspicious_patterns"
	ActionIncreaseMonitoring  ActionType = "temporary_monitoring_increase"
	ActionIncreaseLogDetail   ActionType = "increase_logging_detail"
	ActionAlertAdmins         ActionType = "alert_admins"
	ActionAlertSecurityTeam   ActionType = "alert_security_team"
)

// Action is one planned step. Transient: it lives only for the duration
// of one orchestration run.
type Action struct {
	Type     ActionType
	Severity string
	Priority string
	Duration time.Duration
}

// policyTable maps category to its ordered action list. Order matters:
// block actions consume the output of the identify actions before them.
var policyTable = map[Category][]Action{
	CategoryHighVolume: {
		{Type: ActionIdentifyHighVolume, Severity: "medium"},
		{Type: ActionTemporaryRateLimit, Duration: 30 * time.Minute},
		{Type: ActionAlertAdmins, Priority: "high"},
	},
	CategoryURLCreation: {
		{Type: ActionIdentifySpamCreator, Severity: "high"},
		{Type: ActionBlockSuspicious, Duration: 60 * time.Minute},
		{Type: ActionAlertAdmins, Priority: "critical"},
	},
	CategoryScanner: {
		{Type: ActionIdentifyScanners, Severity: "high"},
		{Type: ActionBlockScanners, Duration: 120 * time.Minute},
		{Type: ActionAlertSecurityTeam, Priority: "high"},
	},
	CategorySuspiciousPattern: {
		{Type: ActionAnalyzePatterns, Severity: "medium"},
		{Type: ActionIncreaseMonitoring, Duration: 60 * time.Minute},
		{Type: ActionAlertAdmins, Priority: "medium"},
	},
}

// Plan builds the ordered action list for an alarm. Every plan ends with
// the default increase_logging_detail action; unknown categories also get
// an alert_admins fallback so no alarm goes unseen.
func Plan(alarmName string) (Category, []Action) {
	category := Classify(alarmName)

	actions := make([]Action, 0, 5)
	if policy, ok := policyTable[category]; ok {
		actions = append(actions, policy...)
	} else {
		actions = append(actions, Action{Type: ActionAlertAdmins, Priority: "high"})
	}
	actions = append(actions, Action{Type: ActionIncreaseLogDetail, Duration: 30 * time.Minute})
	return category, actions
}
