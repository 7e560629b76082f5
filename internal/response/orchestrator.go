package response

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortify-systems/sentinel/internal/firewall"
	"github.com/shortify-systems/sentinel/internal/metrics"
	"github.com/shortify-systems/sentinel/internal/models"
	"github.com/shortify-systems/sentinel/internal/notify"
	"github.com/shortify-systems/sentinel/internal/reputation"
	"github.com/shortify-systems/sentinel/internal/tracking"
)

// Run states.
const (
	StateReceived  = "RECEIVED"
	StatePlanned   = "PLANNED"
	StateExecuting = "EXECUTING"
	StateCompleted = "COMPLETED"
)

// blockCap bounds how many identities one identify action may feed into
// a block action.
const blockCap = 5

// IdentifiedIP is one mitigation candidate surfaced by an identify action.
type IdentifiedIP struct {
	Identity     string  `json:"identity"`
	RequestCount int64   `json:"request_count"`
	AbuseScore   int64   `json:"abuse_score"`
	ErrorRate    float64 `json:"error_rate,omitempty"`
	LastSeen     string  `json:"last_seen,omitempty"`
}

// Run is the audit record for one orchestration run.
type Run struct {
	ID          string                    `json:"id"`
	AlarmName   string                    `json:"alarm_name"`
	Category    Category                  `json:"category"`
	State       string                    `json:"state"`
	Successful  []string                  `json:"successful_actions"`
	Failed      []string                  `json:"failed_actions"`
	Skipped     []string                  `json:"skipped_actions"`
	IPsBlocked  []string                  `json:"ips_blocked"`
	Flagged     []string                  `json:"reputation_flagged"`
	Identified  map[string][]IdentifiedIP `json:"identified"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt time.Time                 `json:"completed_at"`
}

// LogQuerier is the external log query collaborator. A timed-out query
// yields empty rows, not an error.
type LogQuerier interface {
	RunQuery(ctx context.Context, query string, start, end time.Time) ([]map[string]interface{}, error)
}

// RunRecorder persists completed run audit records.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *Run) error
}

// Orchestrator executes the response state machine. Distinct runs may
// execute concurrently; within a run, actions execute strictly in order
// because block actions consume identify results.
type Orchestrator struct {
	store      *tracking.Store
	reputation *reputation.Cache
	firewall   firewall.Client
	notifier   notify.Channel
	logs       LogQuerier
	recorder   RunRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator wires an orchestrator. logs and recorder may be nil;
// the corresponding steps degrade to no-ops.
func NewOrchestrator(
	store *tracking.Store,
	rep *reputation.Cache,
	fw firewall.Client,
	notifier notify.Channel,
	logs LogQuerier,
	recorder RunRecorder,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		reputation: rep,
		firewall:   fw,
		notifier:   notifier,
		logs:       logs,
		recorder:   recorder,
		logger:     logger,
		now:        time.Now,
	}
}

// Respond runs the full state machine for one alarm signal and returns
// the completed run. The run always reaches COMPLETED; individual action
// failures are recorded, never propagated.
func (o *Orchestrator) Respond(ctx context.Context, signal *models.AlarmSignal) *Run {
	run := &Run{
		ID:         uuid.New().String(),
		AlarmName:  signal.AlarmName,
		State:      StateReceived,
		Successful: []string{},
		Failed:     []string{},
		Skipped:    []string{},
		IPsBlocked: []string{},
		Flagged:    []string{},
		Identified: make(map[string][]IdentifiedIP),
		StartedAt:  o.now().UTC(),
	}

	category, actions := Plan(signal.AlarmName)
	run.Category = category
	run.State = StatePlanned
	metrics.OrchestrationRuns.WithLabelValues(string(category)).Inc()
	o.logger.Info("planned response",
		"run_id", run.ID,
		"alarm", signal.AlarmName,
		"category", category,
		"actions", len(actions))

	run.State = StateExecuting
	for _, action := range actions {
		o.execute(ctx, run, action)
	}

	run.State = StateCompleted
	run.CompletedAt = o.now().UTC()

	for _, name := range run.Successful {
		metrics.ActionsTotal.WithLabelValues(name, "success").Inc()
	}
	for _, name := range run.Failed {
		metrics.ActionsTotal.WithLabelValues(name, "failure").Inc()
	}
	for _, name := range run.Skipped {
		metrics.ActionsTotal.WithLabelValues(name, "skipped").Inc()
	}

	o.notifyCompletion(ctx, run)
	if o.recorder != nil {
		if err := o.recorder.SaveRun(ctx, run); err != nil {
			o.logger.Error("failed to persist orchestration run", "run_id", run.ID, "error", err)
		}
	}
	return run
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, action Action) {
	name := string(action.Type)

	switch action.Type {
	case ActionIdentifyHighVolume:
		ips, err := o.identifyHighVolume(ctx)
		if err != nil {
			run.Failed = append(run.Failed, name)
			o.logger.Error("identify high volume failed", "run_id", run.ID, "error", err)
			return
		}
		run.Identified["high_volume"] = ips
		run.Successful = append(run.Successful, name)

	case ActionIdentifySpamCreator:
		ips, err := o.identifySpamCreators(ctx)
		if err != nil {
			run.Failed = append(run.Failed, name)
			o.logger.Error("identify spam creators failed", "run_id", run.ID, "error", err)
			return
		}
		run.Identified["spam_creators"] = ips
		run.Successful = append(run.Successful, name)

	case ActionIdentifyScanners:
		ips, err := o.identifyScanners(ctx)
		if err != nil {
			run.Failed = append(run.Failed, name)
			o.logger.Error("identify scanners failed", "run_id", run.ID, "error", err)
			return
		}
		run.Identified["scanners"] = ips
		run.Successful = append(run.Successful, name)

	case ActionBlockSuspicious, ActionBlockScanners:
		o.executeBlock(ctx, run, action)

	case ActionTemporaryRateLimit:
		if !o.firewall.Configured() {
			run.Skipped = append(run.Skipped, name)
			o.logger.Warn("rate limit skipped, no control plane configured", "run_id", run.ID)
			return
		}
		if err := o.firewall.ApplyTemporaryRateLimit(ctx, action.Duration); err != nil {
			run.Failed = append(run.Failed, name)
			o.logger.Error("rate limit failed", "run_id", run.ID, "error", err)
			return
		}
		run.Successful = append(run.Successful, name)

	case ActionAnalyzePatterns:
		o.executeAnalyze(ctx, run)

	case ActionAlertAdmins, ActionAlertSecurityTeam:
		n := &notify.Notification{
			Title:    fmt.Sprintf("Alarm triggered: %s", run.AlarmName),
			Severity: action.Priority,
			Body:     fmt.Sprintf("Automated response run %s is handling alarm %s", run.ID, run.AlarmName),
			Details:  map[string]interface{}{"run_id": run.ID, "category": string(run.Category)},
		}
		if err := o.notifier.Send(ctx, n); err != nil {
			run.Failed = append(run.Failed, name)
			o.logger.Error("alert notification failed", "run_id", run.ID, "error", err)
			return
		}
		run.Successful = append(run.Successful, name)

	case ActionIncreaseMonitoring, ActionIncreaseLogDetail:
		// Operational dials handled by the platform; recording the intent
		// is the whole action.
		o.logger.Info("monitoring action applied",
			"run_id", run.ID,
			"action", name,
			"duration", action.Duration)
		run.Successful = append(run.Successful, name)

	default:
		run.Failed = append(run.Failed, name)
		o.logger.Error("unknown action type", "run_id", run.ID, "action", name)
	}
}

// executeBlock blocks the union of up to blockCap identities from each
// preceding identify result. Empty target set or unconfigured control
// plane means skipped, not failed.
func (o *Orchestrator) executeBlock(ctx context.Context, run *Run, action Action) {
	name := string(action.Type)

	targets := make([]string, 0, 2*blockCap)
	seen := make(map[string]bool)
	for _, key := range []string{"spam_creators", "scanners", "high_volume"} {
		ips := run.Identified[key]
		for i, ip := range ips {
			if i >= blockCap {
				break
			}
			if !seen[ip.Identity] {
				seen[ip.Identity] = true
				targets = append(targets, ip.Identity)
			}
		}
	}

	// Cross-check candidates against the reputation cache so the audit
	// trail shows which blocks had corroborating intelligence. Lookups
	// fail open; a reputation outage never stops a block.
	if o.reputation != nil {
		for _, target := range targets {
			entry, err := o.reputation.Lookup(ctx, target)
			if err != nil {
				o.logger.Warn("reputation lookup failed", "run_id", run.ID, "identity", target, "error", err)
				continue
			}
			if entry.IsMalicious || entry.ConfidenceScore >= 30 {
				run.Flagged = append(run.Flagged, target)
			}
		}
	}

	if len(targets) == 0 || !o.firewall.Configured() {
		run.Skipped = append(run.Skipped, name)
		o.logger.Warn("block skipped",
			"run_id", run.ID,
			"action", name,
			"targets", len(targets),
			"configured", o.firewall.Configured())
		return
	}

	blocked, err := o.firewall.BlockIdentities(ctx, targets, action.Duration)
	if err != nil {
		run.Failed = append(run.Failed, name)
		o.logger.Error("block failed", "run_id", run.ID, "error", err)
		return
	}
	run.IPsBlocked = append(run.IPsBlocked, blocked...)
	metrics.IPsBlocked.Add(float64(len(blocked)))
	run.Successful = append(run.Successful, name)
}

func (o *Orchestrator) executeAnalyze(ctx context.Context, run *Run) {
	name := string(ActionAnalyzePatterns)
	if o.logs == nil {
		run.Skipped = append(run.Skipped, name)
		return
	}

	end := o.now().UTC()
	start := end.Add(-time.Hour)
	query := "status:4* | stats count by identity, resource | sort -count"
	rows, err := o.logs.RunQuery(ctx, query, start, end)
	if err != nil {
		run.Failed = append(run.Failed, name)
		o.logger.Error("pattern analysis query failed", "run_id", run.ID, "error", err)
		return
	}
	o.logger.Info("pattern analysis complete", "run_id", run.ID, "rows", len(rows))
	run.Successful = append(run.Successful, name)
}

// identifyHighVolume surfaces the heaviest abusers currently in the high
// range, worst first.
func (o *Orchestrator) identifyHighVolume(ctx context.Context) ([]IdentifiedIP, error) {
	records, err := o.store.QueryByScoreRange(ctx, tracking.RangeHigh, 20)
	if err != nil {
		return nil, err
	}
	ips := toIdentified(records)
	sortByScore(ips)
	return cap10(dedupeByIdentity(ips)), nil
}

// identifySpamCreators surfaces critical-range identities that have been
// POSTing to the creation endpoint.
func (o *Orchestrator) identifySpamCreators(ctx context.Context) ([]IdentifiedIP, error) {
	records, err := o.store.QueryByScoreRange(ctx, tracking.RangeCritical, 15)
	if err != nil {
		return nil, err
	}

	creators := make([]IdentifiedIP, 0, len(records))
	for _, rec := range records {
		if !containsString(rec.Methods, "POST") || !containsResource(rec.Resources, "/create") {
			continue
		}
		creators = append(creators, recordToIdentified(rec))
	}
	sortByScore(creators)
	creators = dedupeByIdentity(creators)
	if len(creators) > blockCap {
		creators = creators[:blockCap]
	}
	return creators, nil
}

// identifyScanners surfaces identities whose accumulated status codes are
// dominated by client errors at meaningful volume, regardless of range.
func (o *Orchestrator) identifyScanners(ctx context.Context) ([]IdentifiedIP, error) {
	scanners := make([]IdentifiedIP, 0, blockCap)
	for _, scoreRange := range []string{tracking.RangeMedium, tracking.RangeHigh, tracking.RangeCritical} {
		records, err := o.store.QueryByScoreRange(ctx, scoreRange, 20)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if !rec.HasStatus("404") {
				continue
			}
			rate := rec.ErrorRate()
			if rate > 50 && rec.RequestCount > 10 {
				ip := recordToIdentified(rec)
				ip.ErrorRate = rate
				scanners = append(scanners, ip)
			}
		}
	}

	sort.SliceStable(scanners, func(i, j int) bool {
		return scanners[i].ErrorRate > scanners[j].ErrorRate
	})
	scanners = dedupeByIdentity(scanners)
	if len(scanners) > blockCap {
		scanners = scanners[:blockCap]
	}
	return scanners, nil
}

func (o *Orchestrator) notifyCompletion(ctx context.Context, run *Run) {
	counts := make(map[string]interface{}, len(run.Identified))
	for key, ips := range run.Identified {
		counts[key] = len(ips)
	}

	n := &notify.Notification{
		Title:    fmt.Sprintf("Response complete: %s", run.AlarmName),
		Severity: "info",
		Body: fmt.Sprintf("%d succeeded, %d failed, %d skipped, %d IPs blocked",
			len(run.Successful), len(run.Failed), len(run.Skipped), len(run.IPsBlocked)),
		Details: map[string]interface{}{
			"run_id":             run.ID,
			"successful_actions": strings.Join(run.Successful, ","),
			"failed_actions":     strings.Join(run.Failed, ","),
			"ips_blocked":        strings.Join(run.IPsBlocked, ","),
			"identified":         counts,
		},
	}
	if err := o.notifier.Send(ctx, n); err != nil {
		o.logger.Error("completion notification failed", "run_id", run.ID, "error", err)
	}
}

func toIdentified(records []*tracking.Record) []IdentifiedIP {
	ips := make([]IdentifiedIP, 0, len(records))
	for _, rec := range records {
		ips = append(ips, recordToIdentified(rec))
	}
	return ips
}

func recordToIdentified(rec *tracking.Record) IdentifiedIP {
	ip := IdentifiedIP{
		Identity:     rec.Identity,
		RequestCount: rec.RequestCount,
		AbuseScore:   rec.AbuseScoreSum,
	}
	if !rec.LastSeen.IsZero() {
		ip.LastSeen = rec.LastSeen.UTC().Format(time.RFC3339)
	}
	return ip
}

// dedupeByIdentity drops repeat identities, keeping the first occurrence.
// Both window granularities index the same identity, so raw range queries
// can surface it twice. Call after sorting so the strongest record wins.
func dedupeByIdentity(ips []IdentifiedIP) []IdentifiedIP {
	seen := make(map[string]bool, len(ips))
	out := ips[:0]
	for _, ip := range ips {
		if seen[ip.Identity] {
			continue
		}
		seen[ip.Identity] = true
		out = append(out, ip)
	}
	return out
}

func sortByScore(ips []IdentifiedIP) {
	sort.SliceStable(ips, func(i, j int) bool {
		return ips[i].AbuseScore > ips[j].AbuseScore
	})
}

func cap10(ips []IdentifiedIP) []IdentifiedIP {
	if len(ips) > 10 {
		return ips[:10]
	}
	return ips
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func containsResource(resources []string, substr string) bool {
	for _, r := range resources {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}
