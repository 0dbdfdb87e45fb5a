package logpipe

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dongwonkwak/ironpost/engine/models"
	"github.com/dongwonkwak/ironpost/engine/telemetry/metrics"
)

// AlertGenerator turns rule matches into alert events, applying per-rule
// deduplication and rate limiting. Owned by the pipeline main loop; no
// internal locking.
type AlertGenerator struct {
	dedupWindow time.Duration
	rateLimit   int
	logger      *slog.Logger
	recorder    *metrics.Recorder

	// dedup: rule id -> last emission time
	lastEmitted map[string]time.Time
	// rate: rule id -> (count this minute, minute start)
	rate map[string]*rateWindow

	totalGenerated  uint64
	dedupSuppressed uint64
	rateSuppressed  uint64
}

type rateWindow struct {
	count int
	start time.Time
}

// NewAlertGenerator creates a generator. A zero dedupWindowSecs disables
// deduplication.
func NewAlertGenerator(dedupWindowSecs, rateLimitPerRule int, logger *slog.Logger, recorder *metrics.Recorder) *AlertGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertGenerator{
		dedupWindow: time.Duration(dedupWindowSecs) * time.Second,
		rateLimit:   rateLimitPerRule,
		logger:      logger,
		recorder:    recorder,
		lastEmitted: make(map[string]time.Time),
		rate:        make(map[string]*rateWindow),
	}
}

// Generate produces an alert event for a match, or nil when suppressed.
// The log entry's trace id is preserved on the emitted event.
func (g *AlertGenerator) Generate(match *RuleMatch, traceID string, now time.Time) *models.AlertEvent {
	ruleID := match.Rule.ID

	if g.isDuplicate(ruleID, now) {
		g.dedupSuppressed++
		g.recorder.IncDedupSuppressed()
		g.logger.Debug("alert suppressed by dedup window", slog.String("rule_id", ruleID))
		return nil
	}
	if g.isRateLimited(ruleID, now) {
		g.rateSuppressed++
		g.recorder.IncRateSuppressed()
		g.logger.Debug("alert suppressed by rate limit", slog.String("rule_id", ruleID))
		return nil
	}

	alert := models.Alert{
		ID:          uuid.NewString(),
		Title:       match.Rule.Title,
		Description: match.Rule.Description,
		Severity:    match.Rule.Severity,
		RuleName:    ruleID,
		CreatedAt:   now,
	}
	ev := &models.AlertEvent{
		Metadata: models.WithTrace(models.SourceLogPipe, traceID),
		Alert:    alert,
	}

	g.lastEmitted[ruleID] = now
	g.bumpRate(ruleID, now)
	g.totalGenerated++
	g.recorder.IncAlert(alert.Severity.String())
	return ev
}

func (g *AlertGenerator) isDuplicate(ruleID string, now time.Time) bool {
	if g.dedupWindow <= 0 {
		return false
	}
	last, ok := g.lastEmitted[ruleID]
	return ok && now.Sub(last) < g.dedupWindow
}

func (g *AlertGenerator) isRateLimited(ruleID string, now time.Time) bool {
	w, ok := g.rate[ruleID]
	if !ok || now.Sub(w.start) >= time.Minute {
		return false
	}
	return w.count >= g.rateLimit
}

func (g *AlertGenerator) bumpRate(ruleID string, now time.Time) {
	w, ok := g.rate[ruleID]
	if !ok || now.Sub(w.start) >= time.Minute {
		g.rate[ruleID] = &rateWindow{count: 1, start: now}
		return
	}
	w.count++
}

// CleanupExpired evicts dedup entries older than twice the window and rate
// windows older than two minutes. Called periodically by the pipeline.
func (g *AlertGenerator) CleanupExpired(now time.Time) {
	for id, last := range g.lastEmitted {
		if now.Sub(last) >= g.dedupWindow*2 {
			delete(g.lastEmitted, id)
		}
	}
	for id, w := range g.rate {
		if now.Sub(w.start) >= 2*time.Minute {
			delete(g.rate, id)
		}
	}
}

// TotalGenerated returns the number of alerts emitted.
func (g *AlertGenerator) TotalGenerated() uint64 { return g.totalGenerated }

// DedupSuppressed returns the number of alerts the dedup window swallowed.
func (g *AlertGenerator) DedupSuppressed() uint64 { return g.dedupSuppressed }

// RateSuppressed returns the number of alerts the rate limit swallowed.
func (g *AlertGenerator) RateSuppressed() uint64 { return g.rateSuppressed }
