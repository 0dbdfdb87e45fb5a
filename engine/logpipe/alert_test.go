package logpipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongwonkwak/ironpost/engine/models"
)

func highMatch(ruleID string) RuleMatch {
	return RuleMatch{
		Rule: Rule{
			ID:          ruleID,
			Title:       "Test Alert",
			Description: "Test description",
			Severity:    models.SeverityHigh,
			Status:      RuleEnabled,
		},
		MatchedAt: time.Now(),
	}
}

func TestGenerateFirstMatch(t *testing.T) {
	g := NewAlertGenerator(60, 10, nil, nil)
	m := highMatch("r1")
	ev := g.Generate(&m, "trace-1", time.Now())
	require.NotNil(t, ev)
	assert.Equal(t, "Test Alert", ev.Alert.Title)
	assert.Equal(t, models.SeverityHigh, ev.Alert.Severity)
	assert.Equal(t, "r1", ev.Alert.RuleName)
	assert.NotEmpty(t, ev.Alert.ID)
	assert.Equal(t, "trace-1", ev.Metadata.TraceID)
	assert.Equal(t, uint64(1), g.TotalGenerated())
}

func TestDedupSuppressesWithinWindow(t *testing.T) {
	g := NewAlertGenerator(60, 10, nil, nil)
	m := highMatch("r1")
	now := time.Now()

	require.NotNil(t, g.Generate(&m, "t", now))
	// 10s later, inside the 60s window: suppressed
	assert.Nil(t, g.Generate(&m, "t", now.Add(10*time.Second)))
	assert.Equal(t, uint64(1), g.DedupSuppressed())
	assert.Equal(t, uint64(1), g.TotalGenerated())
}

func TestDedupWindowZeroDisables(t *testing.T) {
	g := NewAlertGenerator(0, 100, nil, nil)
	m := highMatch("r1")
	now := time.Now()
	require.NotNil(t, g.Generate(&m, "t", now))
	require.NotNil(t, g.Generate(&m, "t", now))
	assert.Equal(t, uint64(0), g.DedupSuppressed())
}

func TestRateLimitPerMinute(t *testing.T) {
	g := NewAlertGenerator(0, 2, nil, nil)
	m := highMatch("r1")
	now := time.Now()

	// five matches within one second, limit 2: three suppressed
	emitted := 0
	for i := 0; i < 5; i++ {
		if g.Generate(&m, "t", now.Add(time.Duration(i)*200*time.Millisecond)) != nil {
			emitted++
		}
	}
	assert.Equal(t, 2, emitted)
	assert.Equal(t, uint64(3), g.RateSuppressed())
}

func TestRateCounterResetsNextMinute(t *testing.T) {
	g := NewAlertGenerator(0, 1, nil, nil)
	m := highMatch("r1")
	now := time.Now()

	require.NotNil(t, g.Generate(&m, "t", now))
	assert.Nil(t, g.Generate(&m, "t", now.Add(time.Second)))
	require.NotNil(t, g.Generate(&m, "t", now.Add(61*time.Second)))
}

func TestRulesTrackedIndependently(t *testing.T) {
	g := NewAlertGenerator(60, 10, nil, nil)
	a := highMatch("rule_a")
	b := highMatch("rule_b")
	now := time.Now()

	require.NotNil(t, g.Generate(&a, "t", now))
	require.NotNil(t, g.Generate(&b, "t", now))
	assert.Nil(t, g.Generate(&a, "t", now.Add(time.Second)))
	assert.Nil(t, g.Generate(&b, "t", now.Add(time.Second)))
	assert.Equal(t, uint64(2), g.TotalGenerated())
}

func TestCleanupExpiredEvictsTrackers(t *testing.T) {
	g := NewAlertGenerator(60, 10, nil, nil)
	m := highMatch("r1")
	now := time.Now()
	g.Generate(&m, "t", now)

	g.CleanupExpired(now.Add(121 * time.Second))
	assert.Empty(t, g.lastEmitted)
	assert.Empty(t, g.rate)

	// after eviction the rule can fire again
	require.NotNil(t, g.Generate(&m, "t", now.Add(122*time.Second)))
}

func TestFreshTraceWhenEmpty(t *testing.T) {
	g := NewAlertGenerator(0, 10, nil, nil)
	m := highMatch("r1")
	ev := g.Generate(&m, "", time.Now())
	require.NotNil(t, ev)
	assert.NotEmpty(t, ev.Metadata.TraceID)
}
