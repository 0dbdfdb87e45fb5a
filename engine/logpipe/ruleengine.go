package logpipe

import (
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// compiledRule is a rule with its regex conditions materialised. Regexes
// compile once at load time; a compilation failure drops that rule only.
type compiledRule struct {
	Rule
	regexes map[int]*regexp.Regexp // condition index -> compiled pattern
}

// ruleSet is one immutable load observation; the engine swaps it
// atomically on reload.
type ruleSet struct {
	rules []compiledRule
}

// RuleMatch reports one rule firing on one entry.
type RuleMatch struct {
	Rule      Rule
	MatchedAt time.Time
	// MatchCount is the threshold window population when the rule has a
	// threshold, zero otherwise.
	MatchCount int
	// Test marks matches of test-status rules; they must not produce
	// alerts downstream.
	Test bool
}

// RuleEngine evaluates entries against the loaded rule snapshot and keeps
// the per-rule threshold windows. Windows are owned by the evaluating
// task; the snapshot is read-mostly and swapped atomically.
type RuleEngine struct {
	snapshot atomic.Pointer[ruleSet]
	logger   *slog.Logger

	// windows: rule id -> group-key value -> sample timestamps
	windows map[string]map[string][]time.Time
}

// NewRuleEngine creates an engine with no rules loaded.
func NewRuleEngine(logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &RuleEngine{
		logger:  logger,
		windows: make(map[string]map[string][]time.Time),
	}
	e.snapshot.Store(&ruleSet{})
	return e
}

// LoadDir loads and compiles every rule in dir, then swaps the snapshot.
// Threshold windows reset on reload. Returns the loaded rule count.
func (e *RuleEngine) LoadDir(dir string) (int, error) {
	rules, err := LoadRuleDir(dir, e.logger)
	if err != nil {
		return 0, err
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			e.logger.Warn("rule compilation failed, dropping rule",
				slog.String("rule_id", r.ID), slog.String("error", err.Error()))
			continue
		}
		compiled = append(compiled, cr)
	}
	e.snapshot.Store(&ruleSet{rules: compiled})
	e.windows = make(map[string]map[string][]time.Time)
	return len(compiled), nil
}

func compileRule(r Rule) (compiledRule, error) {
	cr := compiledRule{Rule: r}
	for i, c := range r.Detection.Conditions {
		if c.Modifier != MatchRegex {
			continue
		}
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return compiledRule{}, detectionErr(r.ID, "regex compile: "+err.Error())
		}
		if cr.regexes == nil {
			cr.regexes = make(map[int]*regexp.Regexp)
		}
		cr.regexes[i] = re
	}
	return cr, nil
}

// RuleCount returns the size of the current snapshot.
func (e *RuleEngine) RuleCount() int {
	return len(e.snapshot.Load().rules)
}

// Rules returns a copy of the current rules.
func (e *RuleEngine) Rules() []Rule {
	snap := e.snapshot.Load()
	out := make([]Rule, len(snap.rules))
	for i, cr := range snap.rules {
		out[i] = cr.Rule
	}
	return out
}

// Evaluate checks the entry against every rule in the snapshot. Disabled
// rules are skipped; test rules yield matches flagged Test.
func (e *RuleEngine) Evaluate(entry *models.LogEntry, now time.Time) []RuleMatch {
	snap := e.snapshot.Load()
	var matches []RuleMatch
	for i := range snap.rules {
		cr := &snap.rules[i]
		if cr.Status == RuleDisabled {
			continue
		}
		if !e.conditionsMatch(cr, entry) {
			continue
		}
		match := RuleMatch{Rule: cr.Rule, MatchedAt: now, Test: cr.Status == RuleTest}
		if t := cr.Detection.Threshold; t != nil {
			count, fired := e.recordThreshold(cr, entry, now)
			if !fired {
				continue
			}
			match.MatchCount = count
		}
		matches = append(matches, match)
	}
	return matches
}

func (e *RuleEngine) conditionsMatch(cr *compiledRule, entry *models.LogEntry) bool {
	if len(cr.Detection.Conditions) == 0 {
		return false
	}
	for i, c := range cr.Detection.Conditions {
		value, ok := lookupField(entry, c.Field)
		if !ok {
			return false
		}
		switch c.Modifier {
		case "", MatchExact:
			if value != c.Value {
				return false
			}
		case MatchContains:
			if !strings.Contains(value, c.Value) {
				return false
			}
		case MatchStartsWith:
			if !strings.HasPrefix(value, c.Value) {
				return false
			}
		case MatchEndsWith:
			if !strings.HasSuffix(value, c.Value) {
				return false
			}
		case MatchRegex:
			re := cr.regexes[i]
			if re == nil || !re.MatchString(value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// lookupField resolves a condition field name: built-ins first, then the
// entry's extra fields (first match wins).
func lookupField(entry *models.LogEntry, field string) (string, bool) {
	switch field {
	case "source":
		return entry.Source, true
	case "hostname":
		return entry.Hostname, true
	case "process":
		return entry.Process, true
	case "message":
		return entry.Message, true
	case "severity":
		return entry.Severity.String(), true
	}
	return entry.FieldValue(field)
}

// recordThreshold inserts one sample into the rule's window and reports
// whether the rule fires. Expired samples are discarded lazily on insert.
func (e *RuleEngine) recordThreshold(cr *compiledRule, entry *models.LogEntry, now time.Time) (int, bool) {
	t := cr.Detection.Threshold
	groupValue, ok := lookupField(entry, t.Field)
	if !ok {
		groupValue = ""
	}

	groups := e.windows[cr.ID]
	if groups == nil {
		groups = make(map[string][]time.Time)
		e.windows[cr.ID] = groups
	}
	cutoff := now.Add(-time.Duration(t.TimeframeSecs) * time.Second)
	samples := groups[groupValue]
	kept := samples[:0]
	for _, ts := range samples {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	groups[groupValue] = kept
	return len(kept), len(kept) >= t.Count
}
