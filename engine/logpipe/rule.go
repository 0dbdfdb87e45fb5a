package logpipe

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dongwonkwak/ironpost/engine/models"
)

const (
	// maxRuleFileSize bounds one YAML rule file.
	maxRuleFileSize = 10 * 1024 * 1024
	// maxRuleCount bounds the total rules loaded from one directory.
	maxRuleCount = 10_000
	// maxRuleIDLength bounds a rule id.
	maxRuleIDLength = 256
)

// RuleStatus controls whether a rule participates in detection.
type RuleStatus string

const (
	// RuleEnabled rules match and produce alerts.
	RuleEnabled RuleStatus = "enabled"
	// RuleDisabled rules are skipped entirely.
	RuleDisabled RuleStatus = "disabled"
	// RuleTest rules match for observability but never produce alerts.
	RuleTest RuleStatus = "test"
)

// ConditionModifier selects the matching mode of a field condition.
type ConditionModifier string

const (
	MatchExact      ConditionModifier = "exact"
	MatchContains   ConditionModifier = "contains"
	MatchStartsWith ConditionModifier = "startswith"
	MatchEndsWith   ConditionModifier = "endswith"
	MatchRegex      ConditionModifier = "regex"
)

// FieldCondition matches one log entry field.
type FieldCondition struct {
	Field    string            `yaml:"field"`
	Modifier ConditionModifier `yaml:"modifier"`
	Value    string            `yaml:"value"`
}

// ThresholdConfig fires a rule only after count matches sharing the same
// group-field value within timeframe seconds.
type ThresholdConfig struct {
	Field         string `yaml:"field"`
	Count         int    `yaml:"count"`
	TimeframeSecs int    `yaml:"timeframe_secs"`
}

// Detection is the condition block of a rule. Conditions combine by AND.
type Detection struct {
	Conditions []FieldCondition `yaml:"conditions"`
	Threshold  *ThresholdConfig `yaml:"threshold"`
}

// Rule is one detection rule, loaded from one YAML file.
type Rule struct {
	ID          string          `yaml:"id"`
	Title       string          `yaml:"title"`
	Description string          `yaml:"description"`
	Severity    models.Severity `yaml:"severity"`
	Status      RuleStatus      `yaml:"status"`
	Detection   Detection       `yaml:"detection"`
	Tags        []string        `yaml:"tags"`
}

// Validate checks structural constraints before compilation.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return detectionErr("(empty)", "rule id must not be empty")
	}
	if len(r.ID) > maxRuleIDLength {
		return detectionErr(r.ID, fmt.Sprintf("rule id must not exceed %d characters", maxRuleIDLength))
	}
	if r.Title == "" {
		return detectionErr(r.ID, "rule title must not be empty")
	}
	switch r.Status {
	case "", RuleEnabled, RuleDisabled, RuleTest:
	default:
		return detectionErr(r.ID, fmt.Sprintf("unknown rule status %q", r.Status))
	}
	for _, c := range r.Detection.Conditions {
		if c.Field == "" {
			return detectionErr(r.ID, "condition field must not be empty")
		}
		switch c.Modifier {
		case "", MatchExact, MatchContains, MatchStartsWith, MatchEndsWith, MatchRegex:
		default:
			return detectionErr(r.ID, fmt.Sprintf("unknown condition modifier %q", c.Modifier))
		}
	}
	if t := r.Detection.Threshold; t != nil {
		if t.Field == "" {
			return detectionErr(r.ID, "threshold field must not be empty")
		}
		if t.Count < 1 {
			return detectionErr(r.ID, "threshold count must be >= 1")
		}
		if t.TimeframeSecs < 1 {
			return detectionErr(r.ID, "threshold timeframe must be >= 1")
		}
	}
	return nil
}

// ParseRuleYAML decodes and validates one rule document.
func ParseRuleYAML(data []byte, source string) (Rule, error) {
	var rule Rule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return Rule{}, detectionErr(source, "YAML parse error: "+err.Error())
	}
	if rule.Status == "" {
		rule.Status = RuleEnabled
	}
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// LoadRuleFile reads one .yml/.yaml file, enforcing the size cap.
func LoadRuleFile(path string) (Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Rule{}, detectionErr(path, "stat: "+err.Error())
	}
	if info.Size() > maxRuleFileSize {
		return Rule{}, detectionErr(path, fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), maxRuleFileSize))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rule{}, detectionErr(path, "read: "+err.Error())
	}
	return ParseRuleYAML(data, path)
}

// LoadRuleDir scans dir for rule files. Malformed files and duplicate ids
// are logged and skipped, never fatal; exceeding the rule cap is fatal.
func LoadRuleDir(dir string, logger *slog.Logger) ([]Rule, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, detectionErr(dir, "read directory: "+err.Error())
	}

	var rules []Rule
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		rule, err := LoadRuleFile(path)
		if err != nil {
			logger.Warn("failed to load rule file, skipping",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if _, dup := seen[rule.ID]; dup {
			logger.Warn("duplicate rule id, skipping",
				slog.String("rule_id", rule.ID), slog.String("path", path))
			continue
		}
		seen[rule.ID] = struct{}{}
		rules = append(rules, rule)
		if len(rules) > maxRuleCount {
			return nil, detectionErr(dir, fmt.Sprintf("too many rules: max %d", maxRuleCount))
		}
	}
	logger.Info("loaded detection rules", slog.String("dir", dir), slog.Int("count", len(rules)))
	return rules, nil
}
