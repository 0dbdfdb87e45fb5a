package logpipe

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongwonkwak/ironpost/engine/models"
)

const sampleRuleYAML = `
id: ssh_brute
title: SSH Brute Force
description: Detects repeated failed SSH logins
severity: high
detection:
  conditions:
    - field: process
      modifier: exact
      value: sshd
    - field: message
      modifier: contains
      value: "Failed password"
  threshold:
    field: source_ip
    count: 5
    timeframe_secs: 300
tags:
  - authentication
  - ssh
`

func TestParseRuleYAML(t *testing.T) {
	rule, err := ParseRuleYAML([]byte(sampleRuleYAML), "ssh_brute.yml")
	require.NoError(t, err)
	assert.Equal(t, "ssh_brute", rule.ID)
	assert.Equal(t, models.SeverityHigh, rule.Severity)
	assert.Equal(t, RuleEnabled, rule.Status)
	assert.Len(t, rule.Detection.Conditions, 2)
	require.NotNil(t, rule.Detection.Threshold)
	assert.Equal(t, 5, rule.Detection.Threshold.Count)
	assert.Equal(t, []string{"authentication", "ssh"}, rule.Tags)
}

func TestParseRuleYAMLInvalid(t *testing.T) {
	_, err := ParseRuleYAML([]byte("not: [valid: yaml: {{{"), "bad.yml")
	assert.Error(t, err)
}

func TestRuleValidation(t *testing.T) {
	base := func() Rule {
		return Rule{
			ID:       "r1",
			Title:    "Rule",
			Severity: models.SeverityLow,
			Status:   RuleEnabled,
			Detection: Detection{
				Conditions: []FieldCondition{{Field: "process", Value: "sshd"}},
			},
		}
	}

	r := base()
	require.NoError(t, r.Validate())

	r = base()
	r.ID = ""
	assert.Error(t, r.Validate())

	r = base()
	r.ID = string(make([]byte, 300))
	assert.Error(t, r.Validate())

	r = base()
	r.Title = ""
	assert.Error(t, r.Validate())

	r = base()
	r.Detection.Threshold = &ThresholdConfig{Field: "source_ip", Count: 0, TimeframeSecs: 60}
	assert.Error(t, r.Validate())

	r = base()
	r.Detection.Threshold = &ThresholdConfig{Field: "source_ip", Count: 5, TimeframeSecs: 0}
	assert.Error(t, r.Validate())

	r = base()
	r.Detection.Threshold = &ThresholdConfig{Field: "", Count: 5, TimeframeSecs: 60}
	assert.Error(t, r.Validate())
}

func writeRule(t *testing.T, dir, name, id string) {
	t.Helper()
	content := fmt.Sprintf("id: %s\ntitle: Rule %s\nseverity: low\ndetection:\n  conditions:\n    - field: process\n      value: sshd\n", id, id)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadRuleDir(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "a.yml", "rule_a")
	writeRule(t, dir, "b.yaml", "rule_b")
	// ignored: wrong extension
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("id: nope"), 0o600))
	// malformed: skipped with a warning
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("{{{"), 0o600))
	// duplicate id: skipped
	writeRule(t, dir, "dup.yml", "rule_a")

	rules, err := LoadRuleDir(dir, nil)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestLoadRuleDirEmpty(t *testing.T) {
	rules, err := LoadRuleDir(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadRuleDirMissing(t *testing.T) {
	_, err := LoadRuleDir("/nonexistent/ironpost/rules", nil)
	assert.Error(t, err)
}
