package guard

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gobwas/glob"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// IsolationAction names the enforcement operation a policy requests.
type IsolationAction string

const (
	ActionPause             IsolationAction = "pause"
	ActionStop              IsolationAction = "stop"
	ActionKill              IsolationAction = "kill"
	ActionDisconnectNetwork IsolationAction = "disconnect_network"
)

// UnmarshalText validates action names from policy files.
func (a *IsolationAction) UnmarshalText(text []byte) error {
	v := IsolationAction(strings.ToLower(string(text)))
	switch v {
	case ActionPause, ActionStop, ActionKill, ActionDisconnectNetwork:
		*a = v
		return nil
	default:
		return fmt.Errorf("unknown isolation action %q", string(text))
	}
}

// TargetFilter selects the containers a policy applies to. Every
// non-empty category must pass; an empty category does not restrict.
type TargetFilter struct {
	ContainerNames []string          `toml:"container_names"`
	ImagePatterns  []string          `toml:"image_patterns"`
	Labels         map[string]string `toml:"labels"`
}

func (f *TargetFilter) empty() bool {
	return len(f.ContainerNames) == 0 && len(f.ImagePatterns) == 0 && len(f.Labels) == 0
}

// Policy is one security policy, loaded from one TOML file.
type Policy struct {
	ID                string          `toml:"id"`
	Name              string          `toml:"name"`
	Description       string          `toml:"description"`
	Enabled           bool            `toml:"enabled"`
	SeverityThreshold models.Severity `toml:"severity_threshold"`
	TargetFilter      TargetFilter    `toml:"target_filter"`
	Action            IsolationAction `toml:"action"`
	Priority          int             `toml:"priority"`
}

// Validate checks structural constraints.
func (p *Policy) Validate() error {
	if p.ID == "" {
		return models.NewError(models.ErrKindContainer, "(empty)", "policy id must not be empty")
	}
	switch p.Action {
	case ActionPause, ActionStop, ActionKill, ActionDisconnectNetwork:
	default:
		return models.NewError(models.ErrKindContainer, p.ID, fmt.Sprintf("unknown isolation action %q", p.Action))
	}
	if p.TargetFilter.empty() {
		return models.NewError(models.ErrKindContainer, p.ID, "target filter must not be empty")
	}
	return nil
}

// compiledPolicy carries pre-compiled glob matchers.
type compiledPolicy struct {
	Policy
	nameGlobs  []glob.Glob
	imageGlobs []glob.Glob
}

func compilePolicy(p Policy) (compiledPolicy, error) {
	cp := compiledPolicy{Policy: p}
	for _, pattern := range p.TargetFilter.ContainerNames {
		g, err := glob.Compile(pattern)
		if err != nil {
			return compiledPolicy{}, models.NewError(models.ErrKindContainer, p.ID,
				fmt.Sprintf("bad container name pattern %q: %v", pattern, err))
		}
		cp.nameGlobs = append(cp.nameGlobs, g)
	}
	for _, pattern := range p.TargetFilter.ImagePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return compiledPolicy{}, models.NewError(models.ErrKindContainer, p.ID,
				fmt.Sprintf("bad image pattern %q: %v", pattern, err))
		}
		cp.imageGlobs = append(cp.imageGlobs, g)
	}
	return cp, nil
}

// matches reports whether the filter accepts the container: every
// specified category must pass.
func (cp *compiledPolicy) matches(c *models.ContainerInfo) bool {
	if len(cp.nameGlobs) > 0 && !anyMatch(cp.nameGlobs, c.Name) {
		return false
	}
	if len(cp.imageGlobs) > 0 && !anyMatch(cp.imageGlobs, c.Image) {
		return false
	}
	for k, v := range cp.TargetFilter.Labels {
		if c.Labels[k] != v {
			return false
		}
	}
	return true
}

func anyMatch(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// PolicyEngine holds the active policy snapshot in priority order.
type PolicyEngine struct {
	policies []compiledPolicy
}

// NewPolicyEngine compiles and orders the given policies. Invalid
// policies fail construction.
func NewPolicyEngine(policies []Policy) (*PolicyEngine, error) {
	compiled := make([]compiledPolicy, 0, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		cp, err := compilePolicy(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, cp)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority < compiled[j].Priority
	})
	return &PolicyEngine{policies: compiled}, nil
}

// Len returns the number of loaded policies.
func (e *PolicyEngine) Len() int { return len(e.policies) }

// Policies returns the active policies in priority order.
func (e *PolicyEngine) Policies() []Policy {
	out := make([]Policy, len(e.policies))
	for i, cp := range e.policies {
		out[i] = cp.Policy
	}
	return out
}

// Evaluate returns the first enabled policy (ascending priority) whose
// severity threshold and target filter both accept the alert/container
// pair, or nil when none match.
func (e *PolicyEngine) Evaluate(alert *models.Alert, container *models.ContainerInfo) *Policy {
	for i := range e.policies {
		cp := &e.policies[i]
		if !cp.Enabled {
			continue
		}
		if alert.Severity < cp.SeverityThreshold {
			continue
		}
		if !cp.matches(container) {
			continue
		}
		p := cp.Policy
		return &p
	}
	return nil
}

// LoadPolicyFile reads and validates one TOML policy file.
func LoadPolicyFile(path string) (Policy, error) {
	var p Policy
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Policy{}, models.NewError(models.ErrKindContainer, path, "TOML parse error: "+err.Error())
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicyDir loads every .toml policy under dir. Files that fail to
// parse or validate are logged and skipped; the load never fails on a
// single bad file.
func LoadPolicyDir(dir string, logger *slog.Logger) ([]Policy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, models.NewError(models.ErrKindContainer, dir, "read directory: "+err.Error())
	}
	var policies []Policy
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != ".toml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		p, err := LoadPolicyFile(path)
		if err != nil {
			logger.Warn("failed to load policy file, skipping",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if _, dup := seen[p.ID]; dup {
			logger.Warn("duplicate policy id, skipping",
				slog.String("policy_id", p.ID), slog.String("path", path))
			continue
		}
		seen[p.ID] = struct{}{}
		policies = append(policies, p)
	}
	logger.Info("loaded security policies", slog.String("dir", dir), slog.Int("count", len(policies)))
	return policies, nil
}
