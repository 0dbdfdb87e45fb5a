// Package engine composes the ironpost modules into one daemon: it owns
// the inter-module channels, starts producers first, stops consumers
// first, and aggregates module health.
package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dongwonkwak/ironpost/engine/models"
	"github.com/dongwonkwak/ironpost/engine/telemetry/health"
)

// Pipeline is the lifecycle contract every module implements.
//
// State machine: Initialized -> Running -> Stopped. Start on a running
// module fails with models.ErrAlreadyRunning; Stop outside Running fails
// with models.ErrNotRunning.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) health.Report
}

// ModuleHandle wraps a module with registry metadata.
type ModuleHandle struct {
	Name     string
	Enabled  bool
	Pipeline Pipeline

	started bool
}

// HealthCheck returns the module's report; disabled modules are
// vacuously healthy.
func (h *ModuleHandle) HealthCheck(ctx context.Context) health.Report {
	if !h.Enabled {
		return health.Healthy()
	}
	return h.Pipeline.Health(ctx)
}

// Registry tracks modules in dependency order: producers before their
// consumers. Registration order is authoritative.
type Registry struct {
	modules []*ModuleHandle
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register appends a module handle.
func (r *Registry) Register(name string, enabled bool, p Pipeline) {
	r.modules = append(r.modules, &ModuleHandle{Name: name, Enabled: enabled, Pipeline: p})
}

// Count returns the number of registered modules.
func (r *Registry) Count() int { return len(r.modules) }

// EnabledCount returns the number of enabled modules.
func (r *Registry) EnabledCount() int {
	n := 0
	for _, m := range r.modules {
		if m.Enabled {
			n++
		}
	}
	return n
}

// StartAll starts enabled modules in registration order, returning on
// the first failure. Already-started modules are not rolled back; the
// caller decides whether to StopAll.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, m := range r.modules {
		if !m.Enabled {
			r.logger.Debug("skipping disabled module", slog.String("module", m.Name))
			continue
		}
		r.logger.Info("starting module", slog.String("module", m.Name))
		if err := m.Pipeline.Start(ctx); err != nil {
			return models.WrapError(models.ErrKindPipeline, m.Name, err)
		}
		m.started = true
	}
	return nil
}

// StopAll stops started modules in reverse registration order. Failures
// are recorded and stopping continues; an aggregate error is returned at
// the end. A second StopAll is a no-op.
func (r *Registry) StopAll(ctx context.Context) error {
	var failures []string
	for i := len(r.modules) - 1; i >= 0; i-- {
		m := r.modules[i]
		if !m.started {
			continue
		}
		r.logger.Info("stopping module", slog.String("module", m.Name))
		if err := m.Pipeline.Stop(ctx); err != nil {
			r.logger.Error("failed to stop module",
				slog.String("module", m.Name), slog.String("error", err.Error()))
			failures = append(failures, m.Name+": "+err.Error())
		}
		m.started = false
	}
	if len(failures) > 0 {
		return models.NewError(models.ErrKindPipeline, "stop_all",
			"errors stopping modules: "+strings.Join(failures, "; "))
	}
	return nil
}

// HealthReports evaluates every module.
func (r *Registry) HealthReports(ctx context.Context) []health.ModuleReport {
	out := make([]health.ModuleReport, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, health.ModuleReport{
			Module:  m.Name,
			Enabled: m.Enabled,
			Report:  m.HealthCheck(ctx),
		})
	}
	return out
}
