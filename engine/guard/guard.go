package guard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dongwonkwak/ironpost/engine/config"
	"github.com/dongwonkwak/ironpost/engine/models"
	"github.com/dongwonkwak/ironpost/engine/telemetry/health"
	"github.com/dongwonkwak/ironpost/engine/telemetry/metrics"
)

type guardState int

const (
	stateInitialized guardState = iota
	stateRunning
	stateStopped
)

// Guard is the container guard module: consume alerts, decide on
// isolation via policies, execute, emit action events.
type Guard struct {
	cfg      config.Container
	logger   *slog.Logger
	recorder *metrics.Recorder

	docker   DockerClient
	monitor  *Monitor
	policies *PolicyEngine
	executor *Executor

	alertRx  <-chan models.AlertEvent
	actionTx chan<- models.ActionEvent

	mu     sync.Mutex
	state  guardState
	cancel context.CancelFunc
	wg     sync.WaitGroup

	droppedNoTarget atomic.Uint64
}

// New builds a guard. docker may be nil, in which case a client is
// connected to the configured socket at Start.
func New(cfg config.Container, docker DockerClient, alertRx <-chan models.AlertEvent, actionTx chan<- models.ActionEvent, logger *slog.Logger) (*Guard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policies, err := LoadPolicyDir(cfg.PolicyPath, logger)
	if err != nil {
		return nil, err
	}
	engine, err := NewPolicyEngine(policies)
	if err != nil {
		return nil, err
	}
	g := &Guard{
		cfg:      cfg,
		logger:   logger,
		recorder: metrics.Default(),
		docker:   docker,
		policies: engine,
		alertRx:  alertRx,
		actionTx: actionTx,
		state:    stateInitialized,
	}
	return g, nil
}

// Start connects to the runtime if needed, then spawns the monitor and
// the alert loop.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == stateRunning {
		return models.ErrAlreadyRunning
	}
	if g.docker == nil {
		docker, err := NewDockerClient(g.cfg.DockerSocket)
		if err != nil {
			return err
		}
		g.docker = docker
	}
	g.monitor = NewMonitor(g.docker, time.Duration(g.cfg.PollIntervalSecs)*time.Second, g.logger)
	g.executor = NewExecutor(g.docker, ExecutorOptions{}, g.logger)

	runCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		_ = g.monitor.Run(runCtx)
	}()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.alertLoop(runCtx)
	}()

	g.state = stateRunning
	g.logger.Info("container guard started",
		slog.Int("policies", g.policies.Len()),
		slog.Bool("auto_isolate", g.cfg.AutoIsolate))
	return nil
}

// Stop cancels background tasks and waits for them.
func (g *Guard) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != stateRunning {
		return models.ErrNotRunning
	}
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return models.WrapError(models.ErrKindContainer, "guard", ctx.Err())
	}
	g.state = stateStopped
	g.logger.Info("container guard stopped")
	return nil
}

// Health reports unhealthy when not running, degraded when no policies
// are loaded (the guard cannot act on anything).
func (g *Guard) Health(ctx context.Context) health.Report {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case stateRunning:
		if g.policies.Len() == 0 {
			return health.Degraded("no isolation policies loaded")
		}
		return health.Healthy()
	case stateInitialized:
		return health.Unhealthy("not started")
	default:
		return health.Unhealthy("stopped")
	}
}

// alertLoop consumes alert events until cancellation or channel close.
func (g *Guard) alertLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-g.alertRx:
			if !ok {
				// upstream closed: clean termination
				return
			}
			g.handleAlert(ctx, &ev)
		}
	}
}

// handleAlert infers a target container, matches policies and executes.
func (g *Guard) handleAlert(ctx context.Context, ev *models.AlertEvent) {
	target, ok := g.inferTarget(&ev.Alert)
	if !ok {
		g.droppedNoTarget.Add(1)
		g.logger.Warn("cannot infer target container for alert, dropping",
			slog.String("alert_id", ev.Alert.ID),
			slog.String("rule", ev.Alert.RuleName),
			slog.String("trace_id", ev.Metadata.TraceID))
		return
	}

	policy := g.policies.Evaluate(&ev.Alert, &target.ContainerInfo)
	if policy == nil {
		g.recorder.IncPolicyMiss()
		g.logger.Debug("no policy matches alert",
			slog.String("alert_id", ev.Alert.ID),
			slog.String("container", target.Name))
		return
	}
	if !g.cfg.AutoIsolate {
		g.logger.Info("policy matched but auto isolation is disabled",
			slog.String("policy", policy.ID),
			slog.String("container", target.Name))
		return
	}

	err := g.executor.Execute(ctx, target.ID, policy.Action, ev.Alert.RuleName)
	action := models.ActionEvent{
		Metadata:   models.WithTrace(models.SourceGuard, ev.Metadata.TraceID),
		ActionType: "container_isolate",
		Target:     target.ID,
		Success:    err == nil,
	}
	if err != nil {
		action.Reason = err.Error()
		g.logger.Error("isolation failed",
			slog.String("container_id", target.ID),
			slog.String("policy", policy.ID),
			slog.String("error", err.Error()))
	}
	select {
	case g.actionTx <- action:
	case <-ctx.Done():
	}
}

// inferTarget resolves the container an alert refers to. The only
// authoritative signal is an alert IP matching a container address;
// alerts without one cannot be attributed and are dropped by the caller.
func (g *Guard) inferTarget(alert *models.Alert) (ContainerDetail, bool) {
	if alert.TargetIP.IsValid() {
		if d, ok := g.monitor.ByIP(alert.TargetIP.String()); ok {
			return d, true
		}
	}
	if alert.SourceIP.IsValid() {
		if d, ok := g.monitor.ByIP(alert.SourceIP.String()); ok {
			return d, true
		}
	}
	return ContainerDetail{}, false
}

// Policies exposes the active policy engine (status reporting).
func (g *Guard) Policies() *PolicyEngine { return g.policies }

// Monitor exposes the container inventory (status reporting / CLI).
func (g *Guard) Monitor() *Monitor { return g.monitor }

// Release undoes a pause isolation for an operator request.
func (g *Guard) Release(ctx context.Context, containerID string) error {
	if g.docker == nil {
		return models.NewError(models.ErrKindContainer, containerID, "docker client not connected")
	}
	return g.docker.Unpause(ctx, containerID)
}

// DroppedNoTarget counts alerts dropped because no container could be
// attributed.
func (g *Guard) DroppedNoTarget() uint64 { return g.droppedNoTarget.Load() }
