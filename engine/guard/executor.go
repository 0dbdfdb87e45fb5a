package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dongwonkwak/ironpost/engine/models"
	"github.com/dongwonkwak/ironpost/engine/telemetry/metrics"
)

const (
	defaultRetries          = 3
	defaultInitialBackoff   = 100 * time.Millisecond
	defaultOperationTimeout = 30 * time.Second
)

// ExecutorOptions tune retry and timeout behaviour.
type ExecutorOptions struct {
	// Retries caps isolation attempts (first try included).
	Retries int
	// InitialBackoff is the first retry delay; it doubles per attempt.
	InitialBackoff time.Duration
	// OperationTimeout bounds one capability call.
	OperationTimeout time.Duration
	// StopTimeout is passed to the runtime for graceful stops.
	StopTimeout time.Duration
}

func (o ExecutorOptions) withDefaults() ExecutorOptions {
	if o.Retries <= 0 {
		o.Retries = defaultRetries
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = defaultOperationTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
	return o
}

// Executor performs isolation actions with retry and an at-most-once
// guarantee per (container, action) key while the action is in flight.
type Executor struct {
	docker   DockerClient
	opts     ExecutorOptions
	logger   *slog.Logger
	recorder *metrics.Recorder

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewExecutor creates an executor over the given runtime capability.
func NewExecutor(docker DockerClient, opts ExecutorOptions, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		docker:   docker,
		opts:     opts.withDefaults(),
		logger:   logger,
		recorder: metrics.Default(),
		inFlight: make(map[string]struct{}),
	}
}

// Execute runs one isolation action. A second request for the same
// (container, action) key while the first is in flight short-circuits
// without touching the runtime. On terminal failure the returned error
// carries the container id and reason.
func (e *Executor) Execute(ctx context.Context, containerID string, action IsolationAction, ruleName string) error {
	key := containerID + "/" + string(action)
	e.mu.Lock()
	if _, busy := e.inFlight[key]; busy {
		e.mu.Unlock()
		e.logger.Debug("isolation already in flight, skipping",
			slog.String("container_id", containerID),
			slog.String("action", string(action)))
		return nil
	}
	e.inFlight[key] = struct{}{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inFlight, key)
		e.mu.Unlock()
	}()

	var lastErr error
	backoff := e.opts.InitialBackoff
	for attempt := 1; attempt <= e.opts.Retries; attempt++ {
		lastErr = e.attempt(ctx, containerID, action)
		if lastErr == nil {
			e.recorder.IncIsolation(string(action), "success")
			e.logger.Info("container isolated",
				slog.String("container_id", containerID),
				slog.String("action", string(action)),
				slog.String("rule", ruleName),
				slog.Int("attempt", attempt))
			return nil
		}
		if attempt == e.opts.Retries {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			e.recorder.IncIsolation(string(action), "failure")
			return models.WrapError(models.ErrKindContainer, containerID, ctx.Err())
		}
		backoff *= 2
	}

	e.recorder.IncIsolation(string(action), "failure")
	return models.NewError(models.ErrKindContainer, containerID,
		fmt.Sprintf("isolation %s failed after %d attempts: %v", action, e.opts.Retries, lastErr))
}

// attempt maps the action onto capability calls under the per-operation
// timeout.
func (e *Executor) attempt(ctx context.Context, containerID string, action IsolationAction) error {
	opCtx, cancel := context.WithTimeout(ctx, e.opts.OperationTimeout)
	defer cancel()

	switch action {
	case ActionPause:
		return e.docker.Pause(opCtx, containerID)
	case ActionStop:
		return e.docker.Stop(opCtx, containerID, e.opts.StopTimeout)
	case ActionKill:
		return e.docker.Kill(opCtx, containerID, "SIGKILL")
	case ActionDisconnectNetwork:
		networks, err := e.docker.Networks(opCtx, containerID)
		if err != nil {
			return err
		}
		for _, network := range networks {
			if err := e.docker.DisconnectNetwork(opCtx, containerID, network); err != nil {
				return err
			}
		}
		return nil
	default:
		return models.NewError(models.ErrKindContainer, containerID,
			fmt.Sprintf("unknown isolation action %q", action))
	}
}
