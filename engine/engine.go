package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dongwonkwak/ironpost/engine/config"
	"github.com/dongwonkwak/ironpost/engine/guard"
	"github.com/dongwonkwak/ironpost/engine/logpipe"
	"github.com/dongwonkwak/ironpost/engine/models"
	"github.com/dongwonkwak/ironpost/engine/netfeed"
	"github.com/dongwonkwak/ironpost/engine/sbom"
	"github.com/dongwonkwak/ironpost/engine/telemetry/health"
	"github.com/dongwonkwak/ironpost/engine/telemetry/metrics"
)

// Channel capacities per event type.
const (
	alertChannelCap  = 256
	packetChannelCap = 1024
	actionChannelCap = 16
	scanChannelCap   = 16
)

// Orchestrator builds modules from configuration, wires the inter-module
// channels and drives the daemon lifecycle.
type Orchestrator struct {
	cfg      config.Config
	logger   *slog.Logger
	recorder *metrics.Recorder
	registry *Registry

	alertCh  chan models.AlertEvent
	packetCh chan models.PacketEvent
	actionCh chan models.ActionEvent
	scanCh   chan models.ScanEvent

	feed    *netfeed.Engine
	logPipe *logpipe.Pipeline
	scanner *sbom.Scanner
	guard   *guard.Guard

	metricsSrv *http.Server

	mu          sync.Mutex
	auditCancel context.CancelFunc
	auditWG     sync.WaitGroup
	startedAt   time.Time
}

// Option customises orchestrator construction.
type Option func(*buildOptions)

type buildOptions struct {
	dockerClient guard.DockerClient
}

// WithDockerClient injects a container runtime client (tests, dry runs).
func WithDockerClient(c guard.DockerClient) Option {
	return func(o *buildOptions) { o.dockerClient = c }
}

// New validates cfg, installs the metrics recorder and constructs every
// enabled module with its channel endpoints.
//
// Channel topology:
//
//	netfeed  --PacketEvent--> logpipe
//	logpipe  --AlertEvent--\
//	sbom     --AlertEvent---+--> guard --ActionEvent--> audit sink
//	netfeed  --AlertEvent--/
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var build buildOptions
	for _, opt := range opts {
		opt(&build)
	}

	// The recorder is process-wide; the first orchestrator installs it,
	// later builds (tests, CLI one-shots) reuse the installed one.
	recorder := metrics.Default()
	if recorder == nil {
		recorder = metrics.NewRecorder()
		if err := metrics.Install(recorder); err != nil {
			recorder = metrics.Default()
		}
	}

	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		registry: NewRegistry(logger),
		alertCh:  make(chan models.AlertEvent, alertChannelCap),
		packetCh: make(chan models.PacketEvent, packetChannelCap),
		actionCh: make(chan models.ActionEvent, actionChannelCap),
		scanCh:   make(chan models.ScanEvent, scanChannelCap),
	}

	if cfg.Netfeed.Enabled {
		o.feed = netfeed.New(cfg.Netfeed, o.packetCh, o.alertCh, logger.With(slog.String("module", models.SourceNetFeed)))
	}
	if cfg.LogPipe.Enabled {
		pipeOpts := []logpipe.Option{}
		if cfg.Netfeed.Enabled {
			pipeOpts = append(pipeOpts, logpipe.WithPacketSource(o.packetCh))
		}
		pipe, err := logpipe.New(cfg.LogPipe, o.alertCh, logger.With(slog.String("module", models.SourceLogPipe)), pipeOpts...)
		if err != nil {
			return nil, err
		}
		o.logPipe = pipe
	}
	if cfg.Sbom.Enabled {
		scanner, err := sbom.New(cfg.Sbom, o.scanCh, o.alertCh, logger.With(slog.String("module", models.SourceSbom)))
		if err != nil {
			return nil, err
		}
		o.scanner = scanner
	}
	if cfg.Container.Enabled {
		g, err := guard.New(cfg.Container, build.dockerClient, o.alertCh, o.actionCh, logger.With(slog.String("module", models.SourceGuard)))
		if err != nil {
			return nil, err
		}
		o.guard = g
	}

	// registration order is authoritative: producers first
	o.registry.Register(models.SourceNetFeed, cfg.Netfeed.Enabled, o.feed)
	o.registry.Register(models.SourceLogPipe, cfg.LogPipe.Enabled, o.logPipe)
	o.registry.Register(models.SourceSbom, cfg.Sbom.Enabled, o.scanner)
	o.registry.Register(models.SourceGuard, cfg.Container.Enabled, o.guard)
	return o, nil
}

// StartAll starts enabled modules in registration order, the audit sink
// and the metrics endpoint. On module failure it returns immediately;
// the caller invokes StopAll to unwind whatever started.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	auditCtx, cancel := context.WithCancel(context.Background())
	o.auditCancel = cancel
	o.auditWG.Add(1)
	go func() {
		defer o.auditWG.Done()
		o.auditLoop(auditCtx)
	}()

	if err := o.registry.StartAll(ctx); err != nil {
		return err
	}
	if o.cfg.Metrics.Enabled {
		if err := o.startMetricsServer(); err != nil {
			return err
		}
	}
	o.startedAt = time.Now()
	o.logger.Info("ironpost started",
		slog.Int("modules", o.registry.EnabledCount()))
	return nil
}

// StopAll stops modules in reverse registration order, then the metrics
// endpoint and the audit sink. Calling it twice is safe.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.registry.StopAll(ctx)

	if o.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = o.metricsSrv.Shutdown(shutdownCtx)
		cancel()
		o.metricsSrv = nil
	}
	if o.auditCancel != nil {
		o.auditCancel()
		o.auditWG.Wait()
		o.auditCancel = nil
	}
	return err
}

// HealthSnapshot evaluates every module and reduces with worst-wins.
func (o *Orchestrator) HealthSnapshot(ctx context.Context) health.Snapshot {
	reports := o.registry.HealthReports(ctx)
	for _, r := range reports {
		if !r.Enabled {
			continue
		}
		v := 0.0
		switch r.Report.Status {
		case health.StatusHealthy:
			v = 1
		case health.StatusDegraded:
			v = 0.5
		}
		o.recorder.SetModuleHealth(r.Module, v)
	}
	return health.Snapshot{
		Overall:   health.Aggregate(reports),
		Modules:   reports,
		Generated: time.Now(),
	}
}

// Run starts everything, waits for SIGINT/SIGTERM or context
// cancellation, then stops in reverse order.
func (o *Orchestrator) Run(ctx context.Context) error {
	if pid := o.cfg.General.PidFile; pid != "" {
		if err := writePidFile(pid); err != nil {
			return err
		}
		defer func() { _ = os.Remove(pid) }()
	}

	if err := o.StartAll(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = o.StopAll(stopCtx)
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		o.logger.Info("signal received, shutting down", slog.String("signal", sig.String()))
	case <-ctx.Done():
		o.logger.Info("context cancelled, shutting down")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return o.StopAll(stopCtx)
}

// auditLoop is the terminal consumer of action and scan events: every
// event is logged for the audit trail.
func (o *Orchestrator) auditLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.actionCh:
			level := slog.LevelInfo
			if !ev.Success {
				level = slog.LevelError
			}
			o.logger.Log(ctx, level, "container action",
				slog.String("action_type", ev.ActionType),
				slog.String("target", ev.Target),
				slog.Bool("success", ev.Success),
				slog.String("reason", ev.Reason),
				slog.String("trace_id", ev.Metadata.TraceID))
		case ev := <-o.scanCh:
			o.logger.Info("sbom scan completed",
				slog.String("scan_id", ev.Result.ScanID),
				slog.String("source_file", ev.Result.SourceFile),
				slog.Int("packages", ev.Result.TotalPackages),
				slog.Int("findings", len(ev.Result.Findings)),
				slog.String("trace_id", ev.Metadata.TraceID))
		}
	}
}

func (o *Orchestrator) startMetricsServer() error {
	addr := net.JoinHostPort(o.cfg.Metrics.ListenAddr, strconv.Itoa(o.cfg.Metrics.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return models.NewError(models.ErrKindConfig, "metrics.listen_addr", err.Error())
	}
	srv := &http.Server{
		Handler:           o.recorder.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	o.metricsSrv = srv
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			o.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	o.logger.Info("metrics endpoint listening", slog.String("addr", addr))
	return nil
}

// writePidFile records the daemon pid, refusing to clobber a live one.
func writePidFile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil {
			if proc, ferr := os.FindProcess(pid); ferr == nil {
				if proc.Signal(syscall.Signal(0)) == nil {
					return models.NewError(models.ErrKindConfig, "pid_file",
						fmt.Sprintf("daemon already running with pid %d", pid))
				}
			}
		}
		// stale pid file: overwrite
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// Uptime reports how long the daemon has been running.
func (o *Orchestrator) Uptime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.startedAt.IsZero() {
		return 0
	}
	return time.Since(o.startedAt)
}

// Guard exposes the container guard (CLI isolate/release commands).
func (o *Orchestrator) Guard() *guard.Guard { return o.guard }

// Scanner exposes the SBOM scanner (CLI scan command).
func (o *Orchestrator) Scanner() *sbom.Scanner { return o.scanner }

// LogPipeline exposes the log pipeline (status reporting).
func (o *Orchestrator) LogPipeline() *logpipe.Pipeline { return o.logPipe }

// PacketFeed exposes the packet feed (status reporting, blocklist).
func (o *Orchestrator) PacketFeed() *netfeed.Engine { return o.feed }
