// Package logpipe implements the log pipeline: collectors feed raw logs
// through parsing, buffering and rule matching into alert events.
//
// Internal flow:
//
//	collectors -> raw channel -> parse -> buffer -> rule engine -> alerts
package logpipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dongwonkwak/ironpost/engine/config"
	"github.com/dongwonkwak/ironpost/engine/models"
	"github.com/dongwonkwak/ironpost/engine/telemetry/health"
	"github.com/dongwonkwak/ironpost/engine/telemetry/metrics"
)

type pipelineState int

const (
	stateInitialized pipelineState = iota
	stateRunning
	stateStopped
)

// Pipeline is the log pipeline module. It implements the engine module
// contract (Start/Stop/Health).
type Pipeline struct {
	cfg      config.LogPipe
	logger   *slog.Logger
	recorder *metrics.Recorder

	parser *ParserRouter
	rules  *RuleEngine
	alerts *AlertGenerator
	buffer *LogBuffer

	collectors []Collector
	packetRx   <-chan models.PacketEvent
	alertTx    chan<- models.AlertEvent

	mu     sync.Mutex
	state  pipelineState
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// counters are read by Health/status while the main loop writes them
	processedCount  atomic.Uint64
	parseErrorCount atomic.Uint64
	bufferFill      atomic.Int64
}

// Option customises pipeline construction.
type Option func(*Pipeline)

// WithCollector adds an extra collector (used by tests and embedders).
func WithCollector(c Collector) Option {
	return func(p *Pipeline) { p.collectors = append(p.collectors, c) }
}

// WithPacketSource wires the kernel feed adapter input.
func WithPacketSource(rx <-chan models.PacketEvent) Option {
	return func(p *Pipeline) { p.packetRx = rx }
}

// New builds a log pipeline. alertTx is owned by the orchestrator; the
// pipeline only sends on it.
func New(cfg config.LogPipe, alertTx chan<- models.AlertEvent, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	recorder := metrics.Default()
	p := &Pipeline{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		parser:   DefaultParserRouter(),
		rules:    NewRuleEngine(logger),
		alerts:   NewAlertGenerator(cfg.AlertDedupWindowSecs, cfg.AlertRateLimitPerRule, logger, recorder),
		buffer:   NewLogBuffer(cfg.BufferCapacity, DropPolicy(cfg.DropPolicy)),
		alertTx:  alertTx,
		state:    stateInitialized,
	}
	for _, opt := range opts {
		opt(p)
	}

	allow := cfg.WatchAllowList
	if len(allow) == 0 {
		allow = config.DefaultWatchAllowList
	}
	for _, source := range cfg.Sources {
		switch source {
		case "file":
			if len(cfg.WatchPaths) == 0 {
				continue
			}
			tailer, err := NewFileTailer(cfg.WatchPaths, allow, logger)
			if err != nil {
				return nil, err
			}
			p.collectors = append(p.collectors, tailer)
		case "syslog":
			p.collectors = append(p.collectors, NewUDPSyslogCollector(cfg.SyslogBind, logger))
			p.collectors = append(p.collectors, NewTCPSyslogCollector(cfg.SyslogBind, logger))
		default:
			return nil, pipelineErr("sources", fmt.Sprintf("unknown source %q", source))
		}
	}
	if p.packetRx != nil {
		p.collectors = append(p.collectors, NewPacketFeedAdapter(p.packetRx))
	}
	return p, nil
}

// Start loads rules, spawns collector tasks and the main loop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateRunning {
		return models.ErrAlreadyRunning
	}

	count, err := p.rules.LoadDir(p.cfg.RuleDir)
	if err != nil {
		return models.WrapError(models.ErrKindPipeline, "logpipe", err)
	}
	p.recorder.SetRulesLoaded(count)

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	rawCh := make(chan RawLog, p.cfg.BufferCapacity)
	for _, c := range p.collectors {
		collector := c
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := collector.Run(runCtx, rawCh); err != nil {
				p.logger.Warn("collector exited with error",
					slog.String("collector", collector.Name()),
					slog.String("error", err.Error()))
			}
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.mainLoop(runCtx, rawCh)
	}()

	p.state = stateRunning
	p.logger.Info("log pipeline started",
		slog.Int("rules", count),
		slog.Int("collectors", len(p.collectors)))
	return nil
}

// Stop cancels collectors, drains the buffer and joins every task.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateRunning {
		return models.ErrNotRunning
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return models.WrapError(models.ErrKindPipeline, "logpipe", ctx.Err())
	}

	p.state = stateStopped
	p.logger.Info("log pipeline stopped",
		slog.Uint64("processed", p.processedCount.Load()),
		slog.Uint64("parse_errors", p.parseErrorCount.Load()))
	return nil
}

// Health reports degraded when the buffer is nearly full, unhealthy when
// the pipeline is not running.
func (p *Pipeline) Health(ctx context.Context) health.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case stateRunning:
		util := float64(p.bufferFill.Load()) / float64(p.cfg.BufferCapacity)
		if util > 0.9 {
			return health.Degraded(fmt.Sprintf("log buffer %.0f%% full", util*100))
		}
		return health.Healthy()
	case stateInitialized:
		return health.Unhealthy("not started")
	default:
		return health.Unhealthy("stopped")
	}
}

// mainLoop receives raw logs, parses them into the buffer, and flushes
// batches on size or timer. Rule reload and tracker cleanup run on their
// own tickers inside the same task, so all detection state stays
// single-owner.
func (p *Pipeline) mainLoop(ctx context.Context, rawCh <-chan RawLog) {
	flush := time.NewTicker(time.Duration(p.cfg.FlushIntervalSecs) * time.Second)
	defer flush.Stop()

	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()

	var reloadC <-chan time.Time
	if p.cfg.RuleReloadSecs > 0 {
		reload := time.NewTicker(time.Duration(p.cfg.RuleReloadSecs) * time.Second)
		defer reload.Stop()
		reloadC = reload.C
	}

	for {
		select {
		case <-ctx.Done():
			p.flushBatch(ctx, p.buffer.Len())
			return
		case raw, ok := <-rawCh:
			if !ok {
				p.flushBatch(ctx, p.buffer.Len())
				return
			}
			p.ingest(raw)
			if p.buffer.Len() >= p.cfg.BatchSize {
				p.flushBatch(ctx, p.cfg.BatchSize)
			}
		case <-flush.C:
			p.flushBatch(ctx, p.buffer.Len())
		case <-reloadC:
			count, err := p.rules.LoadDir(p.cfg.RuleDir)
			if err != nil {
				p.logger.Warn("rule reload failed, keeping previous snapshot",
					slog.String("error", err.Error()))
				continue
			}
			p.recorder.SetRulesLoaded(count)
			p.logger.Info("rules reloaded", slog.Int("count", count))
		case <-cleanup.C:
			p.alerts.CleanupExpired(time.Now())
		}
	}
}

// ingest parses one raw log into the buffer. A parse failure discards
// just that record.
func (p *Pipeline) ingest(raw RawLog) {
	entry, err := p.parser.Parse(raw)
	if err != nil {
		p.parseErrorCount.Add(1)
		p.recorder.IncParseError()
		return
	}
	dropped := p.buffer.Dropped()
	p.buffer.Push(bufferedEntry{entry: entry, traceID: raw.TraceID})
	if p.buffer.Dropped() > dropped {
		p.recorder.IncBufferDropped()
	}
	p.bufferFill.Store(int64(p.buffer.Len()))
	p.recorder.SetBufferUtilization(p.buffer.Utilization())
}

// flushBatch drains up to n entries, evaluates rules and emits alerts.
// A full alert channel suspends here (backpressure); cancellation aborts
// the send.
func (p *Pipeline) flushBatch(ctx context.Context, n int) {
	if n == 0 {
		return
	}
	batch := p.buffer.DrainUpTo(n)
	p.bufferFill.Store(int64(p.buffer.Len()))
	p.recorder.SetBufferUtilization(p.buffer.Utilization())
	now := time.Now()
	for i := range batch {
		be := &batch[i]
		p.processedCount.Add(1)
		traceID := be.traceID
		if traceID == "" {
			traceID = models.NewMetadata(models.SourceLogPipe).TraceID
		}
		for _, match := range p.rules.Evaluate(&be.entry, now) {
			if match.Test {
				p.logger.Debug("test rule matched",
					slog.String("rule_id", match.Rule.ID),
					slog.String("trace_id", traceID))
				continue
			}
			m := match
			ev := p.alerts.Generate(&m, traceID, now)
			if ev == nil {
				continue
			}
			// prefer the send when there is room so the final drain
			// does not race shutdown
			select {
			case p.alertTx <- *ev:
				continue
			default:
			}
			select {
			case p.alertTx <- *ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ProcessedCount returns the number of parsed entries evaluated.
func (p *Pipeline) ProcessedCount() uint64 { return p.processedCount.Load() }

// ParseErrorCount returns the number of discarded raw records.
func (p *Pipeline) ParseErrorCount() uint64 { return p.parseErrorCount.Load() }

// RuleCount returns the size of the active rule snapshot.
func (p *Pipeline) RuleCount() int { return p.rules.RuleCount() }

// Alerts exposes generator counters for status reporting.
func (p *Pipeline) Alerts() *AlertGenerator { return p.alerts }
