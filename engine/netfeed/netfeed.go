package netfeed

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/dongwonkwak/ironpost/engine/config"
	"github.com/dongwonkwak/ironpost/engine/models"
	"github.com/dongwonkwak/ironpost/engine/telemetry/health"
	"github.com/dongwonkwak/ironpost/engine/telemetry/metrics"
)

type engineState int

const (
	stateInitialized engineState = iota
	stateRunning
	stateStopped
)

// loader abstracts the platform-specific XDP machinery so the engine
// compiles everywhere; only Linux provides a working implementation.
type loader interface {
	// attach loads the program, attaches it to the interface and
	// starts delivering ring buffer samples.
	attach(cfg config.Netfeed) error
	// events yields raw ring buffer samples until close.
	events() <-chan []byte
	// readStats sums the per-CPU counters into one snapshot.
	readStats() (RawTrafficSnapshot, error)
	// updateBlocklist replaces the kernel blocklist entries.
	updateBlocklist(addrs []netip.Addr) error
	close() error
}

// Engine is the kernel packet feed module. Start fails cleanly on
// platforms without XDP support; the rest of the daemon keeps running
// without packet telemetry.
type Engine struct {
	cfg      config.Netfeed
	logger   *slog.Logger
	recorder *metrics.Recorder

	packetTx chan<- models.PacketEvent
	alertTx  chan<- models.AlertEvent

	ld       loader
	detector *PacketDetector

	mu     sync.Mutex
	state  engineState
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.RWMutex
	stats   TrafficStats
}

// New builds a packet feed engine. alertTx is optional; when set, the
// packet detectors publish their alerts on it.
func New(cfg config.Netfeed, packetTx chan<- models.PacketEvent, alertTx chan<- models.AlertEvent, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		recorder: metrics.Default(),
		packetTx: packetTx,
		alertTx:  alertTx,
		ld:       newLoader(),
		detector: NewPacketDetector(),
		state:    stateInitialized,
	}
}

// Start loads and attaches the kernel program, then spawns the event
// reader and the stats poller.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateRunning {
		return models.ErrAlreadyRunning
	}
	if err := e.ld.attach(e.cfg); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.readEvents(runCtx)
	}()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollStats(runCtx)
	}()

	e.state = stateRunning
	e.logger.Info("packet feed started",
		slog.String("interface", e.cfg.Interface),
		slog.String("xdp_mode", e.cfg.XDPMode))
	return nil
}

// Stop detaches the program and joins background tasks.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateRunning {
		return models.ErrNotRunning
	}
	e.cancel()
	_ = e.ld.close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return models.WrapError(models.ErrKindPipeline, "netfeed", ctx.Err())
	}
	e.state = stateStopped
	e.logger.Info("packet feed stopped")
	return nil
}

// Health reports unhealthy when the feed is not running.
func (e *Engine) Health(ctx context.Context) health.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case stateRunning:
		return health.Healthy()
	case stateInitialized:
		return health.Unhealthy("not started")
	default:
		return health.Unhealthy("stopped")
	}
}

// readEvents drains kernel samples into typed packet events. Each packet
// starts a fresh trace; detector alerts derived from it share that trace.
func (e *Engine) readEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-e.ld.events():
			if !ok {
				return
			}
			record, err := DecodePacketRecord(sample)
			if err != nil {
				e.logger.Warn("discarding malformed packet record", slog.String("error", err.Error()))
				continue
			}
			now := time.Now()
			ev := models.PacketEvent{
				Metadata: models.NewMetadata(models.SourceNetFeed),
				Packet:   record.PacketInfo(now),
			}
			select {
			case e.packetTx <- ev:
			case <-ctx.Done():
				return
			}
			if e.alertTx == nil {
				continue
			}
			for _, alert := range e.detector.Inspect(record, now) {
				e.recorder.IncAlert(alert.Severity.String())
				alertEv := models.AlertEvent{
					Metadata: models.WithTrace(models.SourceNetFeed, ev.Metadata.TraceID),
					Alert:    alert,
				}
				select {
				case e.alertTx <- alertEv:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// pollStats periodically sums the per-CPU counters, refreshes rates and
// advances the cumulative prometheus counters by the observed deltas.
func (e *Engine) pollStats(ctx context.Context) {
	interval := time.Duration(e.cfg.MetricsIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev *RawTrafficSnapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			raw, err := e.ld.readStats()
			if err != nil {
				e.logger.Warn("stats poll failed", slog.String("error", err.Error()))
				continue
			}
			e.statsMu.Lock()
			e.stats.Update(raw, time.Now())
			e.statsMu.Unlock()

			if prev != nil {
				e.bump("tcp", raw.TCP, prev.TCP)
				e.bump("udp", raw.UDP, prev.UDP)
				e.bump("icmp", raw.ICMP, prev.ICMP)
				e.bump("other", raw.Other, prev.Other)
			}
			snapshot := raw
			prev = &snapshot
		}
	}
}

func (e *Engine) bump(proto string, cur, old CounterValue) {
	e.recorder.AddPackets(proto, float64(saturatingSub(cur.Packets, old.Packets)))
	e.recorder.AddBytes(proto, float64(saturatingSub(cur.Bytes, old.Bytes)))
	e.recorder.AddDrops(proto, float64(saturatingSub(cur.Drops, old.Drops)))
}

// Stats returns a copy of the current traffic rates.
func (e *Engine) Stats() TrafficStats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// UpdateBlocklist pushes the given addresses into the kernel blocklist.
func (e *Engine) UpdateBlocklist(addrs []netip.Addr) error {
	return e.ld.updateBlocklist(addrs)
}
