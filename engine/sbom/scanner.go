package sbom

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dongwonkwak/ironpost/engine/config"
	"github.com/dongwonkwak/ironpost/engine/models"
	"github.com/dongwonkwak/ironpost/engine/telemetry/health"
	"github.com/dongwonkwak/ironpost/engine/telemetry/metrics"
)

type scannerState int

const (
	stateInitialized scannerState = iota
	stateRunning
	stateStopped
)

// Scanner is the SBOM scanner module: it walks the configured roots,
// parses lockfiles, generates SBOM documents, cross-references the
// vulnerability database and raises alerts for affected packages.
type Scanner struct {
	cfg       config.Sbom
	logger    *slog.Logger
	recorder  *metrics.Recorder
	parsers   []LockfileParser
	generator Generator

	dbMu sync.RWMutex
	db   *VulnDB

	scanTx  chan<- models.ScanEvent
	alertTx chan<- models.AlertEvent

	mu     sync.Mutex
	state  scannerState
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastScan   time.Time
	lastErrMsg string
}

// New builds a scanner. scanTx may be nil when no consumer wants scan
// events; alertTx is shared with the log pipeline.
func New(cfg config.Sbom, scanTx chan<- models.ScanEvent, alertTx chan<- models.AlertEvent, logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	generator, err := NewGenerator(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		cfg:       cfg,
		logger:    logger,
		recorder:  metrics.Default(),
		parsers:   DefaultParsers(),
		generator: generator,
		db:        NewVulnDB(nil),
		scanTx:    scanTx,
		alertTx:   alertTx,
		state:     stateInitialized,
	}, nil
}

// Start loads the vulnerability database, runs an initial sweep and
// schedules periodic database refreshes plus rescans.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateRunning {
		return models.ErrAlreadyRunning
	}

	if err := s.reloadDB(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx)
	}()

	s.state = stateRunning
	s.logger.Info("sbom scanner started",
		slog.Int("vulnerabilities", s.db.Len()),
		slog.String("output_format", s.cfg.OutputFormat))
	return nil
}

// Stop cancels the sweep task and waits for it.
func (s *Scanner) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		return models.ErrNotRunning
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return models.WrapError(models.ErrKindSbom, "scanner", ctx.Err())
	}
	s.state = stateStopped
	s.logger.Info("sbom scanner stopped")
	return nil
}

// Health reports degraded when the last sweep failed.
func (s *Scanner) Health(ctx context.Context) health.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateRunning:
		if s.lastErrMsg != "" {
			return health.Degraded("last scan: " + s.lastErrMsg)
		}
		return health.Healthy()
	case stateInitialized:
		return health.Unhealthy("not started")
	default:
		return health.Unhealthy("stopped")
	}
}

func (s *Scanner) run(ctx context.Context) {
	s.sweep(ctx)

	refresh := time.NewTicker(time.Duration(s.cfg.VulnDBUpdateHours) * time.Hour)
	defer refresh.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			if err := s.reloadDB(); err != nil {
				s.logger.Warn("vulnerability database refresh failed",
					slog.String("error", err.Error()))
			}
			s.sweep(ctx)
		}
	}
}

// LoadDatabase loads (or reloads) the vulnerability database from the
// configured path. Start calls it; the CLI scan command uses it for
// one-shot scans.
func (s *Scanner) LoadDatabase() error { return s.reloadDB() }

func (s *Scanner) reloadDB() error {
	db, err := LoadVulnDB(s.cfg.VulnDBPath)
	if err != nil {
		return err
	}
	s.dbMu.Lock()
	s.db = db
	s.dbMu.Unlock()
	return nil
}

// sweep scans every configured root.
func (s *Scanner) sweep(ctx context.Context) {
	var firstErr string
	for _, root := range s.cfg.ScanDirs {
		if ctx.Err() != nil {
			return
		}
		files, err := DetectLockfiles(root, s.parsers)
		if err != nil {
			s.logger.Warn("lockfile discovery failed",
				slog.String("root", root), slog.String("error", err.Error()))
			if firstErr == "" {
				firstErr = err.Error()
			}
			continue
		}
		for _, file := range files {
			if ctx.Err() != nil {
				return
			}
			result, err := s.ScanFile(file)
			if err != nil {
				s.logger.Warn("lockfile scan failed, skipping",
					slog.String("path", file), slog.String("error", err.Error()))
				if firstErr == "" {
					firstErr = err.Error()
				}
				continue
			}
			s.publish(ctx, result)
		}
	}
	s.mu.Lock()
	s.lastScan = time.Now()
	s.lastErrMsg = firstErr
	s.mu.Unlock()
}

// ScanFile parses one lockfile, generates its SBOM and matches the
// vulnerability database. Exported for the operator CLI.
func (s *Scanner) ScanFile(path string) (*models.ScanResult, error) {
	started := time.Now()
	parser := ParserFor(path, s.parsers)
	if parser == nil {
		return nil, sbomErr(path, "no parser recognises this lockfile")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, sbomErr(path, "read: "+err.Error())
	}
	graph, err := parser.Parse(content, path)
	if err != nil {
		return nil, err
	}

	result := &models.ScanResult{
		ScanID:        uuid.NewString(),
		SourceFile:    path,
		Ecosystem:     graph.Ecosystem,
		TotalPackages: len(graph.Packages),
		ScannedAt:     time.Now().UTC(),
	}

	document, err := s.generator.Generate(&graph)
	if err != nil {
		s.logger.Warn("SBOM generation failed, continuing without document",
			slog.String("path", path), slog.String("error", err.Error()))
	} else {
		result.SBOMDocument = document
	}

	s.dbMu.RLock()
	db := s.db
	s.dbMu.RUnlock()
	for _, pkg := range graph.Packages {
		for _, entry := range db.Lookup(pkg.Name, pkg.Ecosystem) {
			if !IsAffected(pkg.Version, entry.AffectedRanges) {
				continue
			}
			if entry.Severity < s.cfg.MinSeverity {
				continue
			}
			result.Findings = append(result.Findings, models.Finding{
				Package: pkg,
				Vulnerability: models.Vulnerability{
					CVEID:           entry.CVEID,
					Package:         entry.Package,
					AffectedVersion: pkg.Version,
					FixedVersion:    entry.FixedVersion,
					Severity:        entry.Severity,
					Description:     entry.Description,
					Published:       entry.Published,
				},
			})
			s.recorder.IncScanFinding(entry.Severity.String())
		}
	}

	s.recorder.ObserveScanDuration(time.Since(started).Seconds())
	s.logger.Info("lockfile scanned",
		slog.String("path", path),
		slog.Int("packages", result.TotalPackages),
		slog.Int("findings", len(result.Findings)))
	return result, nil
}

// publish wraps the result into a scan event and synthesises one alert
// event per finding, all sharing the scan's trace id.
func (s *Scanner) publish(ctx context.Context, result *models.ScanResult) {
	md := models.NewMetadata(models.SourceSbom)
	if s.scanTx != nil {
		select {
		case s.scanTx <- models.ScanEvent{Metadata: md, Result: *result}:
		case <-ctx.Done():
			return
		}
	}
	if s.alertTx == nil {
		return
	}
	for _, finding := range result.Findings {
		alert := models.Alert{
			ID:       uuid.NewString(),
			Title:    fmt.Sprintf("%s in %s", finding.Vulnerability.CVEID, finding.Package.Name),
			Description: fmt.Sprintf("%s %s is affected by %s: %s",
				finding.Package.Name, finding.Package.Version,
				finding.Vulnerability.CVEID, finding.Vulnerability.Description),
			Severity:  finding.Vulnerability.Severity,
			RuleName:  "sbom/" + finding.Vulnerability.CVEID,
			CreatedAt: time.Now().UTC(),
		}
		ev := models.AlertEvent{
			Metadata: models.WithTrace(models.SourceSbom, md.TraceID),
			Alert:    alert,
		}
		s.recorder.IncAlert(alert.Severity.String())
		select {
		case s.alertTx <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// SweepNow runs one synchronous sweep (used by the CLI scan command).
func (s *Scanner) SweepNow(ctx context.Context) {
	s.sweep(ctx)
}
