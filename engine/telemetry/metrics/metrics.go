// Package metrics implements the ironpost Prometheus recorder.
//
// A single Recorder is installed process-wide at orchestrator build time;
// a second install attempt fails. Modules record through the installed
// recorder; all methods are nil-safe so tests can run without one.
package metrics

import (
	"errors"
	"net/http"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrAlreadyInstalled is returned when Install is called twice.
var ErrAlreadyInstalled = errors.New("metrics recorder already installed")

var (
	mu        sync.Mutex
	installed *Recorder
)

// Recorder owns the registry and every ironpost metric family.
type Recorder struct {
	reg *prom.Registry

	packetsTotal *prom.CounterVec
	bytesTotal   *prom.CounterVec
	dropsTotal   *prom.CounterVec

	alertsTotal         *prom.CounterVec
	dedupSuppressed     prom.Counter
	rateSuppressed      prom.Counter
	parseErrorsTotal    prom.Counter
	bufferDroppedTotal  prom.Counter
	bufferUtilization   prom.Gauge
	rulesLoaded         prom.Gauge
	isolationsTotal     *prom.CounterVec
	policyMissesTotal   prom.Counter
	scanFindingsTotal   *prom.CounterVec
	scanDuration        prom.Histogram
	moduleHealth        *prom.GaugeVec
	handler             http.Handler
}

// NewRecorder builds a recorder on a fresh registry.
func NewRecorder() *Recorder {
	reg := prom.NewRegistry()
	r := &Recorder{reg: reg}

	r.packetsTotal = prom.NewCounterVec(prom.CounterOpts{
		Name: "ironpost_packets_total", Help: "Packets observed by the kernel feed, by protocol.",
	}, []string{"proto"})
	r.bytesTotal = prom.NewCounterVec(prom.CounterOpts{
		Name: "ironpost_bytes_total", Help: "Bytes observed by the kernel feed, by protocol.",
	}, []string{"proto"})
	r.dropsTotal = prom.NewCounterVec(prom.CounterOpts{
		Name: "ironpost_drops_total", Help: "Packets dropped by the kernel feed, by protocol.",
	}, []string{"proto"})
	r.alertsTotal = prom.NewCounterVec(prom.CounterOpts{
		Name: "ironpost_alerts_total", Help: "Alerts emitted, by severity.",
	}, []string{"severity"})
	r.dedupSuppressed = prom.NewCounter(prom.CounterOpts{
		Name: "ironpost_dedup_suppressed_total", Help: "Alerts suppressed by the dedup window.",
	})
	r.rateSuppressed = prom.NewCounter(prom.CounterOpts{
		Name: "ironpost_rate_suppressed_total", Help: "Alerts suppressed by the per-rule rate limit.",
	})
	r.parseErrorsTotal = prom.NewCounter(prom.CounterOpts{
		Name: "ironpost_parse_errors_total", Help: "Raw log records discarded due to parse failure.",
	})
	r.bufferDroppedTotal = prom.NewCounter(prom.CounterOpts{
		Name: "ironpost_buffer_dropped_total", Help: "Log entries dropped by the buffer overflow policy.",
	})
	r.bufferUtilization = prom.NewGauge(prom.GaugeOpts{
		Name: "ironpost_buffer_utilization", Help: "Log buffer fill ratio (0..1).",
	})
	r.rulesLoaded = prom.NewGauge(prom.GaugeOpts{
		Name: "ironpost_rules_loaded", Help: "Detection rules currently loaded.",
	})
	r.isolationsTotal = prom.NewCounterVec(prom.CounterOpts{
		Name: "ironpost_isolations_total", Help: "Container isolation attempts, by action and outcome.",
	}, []string{"action", "outcome"})
	r.policyMissesTotal = prom.NewCounter(prom.CounterOpts{
		Name: "ironpost_policy_misses_total", Help: "Alerts that matched no isolation policy.",
	})
	r.scanFindingsTotal = prom.NewCounterVec(prom.CounterOpts{
		Name: "ironpost_scan_findings_total", Help: "Vulnerability findings, by severity.",
	}, []string{"severity"})
	r.scanDuration = prom.NewHistogram(prom.HistogramOpts{
		Name:    "ironpost_scan_duration_seconds",
		Help:    "Duration of one lockfile scan.",
		Buckets: prom.DefBuckets,
	})
	r.moduleHealth = prom.NewGaugeVec(prom.GaugeOpts{
		Name: "ironpost_module_health", Help: "Module health (1=healthy, 0.5=degraded, 0=unhealthy).",
	}, []string{"module"})

	reg.MustRegister(
		r.packetsTotal, r.bytesTotal, r.dropsTotal,
		r.alertsTotal, r.dedupSuppressed, r.rateSuppressed,
		r.parseErrorsTotal, r.bufferDroppedTotal, r.bufferUtilization,
		r.rulesLoaded, r.isolationsTotal, r.policyMissesTotal,
		r.scanFindingsTotal, r.scanDuration, r.moduleHealth,
	)
	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return r
}

// Install makes r the process-wide recorder. Fails if one is installed.
func Install(r *Recorder) error {
	mu.Lock()
	defer mu.Unlock()
	if installed != nil {
		return ErrAlreadyInstalled
	}
	installed = r
	return nil
}

// Default returns the installed recorder, or nil.
func Default() *Recorder {
	mu.Lock()
	defer mu.Unlock()
	return installed
}

// resetForTest clears the installed recorder.
func resetForTest() {
	mu.Lock()
	installed = nil
	mu.Unlock()
}

// Handler serves the Prometheus exposition on /metrics only; any other
// path is rejected with 404.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/metrics" {
			http.NotFound(w, req)
			return
		}
		r.handler.ServeHTTP(w, req)
	})
}

func (r *Recorder) AddPackets(proto string, n float64) {
	if r == nil {
		return
	}
	r.packetsTotal.WithLabelValues(proto).Add(n)
}

func (r *Recorder) AddBytes(proto string, n float64) {
	if r == nil {
		return
	}
	r.bytesTotal.WithLabelValues(proto).Add(n)
}

func (r *Recorder) AddDrops(proto string, n float64) {
	if r == nil {
		return
	}
	r.dropsTotal.WithLabelValues(proto).Add(n)
}

func (r *Recorder) IncAlert(severity string) {
	if r == nil {
		return
	}
	r.alertsTotal.WithLabelValues(severity).Inc()
}

func (r *Recorder) IncDedupSuppressed() {
	if r == nil {
		return
	}
	r.dedupSuppressed.Inc()
}

func (r *Recorder) IncRateSuppressed() {
	if r == nil {
		return
	}
	r.rateSuppressed.Inc()
}

func (r *Recorder) IncParseError() {
	if r == nil {
		return
	}
	r.parseErrorsTotal.Inc()
}

func (r *Recorder) IncBufferDropped() {
	if r == nil {
		return
	}
	r.bufferDroppedTotal.Inc()
}

func (r *Recorder) SetBufferUtilization(ratio float64) {
	if r == nil {
		return
	}
	r.bufferUtilization.Set(ratio)
}

func (r *Recorder) SetRulesLoaded(n int) {
	if r == nil {
		return
	}
	r.rulesLoaded.Set(float64(n))
}

func (r *Recorder) IncIsolation(action, outcome string) {
	if r == nil {
		return
	}
	r.isolationsTotal.WithLabelValues(action, outcome).Inc()
}

func (r *Recorder) IncPolicyMiss() {
	if r == nil {
		return
	}
	r.policyMissesTotal.Inc()
}

func (r *Recorder) IncScanFinding(severity string) {
	if r == nil {
		return
	}
	r.scanFindingsTotal.WithLabelValues(severity).Inc()
}

func (r *Recorder) ObserveScanDuration(seconds float64) {
	if r == nil {
		return
	}
	r.scanDuration.Observe(seconds)
}

func (r *Recorder) SetModuleHealth(module string, v float64) {
	if r == nil {
		return
	}
	r.moduleHealth.WithLabelValues(module).Set(v)
}
