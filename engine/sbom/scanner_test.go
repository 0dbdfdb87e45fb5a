package sbom

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongwonkwak/ironpost/engine/config"
	"github.com/dongwonkwak/ironpost/engine/models"
)

func writeVulnDB(t *testing.T, entries []DBEntry) string {
	t.Helper()
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "vulndb.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func serdeDB(t *testing.T) string {
	return writeVulnDB(t, []DBEntry{{
		CVEID:          "CVE-2024-0001",
		Package:        "serde",
		Ecosystem:      models.EcosystemCargo,
		AffectedRanges: []VersionRange{{Introduced: "1.0.0", Fixed: "1.0.200"}},
		FixedVersion:   "1.0.200",
		Severity:       models.SeverityHigh,
		Description:    "deserialization flaw",
	}})
}

func scannerConfig(t *testing.T, scanDir, dbPath string) config.Sbom {
	cfg := config.Defaults().Sbom
	cfg.Enabled = true
	cfg.ScanDirs = []string{scanDir}
	cfg.VulnDBPath = dbPath
	cfg.MinSeverity = models.SeverityLow
	return cfg
}

func TestScanFileFindsVulnerability(t *testing.T) {
	dir := t.TempDir()
	lock := filepath.Join(dir, "Cargo.lock")
	require.NoError(t, os.WriteFile(lock, []byte(cargoLockFixture), 0o600))

	s, err := New(scannerConfig(t, dir, serdeDB(t)), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.reloadDB())

	result, err := s.ScanFile(lock)
	require.NoError(t, err)
	assert.Equal(t, models.EcosystemCargo, result.Ecosystem)
	assert.Equal(t, 2, result.TotalPackages)
	assert.NotEmpty(t, result.ScanID)
	assert.NotEmpty(t, result.SBOMDocument)

	require.Len(t, result.Findings, 1)
	f := result.Findings[0]
	assert.Equal(t, "CVE-2024-0001", f.Vulnerability.CVEID)
	assert.Equal(t, models.SeverityHigh, f.Vulnerability.Severity)
	assert.Equal(t, "pkg:cargo/serde@1.0.100", f.Package.PURL)
	assert.Equal(t, "1.0.200", f.Vulnerability.FixedVersion)
}

func TestScanFileRespectsMinSeverity(t *testing.T) {
	dir := t.TempDir()
	lock := filepath.Join(dir, "Cargo.lock")
	require.NoError(t, os.WriteFile(lock, []byte(cargoLockFixture), 0o600))

	cfg := scannerConfig(t, dir, serdeDB(t))
	cfg.MinSeverity = models.SeverityCritical
	s, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.reloadDB())

	result, err := s.ScanFile(lock)
	require.NoError(t, err)
	assert.Empty(t, result.Findings)
}

func TestScannerEmitsScanAndAlertEvents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.lock"), []byte(cargoLockFixture), 0o600))

	scans := make(chan models.ScanEvent, 4)
	alerts := make(chan models.AlertEvent, 4)
	s, err := New(scannerConfig(t, dir, serdeDB(t)), scans, alerts, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	var scanEv models.ScanEvent
	select {
	case scanEv = <-scans:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for scan event")
	}
	assert.Equal(t, models.SourceSbom, scanEv.Metadata.SourceModule)
	assert.Len(t, scanEv.Result.Findings, 1)

	select {
	case alertEv := <-alerts:
		assert.Equal(t, models.SeverityHigh, alertEv.Alert.Severity)
		assert.Equal(t, "sbom/CVE-2024-0001", alertEv.Alert.RuleName)
		// alert inherits the scan's trace id
		assert.Equal(t, scanEv.Metadata.TraceID, alertEv.Metadata.TraceID)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for alert event")
	}
}

func TestScannerLifecycle(t *testing.T) {
	dir := t.TempDir()
	s, err := New(scannerConfig(t, dir, serdeDB(t)), nil, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.ErrorIs(t, s.Stop(ctx), models.ErrNotRunning)
	require.NoError(t, s.Start(ctx))
	require.ErrorIs(t, s.Start(ctx), models.ErrAlreadyRunning)
	assert.Equal(t, "healthy", string(s.Health(ctx).Status))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.Equal(t, "unhealthy", string(s.Health(ctx).Status))
}

func TestScannerStartFailsWithoutDB(t *testing.T) {
	cfg := scannerConfig(t, t.TempDir(), "/nonexistent/vulndb.json")
	s, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	assert.Error(t, s.Start(context.Background()))
}
