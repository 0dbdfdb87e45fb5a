package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallOnce(t *testing.T) {
	resetForTest()
	r := NewRecorder()
	require.NoError(t, Install(r))
	assert.Same(t, r, Default())
	assert.ErrorIs(t, Install(NewRecorder()), ErrAlreadyInstalled)
	resetForTest()
}

func TestHandlerServesMetricsOnly(t *testing.T) {
	r := NewRecorder()
	r.IncAlert("High")
	r.AddPackets("tcp", 42)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `ironpost_alerts_total{severity="High"} 1`)
	assert.Contains(t, string(body), `ironpost_packets_total{proto="tcp"} 42`)

	resp, err = http.Get(srv.URL + "/other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.IncAlert("High")
	r.IncDedupSuppressed()
	r.IncRateSuppressed()
	r.IncParseError()
	r.IncBufferDropped()
	r.SetBufferUtilization(0.5)
	r.SetRulesLoaded(3)
	r.IncIsolation("pause", "success")
	r.IncPolicyMiss()
	r.IncScanFinding("Critical")
	r.ObserveScanDuration(0.1)
	r.SetModuleHealth("logpipe", 1)
	r.AddBytes("udp", 1)
	r.AddDrops("icmp", 1)
}
