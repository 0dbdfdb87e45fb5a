package logpipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongwonkwak/ironpost/engine/models"
)

func TestSyslogParserRFC5424(t *testing.T) {
	raw := []byte(`<34>1 2024-01-15T12:00:00Z host01 sshd 1234 ID47 - Failed password for root`)
	p := NewSyslogParser()
	entry, err := p.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "host01", entry.Hostname)
	assert.Equal(t, "sshd", entry.Process)
	assert.Equal(t, "Failed password for root", entry.Message)
	// PRI 34 -> severity code 2 (crit)
	assert.Equal(t, models.SeverityCritical, entry.Severity)
	assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), entry.Timestamp.UTC())

	procID, ok := entry.FieldValue("procid")
	require.True(t, ok)
	assert.Equal(t, "1234", procID)
}

func TestSyslogParserRFC5424StructuredData(t *testing.T) {
	raw := []byte(`<165>1 2024-01-15T12:00:00Z host app - - [exampleSDID@32473 iut="3"] An application event`)
	entry, err := NewSyslogParser().Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "An application event", entry.Message)
	// PRI 165 -> severity code 5 (notice)
	assert.Equal(t, models.SeverityLow, entry.Severity)
}

func TestSyslogParserRFC3164(t *testing.T) {
	raw := []byte(`<13>Jan 15 12:00:05 host01 sshd[999]: session opened for user root`)
	entry, err := NewSyslogParser().Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "host01", entry.Hostname)
	assert.Equal(t, "sshd", entry.Process)
	assert.Equal(t, "session opened for user root", entry.Message)
	pid, ok := entry.FieldValue("pid")
	require.True(t, ok)
	assert.Equal(t, "999", pid)
}

func TestSyslogParserRejectsGarbage(t *testing.T) {
	_, err := NewSyslogParser().Parse([]byte("plain text, no priority"))
	assert.Error(t, err)
	_, err = NewSyslogParser().Parse([]byte("<999>1 x"))
	assert.Error(t, err)
}

func TestJSONParserAliases(t *testing.T) {
	raw := []byte(`{"ts":"2024-01-15T12:00:00Z","hostname":"web-1","program":"nginx","msg":"GET /","severity":"low","request_id":"r-1","bytes":512}`)
	entry, err := NewJSONParser().Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "web-1", entry.Hostname)
	assert.Equal(t, "nginx", entry.Process)
	assert.Equal(t, "GET /", entry.Message)
	assert.Equal(t, models.SeverityLow, entry.Severity)

	rid, ok := entry.FieldValue("request_id")
	require.True(t, ok)
	assert.Equal(t, "r-1", rid)
	bytesV, ok := entry.FieldValue("bytes")
	require.True(t, ok)
	assert.Equal(t, "512", bytesV)
}

func TestJSONParserRejectsNonObject(t *testing.T) {
	_, err := NewJSONParser().Parse([]byte(`[1,2,3]`))
	assert.Error(t, err)
	_, err = NewJSONParser().Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestRouterHintFirst(t *testing.T) {
	router := DefaultParserRouter()
	raw := RawLog{
		Data:       []byte(`{"message":"hello","host":"h"}`),
		Source:     "test",
		ReceivedAt: time.Now(),
		FormatHint: "json",
	}
	entry, err := router.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", entry.Message)
}

func TestRouterFallbackOrder(t *testing.T) {
	router := DefaultParserRouter()
	// no hint: syslog is tried first, fails, JSON succeeds
	raw := RawLog{Data: []byte(`{"message":"fallback"}`), Source: "test", ReceivedAt: time.Now()}
	entry, err := router.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "fallback", entry.Message)
}

func TestRouterUnsupportedFormat(t *testing.T) {
	router := DefaultParserRouter()
	raw := RawLog{Data: []byte("free text log line"), Source: "test", ReceivedAt: time.Now()}
	_, err := router.Parse(raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRouterFillsSourceAndTimestamp(t *testing.T) {
	router := DefaultParserRouter()
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	raw := RawLog{Data: []byte(`{"message":"x"}`), Source: "/var/log/app.log", ReceivedAt: at}
	entry, err := router.Parse(raw)
	require.NoError(t, err)
	// json parser tags its own source name; timestamp falls back to receipt
	assert.Equal(t, "json", entry.Source)
	assert.Equal(t, at, entry.Timestamp)
}

func TestRouterFormats(t *testing.T) {
	assert.Equal(t, []string{"syslog", "json"}, DefaultParserRouter().Formats())
}
