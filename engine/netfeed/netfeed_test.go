package netfeed

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongwonkwak/ironpost/engine/config"
	"github.com/dongwonkwak/ironpost/engine/models"
)

// fakeLoader replays canned samples and stats.
type fakeLoader struct {
	attachErr error
	ch        chan []byte
	stats     RawTrafficSnapshot
	blocked   []netip.Addr
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{ch: make(chan []byte, 16)}
}

func (f *fakeLoader) attach(cfg config.Netfeed) error { return f.attachErr }
func (f *fakeLoader) events() <-chan []byte           { return f.ch }
func (f *fakeLoader) readStats() (RawTrafficSnapshot, error) {
	return f.stats, nil
}
func (f *fakeLoader) updateBlocklist(addrs []netip.Addr) error {
	f.blocked = addrs
	return nil
}
func (f *fakeLoader) close() error { return nil }

func feedConfig() config.Netfeed {
	return config.Netfeed{
		Enabled:             true,
		Interface:           "eth0",
		XDPMode:             "skb",
		MetricsIntervalSecs: 1,
	}
}

func TestEngineForwardsPacketEvents(t *testing.T) {
	packets := make(chan models.PacketEvent, 16)
	fake := newFakeLoader()
	e := New(feedConfig(), packets, nil, nil)
	e.ld = fake

	require.NoError(t, e.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	}()

	fake.ch <- encodeRecord(PacketRecord{
		SrcIP:    [4]byte{192, 168, 1, 100},
		DstIP:    [4]byte{10, 0, 0, 1},
		SrcPort:  54321,
		DstPort:  22,
		Protocol: 6,
		TCPFlags: TCPSyn,
		Length:   60,
	})

	select {
	case ev := <-packets:
		assert.Equal(t, models.SourceNetFeed, ev.Metadata.SourceModule)
		assert.NotEmpty(t, ev.Metadata.TraceID)
		assert.Equal(t, "192.168.1.100", ev.Packet.SrcIP.String())
		assert.Equal(t, uint16(22), ev.Packet.DstPort)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for packet event")
	}
}

func TestEngineDetectorAlertsShareTrace(t *testing.T) {
	packets := make(chan models.PacketEvent, 256)
	alerts := make(chan models.AlertEvent, 16)
	fake := newFakeLoader()
	e := New(feedConfig(), packets, alerts, nil)
	e.ld = fake
	e.detector.synThreshold = 3

	require.NoError(t, e.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	}()

	rec := PacketRecord{SrcIP: [4]byte{1, 2, 3, 4}, Protocol: 6, TCPFlags: TCPSyn}
	for i := 0; i < 3; i++ {
		fake.ch <- encodeRecord(rec)
	}

	var lastPacket models.PacketEvent
	for i := 0; i < 3; i++ {
		select {
		case lastPacket = <-packets:
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for packet events")
		}
	}
	select {
	case alertEv := <-alerts:
		assert.Equal(t, "netfeed/syn_flood", alertEv.Alert.RuleName)
		assert.Equal(t, models.SeverityHigh, alertEv.Alert.Severity)
		assert.Equal(t, lastPacket.Metadata.TraceID, alertEv.Metadata.TraceID)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for detector alert")
	}
}

func TestEngineStartFailsWhenLoaderFails(t *testing.T) {
	fake := newFakeLoader()
	fake.attachErr = models.NewError(models.ErrKindPipeline, "netfeed", "eBPF load: only supported on Linux")

	e := New(feedConfig(), make(chan models.PacketEvent, 1), nil, nil)
	e.ld = fake
	err := e.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only supported on Linux")
	assert.Equal(t, "unhealthy", string(e.Health(context.Background()).Status))
}

func TestEngineLifecycle(t *testing.T) {
	e := New(feedConfig(), make(chan models.PacketEvent, 1), nil, nil)
	e.ld = newFakeLoader()

	ctx := context.Background()
	require.ErrorIs(t, e.Stop(ctx), models.ErrNotRunning)
	require.NoError(t, e.Start(ctx))
	require.ErrorIs(t, e.Start(ctx), models.ErrAlreadyRunning)
	assert.Equal(t, "healthy", string(e.Health(ctx).Status))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(stopCtx))
	assert.Equal(t, "unhealthy", string(e.Health(ctx).Status))
}

func TestEngineBlocklistPassThrough(t *testing.T) {
	fake := newFakeLoader()
	e := New(feedConfig(), make(chan models.PacketEvent, 1), nil, nil)
	e.ld = fake

	addrs := []netip.Addr{netip.MustParseAddr("10.0.0.1")}
	require.NoError(t, e.UpdateBlocklist(addrs))
	assert.Equal(t, addrs, fake.blocked)
}
