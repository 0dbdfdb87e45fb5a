package netfeed

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// PacketDetector inspects the packet stream for network-level anomalies
// the rule engine cannot see cheaply: SYN floods and port scans. State
// is owned by the event reader task.
type PacketDetector struct {
	synWindow      time.Duration
	synThreshold   int
	scanWindow     time.Duration
	scanThreshold  int

	// SYN-only packet timestamps per source address
	synSeen map[netipKey][]time.Time
	// distinct destination ports per source address with window start
	scanSeen map[netipKey]*portWindow
}

type netipKey [4]byte

type portWindow struct {
	start time.Time
	ports map[uint16]struct{}
}

// NewPacketDetector creates a detector with the default thresholds:
// 100 bare SYNs per source in 10s, 20 distinct ports per source in 30s.
func NewPacketDetector() *PacketDetector {
	return &PacketDetector{
		synWindow:     10 * time.Second,
		synThreshold:  100,
		scanWindow:    30 * time.Second,
		scanThreshold: 20,
		synSeen:       make(map[netipKey][]time.Time),
		scanSeen:      make(map[netipKey]*portWindow),
	}
}

// Inspect feeds one record through every detector and returns the alerts
// it raised. The packet's trace id must be propagated by the caller.
func (d *PacketDetector) Inspect(r PacketRecord, now time.Time) []models.Alert {
	var alerts []models.Alert
	if a := d.checkSynFlood(r, now); a != nil {
		alerts = append(alerts, *a)
	}
	if a := d.checkPortScan(r, now); a != nil {
		alerts = append(alerts, *a)
	}
	return alerts
}

// checkSynFlood counts bare SYN packets (SYN set, ACK clear) per source.
func (d *PacketDetector) checkSynFlood(r PacketRecord, now time.Time) *models.Alert {
	if r.Protocol != 6 || r.TCPFlags&TCPSyn == 0 || r.TCPFlags&TCPAck != 0 {
		return nil
	}
	key := netipKey(r.SrcIP)
	cutoff := now.Add(-d.synWindow)
	kept := d.synSeen[key][:0]
	for _, ts := range d.synSeen[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	d.synSeen[key] = kept
	if len(kept) < d.synThreshold {
		return nil
	}
	// reset the window so one flood yields one alert
	d.synSeen[key] = nil
	info := r.PacketInfo(now)
	return &models.Alert{
		ID:          uuid.NewString(),
		Title:       "SYN flood suspected",
		Description: fmt.Sprintf("%d bare SYN packets from %s within %s", len(kept), info.SrcIP, d.synWindow),
		Severity:    models.SeverityHigh,
		RuleName:    "netfeed/syn_flood",
		SourceIP:    info.SrcIP,
		TargetIP:    info.DstIP,
		CreatedAt:   now,
	}
}

// checkPortScan counts distinct destination ports per source.
func (d *PacketDetector) checkPortScan(r PacketRecord, now time.Time) *models.Alert {
	if r.Protocol != 6 && r.Protocol != 17 {
		return nil
	}
	key := netipKey(r.SrcIP)
	w := d.scanSeen[key]
	if w == nil || now.Sub(w.start) > d.scanWindow {
		w = &portWindow{start: now, ports: make(map[uint16]struct{})}
		d.scanSeen[key] = w
	}
	w.ports[r.DstPort] = struct{}{}
	if len(w.ports) < d.scanThreshold {
		return nil
	}
	delete(d.scanSeen, key)
	info := r.PacketInfo(now)
	return &models.Alert{
		ID:          uuid.NewString(),
		Title:       "Port scan suspected",
		Description: fmt.Sprintf("%d distinct ports probed by %s within %s", d.scanThreshold, info.SrcIP, d.scanWindow),
		Severity:    models.SeverityMedium,
		RuleName:    "netfeed/port_scan",
		SourceIP:    info.SrcIP,
		TargetIP:    info.DstIP,
		CreatedAt:   now,
	}
}
