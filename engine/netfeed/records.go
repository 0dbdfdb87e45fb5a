// Package netfeed surfaces kernel packet telemetry: parsed packet
// records from the XDP ring buffer and per-CPU traffic counters.
package netfeed

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// Counter indices shared with the kernel program's per-CPU stats array.
const (
	StatsIdxTCP = iota
	StatsIdxUDP
	StatsIdxICMP
	StatsIdxOther
	StatsIdxTotal
	StatsMaxEntries
)

// TCP flag bits as they appear in the record's flags byte.
const (
	TCPFin = 1 << iota
	TCPSyn
	TCPRst
	TCPPsh
	TCPAck
	TCPUrg
)

// packetRecordSize is the fixed C layout size of one kernel record.
const packetRecordSize = 24

// PacketRecord mirrors the C record the kernel program writes into the
// ring buffer. IPv4 only in this layout revision; addresses are kept in
// network byte order, scalar fields in host order.
type PacketRecord struct {
	SrcIP       [4]byte
	DstIP       [4]byte
	SrcPort     uint16
	DstPort     uint16
	Protocol    uint8
	TCPFlags    uint8
	Length      uint16
	TimestampNS uint64
}

// DecodePacketRecord parses one raw ring buffer sample.
func DecodePacketRecord(b []byte) (PacketRecord, error) {
	if len(b) < packetRecordSize {
		return PacketRecord{}, fmt.Errorf("short packet record: %d bytes (want %d)", len(b), packetRecordSize)
	}
	var r PacketRecord
	copy(r.SrcIP[:], b[0:4])
	copy(r.DstIP[:], b[4:8])
	r.SrcPort = binary.LittleEndian.Uint16(b[8:10])
	r.DstPort = binary.LittleEndian.Uint16(b[10:12])
	r.Protocol = b[12]
	r.TCPFlags = b[13]
	r.Length = binary.LittleEndian.Uint16(b[14:16])
	r.TimestampNS = binary.LittleEndian.Uint64(b[16:24])
	return r, nil
}

// PacketInfo converts the wire record into the shared domain type. The
// kernel timestamp is monotonic; receivedAt anchors it to wall clock.
func (r PacketRecord) PacketInfo(receivedAt time.Time) models.PacketInfo {
	return models.PacketInfo{
		SrcIP:     netip.AddrFrom4(r.SrcIP),
		DstIP:     netip.AddrFrom4(r.DstIP),
		SrcPort:   r.SrcPort,
		DstPort:   r.DstPort,
		Protocol:  r.Protocol,
		Size:      int(r.Length),
		Timestamp: receivedAt,
	}
}

// CounterValue is one per-CPU stats cell.
type CounterValue struct {
	Packets uint64
	Bytes   uint64
	Drops   uint64
}

func (c CounterValue) add(o CounterValue) CounterValue {
	return CounterValue{
		Packets: c.Packets + o.Packets,
		Bytes:   c.Bytes + o.Bytes,
		Drops:   c.Drops + o.Drops,
	}
}

// RawTrafficSnapshot is the per-protocol sum across CPUs from one poll.
type RawTrafficSnapshot struct {
	TCP   CounterValue
	UDP   CounterValue
	ICMP  CounterValue
	Other CounterValue
	Total CounterValue
}

// ProtoRates carries cumulative counters plus the rates derived from the
// previous snapshot.
type ProtoRates struct {
	Packets uint64  `json:"packets"`
	Bytes   uint64  `json:"bytes"`
	Drops   uint64  `json:"drops"`
	PPS     float64 `json:"pps"`
	BPS     float64 `json:"bps"`
}

// TrafficStats derives per-protocol rates from successive snapshots.
// The first update yields cumulative values with zero rates.
type TrafficStats struct {
	TCP   ProtoRates `json:"tcp"`
	UDP   ProtoRates `json:"udp"`
	ICMP  ProtoRates `json:"icmp"`
	Other ProtoRates `json:"other"`
	Total ProtoRates `json:"total"`

	lastPoll time.Time
	prevRaw  *RawTrafficSnapshot
}

// Update folds a fresh snapshot in, computing pps and bps against the
// previous one. Counter regressions (kernel program reloads) use
// saturating subtraction.
func (s *TrafficStats) Update(raw RawTrafficSnapshot, now time.Time) {
	if s.prevRaw != nil && !s.lastPoll.IsZero() {
		elapsed := now.Sub(s.lastPoll).Seconds()
		if elapsed > 0 {
			computeRates(&s.TCP, raw.TCP, s.prevRaw.TCP, elapsed)
			computeRates(&s.UDP, raw.UDP, s.prevRaw.UDP, elapsed)
			computeRates(&s.ICMP, raw.ICMP, s.prevRaw.ICMP, elapsed)
			computeRates(&s.Other, raw.Other, s.prevRaw.Other, elapsed)
			computeRates(&s.Total, raw.Total, s.prevRaw.Total, elapsed)
		}
	} else {
		setCumulative(&s.TCP, raw.TCP)
		setCumulative(&s.UDP, raw.UDP)
		setCumulative(&s.ICMP, raw.ICMP)
		setCumulative(&s.Other, raw.Other)
		setCumulative(&s.Total, raw.Total)
	}
	snapshot := raw
	s.prevRaw = &snapshot
	s.lastPoll = now
}

func computeRates(dst *ProtoRates, cur, prev CounterValue, elapsedSecs float64) {
	dst.Packets = cur.Packets
	dst.Bytes = cur.Bytes
	dst.Drops = cur.Drops
	dst.PPS = float64(saturatingSub(cur.Packets, prev.Packets)) / elapsedSecs
	dst.BPS = float64(saturatingSub(cur.Bytes, prev.Bytes)) * 8 / elapsedSecs
}

func setCumulative(dst *ProtoRates, cur CounterValue) {
	dst.Packets = cur.Packets
	dst.Bytes = cur.Bytes
	dst.Drops = cur.Drops
	dst.PPS = 0
	dst.BPS = 0
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// SumPerCPU folds per-CPU cells for one protocol index into one value.
func SumPerCPU(values []CounterValue) CounterValue {
	var sum CounterValue
	for _, v := range values {
		sum = sum.add(v)
	}
	return sum
}
