package models

import (
	"fmt"
	"net/netip"
	"time"
)

// LogEntry is a parsed log record in the unified shape shared by every
// collector source (files, syslog, packet feed).
type LogEntry struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Hostname  string    `json:"hostname"`
	Process   string    `json:"process"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	// Fields preserves extra key/value pairs in arrival order.
	Fields []Field `json:"fields,omitempty"`
}

// Field is one extra key/value pair attached to a log entry.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FieldValue returns the first value recorded under key.
func (e *LogEntry) FieldValue(key string) (string, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func (e *LogEntry) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", e.Severity, e.Hostname, e.Process, e.Message)
}

// Alert is a security alert produced by the detection rule engine or the
// SBOM scanner. Alerts are immutable once emitted.
type Alert struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    Severity   `json:"severity"`
	RuleName    string     `json:"rule_name"`
	SourceIP    netip.Addr `json:"source_ip,omitempty"`
	TargetIP    netip.Addr `json:"target_ip,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (a *Alert) String() string {
	return fmt.Sprintf("[%s] %s (rule: %s)", a.Severity, a.Title, a.RuleName)
}

// ContainerInfo describes a monitored container.
type ContainerInfo struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	Status    string            `json:"status"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (c *ContainerInfo) String() string {
	id := c.ID
	if len(id) > 12 {
		id = id[:12]
	}
	return fmt.Sprintf("%s (%s) image=%s status=%s", c.Name, id, c.Image, c.Status)
}

// PacketInfo is the user-space view of one captured packet.
type PacketInfo struct {
	SrcIP     netip.Addr `json:"src_ip"`
	DstIP     netip.Addr `json:"dst_ip"`
	SrcPort   uint16     `json:"src_port"`
	DstPort   uint16     `json:"dst_port"`
	Protocol  uint8      `json:"protocol"`
	Size      int        `json:"size"`
	Timestamp time.Time  `json:"timestamp"`
}

func (p *PacketInfo) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d proto=%d size=%d",
		p.SrcIP, p.SrcPort, p.DstIP, p.DstPort, p.Protocol, p.Size)
}

// Vulnerability is a CVE matched against a scanned package.
type Vulnerability struct {
	CVEID           string    `json:"cve_id"`
	Package         string    `json:"package"`
	AffectedVersion string    `json:"affected_version"`
	FixedVersion    string    `json:"fixed_version,omitempty"`
	Severity        Severity  `json:"severity"`
	Description     string    `json:"description"`
	Published       time.Time `json:"published,omitempty"`
}

func (v *Vulnerability) String() string {
	fixed := v.FixedVersion
	if fixed == "" {
		fixed = "N/A"
	}
	return fmt.Sprintf("%s [%s] %s %s (fixed: %s)",
		v.CVEID, v.Severity, v.Package, v.AffectedVersion, fixed)
}
