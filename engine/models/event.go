package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind tags the payload type carried by an event envelope.
type EventKind string

const (
	EventKindLog    EventKind = "log"
	EventKindAlert  EventKind = "alert"
	EventKindScan   EventKind = "scan"
	EventKindAction EventKind = "action"
	EventKindPacket EventKind = "packet"
)

// Source module identifiers stamped onto event metadata.
const (
	SourceNetFeed  = "netfeed"
	SourceLogPipe  = "logpipe"
	SourceGuard    = "guard"
	SourceSbom     = "sbom"
	SourceEngine   = "engine"
	SourceExternal = "external"
)

// Metadata is the uniform envelope carried by every cross-module event.
// TraceID is generated at the origin and copied verbatim onto every event
// derived from the same cause, so causally linked events stay correlatable
// even across independent channels.
type Metadata struct {
	EventID      string    `json:"event_id"`
	TraceID      string    `json:"trace_id"`
	SourceModule string    `json:"source_module"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewMetadata creates envelope metadata with a fresh trace id.
func NewMetadata(sourceModule string) Metadata {
	return Metadata{
		EventID:      uuid.NewString(),
		TraceID:      uuid.NewString(),
		SourceModule: sourceModule,
		CreatedAt:    time.Now().UTC(),
	}
}

// WithTrace creates envelope metadata propagating an existing trace id.
// An empty traceID falls back to generating a fresh one.
func WithTrace(sourceModule, traceID string) Metadata {
	md := NewMetadata(sourceModule)
	if traceID != "" {
		md.TraceID = traceID
	}
	return md
}

// Event is implemented by every typed event crossing module boundaries.
type Event interface {
	Kind() EventKind
	Meta() Metadata
}

// LogEvent wraps a parsed log entry.
type LogEvent struct {
	Metadata Metadata `json:"metadata"`
	Entry    LogEntry `json:"entry"`
}

func (e LogEvent) Kind() EventKind { return EventKindLog }
func (e LogEvent) Meta() Metadata  { return e.Metadata }

// AlertEvent wraps an emitted alert.
type AlertEvent struct {
	Metadata Metadata `json:"metadata"`
	Alert    Alert    `json:"alert"`
}

func (e AlertEvent) Kind() EventKind { return EventKindAlert }
func (e AlertEvent) Meta() Metadata  { return e.Metadata }

// ScanEvent wraps an SBOM scan result.
type ScanEvent struct {
	Metadata Metadata   `json:"metadata"`
	Result   ScanResult `json:"result"`
}

func (e ScanEvent) Kind() EventKind { return EventKindScan }
func (e ScanEvent) Meta() Metadata  { return e.Metadata }

// ActionEvent records a container enforcement action and its outcome.
type ActionEvent struct {
	Metadata   Metadata `json:"metadata"`
	ActionType string   `json:"action_type"`
	Target     string   `json:"target"`
	Success    bool     `json:"success"`
	Reason     string   `json:"reason,omitempty"`
}

func (e ActionEvent) Kind() EventKind { return EventKindAction }
func (e ActionEvent) Meta() Metadata  { return e.Metadata }

// PacketEvent wraps a captured packet record.
type PacketEvent struct {
	Metadata Metadata   `json:"metadata"`
	Packet   PacketInfo `json:"packet"`
}

func (e PacketEvent) Kind() EventKind { return EventKindPacket }
func (e PacketEvent) Meta() Metadata  { return e.Metadata }
