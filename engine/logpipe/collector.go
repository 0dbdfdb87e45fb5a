package logpipe

import (
	"context"
	"time"
)

// RawLog is one unparsed log record handed from a collector to the
// pipeline. FormatHint, when set, names the parser to try first.
type RawLog struct {
	Data       []byte
	Source     string
	ReceivedAt time.Time
	FormatHint string
	// TraceID carries an upstream trace id (set by the packet feed
	// adapter); empty for logs that originate here.
	TraceID string
}

// Collector produces raw logs until ctx is cancelled. Run blocks; it is
// spawned on its own goroutine by the pipeline. A full out channel
// suspends the collector (backpressure); collectors never drop.
type Collector interface {
	Name() string
	Run(ctx context.Context, out chan<- RawLog) error
}

// emit sends one raw log honouring cancellation. Returns false when ctx
// ended before the send completed.
func emit(ctx context.Context, out chan<- RawLog, raw RawLog) bool {
	select {
	case out <- raw:
		return true
	case <-ctx.Done():
		return false
	}
}
