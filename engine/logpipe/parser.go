package logpipe

import (
	"github.com/dongwonkwak/ironpost/engine/models"
)

// Parser turns raw bytes of one known format into a log entry.
type Parser interface {
	// Name identifies the format ("syslog", "json").
	Name() string
	Parse(raw []byte) (models.LogEntry, error)
}

// ParserRouter picks a parser for each raw log. When the log carries a
// format hint the matching parser is tried first; otherwise parsers are
// tried in registration order and the first success wins.
type ParserRouter struct {
	parsers []Parser
}

// NewParserRouter creates an empty router.
func NewParserRouter() *ParserRouter {
	return &ParserRouter{}
}

// DefaultParserRouter registers the built-in syslog and JSON parsers.
func DefaultParserRouter() *ParserRouter {
	r := NewParserRouter()
	r.Register(NewSyslogParser())
	r.Register(NewJSONParser())
	return r
}

// Register appends a parser. Registration order is the fallback try order.
func (r *ParserRouter) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Formats returns the registered parser names in order.
func (r *ParserRouter) Formats() []string {
	out := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		out[i] = p.Name()
	}
	return out
}

// Parse resolves raw into a log entry, or ErrUnsupportedFormat when every
// parser rejects it.
func (r *ParserRouter) Parse(raw RawLog) (models.LogEntry, error) {
	if len(r.parsers) == 0 {
		return models.LogEntry{}, parseErr(raw.Source, ErrUnsupportedFormat)
	}

	if raw.FormatHint != "" {
		for _, p := range r.parsers {
			if p.Name() == raw.FormatHint {
				if entry, err := p.Parse(raw.Data); err == nil {
					return r.finish(entry, raw), nil
				}
				break
			}
		}
	}

	for _, p := range r.parsers {
		if entry, err := p.Parse(raw.Data); err == nil {
			return r.finish(entry, raw), nil
		}
	}
	return models.LogEntry{}, parseErr(raw.Source, ErrUnsupportedFormat)
}

// finish fills entry fields the parser could not know.
func (r *ParserRouter) finish(entry models.LogEntry, raw RawLog) models.LogEntry {
	if entry.Source == "" {
		entry.Source = raw.Source
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = raw.ReceivedAt
	}
	return entry
}
