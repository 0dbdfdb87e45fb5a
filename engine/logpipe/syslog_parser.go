package logpipe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// SyslogParser handles RFC 5424 and legacy RFC 3164 messages.
//
//	RFC 5424: <PRI>1 TIMESTAMP HOST APP PROCID MSGID [SD]* MSG
//	RFC 3164: <PRI>MMM DD HH:MM:SS HOST APP: MSG
type SyslogParser struct{}

func NewSyslogParser() *SyslogParser { return &SyslogParser{} }

func (p *SyslogParser) Name() string { return "syslog" }

func (p *SyslogParser) Parse(raw []byte) (models.LogEntry, error) {
	s := string(raw)
	pri, rest, err := parsePriority(s)
	if err != nil {
		return models.LogEntry{}, err
	}
	severity := severityFromPriority(pri)

	if strings.HasPrefix(rest, "1 ") {
		entry, err := parseRFC5424(rest[2:])
		if err != nil {
			return models.LogEntry{}, err
		}
		entry.Severity = severity
		entry.Source = "syslog"
		return entry, nil
	}
	entry, err := parseRFC3164(rest)
	if err != nil {
		return models.LogEntry{}, err
	}
	entry.Severity = severity
	entry.Source = "syslog"
	return entry, nil
}

// parsePriority extracts the <PRI> prefix and returns the remainder.
func parsePriority(s string) (int, string, error) {
	if len(s) < 3 || s[0] != '<' {
		return 0, "", errors.New("missing syslog priority")
	}
	end := strings.IndexByte(s, '>')
	if end < 2 || end > 4 {
		return 0, "", errors.New("malformed syslog priority")
	}
	pri, err := strconv.Atoi(s[1:end])
	if err != nil || pri < 0 || pri > 191 {
		return 0, "", errors.New("invalid syslog priority value")
	}
	return pri, s[end+1:], nil
}

// severityFromPriority maps the syslog severity code (pri & 7) onto the
// ironpost scale.
func severityFromPriority(pri int) models.Severity {
	switch pri & 7 {
	case 0, 1, 2: // emerg, alert, crit
		return models.SeverityCritical
	case 3: // err
		return models.SeverityHigh
	case 4: // warning
		return models.SeverityMedium
	case 5: // notice
		return models.SeverityLow
	default: // info, debug
		return models.SeverityInfo
	}
}

func parseRFC5424(rest string) (models.LogEntry, error) {
	// TIMESTAMP HOST APP PROCID MSGID then structured data and message
	fields := strings.SplitN(rest, " ", 6)
	if len(fields) < 5 {
		return models.LogEntry{}, errors.New("truncated RFC 5424 header")
	}
	ts, err := time.Parse(time.RFC3339, fields[0])
	if err != nil {
		if fields[0] != "-" {
			return models.LogEntry{}, fmt.Errorf("bad RFC 5424 timestamp: %w", err)
		}
		ts = time.Time{}
	}
	entry := models.LogEntry{
		Timestamp: ts,
		Hostname:  dashEmpty(fields[1]),
		Process:   dashEmpty(fields[2]),
	}
	if procID := dashEmpty(fields[3]); procID != "" {
		entry.Fields = append(entry.Fields, models.Field{Key: "procid", Value: procID})
	}
	if msgID := dashEmpty(fields[4]); msgID != "" {
		entry.Fields = append(entry.Fields, models.Field{Key: "msgid", Value: msgID})
	}
	if len(fields) == 6 {
		entry.Message = skipStructuredData(fields[5])
	}
	return entry, nil
}

// skipStructuredData drops leading [SD-ELEMENT]* blocks (or the nil "-")
// and returns the free-form message.
func skipStructuredData(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "- ") {
		return strings.TrimSpace(s[2:])
	}
	if s == "-" {
		return ""
	}
	for strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return s
		}
		s = strings.TrimSpace(s[end+1:])
	}
	return s
}

func parseRFC3164(rest string) (models.LogEntry, error) {
	// MMM DD HH:MM:SS HOST TAG: MSG
	if len(rest) < 16 {
		return models.LogEntry{}, errors.New("truncated RFC 3164 message")
	}
	ts, err := time.Parse(time.Stamp, rest[:15])
	if err != nil {
		return models.LogEntry{}, fmt.Errorf("bad RFC 3164 timestamp: %w", err)
	}
	// RFC 3164 timestamps carry no year; assume the current one.
	now := time.Now()
	ts = time.Date(now.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, time.Local)

	rest = strings.TrimSpace(rest[15:])
	hostEnd := strings.IndexByte(rest, ' ')
	if hostEnd < 0 {
		return models.LogEntry{}, errors.New("missing RFC 3164 hostname")
	}
	host := rest[:hostEnd]
	rest = strings.TrimSpace(rest[hostEnd+1:])

	entry := models.LogEntry{Timestamp: ts, Hostname: host}
	if colon := strings.IndexByte(rest, ':'); colon > 0 {
		tag := rest[:colon]
		// strip an optional [pid] suffix from the tag
		if open := strings.IndexByte(tag, '['); open > 0 && strings.HasSuffix(tag, "]") {
			pid := tag[open+1 : len(tag)-1]
			entry.Fields = append(entry.Fields, models.Field{Key: "pid", Value: pid})
			tag = tag[:open]
		}
		entry.Process = tag
		entry.Message = strings.TrimSpace(rest[colon+1:])
	} else {
		entry.Message = rest
	}
	return entry, nil
}

func dashEmpty(s string) string {
	if s == "-" {
		return ""
	}
	return s
}
