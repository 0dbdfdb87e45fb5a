package logpipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// JSONParser handles structured logs serialised as one JSON object. Known
// aliases are folded onto the unified entry; every other key is preserved
// as an extra field in sorted key order.
type JSONParser struct{}

func NewJSONParser() *JSONParser { return &JSONParser{} }

func (p *JSONParser) Name() string { return "json" }

func (p *JSONParser) Parse(raw []byte) (models.LogEntry, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return models.LogEntry{}, fmt.Errorf("not a JSON object: %w", err)
	}
	if obj == nil {
		return models.LogEntry{}, errors.New("null JSON document")
	}

	entry := models.LogEntry{Source: "json"}
	consumed := make(map[string]bool)

	if v, key := firstString(obj, "timestamp", "ts"); key != "" {
		consumed[key] = true
		if ts, err := parseTimestamp(v); err == nil {
			entry.Timestamp = ts
		}
	}
	if v, key := firstString(obj, "host", "hostname"); key != "" {
		consumed[key] = true
		entry.Hostname = v
	}
	if v, key := firstString(obj, "process", "program"); key != "" {
		consumed[key] = true
		entry.Process = v
	}
	if v, key := firstString(obj, "message", "msg"); key != "" {
		consumed[key] = true
		entry.Message = v
	}
	if v, key := firstString(obj, "level", "severity"); key != "" {
		consumed[key] = true
		if sev, err := models.ParseSeverity(v); err == nil {
			entry.Severity = sev
		}
	}
	if v, key := firstString(obj, "source"); key != "" {
		consumed[key] = true
		entry.Source = v
	}

	extras := make([]string, 0, len(obj))
	for k := range obj {
		if !consumed[k] {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	for _, k := range extras {
		entry.Fields = append(entry.Fields, models.Field{Key: k, Value: stringify(obj[k])})
	}
	return entry, nil
}

// firstString returns the first present alias with a string value.
func firstString(obj map[string]any, keys ...string) (string, string) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s, k
			}
		}
	}
	return "", ""
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.New("unrecognised timestamp")
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers arrive as float64; render integers without decimals
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
