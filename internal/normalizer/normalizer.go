package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vigilo-sec/vigilo/internal/models"
)

// ErrMessageRequired is the only per-record normalization failure:
// a record whose message would be empty is rejected, never silently
// substituted.
var ErrMessageRequired = errors.New("message is required")

// syslogMessageLimit caps the message stored for raw syslog submissions.
// The untruncated payload is always preserved in raw_log.
const syslogMessageLimit = 500

// csvSeverityMap translates the bulk import severity vocabulary into
// canonical levels. Unknown or absent levels fall back to INFO.
var csvSeverityMap = map[string]string{
	"Minor":    models.SeverityInfo,
	"Warning":  models.SeverityWarning,
	"Major":    models.SeverityError,
	"Critical": models.SeverityCritical,
}

// FromJSON maps one structured record into a canonical Event,
// tolerating the alternate field names emitted by different agents.
// now is used for the event timestamp so that callers control clock
// reads and normalization stays deterministic.
func FromJSON(record map[string]interface{}, now time.Time) (*models.Event, error) {
	message := asString(record["message"])
	if message == "" {
		return nil, ErrMessageRequired
	}

	e := &models.Event{
		Timestamp: now,
		Severity:  models.NormalizeSeverity(asString(record["severity"])),
		Message:   message,
	}

	if v := firstNonEmpty(record, "source_ip", "host"); v != "" {
		e.SourceIP = &v
	}
	if v := firstNonEmpty(record, "source_host", "hostname"); v != "" {
		e.SourceHost = &v
	}
	if v := firstNonEmpty(record, "event_type", "type"); v != "" {
		e.EventType = &v
	}

	raw := asString(record["raw_log"])
	if raw == "" {
		// Preserve forensic completeness for unmapped shapes: serialize
		// the whole input with sorted keys so the fallback is stable.
		raw = SerializeRecord(record)
	}
	e.RawLog = &raw

	return e, nil
}

// FromSyslog wraps an entire raw request body in a single Event,
// attributing host and IP from the registry-identified source.
func FromSyslog(raw string, src *models.LogSource, now time.Time) *models.Event {
	eventType := "SYSLOG"
	rawLog := raw

	e := &models.Event{
		Timestamp: now,
		Severity:  models.SeverityInfo,
		EventType: &eventType,
		Message:   truncate(raw, syslogMessageLimit),
		RawLog:    &rawLog,
	}

	if src != nil {
		name := src.Name
		e.SourceHost = &name
		e.SourceIP = src.SourceIP
		e.LogSourceID = &src.ID
	}

	return e
}

// FromCSVRow maps one bulk import row into a canonical Event using the
// fixed audit export column layout (Level, Operation, Details,
// Terminal IP Address, Source, Time).
func FromCSVRow(row map[string]string, now time.Time) (*models.Event, error) {
	level := row["Level"]
	if level == "" {
		level = "Minor"
	}
	severity, ok := csvSeverityMap[level]
	if !ok {
		severity = models.SeverityInfo
	}

	// A row missing both Operation and Details yields " - ", which is
	// non-empty and therefore accepted.
	message := fmt.Sprintf("%s - %s", row["Operation"], row["Details"])

	timestamp := now
	if ts := row["Time"]; ts != "" {
		parsed, err := parseCSVTime(ts)
		if err != nil {
			return nil, fmt.Errorf("invalid time %q", ts)
		}
		timestamp = parsed
	}

	rawLog := SerializeRow(row)
	e := &models.Event{
		Timestamp: timestamp,
		Severity:  severity,
		Message:   message,
		RawLog:    &rawLog,
	}

	if v := row["Terminal IP Address"]; v != "" {
		e.SourceIP = &v
	}
	if v := row["Source"]; v != "" {
		e.SourceHost = &v
	}
	if v := row["Operation"]; v != "" {
		e.EventType = &v
	}

	return e, nil
}

// SerializeRecord renders a record as canonical key-sorted JSON so the
// raw_log fallback is deterministic.
func SerializeRecord(record map[string]interface{}) string {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Sprintf("%v", record)
	}
	return string(data)
}

// SerializeRow renders a CSV row the same way for audit.
func SerializeRow(row map[string]string) string {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Sprintf("%v", row)
	}
	return string(data)
}

var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseCSVTime(s string) (time.Time, error) {
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}

// asString renders a JSON scalar as a string. Missing values and empty
// strings both come back empty; objects and arrays are not flattened.
func asString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		return ""
	}
}

// firstNonEmpty returns the first key whose value renders non-empty.
func firstNonEmpty(record map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v := asString(record[k]); v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
