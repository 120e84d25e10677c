package models

import (
	"strings"
	"time"
)

// Severity levels for canonical events.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// NormalizeSeverity upper-cases a severity value and falls back to INFO
// when the input is empty.
func NormalizeSeverity(s string) string {
	if s == "" {
		return SeverityInfo
	}
	return strings.ToUpper(s)
}

// LogSource is the identity of an ingest client. Sources are never
// deleted, only deactivated; a deactivated source's API key must be
// rejected.
type LogSource struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	SourceType        string     `json:"source_type"`
	SourceIP          *string    `json:"source_ip,omitempty"`
	APIKey            string     `json:"-"`
	IsActive          bool       `json:"is_active"`
	TotalLogsReceived int64      `json:"total_logs_received"`
	LastReceived      *time.Time `json:"last_received,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Event is the canonical, storage-ready representation of one log
// record regardless of input shape. Immutable after creation.
type Event struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    string    `json:"severity"`
	SourceIP    *string   `json:"source_ip"`
	SourceHost  *string   `json:"source_host"`
	EventType   *string   `json:"event_type"`
	Message     string    `json:"message"`
	UserID      *int64    `json:"user_id,omitempty"`
	LogSourceID *int64    `json:"log_source_id,omitempty"`
	RawLog      *string   `json:"raw_log,omitempty"`
}

// ActivityReport is one cached daily summary row per (group, date).
// Once written for a key it is never recomputed.
type ActivityReport struct {
	ID                   int64     `json:"id"`
	GroupID              int64     `json:"group_id"`
	ReportDate           time.Time `json:"report_date"`
	TotalUsers           int       `json:"total_users"`
	ActiveUsers          int       `json:"active_users"`
	TotalEvents          int       `json:"total_events"`
	CriticalEvents       int       `json:"critical_events"`
	UnusualBehaviorCount int       `json:"unusual_behavior_count"`
	MissingWorkCount     int       `json:"missing_work_count"`
	RuleViolations       int       `json:"rule_violations"`
	Summary              string    `json:"summary"`
	CreatedAt            time.Time `json:"created_at"`
}

// IngestResult is the outcome of a batch submission. Errors carries at
// most the first ten per-record failures; ErrorCount is the full tally.
type IngestResult struct {
	Status     string   `json:"status"`
	Inserted   int      `json:"inserted"`
	Total      int      `json:"total"`
	Errors     []string `json:"errors,omitempty"`
	ErrorCount int      `json:"error_count,omitempty"`
}

// CreateSourceRequest registers a new ingest client.
type CreateSourceRequest struct {
	Name       string  `json:"name"`
	SourceType string  `json:"source_type"`
	SourceIP   *string `json:"source_ip,omitempty"`
	APIKey     string  `json:"api_key"`
}
