package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vigilo-sec/vigilo/internal/metrics"
)

// FailedRecord is one rejected submission, spooled for audit. The
// batch response still reports the failure to the caller; the DLQ is
// not a retry queue.
type FailedRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	SourceID  int64           `json:"source_id,omitempty"`
	Reason    string          `json:"reason"`
	Error     string          `json:"error"`
	Record    json.RawMessage `json:"record,omitempty"`
}

// Writer spools failed records somewhere durable.
type Writer interface {
	Write(ctx context.Context, rec *FailedRecord) error
	Close() error
}

// FileQueue appends failed records as NDJSON to one file per day.
// Single-instance deployments only.
type FileQueue struct {
	basePath string

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewFileQueue creates a file-backed DLQ rooted at basePath.
func NewFileQueue(basePath string) (*FileQueue, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dlq directory: %w", err)
	}
	return &FileQueue{basePath: basePath}, nil
}

func (q *FileQueue) Write(ctx context.Context, rec *FailedRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq record: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	day := rec.Timestamp.UTC().Format("2006-01-02")
	if q.file == nil || day != q.day {
		if q.file != nil {
			q.file.Close()
		}
		path := filepath.Join(q.basePath, fmt.Sprintf("failed-%s.ndjson", day))
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open dlq file: %w", err)
		}
		q.file = f
		q.day = day
	}

	if _, err := q.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write dlq record: %w", err)
	}

	metrics.DLQWrites.WithLabelValues(rec.Reason).Inc()
	return nil
}

func (q *FileQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.file != nil {
		err := q.file.Close()
		q.file = nil
		return err
	}
	return nil
}

// NoOpWriter discards failed records when the DLQ is disabled.
type NoOpWriter struct{}

func (NoOpWriter) Write(ctx context.Context, rec *FailedRecord) error { return nil }
func (NoOpWriter) Close() error                                       { return nil }
