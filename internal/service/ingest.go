package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vigilo-sec/vigilo/internal/dlq"
	"github.com/vigilo-sec/vigilo/internal/logging"
	"github.com/vigilo-sec/vigilo/internal/metrics"
	"github.com/vigilo-sec/vigilo/internal/models"
	"github.com/vigilo-sec/vigilo/internal/normalizer"
	"github.com/vigilo-sec/vigilo/internal/repository"
)

var (
	// ErrMissingAPIKey: no credential was supplied at all.
	ErrMissingAPIKey = errors.New("API key required")
	// ErrInvalidAPIKey: a credential was supplied but matches no active source.
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrEmptyPayload: the request body is empty or all whitespace.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrInvalidPayload: the body is neither a JSON object nor an array.
	ErrInvalidPayload = errors.New("payload must be a JSON object or array")
)

// maxReportedErrors caps how many per-record error strings a batch
// response carries; the full count is always reported separately.
const maxReportedErrors = 10

// IngestService orchestrates authentication, per-record normalization,
// persistence and source statistics for inbound submissions.
type IngestService struct {
	repo   repository.Repository
	dlq    dlq.Writer
	logger *logging.Logger
	now    func() time.Time
}

// NewIngestService wires the ingestion pipeline. dlqWriter may be a
// NoOpWriter when the dead letter queue is disabled.
func NewIngestService(repo repository.Repository, dlqWriter dlq.Writer, logger *logging.Logger) *IngestService {
	if dlqWriter == nil {
		dlqWriter = dlq.NoOpWriter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IngestService{
		repo:   repo,
		dlq:    dlqWriter,
		logger: logger,
		now:    time.Now,
	}
}

// Authenticate resolves an API key to an active log source. The two
// failure kinds are distinct: a missing credential is not the same as
// an invalid one, and callers map them to 401 vs 403.
func (s *IngestService) Authenticate(ctx context.Context, apiKey string) (*models.LogSource, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	src, err := s.repo.GetSourceByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("authenticate source: %w", err)
	}

	return src, nil
}

// Ingest accepts one JSON object or an ordered array of objects and
// processes each record independently: one malformed record never
// aborts the batch. Authentication failures are terminal for the whole
// request.
func (s *IngestService) Ingest(ctx context.Context, apiKey string, payload []byte) (*models.IngestResult, error) {
	src, err := s.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	records, err := splitPayload(payload)
	if err != nil {
		return nil, err
	}

	inserted := 0
	allErrors := []string{}

	for idx, raw := range records {
		if recErr := s.ingestRecord(ctx, src, raw); recErr != nil {
			allErrors = append(allErrors, fmt.Sprintf("Log %d: %s", idx, recErr))
			continue
		}
		inserted++
	}

	if inserted > 0 {
		// One counter update per batch, not per record, to bound write
		// amplification. The events are already committed; a stats
		// failure must not fail the request.
		if err := s.repo.AddSourceStats(ctx, src.ID, inserted); err != nil {
			s.logger.ErrorContext(ctx, "failed to update source stats",
				"source_id", src.ID, "error", err)
		}
	}

	result := &models.IngestResult{
		Status:   "error",
		Inserted: inserted,
		Total:    len(records),
	}
	if inserted > 0 {
		result.Status = "success"
	}
	if len(allErrors) > 0 {
		result.ErrorCount = len(allErrors)
		if len(allErrors) > maxReportedErrors {
			result.Errors = allErrors[:maxReportedErrors]
		} else {
			result.Errors = allErrors
		}
	}

	metrics.RecordsInserted.Add(float64(inserted))
	return result, nil
}

// IngestSyslog persists a single event from an unstructured text body.
// Unlike the batch path, a persistence failure here is fatal to the
// request.
func (s *IngestService) IngestSyslog(ctx context.Context, apiKey, rawBody string) error {
	src, err := s.Authenticate(ctx, apiKey)
	if err != nil {
		return err
	}

	if strings.TrimSpace(rawBody) == "" {
		return ErrEmptyPayload
	}

	event := normalizer.FromSyslog(rawBody, src, s.now())

	start := time.Now()
	if _, err := s.repo.InsertEvent(ctx, event); err != nil {
		return fmt.Errorf("persist syslog event: %w", err)
	}
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	metrics.RecordsInserted.Inc()

	if err := s.repo.AddSourceStats(ctx, src.ID, 1); err != nil {
		s.logger.ErrorContext(ctx, "failed to update source stats",
			"source_id", src.ID, "error", err)
	}

	return nil
}

// ingestRecord normalizes and persists one batch record. Both
// normalization and persistence failures are returned as per-record
// errors, and the rejected record is spooled to the DLQ for audit.
func (s *IngestService) ingestRecord(ctx context.Context, src *models.LogSource, raw json.RawMessage) error {
	var record map[string]interface{}
	if err := json.Unmarshal(raw, &record); err != nil {
		s.spool(ctx, src.ID, "invalid_json", err, raw)
		metrics.RecordErrors.WithLabelValues("invalid_json").Inc()
		return errors.New("record is not a JSON object")
	}

	start := time.Now()
	event, err := normalizer.FromJSON(record, s.now())
	metrics.NormalizationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.spool(ctx, src.ID, "normalization", err, raw)
		metrics.RecordErrors.WithLabelValues("normalization").Inc()
		return err
	}

	event.LogSourceID = &src.ID

	start = time.Now()
	if _, err := s.repo.InsertEvent(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist record",
			"source_id", src.ID, "error", err)
		s.spool(ctx, src.ID, "persistence", err, raw)
		metrics.RecordErrors.WithLabelValues("persistence").Inc()
		return err
	}
	metrics.PersistDuration.Observe(time.Since(start).Seconds())

	return nil
}

func (s *IngestService) spool(ctx context.Context, sourceID int64, reason string, cause error, raw json.RawMessage) {
	rec := &dlq.FailedRecord{
		Timestamp: s.now().UTC(),
		SourceID:  sourceID,
		Reason:    reason,
		Error:     cause.Error(),
		Record:    raw,
	}
	if err := s.dlq.Write(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to write dlq record", "error", err)
	}
}

// splitPayload turns a request body into individual records. An array
// yields its elements in order; anything else is treated as a single
// record.
func splitPayload(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, ErrEmptyPayload
	}

	if trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, ErrInvalidPayload
		}
		if len(records) == 0 {
			return nil, ErrEmptyPayload
		}
		return records, nil
	}

	if trimmed[0] != '{' {
		return nil, ErrInvalidPayload
	}

	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}
