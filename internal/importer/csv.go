package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/vigilo-sec/vigilo/internal/logging"
	"github.com/vigilo-sec/vigilo/internal/metrics"
	"github.com/vigilo-sec/vigilo/internal/normalizer"
	"github.com/vigilo-sec/vigilo/internal/repository"
)

// Importer handles bulk CSV imports of audit export files. Every row
// gets its own transaction scope: a failure mid-batch never rolls back
// previously committed rows.
type Importer struct {
	repo   repository.Repository
	logger *logging.Logger
	now    func() time.Time
}

func New(repo repository.Repository, logger *logging.Logger) *Importer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Importer{repo: repo, logger: logger, now: time.Now}
}

// ImportRows persists each row individually and returns the inserted
// count plus per-row error strings. When logSourceID is set and at
// least one row succeeded, the source's counters are bumped once at the
// end; a counter failure is reported as an extra error entry but the
// committed events stand.
func (imp *Importer) ImportRows(ctx context.Context, rows []map[string]string, logSourceID *int64) (int, []string) {
	inserted := 0
	errs := []string{}

	for idx, row := range rows {
		event, err := normalizer.FromCSVRow(row, imp.now())
		if err != nil {
			errs = append(errs, fmt.Sprintf("Row %d: %s", idx, err))
			metrics.RecordErrors.WithLabelValues("normalization").Inc()
			continue
		}

		event.LogSourceID = logSourceID

		if _, err := imp.repo.InsertEvent(ctx, event); err != nil {
			imp.logger.ErrorContext(ctx, "failed to persist csv row",
				"row", idx, "error", err)
			errs = append(errs, fmt.Sprintf("Row %d: %s", idx, err))
			metrics.RecordErrors.WithLabelValues("persistence").Inc()
			continue
		}

		inserted++
	}

	if logSourceID != nil && inserted > 0 {
		// Counters are best-effort; the event rows are authoritative.
		if err := imp.repo.AddSourceStats(ctx, *logSourceID, inserted); err != nil {
			errs = append(errs, fmt.Sprintf("Failed to update source stats: %v", err))
		}
	}

	metrics.RecordsInserted.Add(float64(inserted))
	return inserted, errs
}

// ParseCSV reads a headered CSV stream into one map per data row,
// keyed by column name. Short rows leave their trailing columns empty.
func ParseCSV(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("csv file is empty")
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	rows := []map[string]string{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}
