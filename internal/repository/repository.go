package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vigilo-sec/vigilo/internal/models"
)

var (
	ErrSourceNotFound = errors.New("log source not found")
	ErrReportNotFound = errors.New("activity report not found")
	ErrReportExists   = errors.New("activity report already exists for this group and date")
)

// Repository defines persistence for log sources, events and reports.
type Repository interface {
	// Log source operations
	GetSourceByAPIKey(ctx context.Context, apiKey string) (*models.LogSource, error)
	CreateSource(ctx context.Context, src *models.LogSource) error
	ListSources(ctx context.Context) ([]*models.LogSource, error)
	// AddSourceStats increments total_logs_received by delta and stamps
	// last_received in a single atomic update.
	AddSourceStats(ctx context.Context, sourceID int64, delta int) error

	// Event operations
	InsertEvent(ctx context.Context, e *models.Event) (int64, error)
	ListEvents(ctx context.Context, severity string, limit int) ([]*models.Event, error)

	// Report operations
	GetDailyReport(ctx context.Context, groupID int64, date time.Time) (*models.ActivityReport, error)
	InsertDailyReport(ctx context.Context, r *models.ActivityReport) error

	// Aggregation inputs (users are owned by the external CRUD layer;
	// the aggregator only counts them)
	CountUsersInGroup(ctx context.Context, groupID int64) (int, error)
	CountActiveUsersInGroup(ctx context.Context, groupID int64, date time.Time) (int, error)
	CountEventsOnDate(ctx context.Context, date time.Time) (int, error)
	CountCriticalEventsOnDate(ctx context.Context, date time.Time) (int, error)
	GroupExists(ctx context.Context, groupID int64) (bool, error)

	// Bootstrap
	EnsureAdminUser(ctx context.Context, username, email, password string) error

	Close()
}
