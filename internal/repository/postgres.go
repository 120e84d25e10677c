package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/vigilo-sec/vigilo/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// GetSourceByAPIKey looks up an active source by exact api_key match.
// Deactivated sources are treated as not found so their keys are
// rejected.
func (r *PostgresRepository) GetSourceByAPIKey(ctx context.Context, apiKey string) (*models.LogSource, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, name, source_type, source_ip, api_key, is_active, total_logs_received, last_received, created_at
		FROM log_sources
		WHERE api_key = $1 AND is_active = TRUE
	`

	var src models.LogSource
	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&src.ID, &src.Name, &src.SourceType, &src.SourceIP, &src.APIKey,
		&src.IsActive, &src.TotalLogsReceived, &src.LastReceived, &src.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to get log source: %w", err)
	}

	return &src, nil
}

func (r *PostgresRepository) CreateSource(ctx context.Context, src *models.LogSource) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO log_sources (name, source_type, source_ip, api_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id, is_active, total_logs_received, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		src.Name, src.SourceType, src.SourceIP, src.APIKey,
	).Scan(&src.ID, &src.IsActive, &src.TotalLogsReceived, &src.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create log source: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ListSources(ctx context.Context) ([]*models.LogSource, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, name, source_type, source_ip, api_key, is_active, total_logs_received, last_received, created_at
		FROM log_sources
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list log sources: %w", err)
	}
	defer rows.Close()

	sources := []*models.LogSource{}
	for rows.Next() {
		src := &models.LogSource{}
		if err := rows.Scan(
			&src.ID, &src.Name, &src.SourceType, &src.SourceIP, &src.APIKey,
			&src.IsActive, &src.TotalLogsReceived, &src.LastReceived, &src.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan log source: %w", err)
		}
		sources = append(sources, src)
	}

	return sources, rows.Err()
}

// AddSourceStats applies the counter increment as a single arithmetic
// update so concurrent batches cannot lose updates.
func (r *PostgresRepository) AddSourceStats(ctx context.Context, sourceID int64, delta int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		UPDATE log_sources
		SET total_logs_received = total_logs_received + $2, last_received = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, sourceID, delta)
	if err != nil {
		return fmt.Errorf("failed to update source stats: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSourceNotFound
	}

	return nil
}

func (r *PostgresRepository) InsertEvent(ctx context.Context, e *models.Event) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO syslog_events (timestamp, severity, source_ip, source_host, event_type, message, user_id, log_source_id, raw_log)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		e.Timestamp, e.Severity, e.SourceIP, e.SourceHost, e.EventType,
		e.Message, e.UserID, e.LogSourceID, e.RawLog,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	e.ID = id
	return id, nil
}

func (r *PostgresRepository) ListEvents(ctx context.Context, severity string, limit int) ([]*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, timestamp, severity, source_ip, source_host, event_type, message, user_id, log_source_id, raw_log
		FROM syslog_events
	`
	args := []interface{}{}
	if severity != "" {
		query += " WHERE severity = $1 ORDER BY timestamp DESC LIMIT $2"
		args = append(args, severity, limit)
	} else {
		query += " ORDER BY timestamp DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		e := &models.Event{}
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.Severity, &e.SourceIP, &e.SourceHost,
			&e.EventType, &e.Message, &e.UserID, &e.LogSourceID, &e.RawLog,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (r *PostgresRepository) GetDailyReport(ctx context.Context, groupID int64, date time.Time) (*models.ActivityReport, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, group_id, report_date, total_users, active_users, total_events, critical_events,
		       unusual_behavior_count, missing_work_count, rule_violations, summary, created_at
		FROM activity_reports
		WHERE group_id = $1 AND report_date = $2
	`

	rep := &models.ActivityReport{}
	err := r.pool.QueryRow(ctx, query, groupID, date).Scan(
		&rep.ID, &rep.GroupID, &rep.ReportDate, &rep.TotalUsers, &rep.ActiveUsers,
		&rep.TotalEvents, &rep.CriticalEvents, &rep.UnusualBehaviorCount,
		&rep.MissingWorkCount, &rep.RuleViolations, &rep.Summary, &rep.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to get daily report: %w", err)
	}

	return rep, nil
}

// InsertDailyReport writes one report row. The unique key on
// (group_id, report_date) makes a concurrent duplicate insert fail with
// ErrReportExists instead of duplicating the row.
func (r *PostgresRepository) InsertDailyReport(ctx context.Context, rep *models.ActivityReport) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO activity_reports
			(group_id, report_date, total_users, active_users, total_events, critical_events,
			 unusual_behavior_count, missing_work_count, rule_violations, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		rep.GroupID, rep.ReportDate, rep.TotalUsers, rep.ActiveUsers,
		rep.TotalEvents, rep.CriticalEvents, rep.UnusualBehaviorCount,
		rep.MissingWorkCount, rep.RuleViolations, rep.Summary,
	).Scan(&rep.ID, &rep.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrReportExists
		}
		return fmt.Errorf("failed to insert daily report: %w", err)
	}

	return nil
}

func (r *PostgresRepository) CountUsersInGroup(ctx context.Context, groupID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM users WHERE group_id = $1`, groupID)
}

func (r *PostgresRepository) CountActiveUsersInGroup(ctx context.Context, groupID int64, date time.Time) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM users WHERE group_id = $1 AND last_login::date = $2`, groupID, date)
}

func (r *PostgresRepository) CountEventsOnDate(ctx context.Context, date time.Time) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM syslog_events WHERE timestamp::date = $1`, date)
}

func (r *PostgresRepository) CountCriticalEventsOnDate(ctx context.Context, date time.Time) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM syslog_events WHERE severity = 'CRITICAL' AND timestamp::date = $1`, date)
}

func (r *PostgresRepository) GroupExists(ctx context.Context, groupID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check group: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var n int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// EnsureAdminUser seeds an initial administrator account when the users
// table is empty, so a fresh deployment is operable.
func (r *PostgresRepository) EnsureAdminUser(ctx context.Context, username, email, password string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO users (username, email, password_hash, role) VALUES ($1, $2, $3, 'Admin')`,
		username, email, string(hash),
	)
	if err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	return nil
}
