package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vigilo-sec/vigilo/internal/metrics"
	"github.com/vigilo-sec/vigilo/internal/models"
	"github.com/vigilo-sec/vigilo/internal/repository"
)

// ErrGroupNotFound: the report target group does not exist.
var ErrGroupNotFound = errors.New("group not found")

// ReportService computes and caches one daily activity summary per
// (group, date). A report row, once written, is never recomputed.
type ReportService struct {
	repo repository.Repository
	now  func() time.Time
}

func NewReportService(repo repository.Repository) *ReportService {
	return &ReportService{repo: repo, now: time.Now}
}

// GetOrCreateDailyReport returns the cached report for (groupID, date),
// computing and inserting it first if absent. The zero date means
// today. The persisted row is re-read after insert so all concurrent
// callers observe the same snapshot.
//
// Scoping note: total_users and active_users are scoped to the group,
// while total_events and critical_events are counted across all groups
// for the date. The asymmetry is long-observed behavior and is kept as
// the report's contract.
func (s *ReportService) GetOrCreateDailyReport(ctx context.Context, groupID int64, date time.Time) (*models.ActivityReport, error) {
	if date.IsZero() {
		date = s.now()
	}
	date = truncateToDay(date)

	exists, err := s.repo.GroupExists(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("check group: %w", err)
	}
	if !exists {
		return nil, ErrGroupNotFound
	}

	report, err := s.repo.GetDailyReport(ctx, groupID, date)
	if err == nil {
		return report, nil
	}
	if !errors.Is(err, repository.ErrReportNotFound) {
		return nil, err
	}

	computed, err := s.compute(ctx, groupID, date)
	if err != nil {
		return nil, err
	}

	if err := s.repo.InsertDailyReport(ctx, computed); err != nil {
		// A concurrent caller won the insert race; their row is the
		// snapshot of record.
		if !errors.Is(err, repository.ErrReportExists) {
			return nil, err
		}
	} else {
		metrics.ReportsGenerated.Inc()
	}

	return s.repo.GetDailyReport(ctx, groupID, date)
}

func (s *ReportService) compute(ctx context.Context, groupID int64, date time.Time) (*models.ActivityReport, error) {
	totalUsers, err := s.repo.CountUsersInGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	activeUsers, err := s.repo.CountActiveUsersInGroup(ctx, groupID, date)
	if err != nil {
		return nil, fmt.Errorf("count active users: %w", err)
	}

	totalEvents, err := s.repo.CountEventsOnDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	criticalEvents, err := s.repo.CountCriticalEventsOnDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("count critical events: %w", err)
	}

	return &models.ActivityReport{
		GroupID:        groupID,
		ReportDate:     date,
		TotalUsers:     totalUsers,
		ActiveUsers:    activeUsers,
		TotalEvents:    totalEvents,
		CriticalEvents: criticalEvents,
		// Reserved for future heuristics; nothing computes it yet.
		UnusualBehaviorCount: 0,
		MissingWorkCount:     totalUsers - activeUsers,
		RuleViolations:       criticalEvents,
		Summary: fmt.Sprintf(
			"Daily report for group %d: %d/%d users active, %d events, %d critical alerts",
			groupID, activeUsers, totalUsers, totalEvents, criticalEvents,
		),
	}, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
