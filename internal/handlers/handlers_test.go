package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilo-sec/vigilo/internal/importer"
	"github.com/vigilo-sec/vigilo/internal/models"
	"github.com/vigilo-sec/vigilo/internal/repository"
	"github.com/vigilo-sec/vigilo/internal/service"
)

type mockRepository struct {
	getSourceByAPIKeyFunc func(ctx context.Context, apiKey string) (*models.LogSource, error)
	createSourceFunc      func(ctx context.Context, src *models.LogSource) error
	listSourcesFunc       func(ctx context.Context) ([]*models.LogSource, error)
	addSourceStatsFunc    func(ctx context.Context, sourceID int64, delta int) error
	insertEventFunc       func(ctx context.Context, e *models.Event) (int64, error)
	listEventsFunc        func(ctx context.Context, severity string, limit int) ([]*models.Event, error)
	getDailyReportFunc    func(ctx context.Context, groupID int64, date time.Time) (*models.ActivityReport, error)
	insertDailyReportFunc func(ctx context.Context, r *models.ActivityReport) error
	groupExistsFunc       func(ctx context.Context, groupID int64) (bool, error)
}

func (m *mockRepository) GetSourceByAPIKey(ctx context.Context, apiKey string) (*models.LogSource, error) {
	if m.getSourceByAPIKeyFunc != nil {
		return m.getSourceByAPIKeyFunc(ctx, apiKey)
	}
	return nil, repository.ErrSourceNotFound
}

func (m *mockRepository) CreateSource(ctx context.Context, src *models.LogSource) error {
	if m.createSourceFunc != nil {
		return m.createSourceFunc(ctx, src)
	}
	return nil
}

func (m *mockRepository) ListSources(ctx context.Context) ([]*models.LogSource, error) {
	if m.listSourcesFunc != nil {
		return m.listSourcesFunc(ctx)
	}
	return nil, nil
}

func (m *mockRepository) AddSourceStats(ctx context.Context, sourceID int64, delta int) error {
	if m.addSourceStatsFunc != nil {
		return m.addSourceStatsFunc(ctx, sourceID, delta)
	}
	return nil
}

func (m *mockRepository) InsertEvent(ctx context.Context, e *models.Event) (int64, error) {
	if m.insertEventFunc != nil {
		return m.insertEventFunc(ctx, e)
	}
	return 1, nil
}

func (m *mockRepository) ListEvents(ctx context.Context, severity string, limit int) ([]*models.Event, error) {
	if m.listEventsFunc != nil {
		return m.listEventsFunc(ctx, severity, limit)
	}
	return nil, nil
}

func (m *mockRepository) GetDailyReport(ctx context.Context, groupID int64, date time.Time) (*models.ActivityReport, error) {
	if m.getDailyReportFunc != nil {
		return m.getDailyReportFunc(ctx, groupID, date)
	}
	return nil, repository.ErrReportNotFound
}

func (m *mockRepository) InsertDailyReport(ctx context.Context, r *models.ActivityReport) error {
	if m.insertDailyReportFunc != nil {
		return m.insertDailyReportFunc(ctx, r)
	}
	return nil
}

func (m *mockRepository) CountUsersInGroup(ctx context.Context, groupID int64) (int, error) {
	return 0, nil
}

func (m *mockRepository) CountActiveUsersInGroup(ctx context.Context, groupID int64, date time.Time) (int, error) {
	return 0, nil
}

func (m *mockRepository) CountEventsOnDate(ctx context.Context, date time.Time) (int, error) {
	return 0, nil
}

func (m *mockRepository) CountCriticalEventsOnDate(ctx context.Context, date time.Time) (int, error) {
	return 0, nil
}

func (m *mockRepository) GroupExists(ctx context.Context, groupID int64) (bool, error) {
	if m.groupExistsFunc != nil {
		return m.groupExistsFunc(ctx, groupID)
	}
	return true, nil
}

func (m *mockRepository) EnsureAdminUser(ctx context.Context, username, email, password string) error {
	return nil
}

func (m *mockRepository) Close() {}

func newTestHandler(repo *mockRepository) *Handler {
	ingest := service.NewIngestService(repo, nil, nil)
	reports := service.NewReportService(repo)
	imp := importer.New(repo, nil)
	return New(ingest, reports, imp, repo, nil, nil, 0)
}

func repoWithSource() *mockRepository {
	return &mockRepository{
		getSourceByAPIKeyFunc: func(ctx context.Context, apiKey string) (*models.LogSource, error) {
			if apiKey == "valid-key" {
				return &models.LogSource{ID: 1, Name: "agent", IsActive: true, APIKey: "valid-key"}, nil
			}
			return nil, repository.ErrSourceNotFound
		},
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleIngest_ValidRecord(t *testing.T) {
	h := newTestHandler(repoWithSource())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest",
		strings.NewReader(`{"message":"privilege escalation detected","severity":"critical"}`))
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()

	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["inserted"])
	assert.Equal(t, float64(1), body["total"])
}

func TestHandleIngest_QueryParamCredential(t *testing.T) {
	h := newTestHandler(repoWithSource())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest?api_key=valid-key",
		strings.NewReader(`{"message":"hello"}`))
	rec := httptest.NewRecorder()

	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandleIngest_MissingKey(t *testing.T) {
	h := newTestHandler(repoWithSource())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`{"message":"x"}`))
	rec := httptest.NewRecorder()

	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "API key required", decodeBody(t, rec)["error"])
}

func TestHandleIngest_InvalidKey(t *testing.T) {
	h := newTestHandler(repoWithSource())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`{"message":"x"}`))
	req.Header.Set("X-API-Key", "nope")
	rec := httptest.NewRecorder()

	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Invalid API key", decodeBody(t, rec)["error"])
}

func TestHandleIngest_EmptyBody(t *testing.T) {
	h := newTestHandler(repoWithSource())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(""))
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()

	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No log data provided", decodeBody(t, rec)["error"])
}

func TestHandleIngest_SoleInvalidRecord(t *testing.T) {
	h := newTestHandler(repoWithSource())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest",
		strings.NewReader(`{"message":"","severity":"warning"}`))
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()

	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, float64(0), body["inserted"])
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, []interface{}{"Log 0: message is required"}, body["errors"])
	assert.Equal(t, float64(1), body["error_count"])
}

func TestHandleIngest_PartialBatchIsCreated(t *testing.T) {
	h := newTestHandler(repoWithSource())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest",
		strings.NewReader(`[{"message":"ok"},{"severity":"info"}]`))
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()

	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["inserted"])
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, []interface{}{"Log 1: message is required"}, body["errors"])
}

func TestHandleIngest_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(repoWithSource())

	req := httptest.NewRequest(http.MethodGet, "/api/ingest", nil)
	rec := httptest.NewRecorder()

	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleSyslog(t *testing.T) {
	repo := repoWithSource()
	var inserted *models.Event
	repo.insertEventFunc = func(ctx context.Context, e *models.Event) (int64, error) {
		inserted = e
		return 1, nil
	}

	h := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/syslog",
		strings.NewReader("<34>sshd[123]: Failed password for root"))
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()

	h.HandleSyslog(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Syslog event received", body["message"])

	require.NotNil(t, inserted)
	assert.Equal(t, "<34>sshd[123]: Failed password for root", inserted.Message)
}

func TestHandleSyslog_EmptyBody(t *testing.T) {
	h := newTestHandler(repoWithSource())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/syslog", strings.NewReader("  \n"))
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()

	h.HandleSyslog(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Empty syslog data", decodeBody(t, rec)["error"])
}

func TestHandleSyslog_PersistenceFailure(t *testing.T) {
	repo := repoWithSource()
	repo.insertEventFunc = func(ctx context.Context, e *models.Event) (int64, error) {
		return 0, errors.New("pool exhausted")
	}

	h := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/syslog", strings.NewReader("boom"))
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()

	h.HandleSyslog(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to store syslog event", decodeBody(t, rec)["error"])
}

func csvUpload(t *testing.T, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("file", "export.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestHandleImportCSV(t *testing.T) {
	repo := repoWithSource()
	var statsDelta int
	repo.addSourceStatsFunc = func(ctx context.Context, sourceID int64, delta int) error {
		assert.Equal(t, int64(7), sourceID)
		statsDelta = delta
		return nil
	}

	h := newTestHandler(repo)

	content := "Time,User,Operation,Details,Level\n" +
		"2025-06-15 08:00:00,alice,login,ok,Minor\n" +
		"2025-06-15 09:00:00,bob,wipe,bad,Critical\n"
	buf, contentType := csvUpload(t, content, map[string]string{"log_source_id": "7"})

	req := httptest.NewRequest(http.MethodPost, "/api/import/csv", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.HandleImportCSV(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(2), body["inserted"])
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, 2, statsDelta)
}

func TestHandleImportCSV_RowErrorsReported(t *testing.T) {
	h := newTestHandler(repoWithSource())

	content := "Time,User,Operation,Details,Level\n" +
		"garbage,alice,login,ok,Minor\n" +
		"2025-06-15 09:00:00,bob,sync,fine,Warning\n"
	buf, contentType := csvUpload(t, content, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/import/csv", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.HandleImportCSV(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["inserted"])
	assert.Equal(t, float64(1), body["error_count"])
	errsList, ok := body["errors"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, errsList[0], "Row 0:")
}

func TestHandleImportCSV_MissingFile(t *testing.T) {
	h := newTestHandler(repoWithSource())

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import/csv", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.HandleImportCSV(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CSV file is required", decodeBody(t, rec)["error"])
}

func TestHandleDailyReport(t *testing.T) {
	var stored *models.ActivityReport
	repo := &mockRepository{
		getDailyReportFunc: func(ctx context.Context, groupID int64, date time.Time) (*models.ActivityReport, error) {
			if stored == nil {
				return nil, repository.ErrReportNotFound
			}
			return stored, nil
		},
		insertDailyReportFunc: func(ctx context.Context, r *models.ActivityReport) error {
			stored = r
			return nil
		},
	}
	h := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/daily-report?group=3&date=2025-06-15", nil)
	rec := httptest.NewRecorder()

	h.HandleDailyReport(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["group_id"])
}

func TestHandleDailyReport_Validation(t *testing.T) {
	h := newTestHandler(&mockRepository{})

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantError  string
	}{
		{"missing group", "/api/daily-report", http.StatusBadRequest, "Group ID is required"},
		{"bad group", "/api/daily-report?group=abc", http.StatusBadRequest, "Invalid group ID"},
		{"bad date", "/api/daily-report?group=3&date=15/06/2025", http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rec := httptest.NewRecorder()

			h.HandleDailyReport(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeBody(t, rec)["error"])
		})
	}
}

func TestHandleDailyReport_GroupNotFound(t *testing.T) {
	repo := &mockRepository{
		groupExistsFunc: func(ctx context.Context, groupID int64) (bool, error) { return false, nil },
	}
	h := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/daily-report?group=404", nil)
	rec := httptest.NewRecorder()

	h.HandleDailyReport(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Group not found", decodeBody(t, rec)["error"])
}

func TestHandleListLogs_SeverityFilter(t *testing.T) {
	repo := &mockRepository{
		listEventsFunc: func(ctx context.Context, severity string, limit int) ([]*models.Event, error) {
			assert.Equal(t, "CRITICAL", severity)
			assert.Equal(t, 50, limit)
			return []*models.Event{{ID: 1, Severity: models.SeverityCritical, Message: "alert"}}, nil
		},
	}
	h := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/logs?severity=CRITICAL&limit=50", nil)
	rec := httptest.NewRecorder()

	h.HandleListLogs(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var events []models.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "alert", events[0].Message)
}

func TestHandleSources_Create(t *testing.T) {
	repo := &mockRepository{
		createSourceFunc: func(ctx context.Context, src *models.LogSource) error {
			src.ID = 11
			return nil
		},
	}
	h := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodPost, "/api/sources",
		strings.NewReader(`{"name":"edge-fw","source_type":"firewall","api_key":"fresh-key"}`))
	rec := httptest.NewRecorder()

	h.HandleSources(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(11), body["id"])
	assert.Equal(t, "edge-fw", body["name"])
	assert.NotContains(t, rec.Body.String(), "fresh-key", "api_key must never be serialized")
}

func TestHandleSources_CreateValidation(t *testing.T) {
	h := newTestHandler(&mockRepository{})

	req := httptest.NewRequest(http.MethodPost, "/api/sources",
		strings.NewReader(`{"name":"edge-fw"}`))
	rec := httptest.NewRecorder()

	h.HandleSources(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestHandler(&mockRepository{})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
