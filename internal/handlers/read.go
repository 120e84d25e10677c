package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vigilo-sec/vigilo/internal/models"
	"github.com/vigilo-sec/vigilo/internal/service"
)

// HandleListLogs returns stored events, newest first, with an optional
// severity filter.
func (h *Handler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := parseIntParam(r.URL.Query().Get("limit"), 100)
	severity := r.URL.Query().Get("severity")

	events, err := h.repo.ListEvents(r.Context(), severity, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list events", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list logs")
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// HandleLatestLogs returns the most recent events with a smaller
// default page, for dashboard polling.
func (h *Handler) HandleLatestLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := parseIntParam(r.URL.Query().Get("limit"), 20)

	events, err := h.repo.ListEvents(r.Context(), "", limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list events", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list logs")
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// HandleDailyReport returns the cached daily report for a group,
// generating it on first request for the (group, date) key.
func (h *Handler) HandleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	groupParam := r.URL.Query().Get("group")
	if groupParam == "" {
		writeError(w, http.StatusBadRequest, "Group ID is required")
		return
	}

	groupID, err := strconv.ParseInt(groupParam, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid group ID")
		return
	}

	var date time.Time
	if dateParam := r.URL.Query().Get("date"); dateParam != "" {
		date, err = time.Parse("2006-01-02", dateParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD")
			return
		}
	}

	report, err := h.reports.GetOrCreateDailyReport(r.Context(), groupID, date)
	if err != nil {
		if errors.Is(err, service.ErrGroupNotFound) {
			writeError(w, http.StatusNotFound, "Group not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to generate report",
			"group_id", groupID, "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to generate report")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// HandleSources lists registered log sources (GET) or registers a new
// one (POST).
func (h *Handler) HandleSources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listSources(w, r)
	case http.MethodPost:
		h.createSource(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.repo.ListSources(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list sources", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list sources")
		return
	}

	writeJSON(w, http.StatusOK, sources)
}

func (h *Handler) createSource(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	defer r.Body.Close()

	if req.Name == "" || req.SourceType == "" || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "name, source_type and api_key are required")
		return
	}

	src := &models.LogSource{
		Name:       req.Name,
		SourceType: req.SourceType,
		SourceIP:   req.SourceIP,
		APIKey:     req.APIKey,
	}

	if err := h.repo.CreateSource(r.Context(), src); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create source", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create source")
		return
	}

	writeJSON(w, http.StatusCreated, src)
}
