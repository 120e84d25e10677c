package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/vigilo-sec/vigilo/internal/importer"
	"github.com/vigilo-sec/vigilo/internal/metrics"
	"github.com/vigilo-sec/vigilo/internal/service"
)

// HandleIngest accepts a single JSON object or an array of objects from
// an authenticated log source. Partial failure is a normal outcome: the
// response always carries both the attempted total and the achieved
// count.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	key := apiKey(r)
	if !h.allow(w, r, key) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		h.count("/api/ingest", http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	result, err := h.ingest.Ingest(r.Context(), key, body)
	if err != nil {
		status := h.ingestErrorStatus(err)
		h.count("/api/ingest", status)
		writeError(w, status, h.ingestErrorMessage(err))
		return
	}

	status := http.StatusCreated
	if result.Inserted == 0 {
		status = http.StatusBadRequest
	}
	h.logger.InfoContext(r.Context(), "batch processed",
		"client_ip", clientIP(r), "inserted", result.Inserted, "total", result.Total)
	h.count("/api/ingest", status)
	writeJSON(w, status, result)
}

// HandleSyslog accepts a raw text body as a single event. Persistence
// errors are fatal here, unlike the batch path.
func (h *Handler) HandleSyslog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	key := apiKey(r)
	if !h.allow(w, r, key) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		h.count("/api/ingest/syslog", http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	if err := h.ingest.IngestSyslog(r.Context(), key, string(body)); err != nil {
		var status int
		var msg string
		switch {
		case errors.Is(err, service.ErrMissingAPIKey):
			status, msg = http.StatusUnauthorized, "API key required"
		case errors.Is(err, service.ErrInvalidAPIKey):
			status, msg = http.StatusForbidden, "Invalid API key"
		case errors.Is(err, service.ErrEmptyPayload):
			status, msg = http.StatusBadRequest, "Empty syslog data"
		default:
			h.logger.ErrorContext(r.Context(), "syslog ingest failed", "error", err)
			status, msg = http.StatusInternalServerError, "Failed to store syslog event"
		}
		h.count("/api/ingest/syslog", status)
		writeError(w, status, msg)
		return
	}

	h.count("/api/ingest/syslog", http.StatusCreated)
	writeJSON(w, http.StatusCreated, map[string]string{
		"status":  "success",
		"message": "Syslog event received",
	})
}

// HandleImportCSV ingests an uploaded audit export file. The admin
// session boundary in front of this endpoint is an external concern;
// the handler itself only understands the file.
func (h *Handler) HandleImportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := r.ParseMultipartForm(h.maxBodySize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "CSV file is required")
		return
	}
	defer file.Close()

	rows, err := importer.ParseCSV(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusBadRequest, "CSV file has no data rows")
		return
	}

	var logSourceID *int64
	if v := r.FormValue("log_source_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid log source ID")
			return
		}
		logSourceID = &id
	}

	inserted, importErrors := h.importer.ImportRows(r.Context(), rows, logSourceID)

	status := http.StatusCreated
	result := map[string]interface{}{
		"status":   "success",
		"inserted": inserted,
		"total":    len(rows),
	}
	if inserted == 0 {
		status = http.StatusBadRequest
		result["status"] = "error"
	}
	if len(importErrors) > 0 {
		result["errors"] = importErrors
		result["error_count"] = len(importErrors)
	}

	h.count("/api/import/csv", status)
	writeJSON(w, status, result)
}

// allow applies per-key rate limiting before any other work. A limiter
// backend failure falls open: ingestion availability wins over strict
// limiting.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, key string) bool {
	if key == "" {
		return true // let authentication produce the 401
	}

	allowed, err := h.limiter.Allow(r.Context(), key)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
		return true
	}
	if !allowed {
		h.count(r.URL.Path, http.StatusTooManyRequests)
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return false
	}
	return true
}

func (h *Handler) ingestErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrMissingAPIKey):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidAPIKey):
		return http.StatusForbidden
	case errors.Is(err, service.ErrEmptyPayload), errors.Is(err, service.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) ingestErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrMissingAPIKey):
		return "API key required"
	case errors.Is(err, service.ErrInvalidAPIKey):
		return "Invalid API key"
	case errors.Is(err, service.ErrEmptyPayload):
		return "No log data provided"
	case errors.Is(err, service.ErrInvalidPayload):
		return "Payload must be a JSON object or array"
	default:
		return "Internal server error"
	}
}

func (h *Handler) count(endpoint string, status int) {
	metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}
