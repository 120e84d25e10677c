package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/vigilo-sec/vigilo/internal/importer"
	"github.com/vigilo-sec/vigilo/internal/logging"
	"github.com/vigilo-sec/vigilo/internal/ratelimit"
	"github.com/vigilo-sec/vigilo/internal/repository"
	"github.com/vigilo-sec/vigilo/internal/service"
)

// Handler carries the request-facing dependencies of the service.
type Handler struct {
	ingest      *service.IngestService
	reports     *service.ReportService
	importer    *importer.Importer
	repo        repository.Repository
	limiter     ratelimit.RateLimiter
	logger      *logging.Logger
	maxBodySize int64
}

func New(
	ingest *service.IngestService,
	reports *service.ReportService,
	imp *importer.Importer,
	repo repository.Repository,
	limiter ratelimit.RateLimiter,
	logger *logging.Logger,
	maxBodySize int64,
) *Handler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if maxBodySize <= 0 {
		maxBodySize = 10 << 20
	}
	return &Handler{
		ingest:      ingest,
		reports:     reports,
		importer:    imp,
		repo:        repo,
		limiter:     limiter,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// apiKey pulls the ingest credential from the X-API-Key header or the
// api_key query parameter.
func apiKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseIntParam parses an integer query parameter with a default.
func parseIntParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultVal
}

// clientIP extracts the real client address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
