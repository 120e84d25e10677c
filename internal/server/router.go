package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilo-sec/vigilo/internal/handlers"
	"github.com/vigilo-sec/vigilo/internal/middleware"
)

// NewRouter constructs a ServeMux with all API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Ingestion endpoints (API-key authenticated)
	mux.HandleFunc("/api/ingest", h.HandleIngest)
	mux.HandleFunc("/api/ingest/syslog", h.HandleSyslog)
	mux.HandleFunc("/api/import/csv", h.HandleImportCSV)

	// Read endpoints
	mux.HandleFunc("/api/logs", h.HandleListLogs)
	mux.HandleFunc("/api/logs/latest", h.HandleLatestLogs)
	mux.HandleFunc("/api/daily-report", h.HandleDailyReport)
	mux.HandleFunc("/api/sources", h.HandleSources)

	// Health endpoints
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
