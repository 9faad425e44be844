package handlers

import (
	"log/slog"
	"net/http"
	"time"
)

const ServiceName = "sider-gateway"

type HealthHandler struct {
	version string
	logger  *slog.Logger
}

func NewHealthHandler(version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		version: version,
		logger:  logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   ServiceName,
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Root describes the service and its endpoints.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"service": ServiceName,
		"version": h.version,
		"endpoints": map[string]string{
			"messages":        "POST /v1/messages",
			"count_tokens":    "POST /v1/messages/count_tokens",
			"models":          "GET /v1/models",
			"backends_status": "GET /v1/messages/backends/status",
			"conversations":   "GET /v1/messages/conversations",
			"sider_sessions":  "GET /v1/messages/sider-sessions",
			"health":          "GET /health",
			"metrics":         "GET /metrics",
		},
	})
}

// NotFound answers unknown routes with a JSON error.
func (h *HealthHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, h.logger, http.StatusNotFound, ErrTypeNotFound, "Not Found")
}
