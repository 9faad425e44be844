package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// Claude Code reports usage and feature-flag traffic to the base URL it is
// given. Those calls are answered locally and never reach a backend.
var (
	metricsPaths = []string{
		"/api/claude_code/metrics",
		"/claude_code/metrics",
	}
	statsigPaths = []string{
		"/v1/initialize",
		"/v1/log_event",
		"/v1/rgstr",
		"/statsig",
		"/telemetry",
		"/analytics",
	}
)

type TelemetryBlockerMiddleware struct {
	logger *slog.Logger
}

func NewTelemetryBlockerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tbm := &TelemetryBlockerMiddleware{
		logger: logger,
	}

	return tbm.middleware
}

func (tbm *TelemetryBlockerMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case isMetricsRequest(r.URL.Path):
			tbm.logger.Debug("Blocked client metrics", "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"accepted_count":0,"rejected_count":0}`))
		case isStatsigRequest(r.Host, r.URL.Path):
			tbm.logger.Debug("Blocked feature-flag telemetry", "host", r.Host, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"success":true}`))
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func isMetricsRequest(path string) bool {
	for _, p := range metricsPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isStatsigRequest(host, path string) bool {
	if strings.Contains(host, "statsig.anthropic.com") {
		return true
	}
	for _, p := range statsigPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
