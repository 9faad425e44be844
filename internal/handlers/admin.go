package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mihaisavezi/sider-gateway/internal/backends"
	"github.com/mihaisavezi/sider-gateway/internal/config"
	"github.com/mihaisavezi/sider-gateway/internal/metrics"
	"github.com/mihaisavezi/sider-gateway/internal/routing"
	"github.com/mihaisavezi/sider-gateway/internal/session"
)

// AdminHandler exposes the session stores and backend status.
type AdminHandler struct {
	config        *config.Manager
	sessions      *session.BackendStore
	conversations *session.ConversationStore
	engine        *routing.Engine
	registry      *backends.Registry
	mapper        *backends.ModelMapper
	now           func() time.Time
	logger        *slog.Logger
}

type AdminDeps struct {
	Sessions      *session.BackendStore
	Conversations *session.ConversationStore
	Engine        *routing.Engine
	Registry      *backends.Registry

	// Mapper is optional.
	Mapper *backends.ModelMapper
}

func NewAdminHandler(config *config.Manager, deps AdminDeps, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		config:        config,
		sessions:      deps.Sessions,
		conversations: deps.Conversations,
		engine:        deps.Engine,
		registry:      deps.Registry,
		mapper:        deps.Mapper,
		now:           time.Now,
		logger:        logger,
	}
}

func (h *AdminHandler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339Nano)
}

var errInvalidMaxAge = errors.New("max_age_hours must be a non-negative number")

// maxAge reads the max_age_hours query parameter.
func maxAge(r *http.Request, def float64) (time.Duration, error) {
	hours := def
	if raw := r.URL.Query().Get("max_age_hours"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return 0, errInvalidMaxAge
		}
		hours = v
	}
	return time.Duration(hours * float64(time.Hour)), nil
}

func (h *AdminHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"status":        "ok",
		"timestamp":     h.timestamp(),
		"conversations": h.conversations.Stats(),
	})
}

func (h *AdminHandler) CleanupConversations(w http.ResponseWriter, r *http.Request) {
	age, err := maxAge(r, h.config.Get().Session.ConversationMaxAgeHours)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error())
		return
	}

	cleaned := h.conversations.CleanupExpired(age)
	h.logger.Info("Cleaned up conversations", "removed", cleaned, "max_age", age)

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"status":               "ok",
		"timestamp":            h.timestamp(),
		"cleanedConversations": cleaned,
	})
}

func (h *AdminHandler) SiderSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"status":         "ok",
		"timestamp":      h.timestamp(),
		"sider_sessions": h.sessions.Stats(),
	})
}

func (h *AdminHandler) CleanupSiderSessions(w http.ResponseWriter, r *http.Request) {
	age, err := maxAge(r, h.config.Get().Session.MaxAgeHours)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error())
		return
	}

	cleaned := h.sessions.CleanupExpired(age)
	metrics.SiderSessions.Set(float64(h.sessions.Len()))
	h.logger.Info("Cleaned up Sider sessions", "removed", cleaned, "max_age", age)

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"status":               "ok",
		"timestamp":            h.timestamp(),
		"cleanedSiderSessions": cleaned,
	})
}

// BackendsStatus reports backend availability, routing policy and affinity
// counts. ?probe=true contacts backends that support a health check.
func (h *AdminHandler) BackendsStatus(w http.ResponseWriter, r *http.Request) {
	probe, _ := strconv.ParseBool(r.URL.Query().Get("probe"))
	policy := h.engine.Policy()

	resp := map[string]any{
		"status":    "ok",
		"timestamp": h.timestamp(),
		"backends":  h.registry.Status(r.Context(), probe),
		"routing": map[string]any{
			"defaultBackend":           policy.DefaultBackend,
			"autoFallback":             policy.AutoFallback,
			"preferSiderForSimpleChat": policy.PreferSiderForChat,
			"debugMode":                h.config.Get().Routing.DebugMode,
		},
		"stats": h.engine.Stats(),
	}
	if h.mapper != nil {
		resp["modelMapping"] = h.mapper.Stats()
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// ClearAffinity forgets which backend served each conversation.
func (h *AdminHandler) ClearAffinity(w http.ResponseWriter, r *http.Request) {
	before := h.engine.Stats()
	h.engine.ClearAffinity()
	h.logger.Info("Cleared backend affinity", "removed", before.TotalSessions)

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"status":          "ok",
		"timestamp":       h.timestamp(),
		"clearedSessions": before.TotalSessions,
	})
}

// ClearModelCache drops the model mapper's list and mappings so the next
// request refetches them.
func (h *AdminHandler) ClearModelCache(w http.ResponseWriter, r *http.Request) {
	if h.mapper == nil {
		writeError(w, h.logger, http.StatusNotFound, ErrTypeNotFound, "Model mapping is not in use")
		return
	}
	h.mapper.ClearCache()

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"status":       "ok",
		"timestamp":    h.timestamp(),
		"modelMapping": h.mapper.Stats(),
	})
}
