package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cascadetel/smppgw/internal/gateway/app"
	"github.com/cascadetel/smppgw/internal/gateway/domain"
	"github.com/cascadetel/smppgw/internal/smpp"
)

// SessionAdmin is the slice of the bind manager the admin API drives.
type SessionAdmin interface {
	Health() map[string]bool
	States() map[string]smpp.SessionState
	StopSession(key string) error
	StartSession(key string) error
}

// RetryInspector reports retry backlogs.
type RetryInspector interface {
	QueueDepths(ctx context.Context) (map[string]int64, error)
}

// AlertSource lists currently open delay alerts.
type AlertSource interface {
	ActiveAlerts() []app.Alert
}

// SessionHealthResponse is the per-session view on GET /smpp/health.
type SessionHealthResponse struct {
	Bound bool   `json:"bound"`
	State string `json:"state"`
}

// StatsResponse aggregates gateway state for operators on call.
type StatsResponse struct {
	Messages map[string]int64  `json:"messages_by_status"`
	Retry    map[string]int64  `json:"retry_depth_by_operator"`
	Routing  app.RoutingStats  `json:"routing"`
	Sessions map[string]string `json:"sessions"`
}

// AdminHandler serves session health and control plus operational stats.
type AdminHandler struct {
	sessions SessionAdmin
	retry    RetryInspector
	alerts   AlertSource
	router   *app.OperatorRouter
	messages domain.OutboundMessageRepository
	logger   *slog.Logger
}

func NewAdminHandler(sessions SessionAdmin, retry RetryInspector, alerts AlertSource,
	router *app.OperatorRouter, messages domain.OutboundMessageRepository,
	logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		sessions: sessions,
		retry:    retry,
		alerts:   alerts,
		router:   router,
		messages: messages,
		logger:   logger.With("handler", "admin"),
	}
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/smpp/health", h.handleHealth)
	r.Post("/smpp/sessions/{sessionKey}/stop", h.handleStopSession)
	r.Post("/smpp/sessions/{sessionKey}/start", h.handleStartSession)
	r.Get("/admin/stats", h.handleStats)
	r.Get("/admin/alerts", h.handleAlerts)
}

func (h *AdminHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.sessions.Health()
	states := h.sessions.States()
	resp := make(map[string]SessionHealthResponse, len(health))
	for key, bound := range health {
		resp[key] = SessionHealthResponse{Bound: bound, State: string(states[key])}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) handleStopSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "sessionKey")
	if err := h.sessions.StopSession(key); err != nil {
		jsonError(w, "failed to stop session", err.Error(), http.StatusConflict)
		return
	}
	h.logger.InfoContext(r.Context(), "session stopped via admin API", "session", key)
	respondJSON(w, http.StatusOK, map[string]string{"session": key, "state": string(smpp.StateStopped)})
}

func (h *AdminHandler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "sessionKey")
	if err := h.sessions.StartSession(key); err != nil {
		jsonError(w, "failed to start session", err.Error(), http.StatusConflict)
		return
	}
	h.logger.InfoContext(r.Context(), "session started via admin API", "session", key)
	respondJSON(w, http.StatusOK, map[string]string{"session": key, "state": string(smpp.StateStarting)})
}

func (h *AdminHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatsResponse{
		Messages: make(map[string]int64),
		Retry:    make(map[string]int64),
		Routing:  h.router.Stats(),
		Sessions: make(map[string]string),
	}

	counts, err := h.messages.CountsByStatus(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to count messages by status", "error", err)
		jsonError(w, "failed to collect stats", "", http.StatusInternalServerError)
		return
	}
	for status, n := range counts {
		resp.Messages[string(status)] = n
	}

	depths, err := h.retry.QueueDepths(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read retry depths", "error", err)
	} else {
		resp.Retry = depths
	}

	for key, state := range h.sessions.States() {
		resp.Sessions[key] = string(state)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.alerts.ActiveAlerts())
}
