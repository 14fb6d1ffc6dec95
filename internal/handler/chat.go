package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/moltbot/relay/internal/middleware"
	"github.com/moltbot/relay/internal/model"
	"github.com/moltbot/relay/internal/service"
	"github.com/moltbot/relay/internal/store"
	"github.com/moltbot/relay/pkg/logger"
)

const maxDashboardMessageLen = 10000

// ChatHandler serves the dashboard conversation endpoints.
type ChatHandler struct {
	pipeline *service.Pipeline
	store    store.Store
	logger   *logger.Logger
}

// NewChatHandler creates a dashboard chat handler.
func NewChatHandler(pipeline *service.Pipeline, st store.Store, log *logger.Logger) *ChatHandler {
	return &ChatHandler{pipeline: pipeline, store: st, logger: log}
}

// tenant resolves (or auto-provisions) the tenant for the authenticated
// user.
func (h *ChatHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	tenant, err := h.store.GetOrCreateTenantByExternalUserID(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to resolve tenant", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve tenant")
		return "", false
	}
	return tenant.ID, true
}

// Send handles POST /api/v1/chat/messages.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" || len(req.Message) > maxDashboardMessageLen {
		writeError(w, http.StatusBadRequest, "message must be 1-10000 characters")
		return
	}

	reply, err := h.pipeline.SendDashboard(r.Context(), tenantID, req.Message)
	if err != nil {
		var quotaErr *service.QuotaExceededError
		if errors.As(err, &quotaErr) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error": quotaErr.Error(),
				"used":  quotaErr.Decision.Used,
				"limit": quotaErr.Decision.Limit,
			})
			return
		}
		h.logger.Error("dashboard send failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get agent response. Please try again.")
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

// History handles GET /api/v1/chat/messages.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	messages, err := h.store.ListDashboardMessages(r.Context(), tenantID, 100)
	if err != nil {
		h.logger.Error("failed to load dashboard history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if messages == nil {
		messages = []model.DashboardMessage{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// Clear handles DELETE /api/v1/chat.
func (h *ChatHandler) Clear(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	if err := h.pipeline.ClearDashboard(r.Context(), tenantID); err != nil {
		h.logger.Error("failed to clear dashboard", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
