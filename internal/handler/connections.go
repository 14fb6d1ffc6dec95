package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moltbot/relay/internal/middleware"
	"github.com/moltbot/relay/internal/service"
	"github.com/moltbot/relay/internal/store"
	"github.com/moltbot/relay/pkg/logger"
)

// ConnectionHandler serves the channel connection endpoints.
type ConnectionHandler struct {
	connections *service.ConnectionService
	store       store.Store
	logger      *logger.Logger
}

// NewConnectionHandler creates a connection handler.
func NewConnectionHandler(connections *service.ConnectionService, st store.Store, log *logger.Logger) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, store: st, logger: log}
}

func (h *ConnectionHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
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

// List handles GET /api/v1/connections.
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	conns, err := h.connections.List(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to list connections", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

// ConnectWithToken handles POST /api/v1/connections.
func (h *ConnectionHandler) ConnectWithToken(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req struct {
		ChannelID string `json:"channel_id"`
		Label     string `json:"label,omitempty"`
		Token     string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChannelID == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "channel_id and token are required")
		return
	}

	conn, err := h.connections.ConnectWithToken(r.Context(), tenantID, req.ChannelID, req.Label, req.Token)
	if err != nil {
		h.logger.Error("failed to connect channel", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to connect channel")
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

// ConnectTelegram handles POST /api/v1/connections/telegram.
func (h *ConnectionHandler) ConnectTelegram(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	conn, err := h.connections.ConnectTelegram(r.Context(), tenantID, req.Token)
	if err != nil {
		h.logger.Error("failed to connect telegram", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to connect telegram bot")
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

// Delete handles DELETE /api/v1/connections/{id}.
func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid connection ID")
		return
	}

	if err := h.connections.Delete(r.Context(), tenantID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "connection not found")
			return
		}
		h.logger.Error("failed to delete connection", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete connection")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
