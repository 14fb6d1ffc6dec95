package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/moltbot/relay/internal/middleware"
	"github.com/moltbot/relay/internal/model"
	"github.com/moltbot/relay/internal/quota"
	"github.com/moltbot/relay/internal/store"
	"github.com/moltbot/relay/pkg/logger"
	"github.com/moltbot/relay/pkg/metrics"
)

// UsageHandler serves the internal usage-report callback and the
// dashboard usage summary endpoint.
type UsageHandler struct {
	store  store.Store
	limits quota.Limits
	logger *logger.Logger
	now    func() time.Time
}

// NewUsageHandler creates a usage handler.
func NewUsageHandler(st store.Store, limits quota.Limits, log *logger.Logger) *UsageHandler {
	return &UsageHandler{store: st, limits: limits, logger: log, now: time.Now}
}

// Report handles POST /internal/usage/report. The agent runtime calls
// this out-of-band when token accounting finishes after the invoke
// response has already been returned.
func (h *UsageHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID     string `json:"tenantId"`
		Model        string `json:"model"`
		InputTokens  int    `json:"inputTokens"`
		OutputTokens int    `json:"outputTokens"`
		AgentSlug    string `json:"agentSlug,omitempty"`
		ChannelID    string `json:"channelId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "tenantId and model are required")
		return
	}

	rec := model.UsageRecord{
		TenantID:     req.TenantID,
		ChannelID:    req.ChannelID,
		AgentSlug:    req.AgentSlug,
		Model:        req.Model,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
	}
	if err := h.store.InsertUsageRecord(r.Context(), &rec); err != nil {
		h.logger.Error("failed to record usage report",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to record usage")
		return
	}

	metrics.AgentTokensTotal.WithLabelValues(req.Model, "in").Add(float64(req.InputTokens))
	metrics.AgentTokensTotal.WithLabelValues(req.Model, "out").Add(float64(req.OutputTokens))

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Summary handles GET /api/v1/usage. Counts reset at the start of the
// calendar month.
func (h *UsageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	tenant, err := h.store.GetOrCreateTenantByExternalUserID(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to resolve tenant", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve tenant")
		return
	}

	since := store.MonthStart(h.now())
	summary, err := h.store.SummarizeUsageSince(r.Context(), tenant.ID, since)
	if err != nil {
		h.logger.Error("failed to summarize usage", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to summarize usage")
		return
	}

	resp := map[string]any{
		"plan":          tenant.Plan,
		"period_start":  since,
		"message_count": summary.MessageCount,
		"input_tokens":  summary.InputTokens,
		"output_tokens": summary.OutputTokens,
	}
	switch tenant.Plan {
	case model.PlanEnterprise:
		resp["unlimited"] = true
	case model.PlanPro:
		resp["limit"] = h.limits.Pro
	default:
		resp["limit"] = h.limits.Free
	}

	writeJSON(w, http.StatusOK, resp)
}
