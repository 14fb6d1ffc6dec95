// Package handler implements the relay's HTTP surface.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/moltbot/relay/internal/platform"
	"github.com/moltbot/relay/internal/service"
	"github.com/moltbot/relay/pkg/logger"
	"github.com/moltbot/relay/pkg/metrics"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxWebhookBodyBytes caps inbound webhook payloads. Platform deliveries
// are a few KB; anything near the cap is not a real event.
const maxWebhookBodyBytes = 1 << 20

// WebhookHandler ingests inbound platform webhooks. It acknowledges each
// delivery immediately and runs the pipeline as detached background work;
// the platforms retry or disable endpoints that respond slowly.
type WebhookHandler struct {
	pipeline           *service.Pipeline
	slackSigningSecret string
	logger             *logger.Logger
	now                func() time.Time
}

// NewWebhookHandler creates the webhook ingestion handler.
func NewWebhookHandler(pipeline *service.Pipeline, slackSigningSecret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		pipeline:           pipeline,
		slackSigningSecret: slackSigningSecret,
		logger:             log,
		now:                time.Now,
	}
}

// Slack handles POST /webhooks/slack.
func (h *WebhookHandler) Slack(w http.ResponseWriter, r *http.Request) {
	if h.slackSigningSecret == "" {
		h.logger.Error("SLACK_SIGNING_SECRET is not configured")
		writeError(w, http.StatusInternalServerError, "not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	signature := r.Header.Get("X-Slack-Signature")
	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	if !platform.VerifySlackSignature(h.slackSigningSecret, signature, timestamp, string(body), h.now()) {
		metrics.WebhooksTotal.WithLabelValues("slack", "bad_signature").Inc()
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var env platform.SlackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	// Slack sends url_verification when the endpoint is registered; echo
	// the challenge with no side effects.
	if env.Type == "url_verification" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return
	}

	msg := platform.ParseSlackEvent(&env)
	if msg == nil {
		// Ignored event shapes still get a 200 so Slack does not redeliver.
		metrics.WebhooksTotal.WithLabelValues("slack", "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	metrics.WebhooksTotal.WithLabelValues("slack", "accepted").Inc()
	h.logger.Info("slack event accepted",
		zap.String("conversation_id", msg.ConversationID),
	)

	// Acknowledge first, then hand off; Slack requires a 200 within a few
	// seconds and the pipeline can take minutes.
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	h.pipeline.Spawn(msg)
}

// Telegram handles POST /webhooks/telegram.
func (h *WebhookHandler) Telegram(w http.ResponseWriter, r *http.Request) {
	secretToken := r.Header.Get(telegramSecretHeader)
	if secretToken == "" {
		metrics.WebhooksTotal.WithLabelValues("telegram", "missing_secret").Inc()
		writeError(w, http.StatusUnauthorized, "missing secret token")
		return
	}

	var update platform.TelegramUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	msg := platform.ParseTelegramUpdate(&update, secretToken)
	if msg == nil {
		metrics.WebhooksTotal.WithLabelValues("telegram", "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	metrics.WebhooksTotal.WithLabelValues("telegram", "accepted").Inc()
	h.logger.Info("telegram update accepted",
		zap.String("conversation_id", msg.ConversationID),
	)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	h.pipeline.Spawn(msg)
}
