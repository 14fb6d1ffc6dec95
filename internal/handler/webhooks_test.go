package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/moltbot/relay/internal/agent"
	"github.com/moltbot/relay/internal/crypto"
	"github.com/moltbot/relay/internal/platform"
	"github.com/moltbot/relay/internal/quota"
	"github.com/moltbot/relay/internal/resolver"
	"github.com/moltbot/relay/internal/service"
	"github.com/moltbot/relay/internal/store"
	"github.com/moltbot/relay/pkg/logger"
)

const webhookTestSecret = "test-signing-secret"

// testPipeline builds a pipeline over an empty store; any spawned work
// resolves to nothing and stops without side effects.
func testPipeline(t *testing.T) *service.Pipeline {
	t.Helper()
	log := logger.NewNop()
	st := store.NewMemoryStore()
	vault, err := crypto.NewVault("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	return service.NewPipeline(
		st,
		resolver.New(st, vault, log),
		quota.NewGate(st, quota.DefaultLimits()),
		agent.NewClient("", "", time.Second, log),
		platform.NewReplier(platform.NewSlackClient(nil, ""), platform.NewTelegramClient(nil, "")),
		nil,
		log,
	)
}

func newWebhookHandler(t *testing.T, now time.Time) *WebhookHandler {
	t.Helper()
	h := NewWebhookHandler(testPipeline(t), webhookTestSecret, logger.NewNop())
	h.now = func() time.Time { return now }
	return h
}

func signedSlackRequest(t *testing.T, body string, now time.Time) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(now.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	mac.Write([]byte("v0:" + ts + ":" + body))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/slack", strings.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestSlackWebhookURLVerification(t *testing.T) {
	now := time.Unix(1724000000, 0)
	h := newWebhookHandler(t, now)

	body := `{"type":"url_verification","challenge":"abc123"}`
	w := httptest.NewRecorder()
	h.Slack(w, signedSlackRequest(t, body, now))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["challenge"] != "abc123" {
		t.Errorf("challenge = %q, want abc123", resp["challenge"])
	}
}

func TestSlackWebhookRejectsBadSignature(t *testing.T) {
	now := time.Unix(1724000000, 0)
	h := newWebhookHandler(t, now)

	body := `{"type":"event_callback"}`
	req := signedSlackRequest(t, body, now)
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")

	w := httptest.NewRecorder()
	h.Slack(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSlackWebhookRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1724000000, 0)
	h := newWebhookHandler(t, now)

	// Signed with a timestamp ten minutes in the past
	req := signedSlackRequest(t, `{"type":"event_callback"}`, now.Add(-10*time.Minute))

	w := httptest.NewRecorder()
	h.Slack(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSlackWebhookUnconfiguredSecret(t *testing.T) {
	h := NewWebhookHandler(testPipeline(t), "", logger.NewNop())

	w := httptest.NewRecorder()
	h.Slack(w, httptest.NewRequest(http.MethodPost, "/webhooks/slack", strings.NewReader("{}")))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestSlackWebhookAcksIgnoredEvents(t *testing.T) {
	now := time.Unix(1724000000, 0)
	h := newWebhookHandler(t, now)

	// Bot message: acknowledged but not relayed
	body := `{"type":"event_callback","team_id":"T1","event":{"type":"message","bot_id":"B1","text":"x","channel":"C1"}}`
	w := httptest.NewRecorder()
	h.Slack(w, signedSlackRequest(t, body, now))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestSlackWebhookRejectsMalformedJSON(t *testing.T) {
	now := time.Unix(1724000000, 0)
	h := newWebhookHandler(t, now)

	w := httptest.NewRecorder()
	h.Slack(w, signedSlackRequest(t, "not json", now))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSlackWebhookRejectsOversizedBody(t *testing.T) {
	now := time.Unix(1724000000, 0)
	h := newWebhookHandler(t, now)

	// Larger than maxWebhookBodyBytes; the read fails before signature
	// verification ever sees the payload.
	body := strings.Repeat("a", maxWebhookBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/slack", strings.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")

	w := httptest.NewRecorder()
	h.Slack(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestTelegramWebhookRequiresSecretHeader(t *testing.T) {
	h := newWebhookHandler(t, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader(`{"update_id":1}`))
	w := httptest.NewRecorder()
	h.Telegram(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestTelegramWebhookAcksIgnoredUpdates(t *testing.T) {
	h := newWebhookHandler(t, time.Now())

	// An update with no message text is acknowledged and dropped
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader(`{"update_id":1}`))
	req.Header.Set(telegramSecretHeader, "whsec")
	w := httptest.NewRecorder()
	h.Telegram(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestTelegramWebhookRejectsMalformedJSON(t *testing.T) {
	h := newWebhookHandler(t, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader("not json"))
	req.Header.Set(telegramSecretHeader, "whsec")
	w := httptest.NewRecorder()
	h.Telegram(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
