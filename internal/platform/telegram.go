package platform

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/moltbot/relay/internal/model"
)

const telegramDefaultBaseURL = "https://api.telegram.org/bot"

// VerifyTelegramSecret compares the header-supplied secret token against the
// per-connection webhook secret in constant time. Unlike Slack there is no
// request signing; the secret token is the credential.
func VerifyTelegramSecret(stored, supplied string) bool {
	if stored == "" || supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// TelegramUpdate is the inbound webhook payload.
type TelegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage is a message inside an update.
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *TelegramUser `json:"from,omitempty"`
	Chat      TelegramChat  `json:"chat"`
	Text      string        `json:"text,omitempty"`
}

// TelegramUser is a Telegram account.
type TelegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// TelegramChat is the chat a message belongs to.
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// ParseTelegramUpdate normalizes an update into an IncomingMessage. It
// returns nil for updates the relay ignores: non-text messages, messages
// from bots, and messages whose trimmed text is empty. The webhook secret
// becomes the resolver match key.
func ParseTelegramUpdate(update *TelegramUpdate, webhookSecret string) *IncomingMessage {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return nil
	}
	if msg.From != nil && msg.From.IsBot {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	var sender string
	if msg.From != nil {
		sender = strconv.FormatInt(msg.From.ID, 10)
	}

	return &IncomingMessage{
		Channel:        model.ChannelTelegram,
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:      strconv.FormatInt(msg.MessageID, 10),
		SenderID:       sender,
		Text:           text,
		MatchKey:       webhookSecret,
	}
}

// TelegramClient talks to the Telegram Bot API.
type TelegramClient struct {
	http    *http.Client
	baseURL string
}

// NewTelegramClient creates a Telegram Bot API client. An empty baseURL
// selects the production endpoint.
func NewTelegramClient(httpClient *http.Client, baseURL string) *TelegramClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = telegramDefaultBaseURL
	}
	return &TelegramClient{http: httpClient, baseURL: baseURL}
}

func (c *TelegramClient) call(ctx context.Context, botToken, method string, body any, result any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal telegram payload: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+botToken+"/"+method, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result,omitempty"`
		Description string          `json:"description,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("telegram %s decode: %w", method, err)
	}
	if !out.OK {
		desc := out.Description
		if desc == "" {
			desc = "unknown error"
		}
		return fmt.Errorf("telegram %s: %s", method, desc)
	}
	if result != nil && len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, result); err != nil {
			return fmt.Errorf("telegram %s result decode: %w", method, err)
		}
	}
	return nil
}

// SendMessage sends text to a chat, referencing the original message for
// reply-threading when replyToMessageID is non-zero.
func (c *TelegramClient) SendMessage(ctx context.Context, botToken string, chatID int64, text string, replyToMessageID int64) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if replyToMessageID != 0 {
		payload["reply_parameters"] = map[string]any{"message_id": replyToMessageID}
	}
	return c.call(ctx, botToken, "sendMessage", payload, nil)
}

// GetMe validates a bot token and returns the bot identity.
func (c *TelegramClient) GetMe(ctx context.Context, botToken string) (*TelegramUser, error) {
	var user TelegramUser
	if err := c.call(ctx, botToken, "getMe", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SetWebhook registers the relay's webhook URL with Telegram.
func (c *TelegramClient) SetWebhook(ctx context.Context, botToken, url, secretToken string) error {
	return c.call(ctx, botToken, "setWebhook", map[string]any{
		"url":             url,
		"secret_token":    secretToken,
		"allowed_updates": []string{"message"},
	}, nil)
}

// DeleteWebhook removes the webhook for a bot. Callers treat failures as
// best-effort cleanup.
func (c *TelegramClient) DeleteWebhook(ctx context.Context, botToken string) error {
	return c.call(ctx, botToken, "deleteWebhook", nil, nil)
}
