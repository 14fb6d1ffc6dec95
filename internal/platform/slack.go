package platform

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/moltbot/relay/internal/model"
)

const (
	slackDefaultBaseURL = "https://slack.com/api"

	// SlackReplayWindow is the maximum clock skew allowed between a Slack
	// request timestamp and now.
	SlackReplayWindow = 5 * time.Minute
)

var slackMentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>\s*`)

// VerifySlackSignature recomputes the v0 HMAC-SHA256 signature over
// "v0:{timestamp}:{body}" and compares it in constant time against the
// header-supplied value. Timestamps outside the replay window fail
// regardless of the signature.
func VerifySlackSignature(signingSecret, signature, timestamp, body string, now time.Time) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(SlackReplayWindow/time.Second) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte("v0:" + timestamp + ":" + body))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// SlackEnvelope is the outer JSON envelope of a Slack event delivery.
type SlackEnvelope struct {
	Type      string      `json:"type"`
	Challenge string      `json:"challenge,omitempty"`
	TeamID    string      `json:"team_id,omitempty"`
	Event     *SlackEvent `json:"event,omitempty"`
}

// SlackEvent is the inner event of an event_callback payload.
type SlackEvent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	User     string `json:"user,omitempty"`
	Channel  string `json:"channel,omitempty"`
	TS       string `json:"ts,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
}

// ParseSlackEvent normalizes an event_callback envelope into an
// IncomingMessage. It returns (nil, nil) for deliveries the relay ignores:
// bot messages, subtyped messages, events other than message/app_mention,
// and messages whose text is empty once the bot mention is stripped. Those
// still get a 200 so Slack does not redeliver.
func ParseSlackEvent(env *SlackEnvelope) *IncomingMessage {
	if env.Type != "event_callback" || env.Event == nil {
		return nil
	}
	event := env.Event

	isMessage := event.Type == "message" && event.BotID == "" && event.Subtype == ""
	isMention := event.Type == "app_mention" && event.BotID == ""
	if !isMessage && !isMention {
		return nil
	}
	if event.Text == "" || event.Channel == "" || env.TeamID == "" {
		return nil
	}

	text := strings.TrimSpace(slackMentionPattern.ReplaceAllString(event.Text, ""))
	if text == "" {
		return nil
	}

	threadTS := event.ThreadTS
	if threadTS == "" {
		threadTS = event.TS
	}

	return &IncomingMessage{
		Channel:        model.ChannelSlack,
		ConversationID: event.Channel,
		MessageID:      threadTS,
		SenderID:       event.User,
		Text:           text,
		MatchKey:       env.TeamID,
	}
}

// SlackClient sends messages through the Slack Web API.
type SlackClient struct {
	http    *http.Client
	baseURL string
}

// NewSlackClient creates a Slack API client. An empty baseURL selects the
// production endpoint.
func NewSlackClient(httpClient *http.Client, baseURL string) *SlackClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = slackDefaultBaseURL
	}
	return &SlackClient{http: httpClient, baseURL: baseURL}
}

// PostMessage posts text to a channel via chat.postMessage, threading the
// reply when threadTS is set.
func (c *SlackClient) PostMessage(ctx context.Context, botToken, channelID, text, threadTS string) error {
	if botToken == "" {
		return fmt.Errorf("slack bot token is required")
	}
	if channelID == "" {
		return fmt.Errorf("slack channel_id is required")
	}

	payload := struct {
		Channel  string `json:"channel"`
		Text     string `json:"text"`
		ThreadTS string `json:"thread_ts,omitempty"`
	}{
		Channel:  channelID,
		Text:     text,
		ThreadTS: threadTS,
	}

	bodyRaw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat.postMessage", bytes.NewReader(bodyRaw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("slack chat.postMessage: %w", err)
	}
	defer resp.Body.Close()

	respRaw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("slack chat.postMessage read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack chat.postMessage http %d", resp.StatusCode)
	}

	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respRaw, &out); err != nil {
		return fmt.Errorf("slack chat.postMessage decode: %w", err)
	}
	if !out.OK {
		code := out.Error
		if code == "" {
			code = "unknown_error"
		}
		return fmt.Errorf("slack chat.postMessage failed: %s", code)
	}
	return nil
}
