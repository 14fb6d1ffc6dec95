package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/moltbot/relay/internal/model"
)

func signSlack(secret, timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":" + body))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySlackSignature(t *testing.T) {
	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	now := time.Unix(1724000000, 0)
	body := `{"type":"event_callback"}`
	ts := strconv.FormatInt(now.Unix(), 10)

	if !VerifySlackSignature(secret, signSlack(secret, ts, body), ts, body, now) {
		t.Error("valid signature rejected")
	}

	// Mutated signature
	bad := signSlack(secret, ts, body)
	bad = bad[:len(bad)-1] + "0"
	if VerifySlackSignature(secret, bad, ts, body, now) {
		t.Error("mutated signature accepted")
	}

	// Wrong secret
	if VerifySlackSignature("other-secret", signSlack(secret, ts, body), ts, body, now) {
		t.Error("signature from wrong secret accepted")
	}

	// Mutated body
	if VerifySlackSignature(secret, signSlack(secret, ts, body), ts, body+" ", now) {
		t.Error("signature over different body accepted")
	}

	// Non-numeric timestamp
	if VerifySlackSignature(secret, signSlack(secret, "abc", body), "abc", body, now) {
		t.Error("non-numeric timestamp accepted")
	}
}

func TestVerifySlackSignatureReplayWindow(t *testing.T) {
	secret := "secret"
	now := time.Unix(1724000000, 0)
	body := "{}"

	cases := []struct {
		name string
		ts   int64
		want bool
	}{
		{"current", now.Unix(), true},
		{"edge of window", now.Unix() - 300, true},
		{"just past window", now.Unix() - 301, false},
		{"future past window", now.Unix() + 301, false},
	}
	for _, tc := range cases {
		ts := strconv.FormatInt(tc.ts, 10)
		got := VerifySlackSignature(secret, signSlack(secret, ts, body), ts, body, now)
		if got != tc.want {
			t.Errorf("%s: verify = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseSlackEvent(t *testing.T) {
	base := func() *SlackEnvelope {
		return &SlackEnvelope{
			Type:   "event_callback",
			TeamID: "T123",
			Event: &SlackEvent{
				Type:    "message",
				Text:    "<@U0BOTID> hello there",
				User:    "U999",
				Channel: "C42",
				TS:      "1724000000.000100",
			},
		}
	}

	msg := ParseSlackEvent(base())
	if msg == nil {
		t.Fatal("valid message event ignored")
	}
	if msg.Text != "hello there" {
		t.Errorf("Text = %q, want mention stripped %q", msg.Text, "hello there")
	}
	if msg.Channel != model.ChannelSlack {
		t.Errorf("Channel = %q, want %q", msg.Channel, model.ChannelSlack)
	}
	if msg.ConversationID != "C42" {
		t.Errorf("ConversationID = %q, want C42", msg.ConversationID)
	}
	if msg.MatchKey != "T123" {
		t.Errorf("MatchKey = %q, want T123", msg.MatchKey)
	}
	if msg.MessageID != "1724000000.000100" {
		t.Errorf("MessageID = %q, want event ts", msg.MessageID)
	}

	// Threaded replies keep the original thread
	env := base()
	env.Event.ThreadTS = "1723999999.000001"
	if got := ParseSlackEvent(env); got == nil || got.MessageID != "1723999999.000001" {
		t.Errorf("threaded MessageID = %v, want thread_ts", got)
	}

	// app_mention is accepted
	env = base()
	env.Event.Type = "app_mention"
	if ParseSlackEvent(env) == nil {
		t.Error("app_mention ignored")
	}

	ignored := []struct {
		name   string
		mutate func(*SlackEnvelope)
	}{
		{"url_verification envelope", func(e *SlackEnvelope) { e.Type = "url_verification"; e.Event = nil }},
		{"bot message", func(e *SlackEnvelope) { e.Event.BotID = "B1" }},
		{"subtyped message", func(e *SlackEnvelope) { e.Event.Subtype = "message_changed" }},
		{"reaction event", func(e *SlackEnvelope) { e.Event.Type = "reaction_added" }},
		{"empty text", func(e *SlackEnvelope) { e.Event.Text = "" }},
		{"mention only", func(e *SlackEnvelope) { e.Event.Text = "<@U0BOTID>  " }},
		{"missing channel", func(e *SlackEnvelope) { e.Event.Channel = "" }},
		{"missing team", func(e *SlackEnvelope) { e.TeamID = "" }},
	}
	for _, tc := range ignored {
		env := base()
		tc.mutate(env)
		if ParseSlackEvent(env) != nil {
			t.Errorf("%s: expected nil", tc.name)
		}
	}
}

func TestSlackClientPostMessage(t *testing.T) {
	var got struct {
		Channel  string `json:"channel"`
		Text     string `json:"text"`
		ThreadTS string `json:"thread_ts"`
	}
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path = %q", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := NewSlackClient(srv.Client(), srv.URL)
	if err := c.PostMessage(context.Background(), "xoxb-token", "C42", "hi", "171.002"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if auth != "Bearer xoxb-token" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Channel != "C42" || got.Text != "hi" || got.ThreadTS != "171.002" {
		t.Errorf("payload = %+v", got)
	}
}

func TestSlackClientPostMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":"channel_not_found"}`)
	}))
	defer srv.Close()

	c := NewSlackClient(srv.Client(), srv.URL)
	err := c.PostMessage(context.Background(), "xoxb-token", "C42", "hi", "")
	if err == nil {
		t.Fatal("expected error for ok:false response")
	}
}
