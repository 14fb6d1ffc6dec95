package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/moltbot/relay/internal/model"
)

func TestVerifyTelegramSecret(t *testing.T) {
	if !VerifyTelegramSecret("abc123", "abc123") {
		t.Error("matching secret rejected")
	}
	if VerifyTelegramSecret("abc123", "abc124") {
		t.Error("mismatched secret accepted")
	}
	if VerifyTelegramSecret("", "") {
		t.Error("empty stored secret accepted")
	}
	if VerifyTelegramSecret("abc123", "") {
		t.Error("empty supplied secret accepted")
	}
}

func TestParseTelegramUpdate(t *testing.T) {
	base := func() *TelegramUpdate {
		return &TelegramUpdate{
			UpdateID: 7,
			Message: &TelegramMessage{
				MessageID: 42,
				From:      &TelegramUser{ID: 1001},
				Chat:      TelegramChat{ID: -200300, Type: "group"},
				Text:      "  hello bot  ",
			},
		}
	}

	msg := ParseTelegramUpdate(base(), "whsec")
	if msg == nil {
		t.Fatal("valid update ignored")
	}
	if msg.Channel != model.ChannelTelegram {
		t.Errorf("Channel = %q", msg.Channel)
	}
	if msg.Text != "hello bot" {
		t.Errorf("Text = %q, want trimmed", msg.Text)
	}
	if msg.ConversationID != "-200300" {
		t.Errorf("ConversationID = %q", msg.ConversationID)
	}
	if msg.MessageID != "42" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if msg.SenderID != "1001" {
		t.Errorf("SenderID = %q", msg.SenderID)
	}
	if msg.MatchKey != "whsec" {
		t.Errorf("MatchKey = %q", msg.MatchKey)
	}

	ignored := []struct {
		name   string
		mutate func(*TelegramUpdate)
	}{
		{"no message", func(u *TelegramUpdate) { u.Message = nil }},
		{"no text", func(u *TelegramUpdate) { u.Message.Text = "" }},
		{"whitespace text", func(u *TelegramUpdate) { u.Message.Text = "   " }},
		{"bot sender", func(u *TelegramUpdate) { u.Message.From.IsBot = true }},
	}
	for _, tc := range ignored {
		u := base()
		tc.mutate(u)
		if ParseTelegramUpdate(u, "whsec") != nil {
			t.Errorf("%s: expected nil", tc.name)
		}
	}
}

func TestTelegramClientSendMessage(t *testing.T) {
	var gotPath string
	var payload map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := NewTelegramClient(srv.Client(), srv.URL+"/bot")

	if err := c.SendMessage(context.Background(), "TOKEN", -5, "hi", 9); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if gotPath != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if payload["text"] != "hi" {
		t.Errorf("text = %v", payload["text"])
	}
	if _, ok := payload["reply_parameters"]; !ok {
		t.Error("reply_parameters missing for threaded reply")
	}

	// No reply threading when the message ID is zero
	payload = nil
	if err := c.SendMessage(context.Background(), "TOKEN", -5, "hi", 0); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, ok := payload["reply_parameters"]; ok {
		t.Error("reply_parameters present for unthreaded reply")
	}
}

func TestTelegramClientGetMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getMe") {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"ok":true,"result":{"id":99,"is_bot":true,"username":"relaybot"}}`)
	}))
	defer srv.Close()

	c := NewTelegramClient(srv.Client(), srv.URL+"/bot")
	user, err := c.GetMe(context.Background(), "TOKEN")
	if err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	if user.ID != 99 || user.Username != "relaybot" {
		t.Errorf("user = %+v", user)
	}
}

func TestTelegramClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"ok":false,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	c := NewTelegramClient(srv.Client(), srv.URL+"/bot")
	if _, err := c.GetMe(context.Background(), "BAD"); err == nil {
		t.Fatal("expected error for ok:false response")
	} else if !strings.Contains(err.Error(), "Unauthorized") {
		t.Errorf("error = %v, want description included", err)
	}
}
