package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/moltbot/relay/pkg/logger"
)

func invokeRequest() *InvokeRequest {
	return &InvokeRequest{
		TenantID:   "t1",
		Prompt:     "hello",
		Channel:    "slack",
		SessionKey: "t1-slack-C42",
	}
}

func TestClientInvoke(t *testing.T) {
	var gotAuth string
	var gotBody InvokeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/agent/invoke" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"ok":true,"replyText":"hi there","usage":{"model":"claude-sonnet-4-20250514","inputTokens":12,"outputTokens":34}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "worker-secret", time.Second, logger.NewNop())
	res, err := c.Invoke(context.Background(), invokeRequest())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if gotAuth != "Bearer worker-secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.TenantID != "t1" || gotBody.SessionKey != "t1-slack-C42" {
		t.Errorf("request body = %+v", gotBody)
	}
	if res.ReplyText != "hi there" {
		t.Errorf("ReplyText = %q", res.ReplyText)
	}
	if res.Usage == nil || res.Usage.InputTokens != 12 || res.Usage.OutputTokens != 34 {
		t.Errorf("Usage = %+v", res.Usage)
	}
}

func TestClientInvokeEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"replyText":"   "}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "s", time.Second, logger.NewNop())
	res, err := c.Invoke(context.Background(), invokeRequest())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.ReplyText != NoResponse {
		t.Errorf("ReplyText = %q, want %q", res.ReplyText, NoResponse)
	}
}

func TestClientInvokeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "s", time.Second, logger.NewNop())
	if _, err := c.Invoke(context.Background(), invokeRequest()); !errors.Is(err, ErrInvokeFailed) {
		t.Errorf("error = %v, want ErrInvokeFailed", err)
	}
}

func TestClientInvokeRuntimeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":"model overloaded"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "s", time.Second, logger.NewNop())
	if _, err := c.Invoke(context.Background(), invokeRequest()); !errors.Is(err, ErrInvokeFailed) {
		t.Errorf("error = %v, want ErrInvokeFailed", err)
	}
}

func TestClientInvokeMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "s", time.Second, logger.NewNop())
	if _, err := c.Invoke(context.Background(), invokeRequest()); !errors.Is(err, ErrInvokeFailed) {
		t.Errorf("error = %v, want ErrInvokeFailed", err)
	}
}

func TestClientInvokeUnconfigured(t *testing.T) {
	c := NewClient("", "", time.Second, logger.NewNop())
	if _, err := c.Invoke(context.Background(), invokeRequest()); !errors.Is(err, ErrInvokeFailed) {
		t.Errorf("error = %v, want ErrInvokeFailed", err)
	}
}

func TestClientDeleteSession(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "s", time.Second, logger.NewNop())
	if err := c.DeleteSession(context.Background(), "t1", "t1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/api/agent/session" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
}
