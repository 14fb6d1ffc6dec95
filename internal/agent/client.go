// Package agent dispatches invocation requests to the agent runtime.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/moltbot/relay/pkg/logger"
)

// DefaultTimeout bounds one runtime invocation. Past it the dispatch is a
// failure and the apology path fires.
const DefaultTimeout = 2 * time.Minute

// NoResponse is delivered in place of an empty runtime reply; chat
// platforms reject empty messages.
const NoResponse = "(no response)"

// ErrInvokeFailed indicates the runtime rejected or failed the invocation.
var ErrInvokeFailed = errors.New("agent invocation failed")

// InvokeRequest is the canonical invocation sent to the runtime.
type InvokeRequest struct {
	TenantID    string       `json:"tenantId"`
	Prompt      string       `json:"prompt"`
	Channel     string       `json:"channel"`
	SessionKey  string       `json:"sessionKey"`
	ReplyConfig ReplyConfig  `json:"replyConfig"`
	AgentConfig InvokeConfig `json:"agentConfig"`
}

// ReplyConfig tells the runtime where the reply will be delivered. The
// relay performs the delivery itself; the runtime uses this for context.
type ReplyConfig struct {
	ChannelID string `json:"channelId,omitempty"`
	ThreadTS  string `json:"threadTs,omitempty"`
}

// InvokeConfig is the per-tenant model override carried on an invocation.
type InvokeConfig struct {
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// Usage is the token accounting reported by the runtime.
type Usage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// InvokeResult is a successful runtime turn.
type InvokeResult struct {
	ReplyText string
	Usage     *Usage
}

// Client invokes the agent runtime over its internal HTTP API,
// authenticated with a shared bearer secret. This is service-to-service
// trust, distinct from any per-tenant credential.
type Client struct {
	http     *http.Client
	baseURL  string
	secret   string
	logger   *logger.Logger
	sessions sessionLocks
}

// NewClient creates a runtime client. timeout falls back to DefaultTimeout
// when zero.
func NewClient(baseURL, secret string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		logger:  log,
	}
}

// Invoke runs one agent turn. Single attempt, no retry: once the platform
// has its acknowledgment, a stale retried reply would land out of
// conversational context.
func (c *Client) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	if c.baseURL == "" || c.secret == "" {
		return nil, fmt.Errorf("%w: runtime not configured", ErrInvokeFailed)
	}

	unlock := c.sessions.lock(req.SessionKey)
	defer unlock.Unlock()

	bodyRaw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal invoke request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/agent/invoke", bytes.NewReader(bodyRaw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvokeFailed, err)
	}
	defer resp.Body.Close()

	respRaw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvokeFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("agent runtime returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("tenant_id", req.TenantID),
			zap.ByteString("body", truncate(respRaw, 2048)),
		)
		return nil, fmt.Errorf("%w: http %d", ErrInvokeFailed, resp.StatusCode)
	}

	var out struct {
		OK        bool   `json:"ok"`
		ReplyText string `json:"replyText,omitempty"`
		Usage     *Usage `json:"usage,omitempty"`
		Error     string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respRaw, &out); err != nil {
		c.logger.Error("agent runtime returned malformed body",
			zap.String("tenant_id", req.TenantID),
			zap.ByteString("body", truncate(respRaw, 2048)),
		)
		return nil, fmt.Errorf("%w: malformed response", ErrInvokeFailed)
	}
	if !out.OK {
		c.logger.Error("agent runtime reported failure",
			zap.String("tenant_id", req.TenantID),
			zap.String("error", out.Error),
		)
		return nil, fmt.Errorf("%w: %s", ErrInvokeFailed, out.Error)
	}

	reply := strings.TrimSpace(out.ReplyText)
	if reply == "" {
		reply = NoResponse
	}
	return &InvokeResult{ReplyText: reply, Usage: out.Usage}, nil
}

// DeleteSession asks the runtime to drop a session's state. Best-effort.
func (c *Client) DeleteSession(ctx context.Context, tenantID, sessionKey string) error {
	if c.baseURL == "" || c.secret == "" {
		return nil
	}

	bodyRaw, err := json.Marshal(map[string]string{
		"tenantId":   tenantID,
		"sessionKey": sessionKey,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/agent/session", bytes.NewReader(bodyRaw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("session delete http %d", resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
