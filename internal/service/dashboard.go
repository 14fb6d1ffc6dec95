package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/moltbot/relay/internal/agent"
	"github.com/moltbot/relay/internal/model"
	"github.com/moltbot/relay/internal/store"
	"github.com/moltbot/relay/pkg/metrics"
)

// DashboardReply is the synchronous result of a dashboard turn.
type DashboardReply struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// SendDashboard is the dashboard-channel variant of the pipeline: the
// caller is already authenticated and is the display surface, so there is
// no adapter, no background task, and no delivery step. Quota rejection
// surfaces as a structured error, not a chat message.
func (p *Pipeline) SendDashboard(ctx context.Context, tenantID, text string) (*DashboardReply, error) {
	tenant, err := p.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	decision, err := p.gate.Check(ctx, tenant.ID, tenant.Plan)
	if err != nil {
		return nil, fmt.Errorf("quota check failed: %w", err)
	}
	if !decision.Allowed {
		metrics.QuotaRejections.WithLabelValues(string(tenant.Plan)).Inc()
		return nil, &QuotaExceededError{Decision: decision, Plan: tenant.Plan}
	}

	cfg, err := p.store.GetAgentConfig(ctx, tenant.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("failed to load agent config, using defaults", zap.Error(err))
	}
	invokeCfg := agent.InvokeConfig{}
	agentSlug := ""
	if cfg != nil {
		invokeCfg.Model = cfg.Model
		invokeCfg.SystemPrompt = cfg.SystemPrompt
		agentSlug = cfg.Slug
	}

	if err := p.store.InsertDashboardMessage(ctx, &model.DashboardMessage{
		TenantID: tenant.ID,
		Role:     "user",
		Content:  text,
	}); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	result, err := p.runtime.Invoke(ctx, &agent.InvokeRequest{
		TenantID:    tenant.ID,
		Prompt:      text,
		Channel:     model.ChannelDashboard,
		SessionKey:  agent.SessionKey(tenant.ID, model.ChannelDashboard, ""),
		AgentConfig: invokeCfg,
	})
	if err != nil {
		p.logger.Error("dashboard dispatch failed",
			zap.String("tenant_id", tenant.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get agent response")
	}

	usedModel := resolveModel(result.Usage, invokeCfg.Model)

	assistant := &model.DashboardMessage{
		TenantID: tenant.ID,
		Role:     "assistant",
		Content:  result.ReplyText,
		Model:    usedModel,
	}
	if result.Usage != nil {
		assistant.InputTokens = result.Usage.InputTokens
		assistant.OutputTokens = result.Usage.OutputTokens
	}
	if err := p.store.InsertDashboardMessage(ctx, assistant); err != nil {
		p.logger.Error("failed to store assistant message", zap.Error(err))
	}

	p.record(ctx, p.logger, tenant.ID, agentSlug, usedModel, model.ChannelDashboard, result.Usage)

	return &DashboardReply{Content: result.ReplyText, Model: usedModel}, nil
}

// ClearDashboard deletes the tenant's dashboard history and asks the
// runtime to drop the session. The session delete is best-effort.
func (p *Pipeline) ClearDashboard(ctx context.Context, tenantID string) error {
	if err := p.store.DeleteDashboardMessages(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to clear dashboard messages: %w", err)
	}
	if err := p.runtime.DeleteSession(ctx, tenantID, agent.SessionKey(tenantID, model.ChannelDashboard, "")); err != nil {
		p.logger.Warn("failed to delete runtime session",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
	return nil
}
