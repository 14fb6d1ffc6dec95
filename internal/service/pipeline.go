// Package service composes the relay pipeline: resolve, gate, dispatch,
// reply, record.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moltbot/relay/internal/agent"
	"github.com/moltbot/relay/internal/events"
	"github.com/moltbot/relay/internal/model"
	"github.com/moltbot/relay/internal/platform"
	"github.com/moltbot/relay/internal/quota"
	"github.com/moltbot/relay/internal/resolver"
	"github.com/moltbot/relay/internal/store"
	"github.com/moltbot/relay/pkg/logger"
	"github.com/moltbot/relay/pkg/metrics"
)

// ApologyMessage is the single user-visible string for dispatch failures.
// Raw upstream errors never reach the end user.
const ApologyMessage = "Sorry, something went wrong processing your message. Please try again."

// DefaultModel is recorded when neither the runtime nor the tenant's agent
// config names one.
const DefaultModel = "claude-sonnet-4-20250514"

// QuotaExceededError is the structured rejection surfaced by the
// synchronous dashboard variant.
type QuotaExceededError struct {
	Decision *quota.Decision
	Plan     model.Plan
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly message limit reached (%d messages on the %s plan)", e.Decision.Limit, e.Plan)
}

// Pipeline runs the receive-to-record sequence for inbound messages.
type Pipeline struct {
	store    store.Store
	resolver *resolver.Resolver
	gate     *quota.Gate
	runtime  *agent.Client
	replier  *platform.Replier
	events   *events.Publisher
	logger   *logger.Logger
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(
	st store.Store,
	res *resolver.Resolver,
	gate *quota.Gate,
	runtime *agent.Client,
	replier *platform.Replier,
	pub *events.Publisher,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		store:    st,
		resolver: res,
		gate:     gate,
		runtime:  runtime,
		replier:  replier,
		events:   pub,
		logger:   log,
	}
}

// Spawn runs Process as a detached background task with its own error
// boundary. The webhook handler's acknowledgment has already been sent;
// nothing here may block it, and nothing may escape past the recover.
func (p *Pipeline) Spawn(msg *platform.IncomingMessage) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("pipeline panic",
					zap.String("channel", msg.Channel),
					zap.Any("panic", r),
				)
			}
		}()
		ctx := context.Background()
		p.Process(ctx, msg)
	}()
}

// Process runs the full verify-resolved pipeline for one inbound message.
// Every failure is terminal and local; the only user-visible effects are
// messages posted back into the chat.
func (p *Pipeline) Process(ctx context.Context, msg *platform.IncomingMessage) {
	log := p.logger.WithPipeline(msg.Channel, uuid.New().String())

	p.events.Publish(ctx, events.Event{Type: events.TypeMessageReceived, Channel: msg.Channel})

	res, target, err := p.resolve(ctx, msg)
	if err != nil {
		if errors.Is(err, resolver.ErrNoConnection) {
			log.Info("no connection matched inbound message")
			metrics.PipelineOutcomes.WithLabelValues(msg.Channel, "unmatched").Inc()
		} else {
			log.Error("connection resolution failed", zap.Error(err))
			metrics.PipelineOutcomes.WithLabelValues(msg.Channel, "resolve_error").Inc()
		}
		return
	}
	log = log.With(zap.String("tenant_id", res.TenantID))

	tenant, err := p.store.GetTenant(ctx, res.TenantID)
	if err != nil {
		log.Error("failed to load tenant", zap.Error(err))
		metrics.PipelineOutcomes.WithLabelValues(msg.Channel, "resolve_error").Inc()
		return
	}

	decision, err := p.gate.Check(ctx, tenant.ID, tenant.Plan)
	if err != nil {
		log.Error("quota check failed", zap.Error(err))
		metrics.PipelineOutcomes.WithLabelValues(msg.Channel, "quota_error").Inc()
		return
	}
	if !decision.Allowed {
		log.Info("tenant over quota",
			zap.Int("used", decision.Used),
			zap.Int("limit", decision.Limit),
		)
		metrics.QuotaRejections.WithLabelValues(string(tenant.Plan)).Inc()
		metrics.PipelineOutcomes.WithLabelValues(msg.Channel, "quota_exceeded").Inc()
		p.events.Publish(ctx, events.Event{
			Type:     events.TypeQuotaExceeded,
			TenantID: tenant.ID,
			Channel:  msg.Channel,
		})
		p.deliver(ctx, log, target, quota.ExceededMessage(decision, tenant.Plan))
		return
	}

	result, usedModel, agentSlug, err := p.dispatch(ctx, log, tenant.ID, msg, target)
	if err != nil {
		metrics.PipelineOutcomes.WithLabelValues(msg.Channel, "dispatch_failed").Inc()
		p.events.Publish(ctx, events.Event{
			Type:     events.TypeMessageFailed,
			TenantID: tenant.ID,
			Channel:  msg.Channel,
			Reason:   err.Error(),
		})
		p.deliver(ctx, log, target, ApologyMessage)
		return
	}

	p.deliver(ctx, log, target, result.ReplyText)

	p.record(ctx, log, tenant.ID, agentSlug, usedModel, msg.Channel, result.Usage)

	metrics.PipelineOutcomes.WithLabelValues(msg.Channel, "completed").Inc()
	p.events.Publish(ctx, events.Event{
		Type:     events.TypeMessageDispatched,
		TenantID: tenant.ID,
		Channel:  msg.Channel,
	})
}

func (p *Pipeline) resolve(ctx context.Context, msg *platform.IncomingMessage) (*resolver.Resolution, platform.ReplyTarget, error) {
	switch msg.Channel {
	case model.ChannelSlack:
		res, err := p.resolver.ResolveSlack(ctx, msg.MatchKey)
		if err != nil {
			return nil, nil, err
		}
		return res, platform.SlackTarget{
			BotToken:  res.Slack.AccessToken,
			ChannelID: msg.ConversationID,
			ThreadTS:  msg.MessageID,
		}, nil

	case model.ChannelTelegram:
		res, err := p.resolver.ResolveTelegram(ctx, msg.MatchKey)
		if err != nil {
			return nil, nil, err
		}
		chatID, err := parseInt64(msg.ConversationID)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid telegram chat id: %w", err)
		}
		messageID, err := parseInt64(msg.MessageID)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid telegram message id: %w", err)
		}
		return res, platform.TelegramTarget{
			BotToken:  res.Telegram.Token,
			ChatID:    chatID,
			MessageID: messageID,
		}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported channel %q", msg.Channel)
	}
}

func (p *Pipeline) dispatch(
	ctx context.Context,
	log *logger.Logger,
	tenantID string,
	msg *platform.IncomingMessage,
	target platform.ReplyTarget,
) (*agent.InvokeResult, string, string, error) {
	cfg, err := p.store.GetAgentConfig(ctx, tenantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("failed to load agent config, using defaults", zap.Error(err))
	}

	invokeCfg := agent.InvokeConfig{}
	agentSlug := ""
	if cfg != nil {
		invokeCfg.Model = cfg.Model
		invokeCfg.SystemPrompt = cfg.SystemPrompt
		agentSlug = cfg.Slug
	}

	req := &agent.InvokeRequest{
		TenantID:   tenantID,
		Prompt:     msg.Text,
		Channel:    msg.Channel,
		SessionKey: agent.SessionKey(tenantID, msg.Channel, target.ConversationID()),
		ReplyConfig: agent.ReplyConfig{
			ChannelID: msg.ConversationID,
			ThreadTS:  msg.MessageID,
		},
		AgentConfig: invokeCfg,
	}

	start := time.Now()
	result, err := p.runtime.Invoke(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		log.Error("agent dispatch failed", zap.Error(err))
		metrics.RecordDispatch(msg.Channel, "error", "", elapsed, 0, 0)
		return nil, "", "", err
	}

	usedModel := resolveModel(result.Usage, invokeCfg.Model)
	tokensIn, tokensOut := 0, 0
	if result.Usage != nil {
		tokensIn = result.Usage.InputTokens
		tokensOut = result.Usage.OutputTokens
	}
	metrics.RecordDispatch(msg.Channel, "success", usedModel, elapsed, tokensIn, tokensOut)
	return result, usedModel, agentSlug, nil
}

func (p *Pipeline) deliver(ctx context.Context, log *logger.Logger, target platform.ReplyTarget, text string) {
	if err := p.replier.Send(ctx, target, text); err != nil {
		log.Error("reply delivery failed", zap.Error(err))
		metrics.RepliesTotal.WithLabelValues(target.Channel(), "error").Inc()
		return
	}
	metrics.RepliesTotal.WithLabelValues(target.Channel(), "sent").Inc()
}

// record appends the usage ledger entry. A crash between reply delivery and
// here under-counts one message; accepted as self-correcting billing skew.
func (p *Pipeline) record(ctx context.Context, log *logger.Logger, tenantID, agentSlug, usedModel, channel string, usage *agent.Usage) {
	rec := &model.UsageRecord{
		TenantID:  tenantID,
		AgentSlug: agentSlug,
		Model:     usedModel,
		ChannelID: channel,
	}
	if usage != nil {
		rec.InputTokens = usage.InputTokens
		rec.OutputTokens = usage.OutputTokens
	}
	if err := p.store.InsertUsageRecord(ctx, rec); err != nil {
		log.Error("failed to record usage", zap.Error(err))
		return
	}
	p.events.Publish(ctx, events.Event{
		Type:     events.TypeUsageRecorded,
		TenantID: tenantID,
		Channel:  channel,
	})
}

func resolveModel(usage *agent.Usage, configured string) string {
	if usage != nil && usage.Model != "" {
		return usage.Model
	}
	if configured != "" {
		return configured
	}
	return DefaultModel
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
