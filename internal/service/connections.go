package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/moltbot/relay/internal/crypto"
	"github.com/moltbot/relay/internal/model"
	"github.com/moltbot/relay/internal/platform"
	"github.com/moltbot/relay/internal/store"
	"github.com/moltbot/relay/pkg/logger"
)

// ConnectionService manages a tenant's channel connections.
type ConnectionService struct {
	store    store.Store
	vault    *crypto.Vault
	telegram *platform.TelegramClient
	appURL   string
	logger   *logger.Logger
}

// NewConnectionService wires the connection manager.
func NewConnectionService(st store.Store, vault *crypto.Vault, tg *platform.TelegramClient, appURL string, log *logger.Logger) *ConnectionService {
	return &ConnectionService{store: st, vault: vault, telegram: tg, appURL: appURL, logger: log}
}

// List returns the tenant's connections.
func (s *ConnectionService) List(ctx context.Context, tenantID string) ([]model.Connection, error) {
	return s.store.ListConnectionsByTenant(ctx, tenantID)
}

// ConnectWithToken stores a token-based connection for a generic channel,
// replacing any existing connection for the (tenant, channel) pair.
func (s *ConnectionService) ConnectWithToken(ctx context.Context, tenantID, channelID, label, token string) (*model.Connection, error) {
	credentialsEnc, err := s.vault.EncryptJSON(model.TokenCredentials{Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	conn := &model.Connection{
		TenantID:       tenantID,
		ChannelID:      channelID,
		Label:          label,
		Status:         model.ConnectionActive,
		CredentialsEnc: credentialsEnc,
	}
	if err := s.store.UpsertConnection(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// ConnectTelegram validates the bot token, registers the relay webhook with
// a fresh random secret, and upserts the connection. When replacing an
// existing connection the old bot's webhook is torn down best-effort.
func (s *ConnectionService) ConnectTelegram(ctx context.Context, tenantID, token string) (*model.Connection, error) {
	botInfo, err := s.telegram.GetMe(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram token: %w", err)
	}

	if s.appURL == "" {
		return nil, fmt.Errorf("APP_URL is not configured")
	}

	secretRaw := make([]byte, 32)
	if _, err := rand.Read(secretRaw); err != nil {
		return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	webhookSecret := hex.EncodeToString(secretRaw)

	if err := s.telegram.SetWebhook(ctx, token, s.appURL+"/webhooks/telegram", webhookSecret); err != nil {
		return nil, fmt.Errorf("failed to register telegram webhook: %w", err)
	}

	s.teardownExistingTelegram(ctx, tenantID)

	credentialsEnc, err := s.vault.EncryptJSON(model.TokenCredentials{Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	conn := &model.Connection{
		TenantID:       tenantID,
		ChannelID:      model.ChannelTelegram,
		Label:          "@" + botInfo.Username,
		Status:         model.ConnectionActive,
		CredentialsEnc: credentialsEnc,
		Metadata: map[string]string{
			model.MetaBotID:         fmt.Sprintf("%d", botInfo.ID),
			model.MetaBotUsername:   botInfo.Username,
			model.MetaWebhookSecret: webhookSecret,
		},
	}
	if err := s.store.UpsertConnection(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// teardownExistingTelegram removes the webhook of a previously connected
// bot, if any. Failures are logged and discarded.
func (s *ConnectionService) teardownExistingTelegram(ctx context.Context, tenantID string) {
	conns, err := s.store.ListConnectionsByTenant(ctx, tenantID)
	if err != nil {
		return
	}
	for i := range conns {
		if conns[i].ChannelID != model.ChannelTelegram || conns[i].CredentialsEnc == "" {
			continue
		}
		creds := model.TokenCredentials{}
		if err := s.vault.DecryptJSON(conns[i].CredentialsEnc, &creds); err != nil {
			continue
		}
		if err := s.telegram.DeleteWebhook(ctx, creds.Token); err != nil {
			s.logger.Warn("best-effort telegram webhook teardown failed",
				zap.String("connection_id", conns[i].ID),
				zap.Error(err),
			)
		}
	}
}

// Delete removes a connection. Telegram connections get a best-effort
// webhook teardown first; deletion succeeds regardless of its outcome.
func (s *ConnectionService) Delete(ctx context.Context, tenantID, connectionID string) error {
	conn, err := s.store.GetConnection(ctx, tenantID, connectionID)
	if err != nil {
		return err
	}

	if conn.ChannelID == model.ChannelTelegram && conn.CredentialsEnc != "" {
		creds := model.TokenCredentials{}
		if err := s.vault.DecryptJSON(conn.CredentialsEnc, &creds); err == nil {
			if err := s.telegram.DeleteWebhook(ctx, creds.Token); err != nil {
				s.logger.Warn("best-effort telegram webhook teardown failed",
					zap.String("connection_id", conn.ID),
					zap.Error(err),
				)
			}
		}
	}

	return s.store.DeleteConnection(ctx, tenantID, connectionID)
}
