// Package resolver maps inbound platform identifiers to the owning tenant
// and its decrypted credentials.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/moltbot/relay/internal/crypto"
	"github.com/moltbot/relay/internal/model"
	"github.com/moltbot/relay/internal/platform"
	"github.com/moltbot/relay/internal/store"
	"github.com/moltbot/relay/pkg/logger"
)

// ErrNoConnection is returned when no active connection matches the inbound
// identifier. The caller drops the message: the platform already received
// its acknowledgment.
var ErrNoConnection = errors.New("no matching connection")

// Resolver scans active connections for a channel and decrypts the match.
type Resolver struct {
	store  store.Store
	vault  *crypto.Vault
	logger *logger.Logger
}

// New creates a resolver.
func New(st store.Store, vault *crypto.Vault, log *logger.Logger) *Resolver {
	return &Resolver{store: st, vault: vault, logger: log}
}

// Resolution is a matched connection with decrypted credentials.
type Resolution struct {
	TenantID   string
	Connection *model.Connection
	Slack      *model.SlackCredentials
	Telegram   *model.TokenCredentials
}

// ResolveSlack finds the Slack connection whose stored team ID matches.
func (r *Resolver) ResolveSlack(ctx context.Context, teamID string) (*Resolution, error) {
	conn, err := r.match(ctx, model.ChannelSlack, model.MetaTeamID, teamID)
	if err != nil {
		return nil, err
	}

	creds := &model.SlackCredentials{}
	if err := r.decrypt(ctx, conn, creds); err != nil {
		return nil, err
	}
	return &Resolution{TenantID: conn.TenantID, Connection: conn, Slack: creds}, nil
}

// ResolveTelegram finds the Telegram connection whose stored webhook secret
// matches the header-supplied secret token.
func (r *Resolver) ResolveTelegram(ctx context.Context, webhookSecret string) (*Resolution, error) {
	conn, err := r.matchTelegram(ctx, webhookSecret)
	if err != nil {
		return nil, err
	}

	creds := &model.TokenCredentials{}
	if err := r.decrypt(ctx, conn, creds); err != nil {
		return nil, err
	}
	return &Resolution{TenantID: conn.TenantID, Connection: conn, Telegram: creds}, nil
}

func (r *Resolver) match(ctx context.Context, channelID, metaKey, value string) (*model.Connection, error) {
	if value == "" {
		return nil, ErrNoConnection
	}
	conns, err := r.store.ListActiveConnectionsByChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s connections: %w", channelID, err)
	}
	for i := range conns {
		if conns[i].Metadata[metaKey] == value && conns[i].CredentialsEnc != "" {
			return &conns[i], nil
		}
	}
	return nil, ErrNoConnection
}

func (r *Resolver) matchTelegram(ctx context.Context, secret string) (*model.Connection, error) {
	if secret == "" {
		return nil, ErrNoConnection
	}
	conns, err := r.store.ListActiveConnectionsByChannel(ctx, model.ChannelTelegram)
	if err != nil {
		return nil, fmt.Errorf("failed to list telegram connections: %w", err)
	}
	for i := range conns {
		if platform.VerifyTelegramSecret(conns[i].Metadata[model.MetaWebhookSecret], secret) && conns[i].CredentialsEnc != "" {
			return &conns[i], nil
		}
	}
	return nil, ErrNoConnection
}

// decrypt opens the connection's credential bundle. A decrypt failure is
// reported as ErrNoConnection to the pipeline, logged at error severity,
// and the connection is marked errored: it points at key rotation problems
// or data corruption, not a transient fault.
func (r *Resolver) decrypt(ctx context.Context, conn *model.Connection, out any) error {
	err := r.vault.DecryptJSON(conn.CredentialsEnc, out)
	if err == nil {
		return nil
	}
	if errors.Is(err, crypto.ErrDecryptFailed) {
		r.logger.Error("connection credentials unusable",
			zap.String("connection_id", conn.ID),
			zap.String("tenant_id", conn.TenantID),
			zap.String("channel", conn.ChannelID),
			zap.Error(err),
		)
		if statusErr := r.store.SetConnectionStatus(ctx, conn.ID, model.ConnectionError, err.Error()); statusErr != nil {
			r.logger.Warn("failed to mark connection errored",
				zap.String("connection_id", conn.ID),
				zap.Error(statusErr),
			)
		}
		return ErrNoConnection
	}
	return err
}
