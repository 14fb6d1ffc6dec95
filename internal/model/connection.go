package model

import (
	"time"
)

// ConnectionStatus is the lifecycle state of a channel connection.
type ConnectionStatus string

const (
	ConnectionPending      ConnectionStatus = "pending"
	ConnectionActive       ConnectionStatus = "active"
	ConnectionError        ConnectionStatus = "error"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// Channel identifiers understood by the relay.
const (
	ChannelSlack     = "slack"
	ChannelTelegram  = "telegram"
	ChannelDashboard = "dashboard"
)

// Connection links a tenant to one external chat channel.
type Connection struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	ChannelID      string            `json:"channel_id"`
	Label          string            `json:"label,omitempty"`
	Status         ConnectionStatus  `json:"status"`
	CredentialsEnc string            `json:"-"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// SlackCredentials is the decrypted credential bundle for a Slack connection.
type SlackCredentials struct {
	AccessToken string `json:"access_token"`
	BotUserID   string `json:"bot_user_id"`
	AppID       string `json:"app_id,omitempty"`
	TeamID      string `json:"team_id"`
	Scope       string `json:"scope,omitempty"`
}

// TokenCredentials is the decrypted credential bundle for token-based channels.
type TokenCredentials struct {
	Token string `json:"token"`
}

// Connection metadata keys.
const (
	MetaTeamID        = "teamId"
	MetaBotUserID     = "botUserId"
	MetaBotID         = "botId"
	MetaBotUsername   = "botUsername"
	MetaWebhookSecret = "webhookSecret"
)
