package model

import (
	"time"
)

// UsageRecord is one append-only ledger entry for a completed agent turn.
// Records are immutable once written; the quota gate aggregates them over
// the current calendar month.
type UsageRecord struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	AgentSlug    string    `json:"agent_slug,omitempty"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	ChannelID    string    `json:"channel_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageSummary aggregates a tenant's usage for one period.
type UsageSummary struct {
	MessageCount int `json:"message_count"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// DashboardMessage is one turn of a tenant's browser conversation.
type DashboardMessage struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Role         string    `json:"role"` // "user" | "assistant"
	Content      string    `json:"content"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
