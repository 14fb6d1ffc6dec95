package model

import (
	"time"
)

// AgentConfig is a tenant's agent configuration. The relay reads it when
// dispatching; it never mutates one.
type AgentConfig struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Slug         string            `json:"slug"`
	Name         string            `json:"name,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Model        string            `json:"model"`
	Provider     string            `json:"model_provider"`
	ToolsPolicy  map[string]string `json:"tools_policy,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
