// Package store persists tenants, connections, agent configs, and the usage
// ledger.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/moltbot/relay/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence interface used by the relay.
type Store interface {
	// Tenants
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	GetOrCreateTenantByExternalUserID(ctx context.Context, externalUserID string) (*model.Tenant, error)
	SetTenantPlan(ctx context.Context, id string, plan model.Plan) error
	DeleteTenant(ctx context.Context, id string) error

	// Connections
	GetConnection(ctx context.Context, tenantID, id string) (*model.Connection, error)
	ListConnectionsByTenant(ctx context.Context, tenantID string) ([]model.Connection, error)
	ListActiveConnectionsByChannel(ctx context.Context, channelID string) ([]model.Connection, error)
	// UpsertConnection inserts or replaces the connection for the
	// (tenant, channel) pair atomically and fills in the stored row.
	UpsertConnection(ctx context.Context, conn *model.Connection) error
	SetConnectionStatus(ctx context.Context, id string, status model.ConnectionStatus, errorMessage string) error
	DeleteConnection(ctx context.Context, tenantID, id string) error

	// Agent configuration (first-found per tenant)
	GetAgentConfig(ctx context.Context, tenantID string) (*model.AgentConfig, error)

	// Usage ledger
	InsertUsageRecord(ctx context.Context, rec *model.UsageRecord) error
	CountUsageSince(ctx context.Context, tenantID string, since time.Time) (int, error)
	SummarizeUsageSince(ctx context.Context, tenantID string, since time.Time) (*model.UsageSummary, error)

	// Dashboard conversation
	InsertDashboardMessage(ctx context.Context, msg *model.DashboardMessage) error
	// ListDashboardMessages returns the newest limit messages in ascending
	// creation order. A non-positive limit returns everything.
	ListDashboardMessages(ctx context.Context, tenantID string, limit int) ([]model.DashboardMessage, error)
	DeleteDashboardMessages(ctx context.Context, tenantID string) error

	Close() error
}

// MonthStart returns the first instant of the current calendar month in
// server-local time. The quota window is calendar-month based, not a
// rolling 30 days.
func MonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}
