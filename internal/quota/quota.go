// Package quota enforces per-plan monthly message limits.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/moltbot/relay/internal/model"
	"github.com/moltbot/relay/internal/store"
)

// Limits maps plan tiers to monthly message allowances. It is injected at
// construction so tests can supply their own tiers.
type Limits struct {
	Free int
	Pro  int
}

// DefaultLimits returns the production plan table.
func DefaultLimits() Limits {
	return Limits{Free: 50, Pro: 2000}
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited"`
}

// UsageCounter is the slice of the store the gate needs.
type UsageCounter interface {
	CountUsageSince(ctx context.Context, tenantID string, since time.Time) (int, error)
}

// Gate computes current-period usage and compares it to the plan limit.
type Gate struct {
	usage  UsageCounter
	limits Limits
	now    func() time.Time
}

// NewGate creates a quota gate over the given usage ledger.
func NewGate(usage UsageCounter, limits Limits) *Gate {
	return &Gate{usage: usage, limits: limits, now: time.Now}
}

// WithClock overrides the gate's clock. Used by tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Check counts the tenant's messages since the start of the current calendar
// month and compares against the plan limit. Enterprise is always allowed;
// there is no finite cap to silently hit.
func (g *Gate) Check(ctx context.Context, tenantID string, plan model.Plan) (*Decision, error) {
	used, err := g.usage.CountUsageSince(ctx, tenantID, store.MonthStart(g.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to count usage: %w", err)
	}

	if plan == model.PlanEnterprise {
		return &Decision{Allowed: true, Used: used, Unlimited: true}, nil
	}

	limit := g.limits.Free
	if plan == model.PlanPro {
		limit = g.limits.Pro
	}

	return &Decision{
		Allowed: used < limit,
		Used:    used,
		Limit:   limit,
	}, nil
}

// ExceededMessage is the user-facing text delivered when a tenant is over
// quota.
func ExceededMessage(d *Decision, plan model.Plan) string {
	return fmt.Sprintf(
		"You've reached your monthly message limit (%d messages on the %s plan). Upgrade your plan at your dashboard to continue.",
		d.Limit, plan,
	)
}
