// Package model defines data structures for the relay.
package model

import (
	"time"
)

// Plan is a billing plan tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Tenant is the billing and isolation unit, one per identity-provider user.
type Tenant struct {
	ID                   string    `json:"id"`
	ExternalUserID       string    `json:"external_user_id"`
	Name                 string    `json:"name,omitempty"`
	Email                string    `json:"email,omitempty"`
	Plan                 Plan      `json:"plan"`
	BillingCustomerID    string    `json:"billing_customer_id,omitempty"`
	BillingSubscriptionID string   `json:"billing_subscription_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
