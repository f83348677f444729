// Package tenancy implements the admin action family: provisioning
// organizations, managing their billing state, and broadcasting system
// alerts.
package tenancy

import (
	"context"
	"time"
)

// Plan-based provisioning limits.
const (
	PlanEnterprise = "enterprise"
	PlanPro        = "pro"
	PlanBasic      = "basic"
)

// Billing actions accepted by ManageBilling.
var ValidBillingActions = []string{"activate", "suspend", "cancel", "upgrade", "downgrade"}

// Alert severities accepted by BroadcastSystemAlert.
var ValidAlertSeverities = []string{"info", "warning", "critical"}

// Billing is the billing state embedded in an organization record.
type Billing struct {
	Status           string    `json:"status"`
	LastAction       string    `json:"last_action,omitempty"`
	LastActionReason string    `json:"last_action_reason,omitempty"`
	LastModifiedBy   string    `json:"last_modified_by,omitempty"`
	LastModifiedAt   time.Time `json:"last_modified_at,omitempty"`
}

// Organization is a provisioned tenant.
type Organization struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Plan          string    `json:"plan"`
	ContactEmail  string    `json:"contact_email"`
	Status        string    `json:"status"`
	MaxFacilities int       `json:"max_facilities"`
	MaxUsers      int       `json:"max_users"`
	Billing       Billing   `json:"billing"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// SystemAlert is a platform-wide broadcast.
type SystemAlert struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Severity       string    `json:"severity"`
	TargetAudience string    `json:"target_audience"`
	Active         bool      `json:"active"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists organizations and system alerts.
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	// GetOrganization returns ErrOrganizationNotFound for unknown ids.
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	UpdateBilling(ctx context.Context, orgID string, billing Billing) error
	CreateAlert(ctx context.Context, alert *SystemAlert) error
}

// PlanLimits returns the facility and user caps for a plan. Unknown plans
// get the basic tier.
func PlanLimits(plan string) (maxFacilities, maxUsers int) {
	switch plan {
	case PlanEnterprise:
		return 50, 1000
	case PlanPro:
		return 10, 100
	default:
		return 3, 20
	}
}
