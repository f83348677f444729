package tenancy

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shiftworks/gatekeeper/pkg/action"
	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/audit"
	"github.com/shiftworks/gatekeeper/pkg/observability"
)

// Service implements the admin action handlers.
type Service struct {
	store  Store
	logger *observability.Logger
	now    func() time.Time
}

// NewService creates the admin action service.
func NewService(store Store, logger *observability.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

type provisionTenantInput struct {
	OrganizationName string `json:"organization_name"`
	Plan             string `json:"plan"`
	ContactEmail     string `json:"contact_email"`
}

// ProvisionTenantResult is the ProvisionTenant handler output.
type ProvisionTenantResult struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Plan           string `json:"plan"`
	MaxFacilities  int    `json:"max_facilities"`
	MaxUsers       int    `json:"max_users"`
}

// AuditResource identifies the created organization in the audit trail.
func (r ProvisionTenantResult) AuditResource() audit.Resource {
	return audit.Resource{Type: "organization", ID: r.OrganizationID, Name: r.Name}
}

// ProvisionTenant creates a new organization with plan-based limits.
func (s *Service) ProvisionTenant(ctx context.Context, input json.RawMessage, actx *action.Context) (interface{}, error) {
	var in provisionTenantInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInvalidArgument, "malformed input")
	}
	if in.OrganizationName == "" || in.Plan == "" || in.ContactEmail == "" {
		return nil, apierr.New(apierr.KindInvalidArgument,
			"organization_name, plan and contact_email are required")
	}

	maxFacilities, maxUsers := PlanLimits(in.Plan)
	org := &Organization{
		ID:            "org_" + uuid.NewString(),
		Name:          in.OrganizationName,
		Plan:          in.Plan,
		ContactEmail:  in.ContactEmail,
		Status:        "active",
		MaxFacilities: maxFacilities,
		MaxUsers:      maxUsers,
		Billing:       Billing{Status: "active"},
		CreatedBy:     actx.PrincipalID,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"plan":            org.Plan,
		"principal_id":    actx.PrincipalID,
	}).Info("Organization provisioned")

	return ProvisionTenantResult{
		OrganizationID: org.ID,
		Name:           org.Name,
		Plan:           org.Plan,
		MaxFacilities:  maxFacilities,
		MaxUsers:       maxUsers,
	}, nil
}

type manageBillingInput struct {
	OrganizationID string `json:"organization_id"`
	Action         string `json:"action"`
	Reason         string `json:"reason,omitempty"`
}

// ManageBillingResult is the ManageBilling handler output.
type ManageBillingResult struct {
	OrganizationID string `json:"organization_id"`
	Action         string `json:"action"`
	NewStatus      string `json:"new_status"`
}

// AuditResource identifies the affected organization in the audit trail.
func (r ManageBillingResult) AuditResource() audit.Resource {
	return audit.Resource{Type: "organization", ID: r.OrganizationID}
}

// ManageBilling transitions an organization's billing state.
func (s *Service) ManageBilling(ctx context.Context, input json.RawMessage, actx *action.Context) (interface{}, error) {
	var in manageBillingInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInvalidArgument, "malformed input")
	}
	if in.OrganizationID == "" || in.Action == "" {
		return nil, apierr.New(apierr.KindInvalidArgument, "organization_id and action are required")
	}
	if !validBillingAction(in.Action) {
		return nil, apierr.Newf(apierr.KindInvalidArgument,
			"invalid action, must be one of: %s", strings.Join(ValidBillingActions, ", "))
	}

	if _, err := s.store.GetOrganization(ctx, in.OrganizationID); err != nil {
		return nil, err
	}

	newStatus := "active"
	switch in.Action {
	case "cancel":
		newStatus = "cancelled"
	case "suspend":
		newStatus = "suspended"
	}

	billing := Billing{
		Status:           newStatus,
		LastAction:       in.Action,
		LastActionReason: in.Reason,
		LastModifiedBy:   actx.PrincipalID,
		LastModifiedAt:   s.now().UTC(),
	}
	if err := s.store.UpdateBilling(ctx, in.OrganizationID, billing); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": in.OrganizationID,
		"billing_action":  in.Action,
		"principal_id":    actx.PrincipalID,
	}).Info("Billing updated")

	return ManageBillingResult{
		OrganizationID: in.OrganizationID,
		Action:         in.Action,
		NewStatus:      newStatus,
	}, nil
}

type broadcastAlertInput struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	Severity       string `json:"severity"`
	TargetAudience string `json:"target_audience,omitempty"`
}

// BroadcastAlertResult is the BroadcastSystemAlert handler output.
type BroadcastAlertResult struct {
	AlertID  string `json:"alert_id"`
	Title    string `json:"title"`
	Severity string `json:"severity"`
}

// AuditResource identifies the created alert in the audit trail.
func (r BroadcastAlertResult) AuditResource() audit.Resource {
	return audit.Resource{Type: "system_alert", ID: r.AlertID, Name: r.Title}
}

// BroadcastSystemAlert publishes a platform-wide alert.
func (s *Service) BroadcastSystemAlert(ctx context.Context, input json.RawMessage, actx *action.Context) (interface{}, error) {
	var in broadcastAlertInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInvalidArgument, "malformed input")
	}
	if in.Title == "" || in.Message == "" || in.Severity == "" {
		return nil, apierr.New(apierr.KindInvalidArgument, "title, message and severity are required")
	}
	if !validSeverity(in.Severity) {
		return nil, apierr.Newf(apierr.KindInvalidArgument,
			"invalid severity, must be one of: %s", strings.Join(ValidAlertSeverities, ", "))
	}

	audience := in.TargetAudience
	if audience == "" {
		audience = "all"
	}

	alert := &SystemAlert{
		ID:             "alert_" + uuid.NewString(),
		Title:          in.Title,
		Message:        in.Message,
		Severity:       in.Severity,
		TargetAudience: audience,
		Active:         true,
		CreatedBy:      actx.PrincipalID,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"alert_id":     alert.ID,
		"severity":     alert.Severity,
		"principal_id": actx.PrincipalID,
	}).Info("System alert broadcast")

	return BroadcastAlertResult{AlertID: alert.ID, Title: alert.Title, Severity: alert.Severity}, nil
}

func validBillingAction(a string) bool {
	for _, v := range ValidBillingActions {
		if a == v {
			return true
		}
	}
	return false
}

func validSeverity(s string) bool {
	for _, v := range ValidAlertSeverities {
		if s == v {
			return true
		}
	}
	return false
}
