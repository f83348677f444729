// Package action defines the privileged action registry and the dispatcher
// that takes every invocation through the same pipeline: resolve the action,
// authorize the caller, check the rate limit, audit the start, execute the
// handler, audit the outcome.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shiftworks/gatekeeper/pkg/audit"
	"github.com/shiftworks/gatekeeper/pkg/authz"
	"github.com/shiftworks/gatekeeper/pkg/principal"
)

// ID identifies a privileged action.
type ID string

// The closed set of privileged actions.
const (
	AdminProvisionTenant     ID = "admin.provision_tenant"
	AdminManageBilling       ID = "admin.manage_billing"
	AdminBroadcastAlert      ID = "admin.broadcast_system_alert"
	PayrollCalculateVars     ID = "payroll.calculate_period_variables"
	PayrollLockPeriod        ID = "payroll.lock_period"
	PayrollExportData        ID = "payroll.export_data"
	FiduciaryBulkExport      ID = "fiduciary.bulk_export"
	FiduciaryFlagDiscrepancy ID = "fiduciary.flag_discrepancy"
	FiduciaryClientDashboard ID = "fiduciary.client_dashboard"
)

// RiskLevel classifies how dangerous an action is. It is carried into audit
// events so reviewers can prioritize.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Context carries the authorized caller's identity into a handler.
type Context struct {
	PrincipalID string
	Principal   *principal.Principal
	Permissions authz.PermissionSet
	SuperAdmin  bool
	IPAddress   string
}

// Handler executes a privileged action. Input is the raw request payload;
// handlers validate it themselves and return InvalidArgument for malformed
// input.
type Handler func(ctx context.Context, input json.RawMessage, actx *Context) (interface{}, error)

// Auditable lets a handler result contribute the resource reference written
// into the terminal audit event.
type Auditable interface {
	AuditResource() audit.Resource
}

// Descriptor is one registry entry.
type Descriptor struct {
	ID                  ID
	RequiredPermissions []string
	RiskLevel           RiskLevel
	Handler             Handler
}

// Registry is the static action table, built once at startup and read-only
// afterwards. Adding a privileged action means adding a registry entry, not
// mutating state at runtime.
type Registry struct {
	actions map[ID]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[ID]Descriptor)}
}

// Register adds a descriptor. Duplicate ids and nil handlers are rejected.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("action id is required")
	}
	if d.Handler == nil {
		return fmt.Errorf("action %s: handler is required", d.ID)
	}
	if _, exists := r.actions[d.ID]; exists {
		return fmt.Errorf("action %s is already registered", d.ID)
	}
	r.actions[d.ID] = d
	return nil
}

// MustRegister is Register for startup wiring, where a duplicate is a
// programming error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor for an id.
func (r *Registry) Lookup(id ID) (Descriptor, bool) {
	d, ok := r.actions[id]
	return d, ok
}

// IDs returns the registered action ids in sorted order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
