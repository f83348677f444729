package authz

import (
	"context"
	"errors"

	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/audit"
	"github.com/shiftworks/gatekeeper/pkg/config"
	"github.com/shiftworks/gatekeeper/pkg/observability"
	"github.com/shiftworks/gatekeeper/pkg/principal"
)

// Denial reason codes recorded in audit events and error details.
const (
	ReasonNoAdminRecord           = "no_admin_record"
	ReasonAccountInactive         = "account_inactive"
	ReasonInsufficientPermissions = "insufficient_permissions"
)

// RequestMeta carries request-level context so denials can be audited with
// the action and caller address that triggered them.
type RequestMeta struct {
	Action    string
	IPAddress string
	UserAgent string
}

// Authorization is the result of a successful permission check. The
// dispatcher passes it through to the action handler.
type Authorization struct {
	Principal   *principal.Principal
	Permissions PermissionSet
	SuperAdmin  bool
}

// Resolver resolves role sets to effective permissions against the
// immutable role table. It holds no per-principal state: every Authorize
// call re-reads the principal record, so a revoked role takes effect on the
// next request.
type Resolver struct {
	roles    *config.RoleConfig
	store    principal.Store
	recorder *audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewResolver creates a resolver over the given role table and principal
// store. metrics may be nil in tests.
func NewResolver(roles *config.RoleConfig, store principal.Store, recorder *audit.Recorder,
	logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		roles:    roles,
		store:    store,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
	}
}

// Resolve computes the effective permission set for a principal record:
// the union of its roles' permissions plus any direct grants. A super-admin
// role token under any accepted spelling yields the full universe.
func (r *Resolver) Resolve(p *principal.Principal) (PermissionSet, bool) {
	for _, role := range p.Roles {
		if r.roles.IsSuperAdminRole(role) {
			return NewPermissionSet(r.roles.Universe...), true
		}
	}

	set := NewPermissionSet()
	for _, role := range p.Roles {
		set.Add(r.roles.PermissionsForRole(role)...)
	}
	set.Add(p.DirectGrants...)
	return set, false
}

// Authorize loads the principal record and checks that every required
// permission is held. Denials record an access.denied audit event
// synchronously before the error is returned; the audit write's own failure
// is still swallowed by the recorder.
func (r *Resolver) Authorize(ctx context.Context, principalID string, meta RequestMeta, required ...string) (*Authorization, error) {
	if principalID == "" {
		return nil, apierr.New(apierr.KindUnauthenticated, "authentication required")
	}

	p, err := r.store.Get(ctx, principalID)
	if errors.Is(err, principal.ErrNotFound) {
		r.countLookup("not_found")
		r.deny(ctx, principalID, meta, ReasonNoAdminRecord, nil)
		return nil, apierr.New(apierr.KindPermissionDenied, "no admin record for principal").
			WithDetail("reason", ReasonNoAdminRecord)
	}
	if err != nil {
		r.countLookup("error")
		return nil, apierr.Wrap(err, apierr.KindInternal, "failed to load principal record")
	}
	r.countLookup("found")

	if !p.Active {
		r.deny(ctx, principalID, meta, ReasonAccountInactive, nil)
		return nil, apierr.New(apierr.KindPermissionDenied, "admin account is inactive").
			WithDetail("reason", ReasonAccountInactive)
	}

	perms, superAdmin := r.Resolve(p)
	if !superAdmin && !perms.HasAll(required...) {
		missing := perms.Missing(required...)
		r.deny(ctx, principalID, meta, ReasonInsufficientPermissions, missing)
		return nil, apierr.New(apierr.KindPermissionDenied, "insufficient permissions").
			WithDetail("reason", ReasonInsufficientPermissions).
			WithDetail("missing_permissions", missing)
	}

	return &Authorization{Principal: p, Permissions: perms, SuperAdmin: superAdmin}, nil
}

func (r *Resolver) deny(ctx context.Context, principalID string, meta RequestMeta, reason string, missing []string) {
	if r.metrics != nil {
		r.metrics.AuthorizationDenialsTotal.WithLabelValues(reason).Inc()
	}

	details := map[string]interface{}{"reason": reason}
	if len(missing) > 0 {
		details["missing_permissions"] = missing
	}

	r.recorder.Record(ctx, &audit.Event{
		EventType:    audit.EventTypeAccessDenied,
		UserID:       principalID,
		Action:       meta.Action,
		Resource:     audit.ActionResource(meta.Action),
		Details:      details,
		Metadata:     audit.Metadata{IPAddress: meta.IPAddress, UserAgent: meta.UserAgent},
		Success:      false,
		ErrorMessage: "permission denied: " + reason,
	})
}

func (r *Resolver) countLookup(result string) {
	if r.metrics != nil {
		r.metrics.PrincipalLookupsTotal.WithLabelValues(result).Inc()
	}
}
