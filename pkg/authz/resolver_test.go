package authz

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/audit"
	"github.com/shiftworks/gatekeeper/pkg/config"
	"github.com/shiftworks/gatekeeper/pkg/observability"
	"github.com/shiftworks/gatekeeper/pkg/principal"
)

func newTestResolver(t *testing.T) (*Resolver, *principal.MemoryStore, *audit.MemorySink) {
	t.Helper()
	store := principal.NewMemoryStore()
	sink := audit.NewMemorySink()
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	recorder := audit.NewRecorder(sink, logger, nil)
	resolver := NewResolver(config.DefaultRoleConfig(), store, recorder, logger, nil)
	return resolver, store, sink
}

func TestResolveUnionOfRoles(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	perms, superAdmin := resolver.Resolve(&principal.Principal{
		ID:    "user-1",
		Roles: []string{"finance", "payroll_manager"},
	})

	assert.False(t, superAdmin)
	assert.True(t, perms.HasAll("view_finance", "payroll.lock"))
	assert.False(t, perms.Has("admin.provision"))
}

func TestResolveDirectGrantsAreAdditive(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	perms, _ := resolver.Resolve(&principal.Principal{
		ID:           "user-1",
		Roles:        []string{"finance"},
		DirectGrants: []string{"audit.view"},
	})

	assert.True(t, perms.Has("audit.view"))
}

func TestResolveSuperAdminGetsUniverse(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	for _, spelling := range []string{"superadmin", "super_admin", "system:superadmin"} {
		perms, superAdmin := resolver.Resolve(&principal.Principal{
			ID:    "root",
			Roles: []string{spelling},
		})
		assert.True(t, superAdmin, spelling)
		assert.True(t, perms.HasAll(config.DefaultRoleConfig().Universe...), spelling)
	}
}

func TestResolveNoCachingAcrossCalls(t *testing.T) {
	resolver, store, _ := newTestResolver(t)
	ctx := context.Background()

	store.Put(&principal.Principal{ID: "user-1", Roles: []string{"payroll_manager"}, Active: true})
	_, err := resolver.Authorize(ctx, "user-1", RequestMeta{}, "payroll.lock")
	require.NoError(t, err)

	// Revoke the role; the very next call must see it.
	store.Put(&principal.Principal{ID: "user-1", Roles: []string{"finance"}, Active: true})
	_, err = resolver.Authorize(ctx, "user-1", RequestMeta{}, "payroll.lock")
	require.Error(t, err)
	assert.Equal(t, apierr.KindPermissionDenied, apierr.KindOf(err))
	assert.Equal(t, 2, store.GetCalls)
}

func TestAuthorizeEmptyPrincipalIsUnauthenticated(t *testing.T) {
	resolver, _, sink := newTestResolver(t)

	_, err := resolver.Authorize(context.Background(), "", RequestMeta{}, "payroll.lock")
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthenticated, apierr.KindOf(err))
	assert.Empty(t, sink.Events(), "no audit event without a principal")
}

func TestAuthorizeDenialReasonsAndAuditEvents(t *testing.T) {
	resolver, store, sink := newTestResolver(t)
	ctx := context.Background()
	meta := RequestMeta{Action: "payroll.lock_period", IPAddress: "10.1.2.3"}

	// Missing record.
	_, err := resolver.Authorize(ctx, "ghost", meta, "payroll.lock")
	require.Error(t, err)
	assert.Equal(t, ReasonNoAdminRecord, apierr.DetailsOf(err)["reason"])

	// Inactive account.
	store.Put(&principal.Principal{ID: "parked", Roles: []string{"payroll_manager"}, Active: false})
	_, err = resolver.Authorize(ctx, "parked", meta, "payroll.lock")
	require.Error(t, err)
	assert.Equal(t, ReasonAccountInactive, apierr.DetailsOf(err)["reason"])

	// Missing permission.
	store.Put(&principal.Principal{ID: "ops", Roles: []string{"ops_manager"}, Active: true})
	_, err = resolver.Authorize(ctx, "ops", meta, "payroll.lock")
	require.Error(t, err)
	assert.Equal(t, ReasonInsufficientPermissions, apierr.DetailsOf(err)["reason"])

	denied := sink.EventsOfType(audit.EventTypeAccessDenied)
	require.Len(t, denied, 3)
	for _, event := range denied {
		assert.Equal(t, "payroll.lock_period", event.Action)
		assert.Equal(t, audit.Resource{Type: "payroll_action", ID: "payroll.lock_period"}, event.Resource)
		assert.Equal(t, "10.1.2.3", event.Metadata.IPAddress)
		assert.False(t, event.Success)
	}
}

func TestAuthorizeConjunctive(t *testing.T) {
	resolver, store, _ := newTestResolver(t)
	ctx := context.Background()

	store.Put(&principal.Principal{ID: "user-1", Roles: []string{"payroll_manager"}, Active: true})

	_, err := resolver.Authorize(ctx, "user-1", RequestMeta{}, "payroll.lock", "payroll.export")
	require.NoError(t, err)

	_, err = resolver.Authorize(ctx, "user-1", RequestMeta{}, "payroll.lock", "admin.billing")
	require.Error(t, err)
	assert.Equal(t, []string{"admin.billing"}, apierr.DetailsOf(err)["missing_permissions"])
}

func TestAuthorizeSuperAdminBypassesEverything(t *testing.T) {
	resolver, store, sink := newTestResolver(t)

	store.Put(&principal.Principal{ID: "root", Roles: []string{"super_admin"}, Active: true})

	auth, err := resolver.Authorize(context.Background(), "root", RequestMeta{},
		"admin.provision", "payroll.lock", "fiduciary.access")
	require.NoError(t, err)
	assert.True(t, auth.SuperAdmin)
	assert.Empty(t, sink.Events())
}
