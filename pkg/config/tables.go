package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// RoleConfig is the role → permission table loaded once at startup. It is
// immutable after load; the resolver takes it by value at construction.
type RoleConfig struct {
	// Universe is the full permission set. Super-admin principals are
	// granted all of it, and every role entry must stay inside it.
	Universe []string `yaml:"universe"`

	// Roles maps a role token to the permissions it grants.
	Roles map[string][]string `yaml:"roles"`

	// SuperAdminRoles lists the accepted spellings of the super-admin
	// role token. Historical data contains more than one.
	SuperAdminRoles []string `yaml:"super_admin_roles"`
}

// ActionLimit is the rate-limit entry for a single action.
type ActionLimit struct {
	MaxCalls      int `yaml:"max_calls"`
	WindowMinutes int `yaml:"window_minutes"`
}

// Window returns the sliding window duration.
func (l ActionLimit) Window() time.Duration {
	return time.Duration(l.WindowMinutes) * time.Minute
}

// RateLimitConfig is the actionId → limit table loaded once at startup.
// Actions absent from the table are not rate limited.
type RateLimitConfig struct {
	Actions map[string]ActionLimit `yaml:"actions"`
}

// DefaultRoleConfig returns the built-in role table, matching the production
// role model of the workforce platform this service fronts.
func DefaultRoleConfig() *RoleConfig {
	return &RoleConfig{
		Universe: []string{
			"admin.provision",
			"admin.billing",
			"admin.broadcast",
			"payroll.calculate",
			"payroll.lock",
			"payroll.export",
			"fiduciary.access",
			"audit.view",
			"view_finance",
			"view_balance_sheet",
			"view_revenue",
			"export_data",
			"view_user_profiles",
			"verify_users",
			"manage_shifts",
			"send_notifications",
		},
		Roles: map[string][]string{
			"platform_admin": {
				"admin.provision",
				"admin.billing",
				"admin.broadcast",
				"audit.view",
			},
			"billing_admin": {
				"admin.billing",
			},
			"payroll_manager": {
				"payroll.calculate",
				"payroll.lock",
				"payroll.export",
			},
			"fiduciary": {
				"fiduciary.access",
			},
			"finance": {
				"view_finance",
				"view_balance_sheet",
				"view_revenue",
				"export_data",
			},
			"ops_manager": {
				"view_user_profiles",
				"verify_users",
				"manage_shifts",
				"send_notifications",
			},
			"compliance": {
				"audit.view",
			},
		},
		SuperAdminRoles: []string{
			"superadmin",
			"super_admin",
			"system:superadmin",
		},
	}
}

// DefaultRateLimitConfig returns the built-in rate-limit table.
// fiduciary.client_dashboard is deliberately absent: read-only dashboard
// loads are not throttled.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Actions: map[string]ActionLimit{
			"admin.provision_tenant":             {MaxCalls: 10, WindowMinutes: 60},
			"admin.manage_billing":               {MaxCalls: 30, WindowMinutes: 60},
			"admin.broadcast_system_alert":       {MaxCalls: 5, WindowMinutes: 60},
			"payroll.calculate_period_variables": {MaxCalls: 20, WindowMinutes: 15},
			"payroll.lock_period":                {MaxCalls: 10, WindowMinutes: 60},
			"payroll.export_data":                {MaxCalls: 10, WindowMinutes: 60},
			"fiduciary.bulk_export":              {MaxCalls: 5, WindowMinutes: 60},
			"fiduciary.flag_discrepancy":         {MaxCalls: 30, WindowMinutes: 60},
		},
	}
}

// LoadRoleConfig loads the role table from a YAML file. An empty path
// returns the built-in defaults.
func LoadRoleConfig(path string) (*RoleConfig, error) {
	if path == "" {
		return DefaultRoleConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role config %s: %w", path, err)
	}

	var cfg RoleConfig
	// yaml.v3 rejects duplicate mapping keys, so duplicate role tokens
	// fail here rather than silently last-one-wins.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse role config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid role config %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadRateLimitConfig loads the rate-limit table from a YAML file. An empty
// path returns the built-in defaults.
func LoadRateLimitConfig(path string) (*RateLimitConfig, error) {
	if path == "" {
		return DefaultRateLimitConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit config %s: %w", path, err)
	}

	var cfg RateLimitConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse rate limit config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks the role table for consistency
func (c *RoleConfig) Validate() error {
	if len(c.Universe) == 0 {
		return fmt.Errorf("permission universe must not be empty")
	}
	if len(c.SuperAdminRoles) == 0 {
		return fmt.Errorf("at least one super-admin role spelling is required")
	}

	universe := make(map[string]struct{}, len(c.Universe))
	for _, perm := range c.Universe {
		if perm == "" {
			return fmt.Errorf("permission universe contains an empty token")
		}
		if _, dup := universe[perm]; dup {
			return fmt.Errorf("duplicate permission %q in universe", perm)
		}
		universe[perm] = struct{}{}
	}

	for role, perms := range c.Roles {
		if role == "" {
			return fmt.Errorf("role table contains an empty role token")
		}
		for _, perm := range perms {
			if _, ok := universe[perm]; !ok {
				return fmt.Errorf("role %q grants unknown permission %q", role, perm)
			}
		}
	}

	for _, role := range c.SuperAdminRoles {
		if role == "" {
			return fmt.Errorf("super-admin role spellings must not be empty")
		}
		if _, clash := c.Roles[role]; clash {
			return fmt.Errorf("super-admin role %q must not also appear in the role table", role)
		}
	}

	return nil
}

// IsSuperAdminRole reports whether the role token is one of the accepted
// super-admin spellings.
func (c *RoleConfig) IsSuperAdminRole(role string) bool {
	for _, spelling := range c.SuperAdminRoles {
		if role == spelling {
			return true
		}
	}
	return false
}

// PermissionsForRole returns the permissions granted by a role token.
// Unknown roles grant nothing.
func (c *RoleConfig) PermissionsForRole(role string) []string {
	return c.Roles[role]
}

// RoleNames returns the configured role tokens in sorted order.
func (c *RoleConfig) RoleNames() []string {
	names := make([]string, 0, len(c.Roles))
	for name := range c.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the rate-limit table for consistency
func (c *RateLimitConfig) Validate() error {
	for action, limit := range c.Actions {
		if action == "" {
			return fmt.Errorf("rate limit table contains an empty action id")
		}
		if limit.MaxCalls <= 0 {
			return fmt.Errorf("action %q: max_calls must be positive, got %d", action, limit.MaxCalls)
		}
		if limit.WindowMinutes <= 0 {
			return fmt.Errorf("action %q: window_minutes must be positive, got %d", action, limit.WindowMinutes)
		}
	}
	return nil
}

// LimitFor returns the limit for an action and whether one is configured.
func (c *RateLimitConfig) LimitFor(action string) (ActionLimit, bool) {
	limit, ok := c.Actions[action]
	return limit, ok
}
