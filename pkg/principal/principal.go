// Package principal defines the admin/principal record the authorization
// pipeline resolves on every request, and the stores that load it.
package principal

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for a principal id.
var ErrNotFound = errors.New("principal not found")

// Principal is the admin record for a caller. It is loaded fresh on every
// dispatch and never cached, so a role revocation takes effect on the next
// call.
type Principal struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles"`
	Active      bool      `json:"active"`
	// DirectGrants are legacy per-principal permission overrides, additive
	// on top of role-derived permissions.
	DirectGrants []string  `json:"direct_grants,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store loads principal records from the identity/admin data source.
type Store interface {
	// Get returns the record for the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Principal, error)
}
