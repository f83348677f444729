package tenancy

import (
	"context"
	"sync"

	"github.com/shiftworks/gatekeeper/pkg/apierr"
)

// MemoryStore is an in-memory tenancy store for tests.
type MemoryStore struct {
	mu     sync.Mutex
	orgs   map[string]*Organization
	alerts map[string]*SystemAlert
}

// NewMemoryStore creates an empty in-memory tenancy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:   make(map[string]*Organization),
		alerts: make(map[string]*SystemAlert),
	}
}

// CreateOrganization stores an organization record.
func (s *MemoryStore) CreateOrganization(ctx context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *org
	s.orgs[org.ID] = &clone
	return nil
}

// GetOrganization loads an organization by id.
func (s *MemoryStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, apierr.Newf(apierr.KindNotFound, "organization %s not found", id)
	}
	clone := *org
	return &clone, nil
}

// UpdateBilling writes the billing state for an organization.
func (s *MemoryStore) UpdateBilling(ctx context.Context, orgID string, billing Billing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[orgID]
	if !ok {
		return apierr.Newf(apierr.KindNotFound, "organization %s not found", orgID)
	}
	org.Billing = billing
	return nil
}

// CreateAlert stores a system alert.
func (s *MemoryStore) CreateAlert(ctx context.Context, alert *SystemAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *alert
	s.alerts[alert.ID] = &clone
	return nil
}

// Alerts returns the stored alerts. Tests only.
func (s *MemoryStore) Alerts() []*SystemAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SystemAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a)
	}
	return out
}
