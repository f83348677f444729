package fiduciary

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory fiduciary store for tests.
type MemoryStore struct {
	mu            sync.Mutex
	links         map[string][]string
	names         map[string]string
	exports       map[string]*ExportRecord
	discrepancies map[string]*Discrepancy
	tickets       map[string]*SupportTicket
}

// NewMemoryStore creates an empty in-memory fiduciary store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		links:         make(map[string][]string),
		names:         make(map[string]string),
		exports:       make(map[string]*ExportRecord),
		discrepancies: make(map[string]*Discrepancy),
		tickets:       make(map[string]*SupportTicket),
	}
}

// Link grants a user access to facilities.
func (s *MemoryStore) Link(userID string, facilityIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[userID] = append(s.links[userID], facilityIDs...)
}

// SetFacilityName seeds a facility display name.
func (s *MemoryStore) SetFacilityName(facilityID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[facilityID] = name
}

// LinkedFacilities returns the facilities a user may access.
func (s *MemoryStore) LinkedFacilities(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.links[userID]...), nil
}

// FacilityName returns the display name, or "" for unknown ids.
func (s *MemoryStore) FacilityName(ctx context.Context, facilityID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[facilityID], nil
}

// CreateExport stores an export record.
func (s *MemoryStore) CreateExport(ctx context.Context, record *ExportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.exports[record.ID] = &clone
	return nil
}

// CreateDiscrepancy stores a discrepancy record.
func (s *MemoryStore) CreateDiscrepancy(ctx context.Context, d *Discrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *d
	s.discrepancies[d.ID] = &clone
	return nil
}

// CreateTicket stores a support ticket.
func (s *MemoryStore) CreateTicket(ctx context.Context, ticket *SupportTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *ticket
	s.tickets[ticket.ID] = &clone
	return nil
}

// Tickets returns the stored tickets. Tests only.
func (s *MemoryStore) Tickets() []*SupportTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SupportTicket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	return out
}

// Exports returns the stored export records. Tests only.
func (s *MemoryStore) Exports() []*ExportRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ExportRecord, 0, len(s.exports))
	for _, e := range s.exports {
		out = append(out, e)
	}
	return out
}
