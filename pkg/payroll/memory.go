package payroll

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory payroll store for tests.
type MemoryStore struct {
	mu        sync.Mutex
	shifts    []*Shift
	leave     []*LeaveRequest
	periods   map[string]*Period
	variables map[string]map[string]*EmployeeVariables
	exports   map[string]*Export
}

// NewMemoryStore creates an empty in-memory payroll store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		periods:   make(map[string]*Period),
		variables: make(map[string]map[string]*EmployeeVariables),
		exports:   make(map[string]*Export),
	}
}

// AddShift seeds a shift record.
func (s *MemoryStore) AddShift(shift *Shift) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shifts = append(s.shifts, shift)
}

// AddLeave seeds a leave request.
func (s *MemoryStore) AddLeave(lr *LeaveRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leave = append(s.leave, lr)
}

// ShiftsInRange returns shifts for a facility with the given status in
// [from, to].
func (s *MemoryStore) ShiftsInRange(ctx context.Context, facilityID string, from, to time.Time, status string) ([]*Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Shift
	for _, shift := range s.shifts {
		if shift.FacilityID != facilityID || shift.Status != status {
			continue
		}
		if shift.Date.Before(from) || shift.Date.After(to) {
			continue
		}
		out = append(out, shift)
	}
	return out, nil
}

// ApprovedLeave returns approved leave requests for a facility.
func (s *MemoryStore) ApprovedLeave(ctx context.Context, facilityID string) ([]*LeaveRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*LeaveRequest
	for _, lr := range s.leave {
		if lr.FacilityID == facilityID && lr.Status == LeaveStatusApproved {
			out = append(out, lr)
		}
	}
	return out, nil
}

// GetPeriod returns the period, or ErrPeriodNotFound.
func (s *MemoryStore) GetPeriod(ctx context.Context, periodID string) (*Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.periods[periodID]
	if !ok {
		return nil, ErrPeriodNotFound
	}
	clone := *p
	return &clone, nil
}

// SavePeriod stores a period record.
func (s *MemoryStore) SavePeriod(ctx context.Context, period *Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *period
	s.periods[period.ID] = &clone
	return nil
}

// SaveVariables stores the variables for a period.
func (s *MemoryStore) SaveVariables(ctx context.Context, periodID string, vars map[string]*EmployeeVariables) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]*EmployeeVariables, len(vars))
	for k, v := range vars {
		clone := *v
		copied[k] = &clone
	}
	s.variables[periodID] = copied
	return nil
}

// GetVariables returns the saved variables, or ErrVariablesNotFound.
func (s *MemoryStore) GetVariables(ctx context.Context, periodID string) (map[string]*EmployeeVariables, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vars, ok := s.variables[periodID]
	if !ok {
		return nil, ErrVariablesNotFound
	}
	copied := make(map[string]*EmployeeVariables, len(vars))
	for k, v := range vars {
		clone := *v
		copied[k] = &clone
	}
	return copied, nil
}

// CreateExport stores an export record.
func (s *MemoryStore) CreateExport(ctx context.Context, export *Export) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *export
	s.exports[export.ID] = &clone
	return nil
}

// RecentPeriods returns the newest periods for a facility.
func (s *MemoryStore) RecentPeriods(ctx context.Context, facilityID string, limit int) ([]*Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Period
	for _, p := range s.periods {
		if p.FacilityID == facilityID {
			clone := *p
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Exports returns the stored export records. Tests only.
func (s *MemoryStore) Exports() []*Export {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Export, 0, len(s.exports))
	for _, e := range s.exports {
		out = append(out, e)
	}
	return out
}
