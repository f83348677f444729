// Package payroll implements the payroll action family: calculating period
// variables from shift and leave data, locking periods, and exporting
// locked period data.
package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Shift statuses and types relevant to payroll.
const (
	ShiftStatusCompleted = "COMPLETED"
	ShiftStatusDraft     = "DRAFT"
	ShiftTypeOvertime    = "OVERTIME"
)

// Leave request types and statuses relevant to payroll.
const (
	LeaveTypeVacation   = "VACATION"
	LeaveTypeSick       = "SICK"
	LeaveStatusApproved = "APPROVED"
)

// Period statuses.
const (
	PeriodStatusDraft  = "DRAFT"
	PeriodStatusLocked = "LOCKED"
)

// Sentinel errors for the store.
var (
	ErrPeriodNotFound    = errors.New("payroll period not found")
	ErrVariablesNotFound = errors.New("payroll variables not found")
)

// Shift is one scheduled or worked shift. StartTime and EndTime are
// wall-clock strings in HH:MM.
type Shift struct {
	ID         string    `json:"id"`
	FacilityID string    `json:"facility_id"`
	UserID     string    `json:"user_id"`
	Date       time.Time `json:"date"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	Status     string    `json:"status"`
	Type       string    `json:"type,omitempty"`
}

// LeaveRequest is an employee leave request.
type LeaveRequest struct {
	ID            string    `json:"id"`
	FacilityID    string    `json:"facility_id"`
	UserID        string    `json:"user_id"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	DaysRequested int       `json:"days_requested"`
}

// Period is one facility-month payroll period.
type Period struct {
	ID           string    `json:"id"`
	FacilityID   string    `json:"facility_id"`
	Month        int       `json:"month"`
	Year         int       `json:"year"`
	Status       string    `json:"status"`
	Locked       bool      `json:"locked"`
	LockedBy     string    `json:"locked_by,omitempty"`
	LockedAt     time.Time `json:"locked_at,omitempty"`
	ReopenedBy   string    `json:"reopened_by,omitempty"`
	ReopenedAt   time.Time `json:"reopened_at,omitempty"`
	ReopenReason string    `json:"reopen_reason,omitempty"`
}

// EmployeeVariables are the per-employee payroll inputs for one period.
type EmployeeVariables struct {
	UserID            string  `json:"user_id"`
	StandardHours     float64 `json:"standard_hours"`
	OvertimeHours     float64 `json:"overtime_hours"`
	SundayHours       float64 `json:"sunday_hours"`
	NightHours        float64 `json:"night_hours"`
	VacationDaysTaken int     `json:"vacation_days_taken"`
	SickDays          int     `json:"sick_days"`
}

// Export records a completed payroll data export.
type Export struct {
	ID          string    `json:"id"`
	PeriodID    string    `json:"period_id"`
	FacilityID  string    `json:"facility_id"`
	Month       int       `json:"month"`
	Year        int       `json:"year"`
	Format      string    `json:"format"`
	RecordCount int       `json:"record_count"`
	ExportedBy  string    `json:"exported_by"`
	ExportedAt  time.Time `json:"exported_at"`
	Status      string    `json:"status"`
}

// Store persists payroll data.
type Store interface {
	// ShiftsInRange returns shifts for a facility with the given status
	// whose date falls in [from, to].
	ShiftsInRange(ctx context.Context, facilityID string, from, to time.Time, status string) ([]*Shift, error)
	// ApprovedLeave returns approved leave requests for a facility.
	ApprovedLeave(ctx context.Context, facilityID string) ([]*LeaveRequest, error)
	// GetPeriod returns the period, or ErrPeriodNotFound.
	GetPeriod(ctx context.Context, periodID string) (*Period, error)
	SavePeriod(ctx context.Context, period *Period) error
	SaveVariables(ctx context.Context, periodID string, vars map[string]*EmployeeVariables) error
	// GetVariables returns the saved variables, or ErrVariablesNotFound.
	GetVariables(ctx context.Context, periodID string) (map[string]*EmployeeVariables, error)
	CreateExport(ctx context.Context, export *Export) error
	// RecentPeriods returns the most recent periods for a facility,
	// newest first.
	RecentPeriods(ctx context.Context, facilityID string, limit int) ([]*Period, error)
}

// PeriodID returns the canonical id for a facility-month period.
func PeriodID(facilityID string, year, month int) string {
	return fmt.Sprintf("%s_%d_%02d", facilityID, year, month)
}

// MonthBounds returns the first and last day of a month.
func MonthBounds(year, month int) (time.Time, time.Time) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, -1)
	return from, to
}
