package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shiftworks/gatekeeper/pkg/action"
	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/audit"
	"github.com/shiftworks/gatekeeper/pkg/observability"
)

// Service implements the payroll action handlers.
type Service struct {
	store  Store
	logger *observability.Logger
	now    func() time.Time
}

// NewService creates the payroll action service.
func NewService(store Store, logger *observability.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

type periodInput struct {
	FacilityID string `json:"facility_id"`
	Month      int    `json:"month"`
	Year       int    `json:"year"`
}

func (in *periodInput) validate() error {
	if in.FacilityID == "" || in.Month == 0 || in.Year == 0 {
		return apierr.New(apierr.KindInvalidArgument, "facility_id, month and year are required")
	}
	if in.Month < 1 || in.Month > 12 {
		return apierr.Newf(apierr.KindInvalidArgument, "month must be 1-12, got %d", in.Month)
	}
	return nil
}

// CalculateResult is the CalculatePeriodVariables handler output.
type CalculateResult struct {
	PeriodID           string                        `json:"period_id"`
	Variables          map[string]*EmployeeVariables `json:"variables"`
	TotalEmployees     int                           `json:"total_employees"`
	TotalStandardHours float64                       `json:"total_standard_hours"`
	TotalOvertimeHours float64                       `json:"total_overtime_hours"`
	Warnings           []string                      `json:"warnings,omitempty"`
}

// AuditResource identifies the calculated period in the audit trail.
func (r CalculateResult) AuditResource() audit.Resource {
	return audit.Resource{Type: "payroll_period", ID: r.PeriodID}
}

// CalculatePeriodVariables buckets completed shifts into standard, overtime,
// Sunday and night hours per employee, folds in approved leave, and saves
// the result for export. Draft shifts in the period produce a warning since
// they will block the subsequent lock.
func (s *Service) CalculatePeriodVariables(ctx context.Context, input json.RawMessage, actx *action.Context) (interface{}, error) {
	var in periodInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInvalidArgument, "malformed input")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	from, to := MonthBounds(in.Year, in.Month)

	completed, err := s.store.ShiftsInRange(ctx, in.FacilityID, from, to, ShiftStatusCompleted)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]*EmployeeVariables)
	ensure := func(userID string) *EmployeeVariables {
		v, ok := vars[userID]
		if !ok {
			v = &EmployeeVariables{UserID: userID}
			vars[userID] = v
		}
		return v
	}

	for _, shift := range completed {
		if shift.UserID == "" {
			continue
		}
		v := ensure(shift.UserID)

		start, err := parseClock(shift.StartTime)
		if err != nil {
			return nil, apierr.Wrap(err, apierr.KindInternal,
				"shift "+shift.ID+" has a malformed start time")
		}
		end, err := parseClock(shift.EndTime)
		if err != nil {
			return nil, apierr.Wrap(err, apierr.KindInternal,
				"shift "+shift.ID+" has a malformed end time")
		}
		duration := shiftDuration(start, end)

		isSunday := shift.Date.Weekday() == time.Sunday
		isNight := start >= 20 || end <= 6

		switch {
		case shift.Type == ShiftTypeOvertime:
			v.OvertimeHours += duration
		case isSunday:
			v.SundayHours += duration
		case isNight:
			v.NightHours += duration
		default:
			v.StandardHours += duration
		}
	}

	leave, err := s.store.ApprovedLeave(ctx, in.FacilityID)
	if err != nil {
		return nil, err
	}
	for _, lr := range leave {
		if lr.StartDate.After(to) || lr.EndDate.Before(from) {
			continue
		}
		v := ensure(lr.UserID)
		switch lr.Type {
		case LeaveTypeVacation:
			v.VacationDaysTaken += lr.DaysRequested
		case LeaveTypeSick:
			v.SickDays += lr.DaysRequested
		}
	}

	var warnings []string
	drafts, err := s.store.ShiftsInRange(ctx, in.FacilityID, from, to, ShiftStatusDraft)
	if err != nil {
		return nil, err
	}
	if len(drafts) > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"%d draft shifts still exist for this period, locking will fail", len(drafts)))
	}

	periodID := PeriodID(in.FacilityID, in.Year, in.Month)
	if err := s.store.SaveVariables(ctx, periodID, vars); err != nil {
		return nil, err
	}

	var totalStandard, totalOvertime float64
	for _, v := range vars {
		totalStandard += v.StandardHours
		totalOvertime += v.OvertimeHours
	}

	s.logger.WithFields(map[string]interface{}{
		"period_id":      periodID,
		"employee_count": len(vars),
		"principal_id":   actx.PrincipalID,
	}).Info("Calculated payroll period variables")

	return CalculateResult{
		PeriodID:           periodID,
		Variables:          vars,
		TotalEmployees:     len(vars),
		TotalStandardHours: totalStandard,
		TotalOvertimeHours: totalOvertime,
		Warnings:           warnings,
	}, nil
}

// LockResult is the LockPeriod handler output.
type LockResult struct {
	PeriodID string `json:"period_id"`
}

// AuditResource identifies the locked period in the audit trail.
func (r LockResult) AuditResource() audit.Resource {
	return audit.Resource{Type: "payroll_period", ID: r.PeriodID}
}

// LockPeriod marks a period immutable. Fails if the period is already
// locked or if draft shifts remain in it.
func (s *Service) LockPeriod(ctx context.Context, input json.RawMessage, actx *action.Context) (interface{}, error) {
	var in periodInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInvalidArgument, "malformed input")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	periodID := PeriodID(in.FacilityID, in.Year, in.Month)

	period, err := s.store.GetPeriod(ctx, periodID)
	if err != nil && !errors.Is(err, ErrPeriodNotFound) {
		return nil, err
	}
	if period != nil && period.Locked {
		return nil, apierr.New(apierr.KindFailedPrecondition, "period is already locked")
	}

	from, to := MonthBounds(in.Year, in.Month)
	drafts, err := s.store.ShiftsInRange(ctx, in.FacilityID, from, to, ShiftStatusDraft)
	if err != nil {
		return nil, err
	}
	if len(drafts) > 0 {
		return nil, apierr.Newf(apierr.KindFailedPrecondition,
			"cannot lock period with %d draft shifts", len(drafts))
	}

	locked := &Period{
		ID:         periodID,
		FacilityID: in.FacilityID,
		Month:      in.Month,
		Year:       in.Year,
		Status:     PeriodStatusLocked,
		Locked:     true,
		LockedBy:   actx.PrincipalID,
		LockedAt:   s.now().UTC(),
	}
	if err := s.store.SavePeriod(ctx, locked); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"period_id":    periodID,
		"principal_id": actx.PrincipalID,
	}).Info("Payroll period locked")

	return LockResult{PeriodID: periodID}, nil
}

type exportInput struct {
	periodInput
	Format string `json:"format,omitempty"`
}

// ExportResult is the ExportData handler output.
type ExportResult struct {
	ExportID    string                        `json:"export_id"`
	PeriodID    string                        `json:"period_id"`
	Format      string                        `json:"format"`
	RecordCount int                           `json:"record_count"`
	Data        map[string]*EmployeeVariables `json:"data"`
}

// AuditResource identifies the export record in the audit trail.
func (r ExportResult) AuditResource() audit.Resource {
	return audit.Resource{Type: "payroll_export", ID: r.ExportID, Name: r.PeriodID}
}

// ExportData returns the saved variables for a locked period and records
// the export. The period must be locked first; exporting a mutable period
// would hand accounting a moving target.
func (s *Service) ExportData(ctx context.Context, input json.RawMessage, actx *action.Context) (interface{}, error) {
	var in exportInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInvalidArgument, "malformed input")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	format := strings.ToUpper(in.Format)
	if format == "" {
		format = "CSV"
	}

	periodID := PeriodID(in.FacilityID, in.Year, in.Month)

	period, err := s.store.GetPeriod(ctx, periodID)
	if errors.Is(err, ErrPeriodNotFound) || (err == nil && !period.Locked) {
		return nil, apierr.New(apierr.KindFailedPrecondition, "period must be locked before export")
	}
	if err != nil {
		return nil, err
	}

	vars, err := s.store.GetVariables(ctx, periodID)
	if errors.Is(err, ErrVariablesNotFound) {
		return nil, apierr.New(apierr.KindNotFound, "no payroll data found for this period")
	}
	if err != nil {
		return nil, err
	}

	export := &Export{
		ID:          "export_" + uuid.NewString(),
		PeriodID:    periodID,
		FacilityID:  in.FacilityID,
		Month:       in.Month,
		Year:        in.Year,
		Format:      format,
		RecordCount: len(vars),
		ExportedBy:  actx.PrincipalID,
		ExportedAt:  s.now().UTC(),
		Status:      "COMPLETED",
	}
	if err := s.store.CreateExport(ctx, export); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"export_id":    export.ID,
		"period_id":    periodID,
		"record_count": export.RecordCount,
		"principal_id": actx.PrincipalID,
	}).Info("Payroll data exported")

	return ExportResult{
		ExportID:    export.ID,
		PeriodID:    periodID,
		Format:      format,
		RecordCount: len(vars),
		Data:        vars,
	}, nil
}

// parseClock parses "HH:MM" into fractional hours.
func parseClock(value string) (float64, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid clock time %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid clock time %q", value)
	}
	return float64(hours) + float64(minutes)/60, nil
}

// shiftDuration returns the hours between two clock values, treating an end
// before the start as crossing midnight.
func shiftDuration(start, end float64) float64 {
	if end >= start {
		return end - start
	}
	return 24 - start + end
}
