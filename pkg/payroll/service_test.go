package payroll

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftworks/gatekeeper/pkg/action"
	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/observability"
)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	return NewService(store, logger), store
}

func managerCtx() *action.Context {
	return &action.Context{PrincipalID: "pm-1"}
}

func day(year, month, d int) time.Time {
	return time.Date(year, time.Month(month), d, 0, 0, 0, 0, time.UTC)
}

func calcInput() json.RawMessage {
	return json.RawMessage(`{"facility_id":"fac-1","month":2,"year":2026}`)
}

func TestCalculatePeriodVariablesBucketsHours(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	// 2026-02-02 is a Monday, 2026-02-08 a Sunday.
	store.AddShift(&Shift{ID: "s1", FacilityID: "fac-1", UserID: "emp-1",
		Date: day(2026, 2, 2), StartTime: "08:00", EndTime: "16:00", Status: ShiftStatusCompleted})
	store.AddShift(&Shift{ID: "s2", FacilityID: "fac-1", UserID: "emp-1",
		Date: day(2026, 2, 8), StartTime: "08:00", EndTime: "14:00", Status: ShiftStatusCompleted})
	store.AddShift(&Shift{ID: "s3", FacilityID: "fac-1", UserID: "emp-1",
		Date: day(2026, 2, 3), StartTime: "22:00", EndTime: "06:00", Status: ShiftStatusCompleted})
	store.AddShift(&Shift{ID: "s4", FacilityID: "fac-1", UserID: "emp-1",
		Date: day(2026, 2, 4), StartTime: "16:00", EndTime: "20:00", Status: ShiftStatusCompleted,
		Type: ShiftTypeOvertime})
	// Another facility and another month are ignored.
	store.AddShift(&Shift{ID: "s5", FacilityID: "fac-2", UserID: "emp-9",
		Date: day(2026, 2, 2), StartTime: "08:00", EndTime: "16:00", Status: ShiftStatusCompleted})
	store.AddShift(&Shift{ID: "s6", FacilityID: "fac-1", UserID: "emp-1",
		Date: day(2026, 3, 2), StartTime: "08:00", EndTime: "16:00", Status: ShiftStatusCompleted})

	result, err := svc.CalculatePeriodVariables(ctx, calcInput(), managerCtx())
	require.NoError(t, err)

	r := result.(CalculateResult)
	require.Equal(t, 1, r.TotalEmployees)
	v := r.Variables["emp-1"]
	require.NotNil(t, v)
	assert.Equal(t, 8.0, v.StandardHours)
	assert.Equal(t, 6.0, v.SundayHours)
	assert.Equal(t, 8.0, v.NightHours, "overnight shift crosses midnight")
	assert.Equal(t, 4.0, v.OvertimeHours)
	assert.Empty(t, r.Warnings)

	// Variables are persisted for the later export.
	saved, err := store.GetVariables(ctx, "fac-1_2026_02")
	require.NoError(t, err)
	assert.Equal(t, v.StandardHours, saved["emp-1"].StandardHours)
}

func TestCalculatePeriodVariablesLeaveAndWarnings(t *testing.T) {
	svc, store := newTestService()

	store.AddLeave(&LeaveRequest{ID: "l1", FacilityID: "fac-1", UserID: "emp-2",
		Type: LeaveTypeVacation, Status: LeaveStatusApproved,
		StartDate: day(2026, 2, 10), EndDate: day(2026, 2, 14), DaysRequested: 5})
	store.AddLeave(&LeaveRequest{ID: "l2", FacilityID: "fac-1", UserID: "emp-2",
		Type: LeaveTypeSick, Status: LeaveStatusApproved,
		StartDate: day(2026, 2, 20), EndDate: day(2026, 2, 21), DaysRequested: 2})
	// Outside the period.
	store.AddLeave(&LeaveRequest{ID: "l3", FacilityID: "fac-1", UserID: "emp-2",
		Type: LeaveTypeVacation, Status: LeaveStatusApproved,
		StartDate: day(2026, 4, 1), EndDate: day(2026, 4, 5), DaysRequested: 5})
	store.AddShift(&Shift{ID: "s1", FacilityID: "fac-1", UserID: "emp-3",
		Date: day(2026, 2, 5), StartTime: "08:00", EndTime: "16:00", Status: ShiftStatusDraft})

	result, err := svc.CalculatePeriodVariables(context.Background(), calcInput(), managerCtx())
	require.NoError(t, err)

	r := result.(CalculateResult)
	v := r.Variables["emp-2"]
	require.NotNil(t, v)
	assert.Equal(t, 5, v.VacationDaysTaken)
	assert.Equal(t, 2, v.SickDays)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "draft shifts")
}

func TestLockPeriod(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	result, err := svc.LockPeriod(ctx, calcInput(), managerCtx())
	require.NoError(t, err)
	assert.Equal(t, "fac-1_2026_02", result.(LockResult).PeriodID)

	period, err := store.GetPeriod(ctx, "fac-1_2026_02")
	require.NoError(t, err)
	assert.True(t, period.Locked)
	assert.Equal(t, PeriodStatusLocked, period.Status)
	assert.Equal(t, "pm-1", period.LockedBy)
}

func TestLockPeriodAlreadyLocked(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.LockPeriod(ctx, calcInput(), managerCtx())
	require.NoError(t, err)

	_, err = svc.LockPeriod(ctx, calcInput(), managerCtx())
	require.Error(t, err)
	assert.Equal(t, apierr.KindFailedPrecondition, apierr.KindOf(err))
	assert.Contains(t, err.Error(), "already locked")
}

func TestLockPeriodDraftShiftsBlock(t *testing.T) {
	svc, store := newTestService()

	store.AddShift(&Shift{ID: "s1", FacilityID: "fac-1", UserID: "emp-1",
		Date: day(2026, 2, 5), StartTime: "08:00", EndTime: "16:00", Status: ShiftStatusDraft})

	_, err := svc.LockPeriod(context.Background(), calcInput(), managerCtx())
	require.Error(t, err)
	assert.Equal(t, apierr.KindFailedPrecondition, apierr.KindOf(err))
	assert.Contains(t, err.Error(), "draft shifts")
}

func TestExportDataRequiresLockedPeriod(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ExportData(context.Background(), calcInput(), managerCtx())
	require.Error(t, err)
	assert.Equal(t, apierr.KindFailedPrecondition, apierr.KindOf(err))
	assert.Contains(t, err.Error(), "locked before export")
}

func TestExportDataRequiresVariables(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.LockPeriod(ctx, calcInput(), managerCtx())
	require.NoError(t, err)

	_, err = svc.ExportData(ctx, calcInput(), managerCtx())
	require.Error(t, err)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}

func TestExportData(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	store.AddShift(&Shift{ID: "s1", FacilityID: "fac-1", UserID: "emp-1",
		Date: day(2026, 2, 2), StartTime: "08:00", EndTime: "16:00", Status: ShiftStatusCompleted})

	_, err := svc.CalculatePeriodVariables(ctx, calcInput(), managerCtx())
	require.NoError(t, err)
	_, err = svc.LockPeriod(ctx, calcInput(), managerCtx())
	require.NoError(t, err)

	result, err := svc.ExportData(ctx,
		json.RawMessage(`{"facility_id":"fac-1","month":2,"year":2026,"format":"csv"}`), managerCtx())
	require.NoError(t, err)

	r := result.(ExportResult)
	assert.Equal(t, "CSV", r.Format)
	assert.Equal(t, 1, r.RecordCount)
	assert.Contains(t, r.Data, "emp-1")
	require.Len(t, store.Exports(), 1)
}

func TestParseClock(t *testing.T) {
	cases := map[string]float64{
		"08:00": 8,
		"08:30": 8.5,
		"23:45": 23.75,
		"00:00": 0,
	}
	for input, expected := range cases {
		got, err := parseClock(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, got, input)
	}

	for _, bad := range []string{"", "8", "25:00", "08:61", "ab:cd"} {
		_, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestShiftDurationOvernight(t *testing.T) {
	assert.Equal(t, 8.0, shiftDuration(8, 16))
	assert.Equal(t, 8.0, shiftDuration(22, 6))
	assert.Equal(t, 0.0, shiftDuration(8, 8))
}
