package fiduciary

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftworks/gatekeeper/pkg/action"
	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/observability"
	"github.com/shiftworks/gatekeeper/pkg/payroll"
)

// memUploader captures uploaded artifacts.
type memUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemUploader() *memUploader {
	return &memUploader{objects: make(map[string][]byte)}
}

func (u *memUploader) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[key] = append([]byte(nil), data...)
	return nil
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	periods  *payroll.MemoryStore
	uploader *memUploader
}

func newFixture() *fixture {
	store := NewMemoryStore()
	periods := payroll.NewMemoryStore()
	uploader := newMemUploader()
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	return &fixture{
		svc:      NewService(store, periods, uploader, logger),
		store:    store,
		periods:  periods,
		uploader: uploader,
	}
}

func fiduciaryCtx() *action.Context {
	return &action.Context{PrincipalID: "fid-1"}
}

func TestBulkExportUnlinkedFacilityDenied(t *testing.T) {
	f := newFixture()
	f.store.Link("fid-1", "fac-1")

	input := json.RawMessage(`{"facility_ids":["fac-1","fac-2","fac-3"],"period":"2026_02"}`)
	_, err := f.svc.BulkExport(context.Background(), input, fiduciaryCtx())

	require.Error(t, err)
	assert.Equal(t, apierr.KindPermissionDenied, apierr.KindOf(err))
	assert.Contains(t, err.Error(), "fac-2")
	assert.Contains(t, err.Error(), "fac-3")
	assert.NotContains(t, err.Error(), "fac-1,")
}

func TestBulkExportWritesCSVArtifact(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.Link("fid-1", "fac-1", "fac-2")

	require.NoError(t, f.periods.SaveVariables(ctx, "fac-1_2026_02", map[string]*payroll.EmployeeVariables{
		"emp-1": {UserID: "emp-1", StandardHours: 120, OvertimeHours: 8},
	}))
	// fac-2 has no data for this period and is skipped silently.

	input := json.RawMessage(`{"facility_ids":["fac-1","fac-2"],"period":"2026_02"}`)
	result, err := f.svc.BulkExport(ctx, input, fiduciaryCtx())
	require.NoError(t, err)

	r := result.(BulkExportResult)
	assert.Equal(t, 1, r.FilesIncluded)
	assert.True(t, strings.HasPrefix(r.DownloadPath, "fiduciary_exports/fid-1/2026_02_"))

	artifact, ok := f.uploader.objects[r.DownloadPath]
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(artifact)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "standard_hours")
	assert.Contains(t, lines[1], "fac-1,emp-1,120.00,8.00")

	exports := f.store.Exports()
	require.Len(t, exports, 1)
	assert.Equal(t, "COMPLETED", exports[0].Status)
}

func TestBulkExportValidatesInput(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.BulkExport(ctx, json.RawMessage(`{"period":"2026_02"}`), fiduciaryCtx())
	require.Error(t, err)
	assert.Equal(t, apierr.KindInvalidArgument, apierr.KindOf(err))

	_, err = f.svc.BulkExport(ctx,
		json.RawMessage(`{"facility_ids":["fac-1"],"period":"Feb 2026"}`), fiduciaryCtx())
	require.Error(t, err)
	assert.Equal(t, apierr.KindInvalidArgument, apierr.KindOf(err))
}

func TestFlagDiscrepancyReopensLockedPeriod(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.Link("fid-1", "fac-1")

	require.NoError(t, f.periods.SavePeriod(ctx, &payroll.Period{
		ID: "fac-1_2026_02", FacilityID: "fac-1", Month: 2, Year: 2026,
		Status: payroll.PeriodStatusLocked, Locked: true,
		LockedBy: "pm-1", LockedAt: time.Now(),
	}))

	input := json.RawMessage(`{"facility_id":"fac-1","user_id":"emp-1","period":"2026_02","note":"overtime undercounted"}`)
	result, err := f.svc.FlagDiscrepancy(ctx, input, fiduciaryCtx())
	require.NoError(t, err)

	r := result.(FlagDiscrepancyResult)
	assert.NotEmpty(t, r.DiscrepancyID)
	assert.NotEmpty(t, r.TicketID)

	period, err := f.periods.GetPeriod(ctx, "fac-1_2026_02")
	require.NoError(t, err)
	assert.False(t, period.Locked)
	assert.Equal(t, payroll.PeriodStatusDraft, period.Status)
	assert.Equal(t, "fid-1", period.ReopenedBy)
	assert.Equal(t, "overtime undercounted", period.ReopenReason)

	tickets := f.store.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, "HIGH", tickets[0].Severity)
	assert.Equal(t, "PAYROLL_CORRECTION", tickets[0].Category)
}

func TestFlagDiscrepancyWithoutPeriodStillRecords(t *testing.T) {
	f := newFixture()
	f.store.Link("fid-1", "fac-1")

	input := json.RawMessage(`{"facility_id":"fac-1","user_id":"emp-1","period":"2026_02","note":"missing shift"}`)
	_, err := f.svc.FlagDiscrepancy(context.Background(), input, fiduciaryCtx())
	require.NoError(t, err)
	assert.Len(t, f.store.Tickets(), 1)
}

func TestFlagDiscrepancyUnlinkedDenied(t *testing.T) {
	f := newFixture()

	input := json.RawMessage(`{"facility_id":"fac-1","user_id":"emp-1","period":"2026_02","note":"x"}`)
	_, err := f.svc.FlagDiscrepancy(context.Background(), input, fiduciaryCtx())
	require.Error(t, err)
	assert.Equal(t, apierr.KindPermissionDenied, apierr.KindOf(err))
}

func TestClientDashboard(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.Link("fid-1", "fac-1", "fac-2")
	f.store.SetFacilityName("fac-1", "Riverside Clinic")

	for month := 1; month <= 8; month++ {
		require.NoError(t, f.periods.SavePeriod(ctx, &payroll.Period{
			ID: payroll.PeriodID("fac-1", 2026, month), FacilityID: "fac-1",
			Month: month, Year: 2026, Status: payroll.PeriodStatusLocked, Locked: true,
		}))
	}

	input := json.RawMessage(`{"facility_ids":["fac-1","fac-2"]}`)
	result, err := f.svc.ClientDashboard(ctx, input, fiduciaryCtx())
	require.NoError(t, err)

	r := result.(DashboardResult)
	require.Len(t, r.Dashboard, 2)

	first := r.Dashboard[0]
	assert.Equal(t, "Riverside Clinic", first.FacilityName)
	assert.Len(t, first.RecentPeriods, 6, "dashboard shows at most six periods")
	assert.Equal(t, 8, first.RecentPeriods[0].Month, "newest first")
	assert.Equal(t, payroll.PeriodStatusLocked, first.Status)

	second := r.Dashboard[1]
	assert.Equal(t, "Unknown", second.FacilityName)
	assert.Equal(t, "UNKNOWN", second.Status)
	assert.Empty(t, second.RecentPeriods)
}

func TestValidPeriod(t *testing.T) {
	assert.True(t, ValidPeriod("2026_02"))
	assert.True(t, ValidPeriod("2026_12"))
	assert.False(t, ValidPeriod("2026_13"))
	assert.False(t, ValidPeriod("2026-02"))
	assert.False(t, ValidPeriod(""))
}
