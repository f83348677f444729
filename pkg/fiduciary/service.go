package fiduciary

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shiftworks/gatekeeper/pkg/action"
	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/audit"
	"github.com/shiftworks/gatekeeper/pkg/observability"
	"github.com/shiftworks/gatekeeper/pkg/payroll"
)

// Service implements the fiduciary action handlers.
type Service struct {
	store    Store
	periods  payroll.Store
	uploader Uploader
	logger   *observability.Logger
	now      func() time.Time
}

// NewService creates the fiduciary action service.
func NewService(store Store, periods payroll.Store, uploader Uploader, logger *observability.Logger) *Service {
	return &Service{
		store:    store,
		periods:  periods,
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
	}
}

// checkLinks fails with PermissionDenied naming any facility the caller is
// not linked to.
func (s *Service) checkLinks(ctx context.Context, userID string, facilityIDs []string) error {
	linked, err := s.store.LinkedFacilities(ctx, userID)
	if err != nil {
		return err
	}

	linkedSet := make(map[string]bool, len(linked))
	for _, id := range linked {
		linkedSet[id] = true
	}

	var unauthorized []string
	for _, id := range facilityIDs {
		if !linkedSet[id] {
			unauthorized = append(unauthorized, id)
		}
	}
	if len(unauthorized) > 0 {
		sort.Strings(unauthorized)
		return apierr.Newf(apierr.KindPermissionDenied,
			"access denied to facilities: %s", strings.Join(unauthorized, ", ")).
			WithDetail("unauthorized_facilities", unauthorized)
	}
	return nil
}

type bulkExportInput struct {
	FacilityIDs []string `json:"facility_ids"`
	Period      string   `json:"period"`
	Format      string   `json:"format,omitempty"`
}

// BulkExportResult is the BulkExport handler output.
type BulkExportResult struct {
	ExportID      string `json:"export_id"`
	FilesIncluded int    `json:"files_included"`
	DownloadPath  string `json:"download_path"`
}

// AuditResource identifies the export artifact in the audit trail.
func (r BulkExportResult) AuditResource() audit.Resource {
	return audit.Resource{Type: "fiduciary_export", ID: r.ExportID, Name: r.DownloadPath}
}

// BulkExport gathers locked-period payroll data for the linked facilities,
// writes a CSV artifact to object storage, and records the export.
func (s *Service) BulkExport(ctx context.Context, input json.RawMessage, actx *action.Context) (interface{}, error) {
	var in bulkExportInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInvalidArgument, "malformed input")
	}
	if len(in.FacilityIDs) == 0 {
		return nil, apierr.New(apierr.KindInvalidArgument, "facility_ids array is required")
	}
	if !ValidPeriod(in.Period) {
		return nil, apierr.New(apierr.KindInvalidArgument, "period is required, format YYYY_MM")
	}
	format := strings.ToUpper(in.Format)
	if format == "" {
		format = "CSV_GENERIC"
	}

	if err := s.checkLinks(ctx, actx.PrincipalID, in.FacilityIDs); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	header := []string{"facility_id", "user_id", "standard_hours", "overtime_hours",
		"sunday_hours", "night_hours", "vacation_days", "sick_days"}
	if err := writer.Write(header); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInternal, "failed to build export")
	}

	filesIncluded := 0
	for _, facilityID := range in.FacilityIDs {
		vars, err := s.periods.GetVariables(ctx, facilityID+"_"+in.Period)
		if errors.Is(err, payroll.ErrVariablesNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		filesIncluded++

		userIDs := make([]string, 0, len(vars))
		for userID := range vars {
			userIDs = append(userIDs, userID)
		}
		sort.Strings(userIDs)

		for _, userID := range userIDs {
			v := vars[userID]
			row := []string{
				facilityID, userID,
				formatHours(v.StandardHours), formatHours(v.OvertimeHours),
				formatHours(v.SundayHours), formatHours(v.NightHours),
				fmt.Sprintf("%d", v.VacationDaysTaken), fmt.Sprintf("%d", v.SickDays),
			}
			if err := writer.Write(row); err != nil {
				return nil, apierr.Wrap(err, apierr.KindInternal, "failed to build export")
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInternal, "failed to build export")
	}

	exportID := "export_" + uuid.NewString()
	storagePath := fmt.Sprintf("fiduciary_exports/%s/%s_%s.csv", actx.PrincipalID, in.Period, exportID)

	if err := s.uploader.Upload(ctx, storagePath, buf.Bytes(), "text/csv"); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInternal, "failed to store export artifact")
	}

	record := &ExportRecord{
		ID:            exportID,
		UserID:        actx.PrincipalID,
		FacilityIDs:   in.FacilityIDs,
		Period:        in.Period,
		Format:        format,
		FilesIncluded: filesIncluded,
		StoragePath:   storagePath,
		Status:        "COMPLETED",
		ExportedAt:    s.now().UTC(),
	}
	if err := s.store.CreateExport(ctx, record); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"export_id":      exportID,
		"facility_count": len(in.FacilityIDs),
		"period":         in.Period,
		"principal_id":   actx.PrincipalID,
	}).Info("Fiduciary bulk export created")

	return BulkExportResult{
		ExportID:      exportID,
		FilesIncluded: filesIncluded,
		DownloadPath:  storagePath,
	}, nil
}

type flagDiscrepancyInput struct {
	FacilityID string `json:"facility_id"`
	UserID     string `json:"user_id"`
	Period     string `json:"period"`
	Note       string `json:"note"`
}

// FlagDiscrepancyResult is the FlagDiscrepancy handler output.
type FlagDiscrepancyResult struct {
	DiscrepancyID string `json:"discrepancy_id"`
	TicketID      string `json:"ticket_id"`
	Message       string `json:"message"`
}

// AuditResource identifies the discrepancy in the audit trail.
func (r FlagDiscrepancyResult) AuditResource() audit.Resource {
	return audit.Resource{Type: "payroll_discrepancy", ID: r.DiscrepancyID}
}

// FlagDiscrepancy records a payroll discrepancy, reopens the affected
// period if it was locked, and opens a high-severity support ticket.
func (s *Service) FlagDiscrepancy(ctx context.Context, input json.RawMessage, actx *action.Context) (interface{}, error) {
	var in flagDiscrepancyInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInvalidArgument, "malformed input")
	}
	if in.FacilityID == "" || in.UserID == "" || in.Note == "" {
		return nil, apierr.New(apierr.KindInvalidArgument,
			"facility_id, user_id, period and note are required")
	}
	if !ValidPeriod(in.Period) {
		return nil, apierr.New(apierr.KindInvalidArgument, "period is required, format YYYY_MM")
	}

	if err := s.checkLinks(ctx, actx.PrincipalID, []string{in.FacilityID}); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	discrepancy := &Discrepancy{
		ID:         "disc_" + uuid.NewString(),
		FacilityID: in.FacilityID,
		UserID:     in.UserID,
		Period:     in.Period,
		Note:       in.Note,
		FlaggedBy:  actx.PrincipalID,
		Status:     "PENDING",
		CreatedAt:  now,
	}
	if err := s.store.CreateDiscrepancy(ctx, discrepancy); err != nil {
		return nil, err
	}

	// Reopen the period so the correction can land. A period that was
	// never created stays absent.
	periodID := in.FacilityID + "_" + in.Period
	period, err := s.periods.GetPeriod(ctx, periodID)
	if err != nil && !errors.Is(err, payroll.ErrPeriodNotFound) {
		return nil, err
	}
	if period != nil {
		period.Locked = false
		period.Status = payroll.PeriodStatusDraft
		period.ReopenedBy = actx.PrincipalID
		period.ReopenedAt = now
		period.ReopenReason = in.Note
		if err := s.periods.SavePeriod(ctx, period); err != nil {
			return nil, err
		}
	}

	ticket := &SupportTicket{
		ID:          "ticket_" + uuid.NewString(),
		UserID:      actx.PrincipalID,
		FacilityID:  in.FacilityID,
		Description: "Payroll discrepancy: " + in.Note,
		Severity:    "HIGH",
		Category:    "PAYROLL_CORRECTION",
		Status:      "OPEN",
		CreatedAt:   now,
	}
	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"discrepancy_id": discrepancy.ID,
		"facility_id":    in.FacilityID,
		"period":         in.Period,
		"principal_id":   actx.PrincipalID,
	}).Info("Payroll discrepancy flagged")

	return FlagDiscrepancyResult{
		DiscrepancyID: discrepancy.ID,
		TicketID:      ticket.ID,
		Message:       "discrepancy flagged and period reopened",
	}, nil
}

type dashboardInput struct {
	FacilityIDs []string `json:"facility_ids"`
}

// DashboardResult is the ClientDashboard handler output.
type DashboardResult struct {
	Dashboard []*FacilitySummary `json:"dashboard"`
}

// ClientDashboard returns the recent payroll periods for each linked
// facility. Read-only.
func (s *Service) ClientDashboard(ctx context.Context, input json.RawMessage, actx *action.Context) (interface{}, error) {
	var in dashboardInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apierr.Wrap(err, apierr.KindInvalidArgument, "malformed input")
	}
	if len(in.FacilityIDs) == 0 {
		return nil, apierr.New(apierr.KindInvalidArgument, "facility_ids array is required")
	}

	if err := s.checkLinks(ctx, actx.PrincipalID, in.FacilityIDs); err != nil {
		return nil, err
	}

	dashboard := make([]*FacilitySummary, 0, len(in.FacilityIDs))
	for _, facilityID := range in.FacilityIDs {
		periods, err := s.periods.RecentPeriods(ctx, facilityID, 6)
		if err != nil {
			return nil, err
		}

		name, err := s.store.FacilityName(ctx, facilityID)
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = "Unknown"
		}

		status := "UNKNOWN"
		if len(periods) > 0 {
			status = periods[0].Status
		}

		dashboard = append(dashboard, &FacilitySummary{
			FacilityID:    facilityID,
			FacilityName:  name,
			RecentPeriods: periods,
			Status:        status,
		})
	}

	return DashboardResult{Dashboard: dashboard}, nil
}

func formatHours(h float64) string {
	return fmt.Sprintf("%.2f", h)
}
