// Package fiduciary implements the fiduciary action family: bulk payroll
// exports across linked facilities, discrepancy flagging, and the client
// dashboard. Fiduciaries only ever see facilities they are explicitly
// linked to; every handler re-checks the link set.
package fiduciary

import (
	"context"
	"regexp"
	"time"

	"github.com/shiftworks/gatekeeper/pkg/payroll"
)

// periodPattern is the facility-month period key, e.g. "2026_02".
var periodPattern = regexp.MustCompile(`^\d{4}_(0[1-9]|1[0-2])$`)

// ValidPeriod reports whether a period key is well-formed.
func ValidPeriod(period string) bool {
	return periodPattern.MatchString(period)
}

// Discrepancy is a flagged payroll issue.
type Discrepancy struct {
	ID         string    `json:"id"`
	FacilityID string    `json:"facility_id"`
	UserID     string    `json:"user_id"`
	Period     string    `json:"period"`
	Note       string    `json:"note"`
	FlaggedBy  string    `json:"flagged_by"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// SupportTicket is the ticket opened alongside a discrepancy.
type SupportTicket struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	FacilityID  string    `json:"facility_id"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	Category    string    `json:"category"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExportRecord records a completed bulk export and where its artifact
// lives.
type ExportRecord struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	FacilityIDs   []string  `json:"facility_ids"`
	Period        string    `json:"period"`
	Format        string    `json:"format"`
	FilesIncluded int       `json:"files_included"`
	StoragePath   string    `json:"storage_path"`
	Status        string    `json:"status"`
	ExportedAt    time.Time `json:"exported_at"`
}

// FacilitySummary is one dashboard entry.
type FacilitySummary struct {
	FacilityID    string            `json:"facility_id"`
	FacilityName  string            `json:"facility_name"`
	RecentPeriods []*payroll.Period `json:"recent_periods"`
	Status        string            `json:"status"`
}

// Store persists fiduciary records and resolves facility links.
type Store interface {
	// LinkedFacilities returns the facilities a fiduciary may access.
	LinkedFacilities(ctx context.Context, userID string) ([]string, error)
	// FacilityName returns the display name, or "" for unknown ids.
	FacilityName(ctx context.Context, facilityID string) (string, error)
	CreateExport(ctx context.Context, record *ExportRecord) error
	CreateDiscrepancy(ctx context.Context, d *Discrepancy) error
	CreateTicket(ctx context.Context, ticket *SupportTicket) error
}

// Uploader stores export artifacts in object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}
