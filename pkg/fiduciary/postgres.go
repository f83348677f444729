package fiduciary

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists fiduciary records in PostgreSQL. The facility
// profile table is owned by the platform; this store only reads it.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the store and ensures the fiduciary-owned
// tables exist.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure fiduciary tables: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS fiduciary_links (
		user_id TEXT NOT NULL,
		facility_id TEXT NOT NULL,
		PRIMARY KEY (user_id, facility_id)
	);

	CREATE TABLE IF NOT EXISTS fiduciary_exports (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		facility_ids TEXT[] NOT NULL,
		period TEXT NOT NULL,
		format TEXT NOT NULL,
		files_included INTEGER NOT NULL,
		storage_path TEXT NOT NULL,
		status TEXT NOT NULL,
		exported_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fiduciary_exports_user ON fiduciary_exports(user_id);

	CREATE TABLE IF NOT EXISTS payroll_discrepancies (
		id TEXT PRIMARY KEY,
		facility_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		period TEXT NOT NULL,
		note TEXT NOT NULL,
		flagged_by TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payroll_discrepancies_facility ON payroll_discrepancies(facility_id, period);

	CREATE TABLE IF NOT EXISTS support_tickets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		facility_id TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL,
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// LinkedFacilities returns the facilities a user may access.
func (s *PostgresStore) LinkedFacilities(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT facility_id FROM fiduciary_links WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query facility links: %w", err)
	}
	defer rows.Close()

	var facilities []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan facility link: %w", err)
		}
		facilities = append(facilities, id)
	}
	return facilities, rows.Err()
}

// FacilityName returns the display name, or "" for unknown ids.
func (s *PostgresStore) FacilityName(ctx context.Context, facilityID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM facilities WHERE id = $1", facilityID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load facility %s: %w", facilityID, err)
	}
	return name, nil
}

// CreateExport inserts an export record.
func (s *PostgresStore) CreateExport(ctx context.Context, record *ExportRecord) error {
	query := `
		INSERT INTO fiduciary_exports (
			id, user_id, facility_ids, period, format,
			files_included, storage_path, status, exported_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.UserID, pq.Array(record.FacilityIDs), record.Period, record.Format,
		record.FilesIncluded, record.StoragePath, record.Status, record.ExportedAt)
	if err != nil {
		return fmt.Errorf("failed to create export %s: %w", record.ID, err)
	}
	return nil
}

// CreateDiscrepancy inserts a discrepancy record.
func (s *PostgresStore) CreateDiscrepancy(ctx context.Context, d *Discrepancy) error {
	query := `
		INSERT INTO payroll_discrepancies (
			id, facility_id, user_id, period, note, flagged_by, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.FacilityID, d.UserID, d.Period, d.Note, d.FlaggedBy, d.Status, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create discrepancy %s: %w", d.ID, err)
	}
	return nil
}

// CreateTicket inserts a support ticket.
func (s *PostgresStore) CreateTicket(ctx context.Context, ticket *SupportTicket) error {
	query := `
		INSERT INTO support_tickets (
			id, user_id, facility_id, description, severity, category, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		ticket.ID, ticket.UserID, ticket.FacilityID, ticket.Description,
		ticket.Severity, ticket.Category, ticket.Status, ticket.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ticket %s: %w", ticket.ID, err)
	}
	return nil
}
