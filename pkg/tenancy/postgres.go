package tenancy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shiftworks/gatekeeper/pkg/apierr"
)

// PostgresStore persists organizations and alerts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the store and ensures the schema exists.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure tenancy tables: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		plan TEXT NOT NULL,
		contact_email TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		max_facilities INTEGER NOT NULL,
		max_users INTEGER NOT NULL,
		billing_status TEXT NOT NULL DEFAULT 'active',
		billing_last_action TEXT,
		billing_last_action_reason TEXT,
		billing_last_modified_by TEXT,
		billing_last_modified_at TIMESTAMPTZ,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS system_alerts (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		severity TEXT NOT NULL,
		target_audience TEXT NOT NULL DEFAULT 'all',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_system_alerts_active ON system_alerts(active);
	`
	_, err := s.db.Exec(query)
	return err
}

// CreateOrganization inserts a new organization record.
func (s *PostgresStore) CreateOrganization(ctx context.Context, org *Organization) error {
	query := `
		INSERT INTO organizations (
			id, name, plan, contact_email, status,
			max_facilities, max_users, billing_status, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		org.ID, org.Name, org.Plan, org.ContactEmail, org.Status,
		org.MaxFacilities, org.MaxUsers, org.Billing.Status, org.CreatedBy, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization %s: %w", org.ID, err)
	}
	return nil
}

// GetOrganization loads an organization by id.
func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	query := `
		SELECT id, name, plan, contact_email, status,
		       max_facilities, max_users,
		       billing_status, billing_last_action, billing_last_action_reason,
		       billing_last_modified_by, billing_last_modified_at,
		       created_by, created_at
		FROM organizations WHERE id = $1`

	var org Organization
	var lastAction, lastReason, lastBy sql.NullString
	var lastAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID, &org.Name, &org.Plan, &org.ContactEmail, &org.Status,
		&org.MaxFacilities, &org.MaxUsers,
		&org.Billing.Status, &lastAction, &lastReason, &lastBy, &lastAt,
		&org.CreatedBy, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apierr.Newf(apierr.KindNotFound, "organization %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load organization %s: %w", id, err)
	}

	org.Billing.LastAction = lastAction.String
	org.Billing.LastActionReason = lastReason.String
	org.Billing.LastModifiedBy = lastBy.String
	if lastAt.Valid {
		org.Billing.LastModifiedAt = lastAt.Time
	}
	return &org, nil
}

// UpdateBilling writes the billing state for an organization.
func (s *PostgresStore) UpdateBilling(ctx context.Context, orgID string, billing Billing) error {
	query := `
		UPDATE organizations SET
			billing_status = $2,
			billing_last_action = $3,
			billing_last_action_reason = NULLIF($4, ''),
			billing_last_modified_by = $5,
			billing_last_modified_at = $6
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query,
		orgID, billing.Status, billing.LastAction, billing.LastActionReason,
		billing.LastModifiedBy, billing.LastModifiedAt)
	if err != nil {
		return fmt.Errorf("failed to update billing for %s: %w", orgID, err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return apierr.Newf(apierr.KindNotFound, "organization %s not found", orgID)
	}
	return nil
}

// CreateAlert inserts a system alert.
func (s *PostgresStore) CreateAlert(ctx context.Context, alert *SystemAlert) error {
	query := `
		INSERT INTO system_alerts (
			id, title, message, severity, target_audience, active, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		alert.ID, alert.Title, alert.Message, alert.Severity,
		alert.TargetAudience, alert.Active, alert.CreatedBy, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert %s: %w", alert.ID, err)
	}
	return nil
}
