package payroll

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists payroll data in PostgreSQL. Shift and leave tables
// are owned by the scheduling system; this store only reads them.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the store and ensures the payroll-owned tables
// exist.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure payroll tables: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS payroll_periods (
		id TEXT PRIMARY KEY,
		facility_id TEXT NOT NULL,
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		locked BOOLEAN NOT NULL DEFAULT FALSE,
		locked_by TEXT,
		locked_at TIMESTAMPTZ,
		reopened_by TEXT,
		reopened_at TIMESTAMPTZ,
		reopen_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_payroll_periods_facility ON payroll_periods(facility_id, year DESC, month DESC);

	CREATE TABLE IF NOT EXISTS payroll_variables (
		period_id TEXT PRIMARY KEY,
		variables JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS payroll_exports (
		id TEXT PRIMARY KEY,
		period_id TEXT NOT NULL,
		facility_id TEXT NOT NULL,
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		format TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		exported_by TEXT NOT NULL,
		exported_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payroll_exports_period ON payroll_exports(period_id);
	`
	_, err := s.db.Exec(query)
	return err
}

// ShiftsInRange returns shifts for a facility with the given status in
// [from, to].
func (s *PostgresStore) ShiftsInRange(ctx context.Context, facilityID string, from, to time.Time, status string) ([]*Shift, error) {
	query := `
		SELECT id, facility_id, user_id, date, start_time, end_time, status, COALESCE(type, '')
		FROM shifts
		WHERE facility_id = $1 AND status = $2 AND date >= $3 AND date <= $4
		ORDER BY date`

	rows, err := s.db.QueryContext(ctx, query, facilityID, status, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query shifts: %w", err)
	}
	defer rows.Close()

	var shifts []*Shift
	for rows.Next() {
		var shift Shift
		if err := rows.Scan(&shift.ID, &shift.FacilityID, &shift.UserID, &shift.Date,
			&shift.StartTime, &shift.EndTime, &shift.Status, &shift.Type); err != nil {
			return nil, fmt.Errorf("failed to scan shift: %w", err)
		}
		shifts = append(shifts, &shift)
	}
	return shifts, rows.Err()
}

// ApprovedLeave returns approved leave requests for a facility.
func (s *PostgresStore) ApprovedLeave(ctx context.Context, facilityID string) ([]*LeaveRequest, error) {
	query := `
		SELECT id, facility_id, user_id, type, status, start_date, end_date, days_requested
		FROM leave_requests
		WHERE facility_id = $1 AND status = $2`

	rows, err := s.db.QueryContext(ctx, query, facilityID, LeaveStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave requests: %w", err)
	}
	defer rows.Close()

	var leave []*LeaveRequest
	for rows.Next() {
		var lr LeaveRequest
		if err := rows.Scan(&lr.ID, &lr.FacilityID, &lr.UserID, &lr.Type, &lr.Status,
			&lr.StartDate, &lr.EndDate, &lr.DaysRequested); err != nil {
			return nil, fmt.Errorf("failed to scan leave request: %w", err)
		}
		leave = append(leave, &lr)
	}
	return leave, rows.Err()
}

// GetPeriod returns the period, or ErrPeriodNotFound.
func (s *PostgresStore) GetPeriod(ctx context.Context, periodID string) (*Period, error) {
	query := `
		SELECT id, facility_id, month, year, status, locked,
		       COALESCE(locked_by, ''), locked_at,
		       COALESCE(reopened_by, ''), reopened_at, COALESCE(reopen_reason, '')
		FROM payroll_periods WHERE id = $1`

	var p Period
	var lockedAt, reopenedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, periodID).Scan(
		&p.ID, &p.FacilityID, &p.Month, &p.Year, &p.Status, &p.Locked,
		&p.LockedBy, &lockedAt, &p.ReopenedBy, &reopenedAt, &p.ReopenReason)
	if err == sql.ErrNoRows {
		return nil, ErrPeriodNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load period %s: %w", periodID, err)
	}

	if lockedAt.Valid {
		p.LockedAt = lockedAt.Time
	}
	if reopenedAt.Valid {
		p.ReopenedAt = reopenedAt.Time
	}
	return &p, nil
}

// SavePeriod upserts a period record.
func (s *PostgresStore) SavePeriod(ctx context.Context, period *Period) error {
	query := `
		INSERT INTO payroll_periods (
			id, facility_id, month, year, status, locked,
			locked_by, locked_at, reopened_by, reopened_at, reopen_reason
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, NULLIF($11, ''))
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			locked = EXCLUDED.locked,
			locked_by = EXCLUDED.locked_by,
			locked_at = EXCLUDED.locked_at,
			reopened_by = EXCLUDED.reopened_by,
			reopened_at = EXCLUDED.reopened_at,
			reopen_reason = EXCLUDED.reopen_reason`

	_, err := s.db.ExecContext(ctx, query,
		period.ID, period.FacilityID, period.Month, period.Year, period.Status, period.Locked,
		period.LockedBy, nullTime(period.LockedAt), period.ReopenedBy, nullTime(period.ReopenedAt),
		period.ReopenReason)
	if err != nil {
		return fmt.Errorf("failed to save period %s: %w", period.ID, err)
	}
	return nil
}

// SaveVariables upserts the variables blob for a period.
func (s *PostgresStore) SaveVariables(ctx context.Context, periodID string, vars map[string]*EmployeeVariables) error {
	data, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	query := `
		INSERT INTO payroll_variables (period_id, variables, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (period_id) DO UPDATE SET
			variables = EXCLUDED.variables,
			updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, periodID, data); err != nil {
		return fmt.Errorf("failed to save variables for %s: %w", periodID, err)
	}
	return nil
}

// GetVariables returns the saved variables, or ErrVariablesNotFound.
func (s *PostgresStore) GetVariables(ctx context.Context, periodID string) (map[string]*EmployeeVariables, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT variables FROM payroll_variables WHERE period_id = $1", periodID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrVariablesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load variables for %s: %w", periodID, err)
	}

	var vars map[string]*EmployeeVariables
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables for %s: %w", periodID, err)
	}
	return vars, nil
}

// CreateExport inserts an export record.
func (s *PostgresStore) CreateExport(ctx context.Context, export *Export) error {
	query := `
		INSERT INTO payroll_exports (
			id, period_id, facility_id, month, year,
			format, record_count, exported_by, exported_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		export.ID, export.PeriodID, export.FacilityID, export.Month, export.Year,
		export.Format, export.RecordCount, export.ExportedBy, export.ExportedAt, export.Status)
	if err != nil {
		return fmt.Errorf("failed to create export %s: %w", export.ID, err)
	}
	return nil
}

// RecentPeriods returns the newest periods for a facility.
func (s *PostgresStore) RecentPeriods(ctx context.Context, facilityID string, limit int) ([]*Period, error) {
	if limit <= 0 {
		limit = 6
	}

	query := `
		SELECT id, facility_id, month, year, status, locked,
		       COALESCE(locked_by, ''), locked_at,
		       COALESCE(reopened_by, ''), reopened_at, COALESCE(reopen_reason, '')
		FROM payroll_periods
		WHERE facility_id = $1
		ORDER BY year DESC, month DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, facilityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var periods []*Period
	for rows.Next() {
		var p Period
		var lockedAt, reopenedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.FacilityID, &p.Month, &p.Year, &p.Status, &p.Locked,
			&p.LockedBy, &lockedAt, &p.ReopenedBy, &reopenedAt, &p.ReopenReason); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		if lockedAt.Valid {
			p.LockedAt = lockedAt.Time
		}
		if reopenedAt.Valid {
			p.ReopenedAt = reopenedAt.Time
		}
		periods = append(periods, &p)
	}
	return periods, rows.Err()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
