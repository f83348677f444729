package principal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore loads principal records from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a postgres-backed principal store and ensures
// the schema exists.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure principals table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS principals (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		roles TEXT[] NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		direct_grants TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_principals_active ON principals(active);
	`
	_, err := s.db.Exec(query)
	return err
}

// Get returns the principal record for the given id, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Principal, error) {
	query := `
		SELECT id, display_name, roles, active, direct_grants, created_at, updated_at
		FROM principals
		WHERE id = $1`

	var p Principal
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.DisplayName,
		pq.Array(&p.Roles),
		&p.Active,
		pq.Array(&p.DirectGrants),
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load principal %s: %w", id, err)
	}

	return &p, nil
}

// Upsert inserts or updates a principal record. Used by provisioning
// tooling and tests, not by the dispatch path.
func (s *PostgresStore) Upsert(ctx context.Context, p *Principal) error {
	query := `
		INSERT INTO principals (id, display_name, roles, active, direct_grants, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			roles = EXCLUDED.roles,
			active = EXCLUDED.active,
			direct_grants = EXCLUDED.direct_grants,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.DisplayName, pq.Array(p.Roles), p.Active, pq.Array(p.DirectGrants))
	if err != nil {
		return fmt.Errorf("failed to upsert principal %s: %w", p.ID, err)
	}
	return nil
}
