package principal

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS principals").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestPostgresStoreGet(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "display_name", "roles", "active", "direct_grants", "created_at", "updated_at",
	}).AddRow(
		"user-1", "Dana Admin",
		pq.Array([]string{"payroll_manager", "finance"}),
		true,
		pq.Array([]string{"audit.view"}),
		now, now,
	)
	mock.ExpectQuery("SELECT id, display_name, roles, active").
		WithArgs("user-1").
		WillReturnRows(rows)

	p, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.ID)
	assert.Equal(t, []string{"payroll_manager", "finance"}, p.Roles)
	assert.Equal(t, []string{"audit.view"}, p.DirectGrants)
	assert.True(t, p.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT id, display_name, roles, active").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "display_name", "roles", "active", "direct_grants", "created_at", "updated_at",
		}))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreNoCachingAcrossCalls(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&Principal{ID: "user-1", Roles: []string{"finance"}, Active: true})

	first, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"finance"}, first.Roles)

	store.Put(&Principal{ID: "user-1", Roles: []string{}, Active: true})

	second, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, second.Roles)
	assert.Equal(t, 2, store.GetCalls)
}
