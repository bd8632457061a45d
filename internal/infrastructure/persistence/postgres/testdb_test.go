//go:build integration

package postgres

import (
	"database/sql"
	"os"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/recipeai/transcribe-worker/internal/infrastructure/persistence/postgres/migrations"
)

// setupTestDB connects to TEST_DATABASE_URL, migrates it to the latest
// schema, and truncates the queue tables so every test starts from empty.
// Tests in this package are gated behind the "integration" build tag because
// they need a real Postgres for FOR UPDATE SKIP LOCKED and stored-procedure
// semantics that no fake can stand in for.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	require.NoError(t, err)

	source, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	require.NoError(t, err)

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err)
	}

	_, err = db.Exec(`TRUNCATE jobs, usage_daily`)
	require.NoError(t, err)

	return db
}
