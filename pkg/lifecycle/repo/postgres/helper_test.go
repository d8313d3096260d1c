package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// TestDB represents a test database connection
type TestDB struct {
	Pool *pgxpool.Pool
}

// NewTestDB connects to TEST_DATABASE_URL, skipping the test when unset.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err, "Failed to connect to test database")

	err = pool.Ping(ctx)
	require.NoError(t, err, "Failed to ping test database")

	return &TestDB{Pool: pool}
}

// Setup applies the lifecycle schema
func (db *TestDB) Setup(t *testing.T) {
	t.Helper()
	require.NoError(t, Migrate(context.Background(), db.Pool), "Failed to apply schema")
}

// Cleanup removes all test data from the database
func (db *TestDB) Cleanup(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, table := range []string{"approval_request", "content_version", "content_item"} {
		_, err := db.Pool.Exec(ctx, "TRUNCATE lifecycle."+table)
		require.NoError(t, err, "Failed to truncate %s table", table)
	}
}

// RunTest runs a test with database setup and cleanup
func RunTest(t *testing.T, testFunc func(t *testing.T, db *TestDB)) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	db := NewTestDB(t)
	defer db.Pool.Close()

	db.Setup(t)

	t.Run("", func(t *testing.T) {
		db.Cleanup(t)
		testFunc(t, db)
	})
}
