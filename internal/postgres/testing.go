package postgres

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
)

// SetupTestDB connects to OUTBOX_POSTGRES_DSN, recreates the outbox and dedup
// tables and returns the pool. The test is skipped when the variable is unset
// or the server is unreachable. OUTBOX_POSTGRES_DRIVER selects the driver
// ("postgres" by default, or "pgx").
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("OUTBOX_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("OUTBOX_POSTGRES_DSN not set")
	}

	driver := strings.TrimSpace(os.Getenv("OUTBOX_POSTGRES_DRIVER"))
	if driver == "" {
		driver = "postgres"
	}

	ctx := context.Background()
	db, err := Open(ctx, driver, dsn, 20)
	if err != nil {
		t.Skipf("Skipping test, Postgres not available: %v", err)
	}

	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS outbox, consumed_event`); err != nil {
		db.Close()
		t.Fatalf("Failed to drop tables: %v", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		t.Fatalf("Failed to create tables: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}
