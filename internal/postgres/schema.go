package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the outbox and dedup tables.
const Schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id            VARCHAR(255) PRIMARY KEY,
	aggregatetype VARCHAR(255) NOT NULL,
	aggregateid   VARCHAR(255) NOT NULL,
	type          VARCHAR(255) NOT NULL,
	payload       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS outbox_created_at_idx ON outbox (created_at, id);

CREATE TABLE IF NOT EXISTS consumed_event (
	id               VARCHAR(255) PRIMARY KEY,
	time_of_received TIMESTAMPTZ NOT NULL
);`

// EnsureSchema applies Schema. It is idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
