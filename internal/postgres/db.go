// Package postgres adapts database/sql transactions to the outbox and inbox
// capability interfaces and provides the queries the relay runs against the
// outbox table. Both the lib/pq ("postgres") and pgx ("pgx") drivers are
// registered.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/phillus33/outbox-inbox/pkg/outbox"
)

const selectRecordByID = `
        SELECT id, aggregatetype, aggregateid, type, payload, created_at
        FROM outbox
        WHERE id = $1`

// DB wraps a connection pool.
type DB struct {
	db *sql.DB
}

func New(db *sql.DB) *DB {
	return &DB{db: db}
}

// Open connects with the named driver and verifies the connection.
func Open(ctx context.Context, driver, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (d *DB) SQL() *sql.DB {
	return d.db
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) (err error) {
	if d == nil || d.db == nil {
		return ErrDBRequired
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rErr := tx.Rollback(); rErr != nil && !errors.Is(rErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w, failed to rollback transaction: %w", err, rErr)
			}
		}
	}()

	if err = fn(ctx, NewUnitOfWork(tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindOutboxRecord reads a committed outbox record.
func (d *DB) FindOutboxRecord(ctx context.Context, id string) (*outbox.Record, error) {
	return scanRecord(d.db.QueryRowContext(ctx, selectRecordByID, id))
}

// ListPending returns up to limit outbox records, oldest first.
func (d *DB) ListPending(ctx context.Context, limit int) ([]*outbox.Record, error) {
	query := `
        SELECT id, aggregatetype, aggregateid, type, payload, created_at
        FROM outbox
        ORDER BY created_at ASC, id ASC
        LIMIT $1`

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, translate("list pending outbox records", err)
	}
	defer rows.Close()

	var records []*outbox.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Delete removes a relayed record. It returns storage.ErrNotFound when the
// record is already gone.
func (d *DB) Delete(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = $1`, id)
	if err != nil {
		return translate("delete outbox record", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return translate("delete outbox record "+id, sql.ErrNoRows)
	}
	return nil
}

// CountConsumedEvents counts dedup rows for id.
func (d *DB) CountConsumedEvents(ctx context.Context, id string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM consumed_event WHERE id = $1`, id).Scan(&n)
	return n, translate("count consumed events", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*outbox.Record, error) {
	rec := &outbox.Record{}
	var payload []byte
	err := row.Scan(
		&rec.ID,
		&rec.AggregateType,
		&rec.AggregateID,
		&rec.Type,
		&payload,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, translate("scan outbox record", err)
	}
	rec.Payload = payload
	return rec, nil
}
