package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/phillus33/outbox-inbox/pkg/storage"
)

const uniqueViolationCode = "23505"

var (
	ErrTxRequired = errors.New("postgres transaction is required")
	ErrDBRequired = errors.New("postgres connection is required")
)

// IsUniqueViolation reports whether err is a primary key / unique index
// violation raised by either the lib/pq or the pgx driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}

	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// translate maps driver errors onto the storage sentinels.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, storage.ErrUniqueViolation, err)
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
