// Package storage holds the error values shared between the outbox and inbox
// cores and the storage adapters that implement their capability interfaces.
// Adapters wrap driver errors with these sentinels so the cores never import a
// database driver.
package storage

import "errors"

var (
	// ErrUniqueViolation is returned when an insert collides with an existing
	// primary key.
	ErrUniqueViolation = errors.New("unique constraint violation")
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("record not found")
)
