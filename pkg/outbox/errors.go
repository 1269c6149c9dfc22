package outbox

import (
	"errors"
	"fmt"

	"github.com/phillus33/outbox-inbox/pkg/storage"
)

var (
	ErrEventRequired      = errors.New("outbox event is required")
	ErrRecordRequired     = errors.New("outbox record is required")
	ErrInvalidRecord      = errors.New("invalid outbox record")
	ErrPayloadEncoding    = errors.New("failed to encode outbox payload")
	ErrEventIDMismatch    = errors.New("outbox record id does not match event id")
	ErrUnitOfWorkRequired = errors.New("unit of work is required")

	// ErrDuplicateEventID means the producer reused an id. It matches
	// storage.ErrUniqueViolation under errors.Is.
	ErrDuplicateEventID = fmt.Errorf("duplicate outbox event id: %w", storage.ErrUniqueViolation)
)
