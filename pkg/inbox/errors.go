package inbox

import (
	"errors"
	"fmt"

	"github.com/phillus33/outbox-inbox/pkg/storage"
)

var (
	ErrEventRequired      = errors.New("received event is required")
	ErrEventIDRequired    = errors.New("received event id is required")
	ErrUnitOfWorkRequired = errors.New("unit of work is required")

	// ErrAlreadyConsumed reports a redelivered event. It is a normal branch,
	// not a failure, and matches storage.ErrUniqueViolation under errors.Is.
	ErrAlreadyConsumed = fmt.Errorf("event already consumed: %w", storage.ErrUniqueViolation)
)
