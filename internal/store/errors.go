package store

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a record does not exist or is not
	// visible to the requesting user.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a write violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")

	// ErrUnknownKind is returned for an attribute kind without a table.
	ErrUnknownKind = errors.New("unknown attribute kind")
)

const uniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
