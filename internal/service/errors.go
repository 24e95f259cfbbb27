package service

import (
	"errors"
	"fmt"
)

// Failure taxonomy for the workflow surface. Oracle communication
// failures keep their own typed errors (internal/oracle); everything
// else funnels through these.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	// ErrDuplicate marks an idempotency hit at create-if-absent.
	ErrDuplicate = errors.New("duplicate response")
	// ErrNoProposals is the explicit "nothing to compare yet" marker,
	// not a failure.
	ErrNoProposals = errors.New("no responses yet")
	// ErrComparisonInvalid means the comparison oracle output failed a
	// hard structural check; the caller must fall back to raw proposals.
	ErrComparisonInvalid = errors.New("comparison output invalid")
)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
