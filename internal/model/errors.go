package model

import (
	"errors"
	"fmt"
)

// ErrConflictUnresolvable marks two explicit, equally specific, equally
// recent signals that directly contradict. The decision engine resolves it
// by asking for clarification instead of silently picking a winner.
var ErrConflictUnresolvable = errors.New("conflict unresolvable: tier, specificity and recency all tie")

// ErrIndexInconsistency marks divergence between the similarity index and
// the store. The read that hit it rebuilds the index and retries once.
var ErrIndexInconsistency = errors.New("similarity index inconsistent with store")

// ValidationError rejects malformed input before any mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a reference to a nonexistent record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
