package scanning

import (
	"errors"
	"fmt"
)

// ValidationError is a business-rule rejection of a requested transition.
// It is never retried; the reason is shown to the operator as-is.
type ValidationError struct {
	Reason        string
	CurrentStatus string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scan rejected: %s (current status %s)", e.Reason, e.CurrentStatus)
}

// NotFoundError means the scanned number matches no known ticket.
type NotFoundError struct {
	TicketNumber string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ticket %s not found", e.TicketNumber)
}

// TransientError wraps storage or lock failures that are safe to retry:
// the executor re-validates against the persisted state at commit time,
// so replaying a scan can never double-apply it. A lost race on the same
// ticket surfaces as a TransientError too; the retry then resolves to a
// ValidationError once the winner's write is visible.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should go back into the retry loop.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
