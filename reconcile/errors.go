package reconcile

import (
	"errors"
	"fmt"

	"github.com/irsalhamdi/course-reconcile/provider"
)

var (
	// ErrConstraint is a corrective write rejected by a local constraint. It
	// fails the single discrepancy, not the run.
	ErrConstraint = errors.New("local constraint violated")

	// ErrAlreadyApplied is returned by a ledger when the APPLIED record for
	// the same tenant, external id and action already exists.
	ErrAlreadyApplied = errors.New("correction already applied")

	// ErrLedgerUnavailable is a connection or lock fault of the local
	// database. It aborts the run.
	ErrLedgerUnavailable = errors.New("local ledger unavailable")

	ErrInvalidRequest = errors.New("invalid reconciliation request")
	ErrAlreadyRunning = errors.New("reconciliation already running for tenant")
	ErrNotPermitted   = errors.New("not permitted")
	ErrTimeout        = errors.New("reconciliation run timed out")

	// ErrLockLost is the cancellation cause of a run whose tenant lock
	// expired or was taken while it was running.
	ErrLockLost = errors.New("reconciliation lock lost")
)

// RunError is returned when a run ends in FAILED. Report holds everything
// classified or applied before the failure and Cursor is where a later run
// may resume fetching.
type RunError struct {
	State  State
	Cursor provider.Cursor
	Report Report
	Err    error
}

func (e *RunError) Error() string {
	if e.Cursor != "" {
		return fmt.Sprintf("reconciliation failed while %s (resume at %q): %v", e.State, e.Cursor, e.Err)
	}
	return fmt.Sprintf("reconciliation failed while %s: %v", e.State, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
