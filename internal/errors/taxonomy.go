package errors

import "fmt"

var (
	// ErrUnknownStrategy marks a fill or status event referencing a strategy
	// that was never registered. Fatal to the single event only.
	ErrUnknownStrategy = New("unknown strategy")

	// ErrDuplicateEvent marks a repeated fill id. Absorbed, never re-applied.
	ErrDuplicateEvent = New("duplicate event")

	// ErrPersistence marks a store write that failed after bounded retries.
	ErrPersistence = New("persistence failure")

	// ErrResidualAnomaly marks a reconciliation residual inconsistent with
	// the available strategy data. Recorded, never dropped.
	ErrResidualAnomaly = New("reconciliation residual anomaly")

	// ErrUnknownIndex marks an update targeting an index value that does not
	// exist in the series.
	ErrUnknownIndex = New("unknown index value")
)

// PersistenceError carries the failed operation and attempt count of a store
// write. It matches ErrPersistence under errors.Is.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func NewPersistence(op string, attempts int, err error) error {
	return &PersistenceError{Op: op, Attempts: attempts, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s failed after %d attempts%s%v", e.Op, e.Attempts, sep, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
