package backend

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a single addressed row does not exist.
var ErrNotFound = errors.New("not found")

// NetworkError wraps a failed query or subscription request (timeout,
// transport failure, backend error response). Stores catch it at their
// boundary and keep serving the last-known-good snapshot.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// SubscriptionError wraps a channel that could not be opened or torn down
// cleanly. It is surfaced once and does not block the initial fetch.
type SubscriptionError struct {
	Op  string
	Err error
}

func (e *SubscriptionError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *SubscriptionError) Unwrap() error { return e.Err }

// DataIntegrityError records a dangling reference: a Membership or Message
// row whose User (or Chat) is missing. Derivation treats it as non-fatal.
type DataIntegrityError struct {
	Resource Resource
	RowID    string
	Ref      string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("dangling reference in %s row %s: missing %s", e.Resource, e.RowID, e.Ref)
}
