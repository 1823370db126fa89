package document

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the referenced document or revision does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidVersion rejects non-forced writes without a positive expected version.
	ErrInvalidVersion = errors.New("expected version must be a positive integer")
)

// VersionConflictError reports a non-forced write whose expected version is stale.
// It carries the server's current state so the caller can show both sides.
type VersionConflictError struct {
	DocumentID     string
	Expected       int
	Current        int
	CurrentContent string
	UpdatedAt      time.Time
	UpdatedBy      *string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on document %s: expected %d, current %d", e.DocumentID, e.Expected, e.Current)
}

// PersistenceError wraps an underlying storage failure. Callers may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable is always true; a storage failure leaves no partial state.
func (e *PersistenceError) Retryable() bool { return true }

// Persistence wraps err unless it already belongs to the taxonomy.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	var ce *VersionConflictError
	if errors.Is(err, ErrNotFound) || errors.As(err, &ce) || errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// AsConflict returns the conflict carried by err, if any.
func AsConflict(err error) (*VersionConflictError, bool) {
	var ce *VersionConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsPersistence reports whether err is a storage failure.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
