package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSoulNotFound is returned when no soul exists for a hash.
	ErrSoulNotFound = errors.New("soul not found")
	// ErrAliasNotFound is returned when an alias has no binding.
	ErrAliasNotFound = errors.New("alias not found")
	// ErrBeingNotFound is returned when no being exists for an id or alias.
	ErrBeingNotFound = errors.New("being not found")
	// ErrRelationshipNotFound is returned when no relationship exists for an id.
	ErrRelationshipNotFound = errors.New("relationship not found")
	// ErrEntityNotFound is returned when a relationship endpoint references
	// neither a soul hash nor a being id.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrConflict is returned by optimistic updates that lost the race; the
	// being store retries these internally.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrDuplicateAlias is returned when a being alias is already taken.
	ErrDuplicateAlias = errors.New("alias already in use")
)

// StorageError wraps a backend failure with the operation that produced it.
// Retryable signals transient conditions (connection loss, aborted
// transactions) as opposed to structural ones.
type StorageError struct {
	Op        string
	Err       error
	Retryable bool
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure in %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying driver error for errors.Is/As.
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a StorageError for operation op.
func NewStorageError(op string, err error, retryable bool) *StorageError {
	return &StorageError{Op: op, Err: err, Retryable: retryable}
}
