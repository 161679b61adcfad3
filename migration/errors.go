package migration

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotImplemented   = errors.New("migration direction is not implemented")
	ErrUnrevertable     = errors.New("migration cannot be reverted")
	ErrDuplicateVersion = errors.New("duplicate migration version")
	ErrUnregisteredUnit = errors.New("no unit registered for migration version")
	ErrMissingSource    = errors.New("installed migration has no source")
)

// DiscoveryError means the migration source could not be read or
// describes an inconsistent set of migrations
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("migration discovery failed at [%s]: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ExecutionError is a statement rejected by the backend.
// Code holds the backend native error code when it could be extracted.
type ExecutionError struct {
	Version   Version
	Statement string
	Code      string
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("migration %s: statement [%s] failed with code %s: %v", e.Version, e.Statement, e.Code, e.Err)
	}

	return fmt.Sprintf("migration %s: statement [%s] failed: %v", e.Version, e.Statement, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// StorageError is an unexpected failure of the bookkeeping table
type StorageError struct {
	Op      string
	Version Version
	Err     error
}

func (e *StorageError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("migration storage %s of version %s failed: %v", e.Op, e.Version, e.Err)
	}

	return fmt.Sprintf("migration storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(op string, v Version, err error) *StorageError {
	return &StorageError{Op: op, Version: v, Err: err}
}
