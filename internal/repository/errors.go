package repository

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOptimisticLock is returned when a versioned update or delete
	// matched no row because the stored version has advanced since read.
	ErrOptimisticLock = errors.New("optimistic lock conflict")
)
