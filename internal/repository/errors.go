package repository

import "errors"

// Store adapters translate driver errors into these so services can branch
// on them without knowing the backend.
var (
	// ErrNotFound means no row matched the tenant-scoped lookup.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a version-checked update matched an existing row
	// whose version had moved on.
	ErrConflict = errors.New("conflict: entity was modified concurrently")

	// ErrDuplicate means a unique key, such as a grant or tenant ID, is taken.
	ErrDuplicate = errors.New("duplicate entity")

	// ErrForeignKeyViolation means a referenced tenant or grant is missing.
	ErrForeignKeyViolation = errors.New("foreign key violation")
)
