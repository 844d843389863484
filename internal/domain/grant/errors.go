package grant

import "errors"

var (
	// ErrGrantNotFound indicates the grant doesn't exist.
	ErrGrantNotFound = errors.New("grant not found")
	// ErrInvalidInput indicates invalid grant input.
	ErrInvalidInput = errors.New("invalid grant input")
	// ErrTenantNotFound indicates the grant references an unknown tenant.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrConflict indicates the grant was modified concurrently.
	ErrConflict = errors.New("grant modified concurrently")
	// ErrDuplicateGrant indicates a grant with the same ID already exists.
	ErrDuplicateGrant = errors.New("grant already exists")
	// ErrAlreadyInactive indicates the grant was already terminated.
	ErrAlreadyInactive = errors.New("grant already inactive")
)
