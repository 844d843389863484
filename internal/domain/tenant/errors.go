package tenant

import "errors"

var (
	// ErrTenantNotFound indicates the tenant doesn't exist.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrInvalidInput indicates invalid tenant input.
	ErrInvalidInput = errors.New("invalid tenant input")
	// ErrInvalidTimezone indicates the timezone is not a known IANA identifier.
	ErrInvalidTimezone = errors.New("invalid tenant timezone")
)
