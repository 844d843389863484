package api

import (
	"errors"
	"fmt"

	"github.com/weeargh/kiwi/internal/domain/audit"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/price"
	"github.com/weeargh/kiwi/internal/domain/tenant"
	"github.com/weeargh/kiwi/internal/domain/vesting"
)

// JSON-RPC error codes. The -32000 range is reserved for application errors.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeNotFound       = -32004
	CodeConflict       = -32009
	CodeRuleViolation  = -32010
)

// Error is an application error carried in a JSON-RPC error response.
type Error struct {
	Code         int    `json:"code"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// MapError maps domain errors to API errors. It returns nil for errors it
// does not recognize, which callers report as internal errors.
func MapError(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	msg := err.Error()
	switch {
	case errors.Is(err, grant.ErrGrantNotFound), errors.Is(err, vesting.ErrGrantNotFound):
		return &Error{Code: CodeNotFound, Kind: "GRANT_NOT_FOUND", Message: msg, RecoveryHint: "Check the grant ID"}
	case errors.Is(err, tenant.ErrTenantNotFound), errors.Is(err, grant.ErrTenantNotFound):
		return &Error{Code: CodeNotFound, Kind: "TENANT_NOT_FOUND", Message: msg}
	case errors.Is(err, grant.ErrConflict):
		return &Error{Code: CodeConflict, Kind: "CONFLICT", Message: msg, RecoveryHint: "Reload the grant and retry"}
	case errors.Is(err, grant.ErrDuplicateGrant):
		return &Error{Code: CodeConflict, Kind: "DUPLICATE_GRANT", Message: msg}
	case errors.Is(err, grant.ErrAlreadyInactive):
		return &Error{Code: CodeConflict, Kind: "GRANT_INACTIVE", Message: msg}
	case errors.Is(err, vesting.ErrDuplicateVestDate):
		return &Error{Code: CodeConflict, Kind: "DUPLICATE_VEST_DATE", Message: msg, RecoveryHint: "Pick a date with no recorded event"}
	case errors.Is(err, vesting.ErrReconcileExhausted):
		return &Error{Code: CodeConflict, Kind: "RECONCILE_EXHAUSTED", Message: msg, RecoveryHint: "Retry; the ledger is intact"}
	case errors.Is(err, vesting.ErrExceedsGrant):
		return &Error{Code: CodeRuleViolation, Kind: "EXCEEDS_GRANT", Message: msg}
	case errors.Is(err, vesting.ErrGrantInactive):
		return &Error{Code: CodeRuleViolation, Kind: "GRANT_INACTIVE", Message: msg}
	case errors.Is(err, vesting.ErrInvalidShares):
		return &Error{Code: CodeInvalidParams, Kind: "INVALID_SHARES", Message: msg, RecoveryHint: "Use a positive amount with at most 3 decimals"}
	case errors.Is(err, tenant.ErrInvalidTimezone):
		return &Error{Code: CodeInvalidParams, Kind: "INVALID_TIMEZONE", Message: msg}
	case errors.Is(err, vesting.ErrInvalidRequest),
		errors.Is(err, grant.ErrInvalidInput),
		errors.Is(err, tenant.ErrInvalidInput),
		errors.Is(err, price.ErrInvalidInput),
		errors.Is(err, audit.ErrInvalidInput):
		return &Error{Code: CodeInvalidParams, Kind: "INVALID_INPUT", Message: msg}
	default:
		return nil
	}
}

func invalidParams(err error) *Error {
	return &Error{Code: CodeInvalidParams, Kind: "INVALID_PARAMS", Message: err.Error()}
}

func mapError(err error) error {
	if apiErr := MapError(err); apiErr != nil {
		return apiErr
	}
	return err
}
