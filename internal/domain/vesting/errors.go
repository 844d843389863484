package vesting

import "errors"

var (
	// ErrInvalidRequest indicates missing identifiers or an invalid as-of date.
	ErrInvalidRequest = errors.New("invalid vesting request")
	// ErrGrantNotFound indicates the grant doesn't exist.
	ErrGrantNotFound = errors.New("grant not found")
	// ErrGrantInactive indicates a manual entry against an inactive grant.
	ErrGrantInactive = errors.New("grant is not active")
	// ErrInvalidShares indicates a non-positive share count or one with more than 3 decimals.
	ErrInvalidShares = errors.New("invalid share amount")
	// ErrExceedsGrant indicates the event would vest more than the grant's share amount.
	ErrExceedsGrant = errors.New("vesting would exceed granted shares")
	// ErrDuplicateVestDate indicates a manual event for a date that already vested.
	ErrDuplicateVestDate = errors.New("vesting event already recorded for date")
	// ErrReconcileExhausted indicates the aggregate could not be rewritten after repeated conflicts.
	ErrReconcileExhausted = errors.New("vested amount reconciliation exhausted retries")
)
