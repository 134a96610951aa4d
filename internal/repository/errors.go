package repository

import "errors"

var (
	// ErrInsufficientBalance is returned when a debit would push the derived
	// balance below zero. User-facing, non-retryable.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrencyConflict means a guarded status transition lost a race.
	// Callers retry once transparently.
	ErrConcurrencyConflict = errors.New("concurrent modification conflict")

	// ErrAlreadyRefunded guards against double-refund of one purchase.
	ErrAlreadyRefunded = errors.New("transaction already refunded")
)
