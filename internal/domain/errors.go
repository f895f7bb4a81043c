package domain

import "errors"

// Error taxonomy of the venue core. Callers branch with errors.Is; the HTTP
// layer maps these onto status codes. ErrPersistence is the only one after
// which in-memory and durable state may diverge: the book has already been
// mutated and the cycle must not be retried as-is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrPersistence  = errors.New("ledger write failed")
)
