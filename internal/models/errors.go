package models

import "errors"

// Shared error taxonomy. Callers classify with errors.Is; wrapped variants
// carry detail (e.g. fmt.Errorf("%w: prompt is required", ErrValidation)).
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrQuotaExceeded   = errors.New("generation limit reached, upgrade required")
	ErrValidation      = errors.New("invalid request")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinal    = errors.New("generation already finalized")
)
