package reservation

import "errors"

// Error kinds surfaced by the engine. Callers test with errors.Is; the HTTP
// layer maps them to response codes.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid reservation state")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
)
