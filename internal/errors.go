package internal

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrPhase             = errors.New("action not allowed in current phase")
	ErrAuth              = errors.New("not authorized")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPersistence       = errors.New("persistence error")
	ErrNotFound          = errors.New("not found")
)
