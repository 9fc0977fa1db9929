package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrValidation      = errors.New("validation failed")
	ErrUnavailable     = errors.New("downstream service unavailable")
	ErrNotFound        = errors.New("downstream resource not found")
)
