package apperrors

import "errors"

// Planning errors
var (
	// ErrConfiguration is fatal at optimizer construction and must not be retried
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation rejects a signal before planning
	ErrValidation = errors.New("validation error")
	// ErrEstimation means the cost estimate could not be produced
	ErrEstimation = errors.New("estimation error")
)

// Standardized broker errors seen by the plan runner
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
)

// IsTransient reports whether a broker error is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimitExceeded)
}
