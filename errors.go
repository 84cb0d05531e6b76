package modelrouter

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrNoAffordableModel     = errors.New("modelrouter: no affordable model")
	ErrAllProvidersExhausted = errors.New("modelrouter: all providers exhausted")
	ErrBudgetExceeded        = errors.New("modelrouter: budget exceeded")
	ErrProviderUnavailable   = errors.New("modelrouter: provider unavailable")
	ErrRateLimited           = errors.New("modelrouter: rate limited by provider")
	ErrAuthFailed            = errors.New("modelrouter: authentication failed")
	ErrInvalidRequest        = errors.New("modelrouter: invalid request")
	ErrModelNotFound         = errors.New("modelrouter: model not found")
	ErrTimeout               = errors.New("modelrouter: provider call timed out")
)

// RouterError wraps a routing failure with the context of the last attempt.
// Cause holds the last underlying provider error, if any.
type RouterError struct {
	Err      error
	Cause    error
	Provider string
	Model    string
	Attempts int
}

func (e *RouterError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v (provider=%s model=%s attempts=%d)", e.Err, e.Provider, e.Model, e.Attempts)
	}
	return fmt.Sprintf("%v (provider=%s model=%s attempts=%d): %v",
		e.Err, e.Provider, e.Model, e.Attempts, e.Cause)
}

func (e *RouterError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// IsRetryable returns true if the error is a transient provider failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrTimeout)
}
