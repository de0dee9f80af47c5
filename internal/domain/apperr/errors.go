package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Taxonomy shared by the engine services. Transport layers map these with
// errors.Is and never leak the wrapped detail.
var (
	ErrValidation       = errors.New("validation error")
	ErrRateLimited      = errors.New("rate limited")
	ErrAlreadyDecided   = errors.New("already decided")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// IsInfrastructure reports whether err came from the store or cache tiers.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrCacheUnavailable)
}

// LimitError is a rate refusal carrying the wait until the next slot frees.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *LimitError) Unwrap() error {
	return ErrRateLimited
}

func RateLimited(retryAfter time.Duration) error {
	return &LimitError{RetryAfter: retryAfter}
}

// RetryAfter extracts the wait from a rate refusal anywhere in the chain.
func RetryAfter(err error) (time.Duration, bool) {
	var limitErr *LimitError
	if errors.As(err, &limitErr) {
		return limitErr.RetryAfter, true
	}
	return 0, false
}
