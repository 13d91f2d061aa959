package sharing

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDuration  = errors.New("invalid link duration")
	ErrResourceNotFound = errors.New("resource not found")
	ErrForbidden        = errors.New("forbidden")
	ErrTokenNotFound    = errors.New("share token not found")
	ErrLinkExpired      = errors.New("share link expired")
	ErrLinkRevoked      = errors.New("share link revoked")
	ErrTokenExhausted   = errors.New("could not issue a unique share token")

	// errTokenCollision never leaves this package; CreateLink retries on it.
	errTokenCollision = errors.New("share token collision")
)

// InvalidDurationError reports the rejected value together with the
// accepted range so callers can correct their input.
type InvalidDurationError struct {
	Days    int
	MinDays int
	MaxDays int
}

func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("expiresInDays must be between %d and %d, got %d", e.MinDays, e.MaxDays, e.Days)
}

func (e *InvalidDurationError) Unwrap() error {
	return ErrInvalidDuration
}
