package sharing

import (
	"time"

	"github.com/sdko-org/sharelink/internal/models"
)

const (
	MinDurationDays = 1
	MaxDurationDays = 30
)

// Status is the derived state of a link at a point in time.
type Status int

const (
	StatusNotFound Status = iota
	StatusActive
	StatusExpired
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	case StatusRevoked:
		return "revoked"
	default:
		return "not_found"
	}
}

// ComputeExpiry returns issuedAt plus days. Durations outside
// [MinDurationDays, MaxDurationDays] are rejected, never clamped.
func ComputeExpiry(issuedAt time.Time, days int) (time.Time, error) {
	if err := ValidateDuration(days); err != nil {
		return time.Time{}, err
	}
	return issuedAt.Add(time.Duration(days) * 24 * time.Hour), nil
}

func ValidateDuration(days int) error {
	if days < MinDurationDays || days > MaxDurationDays {
		return &InvalidDurationError{Days: days, MinDays: MinDurationDays, MaxDays: MaxDurationDays}
	}
	return nil
}

// IsActive reports whether link grants access at now. A link expires
// exactly at ExpiresAt.
func IsActive(link *models.SharedLink, now time.Time) bool {
	return link.RevokedAt == nil && now.Before(link.ExpiresAt)
}

// Classify returns the link's status at now. Revocation takes precedence
// over expiry.
func Classify(link *models.SharedLink, now time.Time) Status {
	switch {
	case link == nil:
		return StatusNotFound
	case link.RevokedAt != nil:
		return StatusRevoked
	case !now.Before(link.ExpiresAt):
		return StatusExpired
	default:
		return StatusActive
	}
}
