package repository

import (
	"context"
	"errors"

	"radius-auth-proxy/internal/mfa/domain"
)

// ErrNotFound is returned when no enrollment exists for the identity.
var ErrNotFound = errors.New("mfa: enrollment not found")

// ErrCodeUsed is returned when a presented backup code digest does not match
// any remaining unused code.
var ErrCodeUsed = errors.New("mfa: backup code not available")

// Repository defines persistence for TOTP enrollments.
type Repository interface {
	// Upsert stores the enrollment, replacing any existing one for the
	// same identity.
	Upsert(ctx context.Context, e *domain.Enrollment) error
	// Get returns the enrollment for identity, or ErrNotFound.
	Get(ctx context.Context, identity string) (*domain.Enrollment, error)
	// SetEnabled flips the enabled flag without touching the secret, so a
	// temporarily suspended enrollment can resume with the same
	// authenticator.
	SetEnabled(ctx context.Context, identity string, enabled bool) error
	// Delete removes the enrollment entirely.
	Delete(ctx context.Context, identity string) error
	// ConsumeBackupCode atomically removes digest from the identity's
	// remaining codes. ErrCodeUsed when the digest is absent, which covers
	// both never-issued and already-spent codes.
	ConsumeBackupCode(ctx context.Context, identity, digest string) error
	// TouchLastUsed stamps the enrollment with the time of a successful
	// second-factor verification.
	TouchLastUsed(ctx context.Context, identity string) error
	// List returns all enrollments ordered by identity.
	List(ctx context.Context) ([]*domain.Enrollment, error)
}
