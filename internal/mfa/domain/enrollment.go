package domain

import "time"

// Enrollment represents a user's TOTP registration (stored in
// mfa_enrollments table). BackupCodeDigests holds SHA-256 hex digests of the
// one-time recovery codes; the plain codes are shown once at enrollment and
// never stored.
type Enrollment struct {
	Identity          string
	Enabled           bool
	Secret            string
	BackupCodeDigests []string
	CreatedAt         time.Time
	LastUsedAt        *time.Time
}
