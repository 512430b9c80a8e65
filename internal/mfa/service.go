package mfa

import (
	"context"
	"fmt"

	"radius-auth-proxy/internal/mfa/domain"
	"radius-auth-proxy/internal/mfa/repository"
)

// Enrollment is the one-time handout from a successful Enroll call. The
// secret and backup codes appear here and nowhere else in plain form.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// Service owns the administrative lifecycle of TOTP enrollments.
type Service struct {
	repo   repository.Repository
	issuer string
}

// NewService returns an enrollment service writing through repo. issuer is
// the label shown in authenticator apps.
func NewService(repo repository.Repository, issuer string) *Service {
	return &Service{repo: repo, issuer: issuer}
}

// Enroll provisions a fresh secret and backup codes for identity, replacing
// any previous enrollment. The caller must relay the returned material to
// the user immediately; it cannot be recovered later.
func (s *Service) Enroll(ctx context.Context, identity string) (*Enrollment, error) {
	key, err := GenerateKey(s.issuer, identity)
	if err != nil {
		return nil, err
	}
	codes, digests, err := GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	err = s.repo.Upsert(ctx, &domain.Enrollment{
		Identity:          identity,
		Enabled:           true,
		Secret:            key.Secret(),
		BackupCodeDigests: digests,
	})
	if err != nil {
		return nil, fmt.Errorf("store enrollment: %w", err)
	}
	return &Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     codes,
	}, nil
}

// RegenerateBackupCodes replaces the identity's remaining backup codes with
// a fresh set, invalidating any unspent ones.
func (s *Service) RegenerateBackupCodes(ctx context.Context, identity string) ([]string, error) {
	e, err := s.repo.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	codes, digests, err := GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	e.BackupCodeDigests = digests
	if err := s.repo.Upsert(ctx, e); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}
	return codes, nil
}

// Disable suspends the enrollment without discarding the secret.
func (s *Service) Disable(ctx context.Context, identity string) error {
	return s.repo.SetEnabled(ctx, identity, false)
}

// Enable resumes a previously disabled enrollment.
func (s *Service) Enable(ctx context.Context, identity string) error {
	return s.repo.SetEnabled(ctx, identity, true)
}

// Remove deletes the enrollment entirely. A later Enroll starts from
// scratch with a new secret.
func (s *Service) Remove(ctx context.Context, identity string) error {
	return s.repo.Delete(ctx, identity)
}

// Status returns the stored enrollment for identity.
func (s *Service) Status(ctx context.Context, identity string) (*domain.Enrollment, error) {
	return s.repo.Get(ctx, identity)
}

// List returns every enrollment, ordered by identity.
func (s *Service) List(ctx context.Context) ([]*domain.Enrollment, error) {
	return s.repo.List(ctx)
}
