package mfa

import (
	"context"
	"errors"
	"log"
	"time"

	"radius-auth-proxy/internal/mfa/repository"
)

// Gate screens credentials for identities with an enabled TOTP enrollment.
// The transport carries a single secret field, so enrolled users append
// their 6-digit code to the password; the gate strips and verifies that
// suffix before anything downstream sees the credential.
type Gate struct {
	repo repository.Repository
	skew uint
	now  func() time.Time
}

// NewGate returns a gate verifying codes against repo, accepting codes up to
// skew time steps either side of now.
func NewGate(repo repository.Repository, skew uint) *Gate {
	return &Gate{repo: repo, skew: skew, now: time.Now}
}

// Screen inspects the presented secret for identity. When the identity has
// no enabled enrollment the secret passes through untouched. When it does,
// the last 6 characters must verify as a current TOTP code or spend a backup
// code; base is then the secret with that suffix removed. ok=false is
// terminal: the caller must reject without consulting any backend.
//
// A secret of 6 characters or fewer cannot carry both a base credential and
// a code and is rejected outright, even if the code portion would have
// verified. Enrolled users therefore need base secrets longer than the code.
func (g *Gate) Screen(ctx context.Context, identity, secret string) (base string, ok bool) {
	enrollment, err := g.repo.Get(ctx, identity)
	if errors.Is(err, repository.ErrNotFound) {
		return secret, true
	}
	if err != nil {
		log.Printf("mfa: load enrollment for %s: %v", identity, err)
		return "", false
	}
	if !enrollment.Enabled {
		return secret, true
	}

	if len(secret) <= CodeDigits {
		log.Printf("mfa: %s enrolled but credential too short to carry a code", identity)
		return "", false
	}
	base = secret[:len(secret)-CodeDigits]
	code := secret[len(secret)-CodeDigits:]

	if ValidateCode(code, enrollment.Secret, g.now(), g.skew) {
		g.touch(ctx, identity)
		return base, true
	}

	// Not a live code; maybe a recovery code. Consumption is atomic, so a
	// replayed code fails here even if the first use raced this one.
	err = g.repo.ConsumeBackupCode(ctx, identity, CodeDigest(code))
	if err == nil {
		log.Printf("mfa: %s authenticated with a backup code", identity)
		g.touch(ctx, identity)
		return base, true
	}
	if !errors.Is(err, repository.ErrCodeUsed) && !errors.Is(err, repository.ErrNotFound) {
		log.Printf("mfa: consume backup code for %s: %v", identity, err)
	}
	return "", false
}

func (g *Gate) touch(ctx context.Context, identity string) {
	if err := g.repo.TouchLastUsed(ctx, identity); err != nil {
		log.Printf("mfa: touch last used for %s: %v", identity, err)
	}
}
