// Package adapter implements the identity-source backends the router walks:
// directory (LDAP bind), relational (SQL lookup), and file (flat credential
// table). All three satisfy the same contract and are built through New from
// a validated backend configuration.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"radius-auth-proxy/internal/backend/domain"
)

// ErrUnavailable marks genuine connectivity or upstream-configuration
// failures reaching an identity source. A wrong credential is never an
// error; it is a plain granted=false. The router treats both the same way
// (try the next adapter) but logs them differently.
var ErrUnavailable = errors.New("backend unavailable")

// Adapter is the capability contract every identity source satisfies.
type Adapter interface {
	// Name returns the administrator-facing display name.
	Name() string
	// Type returns the backend type this adapter wraps.
	Type() domain.Type
	// Authenticate verifies identity/secret. Wrong credentials return
	// (false, nil, nil); connectivity problems return an error wrapping
	// ErrUnavailable. On success the returned map holds reply attributes
	// for the network access server and may be empty.
	Authenticate(ctx context.Context, identity, secret string) (bool, map[string]string, error)
	// TestConnection checks reachability and configuration for
	// administrative diagnostics. Never consulted during live
	// authentication.
	TestConnection(ctx context.Context) (bool, string)
}

// New builds a live adapter from a backend configuration. Settings are
// validated first so a malformed config surfaces as domain.ErrInvalidConfig
// rather than a latent runtime failure.
func New(cfg *domain.Config) (Adapter, error) {
	if err := domain.ValidateSettings(cfg.Type, cfg.Settings); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case domain.TypeDirectory:
		return newDirectoryAdapter(cfg.Name, cfg.Settings), nil
	case domain.TypeRelational:
		return newRelationalAdapter(cfg.Name, cfg.Settings)
	case domain.TypeFile:
		return newFileAdapter(cfg.Name, cfg.Settings), nil
	}
	return nil, fmt.Errorf("%w: unknown backend type %q", domain.ErrInvalidConfig, cfg.Type)
}
