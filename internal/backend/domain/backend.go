// Package domain defines the identity-source configuration entity.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig marks malformed or incomplete adapter settings. Surfaced
// to the administrative caller on create/update; never swallowed.
var ErrInvalidConfig = errors.New("invalid backend configuration")

// Type identifies the kind of identity source a backend wraps.
type Type string

const (
	// TypeDirectory is an LDAP-style directory bind backend.
	TypeDirectory Type = "directory"
	// TypeRelational is a SQL user-table backend.
	TypeRelational Type = "relational"
	// TypeFile is a flat credential-file backend.
	TypeFile Type = "file"
)

// Types lists all valid backend types in a stable order.
func Types() []Type {
	return []Type{TypeDirectory, TypeRelational, TypeFile}
}

// ParseType validates a type string from config or an admin request.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeDirectory, TypeRelational, TypeFile:
		return Type(s), nil
	}
	return "", fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, s)
}

// Config is one configured identity source. ID is immutable once created.
// The router reads Configs in bulk when rebuilding its chain and never
// mutates them.
type Config struct {
	ID        string
	Type      Type
	Name      string
	Enabled   bool
	Priority  int
	Settings  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DigestSchemes accepted by the relational and file backends.
var DigestSchemes = []string{"bcrypt", "sha256", "sha1", "md5", "plain"}

// Validate checks the config for persistence: name, type, and the per-type
// required settings. All failures wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if _, err := ParseType(string(c.Type)); err != nil {
		return err
	}
	return ValidateSettings(c.Type, c.Settings)
}

// ValidateSettings checks the type-specific settings map. It is used both by
// Config.Validate and by the router's throwaway test-backend path, where no
// persisted Config exists yet.
func ValidateSettings(t Type, settings map[string]string) error {
	switch t {
	case TypeDirectory:
		if settings["server"] == "" {
			return fmt.Errorf("%w: directory backend requires server", ErrInvalidConfig)
		}
		if settings["bindDnFormat"] == "" {
			// Without a bind DN format the two-step service bind must be fully configured.
			for _, key := range []string{"serviceBindDn", "serviceBindPassword", "searchBase"} {
				if settings[key] == "" {
					return fmt.Errorf("%w: directory backend requires bindDnFormat or %s", ErrInvalidConfig, key)
				}
			}
		}
	case TypeRelational:
		for _, key := range []string{"connectionParams", "usersTable", "usernameColumn", "passwordColumn", "digestScheme"} {
			if settings[key] == "" {
				return fmt.Errorf("%w: relational backend requires %s", ErrInvalidConfig, key)
			}
		}
		return validateDigestScheme(settings["digestScheme"])
	case TypeFile:
		for _, key := range []string{"path", "digestScheme"} {
			if settings[key] == "" {
				return fmt.Errorf("%w: file backend requires %s", ErrInvalidConfig, key)
			}
		}
		return validateDigestScheme(settings["digestScheme"])
	default:
		return fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, t)
	}
	return nil
}

func validateDigestScheme(scheme string) error {
	for _, s := range DigestSchemes {
		if scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%w: unsupported digest scheme %q", ErrInvalidConfig, scheme)
}
