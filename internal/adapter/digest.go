package adapter

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"radius-auth-proxy/internal/backend/domain"
)

// verifySecret compares a presented secret against a stored credential under
// the configured digest scheme. The fixed-hash families exist for legacy
// user stores; bcrypt is the scheme new deployments should configure.
// Comparison of hex digests and plaintext is constant-time.
func verifySecret(scheme, secret, stored string) (bool, error) {
	switch scheme {
	case "bcrypt":
		err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret))
		if err == nil {
			return true, nil
		}
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, nil
		}
		// Malformed stored hash; treat as a non-match, not an outage.
		return false, nil
	case "sha256":
		sum := sha256.Sum256([]byte(secret))
		return hexEqual(sum[:], stored), nil
	case "sha1":
		sum := sha1.Sum([]byte(secret))
		return hexEqual(sum[:], stored), nil
	case "md5":
		sum := md5.Sum([]byte(secret))
		return hexEqual(sum[:], stored), nil
	case "plain":
		return subtle.ConstantTimeCompare([]byte(secret), []byte(stored)) == 1, nil
	}
	return false, fmt.Errorf("%w: unsupported digest scheme %q", domain.ErrInvalidConfig, scheme)
}

func hexEqual(sum []byte, stored string) bool {
	computed := hex.EncodeToString(sum)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(stored))) == 1
}
