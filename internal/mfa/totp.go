// Package mfa implements the time-based second factor: TOTP enrollment,
// verification of codes appended to the password, and single-use backup
// codes for when the authenticator is lost.
package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// CodeDigits is the length of a TOTP code and therefore of the suffix
	// split off the presented secret.
	CodeDigits = 6

	codePeriod = 30 * time.Second

	backupCodeCount = 10
	backupCodeBytes = 4
)

// GenerateKey provisions a fresh TOTP secret for identity. The returned key
// exposes both the base32 secret and the otpauth:// URI an authenticator app
// scans.
func GenerateKey(issuer, identity string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: identity,
		Period:      uint(codePeriod / time.Second),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}
	return key, nil
}

// ValidateCode checks a 6-digit code against the base32 secret at time now,
// accepting codes up to skew periods either side of the current one.
func ValidateCode(code, secret string, now time.Time, skew uint) bool {
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    uint(codePeriod / time.Second),
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateBackupCodes returns backupCodeCount fresh recovery codes, each 8
// uppercase hex characters, together with their SHA-256 digests. The plain
// codes are for the user's eyes once; only the digests are persisted.
func GenerateBackupCodes() (codes, digests []string, err error) {
	codes = make([]string, backupCodeCount)
	digests = make([]string, backupCodeCount)
	for i := range codes {
		b := make([]byte, backupCodeBytes)
		if _, err := rand.Read(b); err != nil {
			return nil, nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes[i] = strings.ToUpper(hex.EncodeToString(b))
		digests[i] = CodeDigest(codes[i])
	}
	return codes, digests, nil
}

// CodeDigest returns the SHA-256 hex digest of a backup code. Codes are
// case-insensitive; they are normalized to upper case before hashing.
func CodeDigest(code string) string {
	h := sha256.Sum256([]byte(strings.ToUpper(code)))
	return hex.EncodeToString(h[:])
}
