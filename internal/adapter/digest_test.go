package adapter

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestVerifySecret_Bcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := verifySecret("bcrypt", "s3cret", string(hash))
	if err != nil || !ok {
		t.Errorf("correct bcrypt secret: ok=%v err=%v", ok, err)
	}
	ok, err = verifySecret("bcrypt", "wrong", string(hash))
	if err != nil || ok {
		t.Errorf("wrong bcrypt secret: ok=%v err=%v", ok, err)
	}
	// A corrupt stored hash is a non-match, not an error.
	ok, err = verifySecret("bcrypt", "s3cret", "not-a-bcrypt-hash")
	if err != nil || ok {
		t.Errorf("corrupt stored hash: ok=%v err=%v", ok, err)
	}
}

func TestVerifySecret_FixedHashes(t *testing.T) {
	sha256Sum := sha256.Sum256([]byte("s3cret"))
	sha1Sum := sha1.Sum([]byte("s3cret"))
	md5Sum := md5.Sum([]byte("s3cret"))

	testCases := []struct {
		scheme string
		stored string
	}{
		{"sha256", hex.EncodeToString(sha256Sum[:])},
		{"sha1", hex.EncodeToString(sha1Sum[:])},
		{"md5", hex.EncodeToString(md5Sum[:])},
	}

	for _, tc := range testCases {
		ok, err := verifySecret(tc.scheme, "s3cret", tc.stored)
		if err != nil || !ok {
			t.Errorf("%s correct secret: ok=%v err=%v", tc.scheme, ok, err)
		}
		ok, err = verifySecret(tc.scheme, "wrong", tc.stored)
		if err != nil || ok {
			t.Errorf("%s wrong secret: ok=%v err=%v", tc.scheme, ok, err)
		}
		// Stored digests are matched case-insensitively.
		ok, err = verifySecret(tc.scheme, "s3cret", strings.ToUpper(tc.stored))
		if err != nil || !ok {
			t.Errorf("%s uppercase stored digest: ok=%v err=%v", tc.scheme, ok, err)
		}
	}
}

func TestVerifySecret_Plain(t *testing.T) {
	ok, err := verifySecret("plain", "s3cret", "s3cret")
	if err != nil || !ok {
		t.Errorf("plain correct: ok=%v err=%v", ok, err)
	}
	ok, err = verifySecret("plain", "s3cret", "other")
	if err != nil || ok {
		t.Errorf("plain wrong: ok=%v err=%v", ok, err)
	}
}

func TestVerifySecret_UnknownScheme(t *testing.T) {
	if _, err := verifySecret("argon2", "s3cret", "x"); err == nil {
		t.Error("unknown scheme should error")
	}
}
