package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeUsersFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users")
	if err := os.WriteFile(path, []byte(lines), 0o600); err != nil {
		t.Fatalf("write users file: %v", err)
	}
	return path
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestFileAdapter_Authenticate(t *testing.T) {
	path := writeUsersFile(t, fmt.Sprintf(`# test users
alice %s Filter-Id=staff,Session-Timeout=3600
bob %s
`, sha256Hex("alice-pw"), sha256Hex("bob-pw")))

	a := newFileAdapter("users-file", map[string]string{"path": path, "digestScheme": "sha256"})
	ctx := context.Background()

	granted, attrs, err := a.Authenticate(ctx, "alice", "alice-pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !granted {
		t.Fatal("correct secret should be granted")
	}
	if attrs["Filter-Id"] != "staff" || attrs["Session-Timeout"] != "3600" {
		t.Errorf("attributes = %v", attrs)
	}

	granted, attrs, err = a.Authenticate(ctx, "bob", "bob-pw")
	if err != nil || !granted {
		t.Fatalf("bob: granted=%v err=%v", granted, err)
	}
	if attrs != nil {
		t.Errorf("bob has no inline attributes, got %v", attrs)
	}

	granted, _, err = a.Authenticate(ctx, "alice", "wrong")
	if err != nil || granted {
		t.Errorf("wrong secret: granted=%v err=%v", granted, err)
	}
	granted, _, err = a.Authenticate(ctx, "mallory", "alice-pw")
	if err != nil || granted {
		t.Errorf("unknown identity: granted=%v err=%v", granted, err)
	}
}

func TestFileAdapter_EmptyCredentials(t *testing.T) {
	path := writeUsersFile(t, "alice pw\n")
	a := newFileAdapter("users-file", map[string]string{"path": path, "digestScheme": "plain"})

	if granted, _, _ := a.Authenticate(context.Background(), "", "pw"); granted {
		t.Error("empty identity must not be granted")
	}
	if granted, _, _ := a.Authenticate(context.Background(), "alice", ""); granted {
		t.Error("empty secret must not be granted")
	}
}

func TestFileAdapter_MissingFileIsUnavailable(t *testing.T) {
	a := newFileAdapter("users-file", map[string]string{"path": "/nonexistent/users", "digestScheme": "plain"})

	_, _, err := a.Authenticate(context.Background(), "alice", "pw")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("missing file error = %v, want ErrUnavailable", err)
	}

	ok, msg := a.TestConnection(context.Background())
	if ok {
		t.Errorf("TestConnection on missing file should fail, got %q", msg)
	}
}

func TestFileAdapter_PicksUpExternalEdits(t *testing.T) {
	path := writeUsersFile(t, "alice old-pw\n")
	a := newFileAdapter("users-file", map[string]string{"path": path, "digestScheme": "plain"})
	ctx := context.Background()

	granted, _, err := a.Authenticate(ctx, "alice", "old-pw")
	if err != nil || !granted {
		t.Fatalf("initial secret: granted=%v err=%v", granted, err)
	}

	// Rewrite the file out from under the adapter; bump mtime explicitly in
	// case the filesystem's resolution is coarse.
	if err := os.WriteFile(path, []byte("alice new-pw\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	granted, _, err = a.Authenticate(ctx, "alice", "new-pw")
	if err != nil || !granted {
		t.Errorf("edited secret: granted=%v err=%v", granted, err)
	}
	granted, _, _ = a.Authenticate(ctx, "alice", "old-pw")
	if granted {
		t.Error("old secret should no longer be accepted")
	}
}

func TestFileAdapter_TestConnection(t *testing.T) {
	path := writeUsersFile(t, "alice pw\nbob pw\n#comment\n\n")
	a := newFileAdapter("users-file", map[string]string{"path": path, "digestScheme": "plain"})

	ok, msg := a.TestConnection(context.Background())
	if !ok {
		t.Fatalf("TestConnection failed: %s", msg)
	}
	if msg == "" {
		t.Error("TestConnection should describe the outcome")
	}
}

func TestParseAttributeList(t *testing.T) {
	attrs := parseAttributeList("Filter-Id=staff, Session-Timeout=3600,malformed,=empty")
	if len(attrs) != 2 {
		t.Fatalf("attrs = %v, want 2 entries", attrs)
	}
	if attrs["Filter-Id"] != "staff" || attrs["Session-Timeout"] != "3600" {
		t.Errorf("attrs = %v", attrs)
	}
	if parseAttributeList("garbage") != nil {
		t.Error("attribute list with no pairs should be nil")
	}
}
