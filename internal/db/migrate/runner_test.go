package migrate

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	if err := Run("", "up"); err == nil {
		t.Fatal("Run with empty DSN should return error")
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "sideways", "UP", "Down"} {
		if err := Run("postgres://localhost/test", direction); err == nil {
			t.Errorf("Run with direction %q should return error", direction)
		}
	}
}

func TestRun_SQLiteUpDown(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "proxy.db")

	if err := Run(dsn, "up"); err != nil {
		t.Fatalf("Run up: %v", err)
	}
	// Second up is a no-op, not an error.
	if err := Run(dsn, "up"); err != nil {
		t.Fatalf("Run up (repeat): %v", err)
	}
	if err := Run(dsn, "down"); err != nil {
		t.Fatalf("Run down: %v", err)
	}
}

func TestRun_BareSQLitePath(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "proxy.db")
	if err := Run(dsn, "up"); err != nil {
		t.Fatalf("Run up with bare sqlite path: %v", err)
	}
}

func TestErrNoChange(t *testing.T) {
	if ErrNoChange == nil {
		t.Fatal("ErrNoChange should not be nil")
	}
	if !errors.Is(ErrNoChange, ErrNoChange) {
		t.Error("ErrNoChange should be errors.Is compatible")
	}
}
