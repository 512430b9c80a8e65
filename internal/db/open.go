// Package db opens the configuration/MFA store and carries its embedded migrations.
//
// Two DSN families are supported: postgres:// (pgx stdlib driver) for shared
// deployments, and sqlite DSNs (modernc, cgo-free) for single-host installs.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DriverFor returns the database/sql driver name for the given DSN, or an
// error for DSN schemes this proxy does not support.
func DriverFor(dsn string) (string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", nil
	case strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"):
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database DSN %q", dsn)
	}
}

// Open opens the store for the given DSN and verifies connectivity.
// Caller must call Close when done.
func Open(dsn string) (*sql.DB, error) {
	driver, err := DriverFor(dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}
	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}
