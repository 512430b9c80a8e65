package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"radius-auth-proxy/internal/mfa/domain"
)

// SQLRepository persists enrollments in the mfa_enrollments table.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository returns an enrollment repository backed by db.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Upsert(ctx context.Context, e *domain.Enrollment) error {
	codes, err := json.Marshal(e.BackupCodeDigests)
	if err != nil {
		return fmt.Errorf("marshal backup codes: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO mfa_enrollments (identity, enabled, totp_secret, backup_codes_json, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity) DO UPDATE SET
			enabled = excluded.enabled,
			totp_secret = excluded.totp_secret,
			backup_codes_json = excluded.backup_codes_json,
			last_used_at = excluded.last_used_at`,
		e.Identity, e.Enabled, e.Secret, string(codes), e.CreatedAt, e.LastUsedAt)
	if err != nil {
		return fmt.Errorf("upsert enrollment: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, identity string) (*domain.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT identity, enabled, totp_secret, backup_codes_json, created_at, last_used_at
		FROM mfa_enrollments WHERE identity = $1`, identity)
	return scanEnrollment(row)
}

func (r *SQLRepository) SetEnabled(ctx context.Context, identity string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mfa_enrollments SET enabled = $1 WHERE identity = $2`, enabled, identity)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLRepository) Delete(ctx context.Context, identity string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM mfa_enrollments WHERE identity = $1`, identity)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return requireOneRow(res)
}

// ConsumeBackupCode removes digest from the identity's remaining codes in a
// single transaction so two concurrent attempts cannot both spend the same
// code.
func (r *SQLRepository) ConsumeBackupCode(ctx context.Context, identity, digest string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT backup_codes_json FROM mfa_enrollments WHERE identity = $1`, identity).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load backup codes: %w", err)
	}

	var digests []string
	if err := json.Unmarshal([]byte(raw), &digests); err != nil {
		return fmt.Errorf("decode backup codes: %w", err)
	}
	remaining := digests[:0]
	found := false
	for _, d := range digests {
		if !found && d == digest {
			found = true
			continue
		}
		remaining = append(remaining, d)
	}
	if !found {
		return ErrCodeUsed
	}

	updated, err := json.Marshal(remaining)
	if err != nil {
		return fmt.Errorf("marshal backup codes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE mfa_enrollments SET backup_codes_json = $1 WHERE identity = $2`,
		string(updated), identity); err != nil {
		return fmt.Errorf("store backup codes: %w", err)
	}
	return tx.Commit()
}

func (r *SQLRepository) TouchLastUsed(ctx context.Context, identity string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mfa_enrollments SET last_used_at = $1 WHERE identity = $2`,
		time.Now().UTC(), identity)
	if err != nil {
		return fmt.Errorf("touch last used: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLRepository) List(ctx context.Context) ([]*domain.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT identity, enabled, totp_secret, backup_codes_json, created_at, last_used_at
		FROM mfa_enrollments ORDER BY identity ASC`)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row rowScanner) (*domain.Enrollment, error) {
	var (
		e        domain.Enrollment
		codes    string
		lastUsed sql.NullTime
	)
	err := row.Scan(&e.Identity, &e.Enabled, &e.Secret, &codes, &e.CreatedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan enrollment: %w", err)
	}
	if err := json.Unmarshal([]byte(codes), &e.BackupCodeDigests); err != nil {
		return nil, fmt.Errorf("decode backup codes: %w", err)
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		e.LastUsedAt = &t
	}
	return &e, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
