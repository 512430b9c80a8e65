package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"radius-auth-proxy/internal/backend/domain"
)

// SQLRepository stores backend configurations in the auth_backends table.
// Settings maps are stored as JSON so each backend type can carry its own
// keys without schema churn.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository returns a backend config repository backed by the given db.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Create persists the config after validating it. Assigns ID and timestamps
// when unset. Returns ErrNameTaken if (type, name) already exists.
func (r *SQLRepository) Create(ctx context.Context, cfg *domain.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	settings, err := json.Marshal(cfg.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auth_backends (id, backend_type, name, enabled, priority, settings_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cfg.ID, string(cfg.Type), cfg.Name, cfg.Enabled, cfg.Priority, string(settings), cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrNameTaken
	}
	return err
}

// Update replaces name, enabled, priority, and settings for cfg.ID.
func (r *SQLRepository) Update(ctx context.Context, cfg *domain.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	settings, err := json.Marshal(cfg.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	cfg.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE auth_backends
		SET name = $1, enabled = $2, priority = $3, settings_json = $4, updated_at = $5
		WHERE id = $6`,
		cfg.Name, cfg.Enabled, cfg.Priority, string(settings), cfg.UpdatedAt, cfg.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameTaken
		}
		return err
	}
	return requireOneRow(res)
}

// Delete removes the config by ID.
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_backends WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// GetByID returns the config for id, or ErrNotFound.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*domain.Config, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, backend_type, name, enabled, priority, settings_json, created_at, updated_at
		FROM auth_backends WHERE id = $1`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

// List returns configs ordered by priority ascending with ID as tiebreak so
// the router's chain order is deterministic.
func (r *SQLRepository) List(ctx context.Context, enabledOnly bool) ([]*domain.Config, error) {
	query := `
		SELECT id, backend_type, name, enabled, priority, settings_json, created_at, updated_at
		FROM auth_backends`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY priority ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// UpdatePriorities applies a batch of ID → priority assignments in one
// transaction so a reorder is never half-applied.
func (r *SQLRepository) UpdatePriorities(ctx context.Context, priorities map[string]int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for id, priority := range priorities {
		if _, err := tx.ExecContext(ctx, `
			UPDATE auth_backends SET priority = $1, updated_at = $2 WHERE id = $3`,
			priority, time.Now().UTC(), id,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*domain.Config, error) {
	var (
		cfg          domain.Config
		backendType  string
		settingsJSON string
	)
	if err := row.Scan(&cfg.ID, &backendType, &cfg.Name, &cfg.Enabled, &cfg.Priority, &settingsJSON, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	cfg.Type = domain.Type(backendType)
	if err := json.Unmarshal([]byte(settingsJSON), &cfg.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings for %s: %w", cfg.ID, err)
	}
	return &cfg, nil
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

// isUniqueViolation matches unique-constraint errors from both supported
// drivers: pgx reports SQLSTATE 23505, modernc sqlite reports "UNIQUE
// constraint failed".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "UNIQUE constraint failed")
}
