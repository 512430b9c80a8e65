// Package repository persists identity-source configurations.
package repository

import (
	"context"
	"errors"

	"radius-auth-proxy/internal/backend/domain"
)

// ErrNameTaken is returned when (type, name) already exists.
var ErrNameTaken = errors.New("backend name already in use for this type")

// ErrNotFound is returned when no backend config has the given ID.
var ErrNotFound = errors.New("backend configuration not found")

// Repository defines persistence for backend configurations. The router only
// ever calls List; the mutating operations belong to the administrative
// surface.
type Repository interface {
	// Create persists a new config. The config must pass domain validation;
	// ID/CreatedAt/UpdatedAt are assigned by the repository when unset.
	Create(ctx context.Context, cfg *domain.Config) error
	// Update replaces the mutable fields of an existing config.
	Update(ctx context.Context, cfg *domain.Config) error
	// Delete removes the config by ID.
	Delete(ctx context.Context, id string) error
	// GetByID returns the config for id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.Config, error)
	// List returns configs ordered by priority ascending, ID ascending.
	// With enabledOnly, disabled configs are omitted.
	List(ctx context.Context, enabledOnly bool) ([]*domain.Config, error)
	// UpdatePriorities applies a batch of ID → priority assignments.
	UpdatePriorities(ctx context.Context, priorities map[string]int) error
}
