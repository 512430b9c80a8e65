package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"radius-auth-proxy/internal/backend/domain"
)

// MemoryRepository is an in-memory Repository for tests and seeding.
type MemoryRepository struct {
	mu      sync.RWMutex
	configs map[string]*domain.Config
}

// NewMemoryRepository returns an empty in-memory backend config repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{configs: make(map[string]*domain.Config)}
}

// Create persists the config after validating it.
func (r *MemoryRepository) Create(ctx context.Context, cfg *domain.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.configs {
		if existing.Type == cfg.Type && existing.Name == cfg.Name {
			return ErrNameTaken
		}
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	r.configs[cfg.ID] = cloneConfig(cfg)
	return nil
}

// Update replaces the mutable fields of an existing config.
func (r *MemoryRepository) Update(ctx context.Context, cfg *domain.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.configs[cfg.ID]
	if !ok {
		return ErrNotFound
	}
	for id, other := range r.configs {
		if id != cfg.ID && other.Type == cfg.Type && other.Name == cfg.Name {
			return ErrNameTaken
		}
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()
	r.configs[cfg.ID] = cloneConfig(cfg)
	return nil
}

// Delete removes the config by ID.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[id]; !ok {
		return ErrNotFound
	}
	delete(r.configs, id)
	return nil
}

// GetByID returns the config for id, or ErrNotFound.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConfig(cfg), nil
}

// List returns configs ordered by priority ascending, ID ascending.
func (r *MemoryRepository) List(ctx context.Context, enabledOnly bool) ([]*domain.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var configs []*domain.Config
	for _, cfg := range r.configs {
		if enabledOnly && !cfg.Enabled {
			continue
		}
		configs = append(configs, cloneConfig(cfg))
	}
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].Priority != configs[j].Priority {
			return configs[i].Priority < configs[j].Priority
		}
		return configs[i].ID < configs[j].ID
	})
	return configs, nil
}

// UpdatePriorities applies a batch of ID → priority assignments.
func (r *MemoryRepository) UpdatePriorities(ctx context.Context, priorities map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, priority := range priorities {
		cfg, ok := r.configs[id]
		if !ok {
			return ErrNotFound
		}
		cfg.Priority = priority
		cfg.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func cloneConfig(cfg *domain.Config) *domain.Config {
	clone := *cfg
	clone.Settings = make(map[string]string, len(cfg.Settings))
	for k, v := range cfg.Settings {
		clone.Settings[k] = v
	}
	return &clone
}
