package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"radius-auth-proxy/internal/mfa/domain"
)

// MemoryRepository is an in-memory Repository used in tests and for
// ephemeral deployments without a database.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]*domain.Enrollment
}

// NewMemoryRepository returns an empty in-memory enrollment repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*domain.Enrollment)}
}

func (r *MemoryRepository) Upsert(ctx context.Context, e *domain.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.m[e.Identity] = cloneEnrollment(e)
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, identity string) (*domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.m[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEnrollment(e), nil
}

func (r *MemoryRepository) SetEnabled(ctx context.Context, identity string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[identity]
	if !ok {
		return ErrNotFound
	}
	e.Enabled = enabled
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[identity]; !ok {
		return ErrNotFound
	}
	delete(r.m, identity)
	return nil
}

func (r *MemoryRepository) ConsumeBackupCode(ctx context.Context, identity, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[identity]
	if !ok {
		return ErrNotFound
	}
	for i, d := range e.BackupCodeDigests {
		if d == digest {
			e.BackupCodeDigests = append(e.BackupCodeDigests[:i], e.BackupCodeDigests[i+1:]...)
			return nil
		}
	}
	return ErrCodeUsed
}

func (r *MemoryRepository) TouchLastUsed(ctx context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[identity]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	e.LastUsedAt = &now
	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Enrollment, 0, len(r.m))
	for _, e := range r.m {
		out = append(out, cloneEnrollment(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func cloneEnrollment(e *domain.Enrollment) *domain.Enrollment {
	c := *e
	c.BackupCodeDigests = append([]string(nil), e.BackupCodeDigests...)
	if e.LastUsedAt != nil {
		t := *e.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}
