package finding

import (
	"context"
	"sort"
	"sync"

	"github.com/yourorg/compliance-ledger/internal/domain"
)

// Store persists findings. Lookups are always tenant scoped.
type Store interface {
	Insert(ctx context.Context, f domain.Finding) error
	Get(ctx context.Context, tenantID, id string) (domain.Finding, error)
	Update(ctx context.Context, f domain.Finding) error
	// Discard removes a finding whose creation was never evidenced in the
	// ledger.
	Discard(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string) ([]domain.Finding, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	byTenant map[string]map[string]domain.Finding
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTenant: map[string]map[string]domain.Finding{}}
}

func (s *MemoryStore) Insert(_ context.Context, f domain.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.byTenant[f.TenantID]
	if set == nil {
		set = map[string]domain.Finding{}
		s.byTenant[f.TenantID] = set
	}
	set[f.ID] = cloneFinding(f)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, id string) (domain.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byTenant[tenantID][id]
	if !ok {
		return domain.Finding{}, domain.ErrNotFound
	}
	return cloneFinding(f), nil
}

func (s *MemoryStore) Update(_ context.Context, f domain.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byTenant[f.TenantID][f.ID]; !ok {
		return domain.ErrNotFound
	}
	s.byTenant[f.TenantID][f.ID] = cloneFinding(f)
	return nil
}

func (s *MemoryStore) Discard(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byTenant[tenantID][id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.byTenant[tenantID], id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string) ([]domain.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Finding, 0, len(s.byTenant[tenantID]))
	for _, f := range s.byTenant[tenantID] {
		out = append(out, cloneFinding(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneFinding(f domain.Finding) domain.Finding {
	clone := f
	if f.VerifiedBy != nil {
		v := *f.VerifiedBy
		clone.VerifiedBy = &v
	}
	if f.VerifiedAt != nil {
		t := *f.VerifiedAt
		clone.VerifiedAt = &t
	}
	return clone
}
