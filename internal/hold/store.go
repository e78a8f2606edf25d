package hold

import (
	"context"
	"errors"
	"sync"

	"github.com/yourorg/compliance-ledger/internal/domain"
)

// ErrActiveExists is returned by a store asked to insert a second live hold.
var ErrActiveExists = errors.New("hold: active hold exists")

// Store keeps every hold row of a tenant; at most one is active.
type Store interface {
	Insert(ctx context.Context, h domain.LitigationHold) error
	Update(ctx context.Context, h domain.LitigationHold) error
	// Discard removes a hold that was never evidenced in the ledger.
	Discard(ctx context.Context, tenantID, id string) error
	Active(ctx context.Context, tenantID string) (domain.LitigationHold, bool, error)
	List(ctx context.Context, tenantID string) ([]domain.LitigationHold, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	byTenant map[string][]domain.LitigationHold
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTenant: map[string][]domain.LitigationHold{}}
}

func (s *MemoryStore) Insert(_ context.Context, h domain.LitigationHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.Active {
		for _, existing := range s.byTenant[h.TenantID] {
			if existing.Active {
				return ErrActiveExists
			}
		}
	}
	s.byTenant[h.TenantID] = append(s.byTenant[h.TenantID], h)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, h domain.LitigationHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byTenant[h.TenantID]
	for i := range list {
		if list[i].ID == h.ID {
			list[i] = h
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *MemoryStore) Discard(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byTenant[tenantID]
	for i := range list {
		if list[i].ID == id {
			s.byTenant[tenantID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *MemoryStore) Active(_ context.Context, tenantID string) (domain.LitigationHold, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.byTenant[tenantID] {
		if h.Active {
			return h, true, nil
		}
	}
	return domain.LitigationHold{}, false, nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string) ([]domain.LitigationHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.LitigationHold(nil), s.byTenant[tenantID]...), nil
}
