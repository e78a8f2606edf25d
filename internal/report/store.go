package report

import (
	"context"
	"sort"
	"sync"

	"github.com/yourorg/compliance-ledger/internal/domain"
)

// ArtifactStore persists report artifact lifecycle records.
type ArtifactStore interface {
	Insert(ctx context.Context, a domain.ReportArtifact) error
	Update(ctx context.Context, a domain.ReportArtifact) error
	Get(ctx context.Context, tenantID, id string) (domain.ReportArtifact, error)
	List(ctx context.Context, tenantID string) ([]domain.ReportArtifact, error)
	// Unfinished returns QUEUED and PROCESSING artifacts of every tenant.
	Unfinished(ctx context.Context) ([]domain.ReportArtifact, error)
}

type MemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]domain.ReportArtifact // tenant/id -> artifact
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{artifacts: map[string]domain.ReportArtifact{}}
}

func artifactKey(tenantID, id string) string { return tenantID + "/" + id }

func (s *MemoryArtifactStore) Insert(_ context.Context, a domain.ReportArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifactKey(a.TenantID, a.ID)] = cloneArtifact(a)
	return nil
}

func (s *MemoryArtifactStore) Update(_ context.Context, a domain.ReportArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := artifactKey(a.TenantID, a.ID)
	if _, ok := s.artifacts[key]; !ok {
		return domain.ErrNotFound
	}
	s.artifacts[key] = cloneArtifact(a)
	return nil
}

func (s *MemoryArtifactStore) Get(_ context.Context, tenantID, id string) (domain.ReportArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[artifactKey(tenantID, id)]
	if !ok {
		return domain.ReportArtifact{}, domain.ErrNotFound
	}
	return cloneArtifact(a), nil
}

func (s *MemoryArtifactStore) List(_ context.Context, tenantID string) ([]domain.ReportArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ReportArtifact
	for _, a := range s.artifacts {
		if a.TenantID == tenantID {
			out = append(out, cloneArtifact(a))
		}
	}
	sortArtifacts(out)
	return out, nil
}

func (s *MemoryArtifactStore) Unfinished(_ context.Context) ([]domain.ReportArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ReportArtifact
	for _, a := range s.artifacts {
		if !a.Status.Terminal() {
			out = append(out, cloneArtifact(a))
		}
	}
	sortArtifacts(out)
	return out, nil
}

func sortArtifacts(list []domain.ReportArtifact) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func cloneArtifact(a domain.ReportArtifact) domain.ReportArtifact {
	clone := a
	if a.StartedAt != nil {
		t := *a.StartedAt
		clone.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		clone.CompletedAt = &t
	}
	if a.PurgedAt != nil {
		t := *a.PurgedAt
		clone.PurgedAt = &t
	}
	return clone
}
