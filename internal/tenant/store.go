package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/yourorg/compliance-ledger/internal/domain"
)

// ErrExists is returned when creating an organization whose id is taken.
var ErrExists = errors.New("organization already exists")

// OrgStore persists organizations and memberships. An organization is only
// ever removed by Discard, when its ORG_CREATE could not be recorded.
type OrgStore interface {
	Create(ctx context.Context, org domain.Organization) error
	Discard(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (domain.Organization, error)
	Update(ctx context.Context, org domain.Organization) error
	AddMember(ctx context.Context, tenantID, actorID string) (bool, error)
	IsMember(ctx context.Context, tenantID, actorID string) (bool, error)
	MemberTenants(ctx context.Context, actorID string) ([]string, error)
}

// MemoryStore is an in-process OrgStore.
type MemoryStore struct {
	mu      sync.RWMutex
	orgs    map[string]domain.Organization
	members map[string]map[string]struct{} // tenant -> actors
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:    map[string]domain.Organization{},
		members: map[string]map[string]struct{}{},
	}
}

func (s *MemoryStore) Create(_ context.Context, org domain.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, org.ID)
	}
	s.orgs[org.ID] = cloneOrg(org)
	return nil
}

func (s *MemoryStore) Discard(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.orgs, id)
	delete(s.members, id)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return domain.Organization{}, domain.ErrNotFound
	}
	return cloneOrg(org), nil
}

func (s *MemoryStore) Update(_ context.Context, org domain.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; !ok {
		return domain.ErrNotFound
	}
	s.orgs[org.ID] = cloneOrg(org)
	return nil
}

func (s *MemoryStore) AddMember(_ context.Context, tenantID, actorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[tenantID]
	if !ok {
		return false, domain.ErrNotFound
	}
	set := s.members[tenantID]
	if set == nil {
		set = map[string]struct{}{}
		s.members[tenantID] = set
	}
	if _, dup := set[actorID]; dup {
		return false, nil
	}
	set[actorID] = struct{}{}
	org.MemberCount = len(set)
	s.orgs[tenantID] = org
	return true, nil
}

func (s *MemoryStore) IsMember(_ context.Context, tenantID, actorID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[tenantID][actorID]
	return ok, nil
}

func (s *MemoryStore) MemberTenants(_ context.Context, actorID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for tenantID, set := range s.members {
		if _, ok := set[actorID]; ok {
			out = append(out, tenantID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func cloneOrg(org domain.Organization) domain.Organization {
	clone := org
	if org.RiskScore != nil {
		v := *org.RiskScore
		clone.RiskScore = &v
	}
	return clone
}
