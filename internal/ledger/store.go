package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yourorg/compliance-ledger/internal/domain"
)

// ErrSeqConflict is returned by a store when the appended sequence is not
// the next one for the tenant.
var ErrSeqConflict = errors.New("ledger: sequence conflict")

// EventStore persists tenant chains. Implementations never update or delete
// an appended event.
type EventStore interface {
	Append(ctx context.Context, ev domain.AuditEvent) error
	Last(ctx context.Context, tenantID string) (domain.AuditEvent, bool, error)
	// Range returns up to limit events with Seq >= fromSeq, ascending.
	Range(ctx context.Context, tenantID string, fromSeq int64, limit int) ([]domain.AuditEvent, error)
}

// MemoryStore keeps chains in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	byTenant map[string][]domain.AuditEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTenant: map[string][]domain.AuditEvent{}}
}

func (m *MemoryStore) Append(ctx context.Context, ev domain.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byTenant[ev.TenantID]
	if ev.Seq != int64(len(list)) {
		return fmt.Errorf("%w: tenant %s has %d events, got seq %d", ErrSeqConflict, ev.TenantID, len(list), ev.Seq)
	}
	m.byTenant[ev.TenantID] = append(list, cloneEvent(ev))
	return nil
}

func (m *MemoryStore) Last(_ context.Context, tenantID string) (domain.AuditEvent, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byTenant[tenantID]
	if len(list) == 0 {
		return domain.AuditEvent{}, false, nil
	}
	return cloneEvent(list[len(list)-1]), true, nil
}

func (m *MemoryStore) Range(_ context.Context, tenantID string, fromSeq int64, limit int) ([]domain.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byTenant[tenantID]
	if fromSeq < 0 {
		fromSeq = 0
	}
	if fromSeq >= int64(len(list)) {
		return nil, nil
	}
	end := int64(len(list))
	if limit > 0 && fromSeq+int64(limit) < end {
		end = fromSeq + int64(limit)
	}
	out := make([]domain.AuditEvent, 0, end-fromSeq)
	for _, ev := range list[fromSeq:end] {
		out = append(out, cloneEvent(ev))
	}
	return out, nil
}

func cloneEvent(ev domain.AuditEvent) domain.AuditEvent {
	clone := ev
	clone.Metadata = append([]byte(nil), ev.Metadata...)
	return clone
}
