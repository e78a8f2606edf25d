// Package hold implements the per-tenant litigation hold state machine
// (INACTIVE -> ACTIVE -> INACTIVE) and the write guard it installs.
package hold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/compliance-ledger/internal/config"
	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/ledger"
)

type Config struct {
	// StrictDualCustody additionally requires a cosigner on lift.
	StrictDualCustody bool
}

func LoadConfig() Config {
	return Config{StrictDualCustody: config.Bool("HOLD_STRICT_DUAL_CUSTODY", false)}
}

// Guard is the write guard consulted by every path that mutates historical
// state.
type Guard interface {
	CheckMutation(ctx context.Context, tenantID string, category domain.EvidenceCategory) error
	// Mutate runs fn only when no active hold covers category. The tenant's
	// hold cannot be activated or lifted until fn returns.
	Mutate(ctx context.Context, tenantID string, category domain.EvidenceCategory, fn func() error) error
}

type Manager struct {
	store  Store
	ledger ledger.Recorder
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	locks  sync.Map // tenant id -> *sync.RWMutex
}

func NewManager(store Store, rec ledger.Recorder, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, ledger: rec, cfg: cfg, logger: logger, now: time.Now}
}

// tenantLock is taken for writing by Activate and Lift, and for reading by
// guarded mutations.
func (m *Manager) tenantLock(tenantID string) *sync.RWMutex {
	v, _ := m.locks.LoadOrStore(tenantID, &sync.RWMutex{})
	return v.(*sync.RWMutex)
}

// Activate opens a hold. The hold row is written before the ledger event so
// the guard is in force by the time the activation is evidenced; if the
// event cannot be recorded the row is discarded.
func (m *Manager) Activate(ctx context.Context, tenantID string, actor domain.Actor, reason string, scope domain.EvidenceCategory) (domain.LitigationHold, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.LitigationHold{}, domain.InvalidInput("reason", "required when activating a hold")
	}
	if scope == "" {
		scope = domain.EvidenceGlobal
	}
	if !scope.Valid() {
		return domain.LitigationHold{}, domain.InvalidInput("scope", "unknown evidence category")
	}

	mu := m.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	if _, active, err := m.store.Active(ctx, tenantID); err != nil {
		return domain.LitigationHold{}, fmt.Errorf("hold: load: %w", err)
	} else if active {
		return domain.LitigationHold{}, domain.ErrHoldAlreadyActive
	}

	h := domain.LitigationHold{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		Active:          true,
		Reason:          reason,
		Scope:           scope,
		ActivatedBy:     actor.ID,
		ActivatedByRole: actor.Role,
		ActivatedAt:     m.now().UTC(),
	}
	if err := m.store.Insert(ctx, h); err != nil {
		if errors.Is(err, ErrActiveExists) {
			return domain.LitigationHold{}, domain.ErrHoldAlreadyActive
		}
		return domain.LitigationHold{}, fmt.Errorf("hold: insert: %w", err)
	}
	md := ledger.HoldActivated{HoldID: h.ID, Reason: reason, Scope: string(scope)}
	if _, err := m.ledger.Record(ctx, tenantID, actor.ID, md); err != nil {
		if derr := m.store.Discard(ctx, tenantID, h.ID); derr != nil {
			m.logger.Error("hold discard failed", "tenantId", tenantID, "holdId", h.ID, "error", derr)
		}
		return domain.LitigationHold{}, err
	}
	m.logger.Info("litigation hold activated", "tenantId", tenantID, "holdId", h.ID, "scope", scope, "actorId", actor.ID)
	return h, nil
}

// Lift closes the active hold. The lifter's role must differ from the
// activator's; in strict mode a cosigner other than the lifter is required
// as well.
func (m *Manager) Lift(ctx context.Context, tenantID string, actor domain.Actor, cosigner *domain.Actor) (domain.LitigationHold, error) {
	mu := m.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	h, active, err := m.store.Active(ctx, tenantID)
	if err != nil {
		return domain.LitigationHold{}, fmt.Errorf("hold: load: %w", err)
	}
	if !active {
		return domain.LitigationHold{}, domain.ErrNoActiveHold
	}
	if actor.Role == h.ActivatedByRole {
		return domain.LitigationHold{}, domain.ErrDualCustody
	}
	if m.cfg.StrictDualCustody {
		if cosigner == nil || cosigner.ID == "" || cosigner.ID == actor.ID || cosigner.Role == domain.RoleRegulator {
			return domain.LitigationHold{}, domain.ErrDualCustody
		}
	}

	prev := h
	now := m.now().UTC()
	h.Active = false
	h.LiftedBy = &actor.ID
	h.LiftedAt = &now
	md := ledger.HoldLifted{HoldID: h.ID, ActivatedBy: h.ActivatedBy}
	if cosigner != nil && cosigner.ID != "" {
		id := cosigner.ID
		h.Cosigner = &id
		md.Cosigner = id
	}
	if err := m.store.Update(ctx, h); err != nil {
		return domain.LitigationHold{}, fmt.Errorf("hold: update: %w", err)
	}
	if _, err := m.ledger.Record(ctx, tenantID, actor.ID, md); err != nil {
		if rerr := m.store.Update(ctx, prev); rerr != nil {
			m.logger.Error("hold restore failed", "tenantId", tenantID, "holdId", h.ID, "error", rerr)
		}
		return domain.LitigationHold{}, err
	}
	m.logger.Info("litigation hold lifted", "tenantId", tenantID, "holdId", h.ID, "actorId", actor.ID)
	return h, nil
}

// Active returns the live hold of a tenant, if any.
func (m *Manager) Active(ctx context.Context, tenantID string) (domain.LitigationHold, bool, error) {
	return m.store.Active(ctx, tenantID)
}

// History returns every hold of a tenant, lifted ones included.
func (m *Manager) History(ctx context.Context, tenantID string) ([]domain.LitigationHold, error) {
	return m.store.List(ctx, tenantID)
}

// CheckMutation returns domain.ErrHoldViolation when an active hold covers
// category. The answer can be stale by the time the caller writes; use
// Mutate to keep the check and the write together.
func (m *Manager) CheckMutation(ctx context.Context, tenantID string, category domain.EvidenceCategory) error {
	h, active, err := m.store.Active(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("hold: guard: %w", err)
	}
	if active && h.Scope.Covers(category) {
		return domain.ErrHoldViolation
	}
	return nil
}

// Mutate checks category and runs fn under the tenant's read lock, so an
// activation either commits before the check or waits for fn. fn must not
// call back into the Manager for the same tenant.
func (m *Manager) Mutate(ctx context.Context, tenantID string, category domain.EvidenceCategory, fn func() error) error {
	mu := m.tenantLock(tenantID)
	mu.RLock()
	defer mu.RUnlock()

	if err := m.CheckMutation(ctx, tenantID, category); err != nil {
		return err
	}
	return fn()
}
