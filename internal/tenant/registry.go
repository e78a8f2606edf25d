// Package tenant owns organizations and the session-to-tenant bindings that
// isolate them. No query path accepts a tenant other than the one a session
// is bound to.
package tenant

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
	// IdleTimeout expires a binding that has not been used for this long.
	IdleTimeout time.Duration
}

func LoadConfig() Config {
	return Config{
		IdleTimeout: config.Duration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
	}
}

// NewOrganization is the input of CreateOrganization.
type NewOrganization struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName"`
	TaxID       string `json:"taxId"`
}

type binding struct {
	actorID  string
	tenantID string
	lastSeen time.Time
}

type Registry struct {
	store  OrgStore
	ledger ledger.Recorder
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	orgMu  sync.Map // tenant id -> *sync.Mutex

	mu       sync.Mutex
	bindings map[string]*binding // session id -> binding
}

func NewRegistry(store OrgStore, rec ledger.Recorder, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    store,
		ledger:   rec,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		bindings: map[string]*binding{},
	}
}

// lockOrg serializes read-modify-write sequences on one organization row.
func (r *Registry) lockOrg(tenantID string) func() {
	v, _ := r.orgMu.LoadOrStore(tenantID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateOrganization registers a tenant, makes the creator its first member
// and records ORG_CREATE as the first event of the new chain. When the event
// cannot be recorded the organization and membership are discarded.
func (r *Registry) CreateOrganization(ctx context.Context, actor domain.Actor, in NewOrganization) (domain.Organization, error) {
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		return domain.Organization{}, domain.InvalidInput("displayName", "required")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = "org_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	if id == domain.SystemTenantID || strings.ContainsAny(id, "/ ") {
		return domain.Organization{}, domain.InvalidInput("id", "reserved or malformed")
	}
	org := domain.Organization{
		ID:          id,
		DisplayName: name,
		TaxID:       strings.TrimSpace(in.TaxID),
		Status:      domain.OrgActive,
		CreatedAt:   r.now().UTC(),
	}
	unlock := r.lockOrg(id)
	defer unlock()

	if err := r.store.Create(ctx, org); err != nil {
		if errors.Is(err, ErrExists) {
			return domain.Organization{}, domain.InvalidInput("id", "already exists")
		}
		return domain.Organization{}, fmt.Errorf("tenant: create: %w", err)
	}
	if _, err := r.store.AddMember(ctx, id, actor.ID); err != nil {
		r.discard(ctx, id)
		return domain.Organization{}, fmt.Errorf("tenant: add creator: %w", err)
	}
	if _, err := r.ledger.Record(ctx, id, actor.ID, ledger.OrgCreate{DisplayName: org.DisplayName, TaxID: org.TaxID}); err != nil {
		r.discard(ctx, id)
		return domain.Organization{}, err
	}
	r.logger.Info("organization created", "tenantId", id, "actorId", actor.ID)
	return r.store.Get(ctx, id)
}

func (r *Registry) discard(ctx context.Context, id string) {
	if err := r.store.Discard(context.WithoutCancel(ctx), id); err != nil {
		r.logger.Error("organization discard failed", "tenantId", id, "error", err)
	}
}

// Get returns an organization without any isolation check. Callers outside
// this package go through Resolve.
func (r *Registry) Get(ctx context.Context, tenantID string) (domain.Organization, error) {
	return r.store.Get(ctx, tenantID)
}

// AddMember grants actorID access to tenantID.
func (r *Registry) AddMember(ctx context.Context, tenantID, actorID string) error {
	_, err := r.store.AddMember(ctx, tenantID, actorID)
	return err
}

func (r *Registry) IsMember(ctx context.Context, tenantID, actorID string) (bool, error) {
	return r.store.IsMember(ctx, tenantID, actorID)
}

func (r *Registry) MemberTenants(ctx context.Context, actorID string) ([]string, error) {
	return r.store.MemberTenants(ctx, actorID)
}

// SwitchContext binds sessionID to tenantID after checking membership and
// records ORG_CONTEXT_SWITCH in the target tenant. Unknown tenants and
// non-members get the same AccessDenied.
func (r *Registry) SwitchContext(ctx context.Context, sessionID string, actor domain.Actor, tenantID string) (domain.Organization, error) {
	if sessionID == "" {
		return domain.Organization{}, domain.ErrUnauthenticated
	}
	org, err := r.store.Get(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Organization{}, domain.ErrAccessDenied
	}
	if err != nil {
		return domain.Organization{}, fmt.Errorf("tenant: switch: %w", err)
	}
	member, err := r.store.IsMember(ctx, tenantID, actor.ID)
	if err != nil {
		return domain.Organization{}, fmt.Errorf("tenant: switch: %w", err)
	}
	if !member {
		r.logger.Warn("context switch denied", "tenantId", tenantID, "actorId", actor.ID)
		return domain.Organization{}, domain.ErrAccessDenied
	}

	from, _ := r.Bound(sessionID)
	md := ledger.OrgContextSwitch{SessionID: sessionID, FromTenant: from, ToTenant: tenantID}
	if _, err := r.ledger.Record(ctx, tenantID, actor.ID, md); err != nil {
		return domain.Organization{}, err
	}

	r.mu.Lock()
	r.bindings[sessionID] = &binding{actorID: actor.ID, tenantID: tenantID, lastSeen: r.now()}
	r.mu.Unlock()
	return org, nil
}

// Resolve returns the organization only if sessionID is currently bound to
// tenantID. An idle binding is dropped and reported as expired.
func (r *Registry) Resolve(ctx context.Context, sessionID, tenantID string) (domain.Organization, error) {
	r.mu.Lock()
	b, ok := r.bindings[sessionID]
	if !ok || b.tenantID != tenantID {
		r.mu.Unlock()
		return domain.Organization{}, domain.ErrAccessDenied
	}
	now := r.now()
	if r.cfg.IdleTimeout > 0 && now.Sub(b.lastSeen) > r.cfg.IdleTimeout {
		delete(r.bindings, sessionID)
		r.mu.Unlock()
		return domain.Organization{}, domain.ErrSessionExpired
	}
	b.lastSeen = now
	r.mu.Unlock()

	org, err := r.store.Get(ctx, tenantID)
	if err != nil {
		return domain.Organization{}, domain.ErrAccessDenied
	}
	return org, nil
}

// Bound returns the tenant a session is bound to.
func (r *Registry) Bound(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[sessionID]
	if !ok {
		return "", false
	}
	return b.tenantID, true
}

// Release drops the binding of a session.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	delete(r.bindings, sessionID)
	r.mu.Unlock()
}

// SetStatus changes the soft status of an organization.
func (r *Registry) SetStatus(ctx context.Context, actor domain.Actor, tenantID string, status domain.OrgStatus) (domain.Organization, error) {
	if status != domain.OrgActive && status != domain.OrgSuspended {
		return domain.Organization{}, domain.InvalidInput("status", "must be ACTIVE or SUSPENDED")
	}
	unlock := r.lockOrg(tenantID)
	defer unlock()

	org, err := r.store.Get(ctx, tenantID)
	if err != nil {
		return domain.Organization{}, err
	}
	if org.Status == status {
		return org, nil
	}
	prev := org.Status
	org.Status = status
	if err := r.store.Update(ctx, org); err != nil {
		return domain.Organization{}, fmt.Errorf("tenant: status: %w", err)
	}
	if _, err := r.ledger.Record(ctx, tenantID, actor.ID, ledger.OrgStatusChanged{From: string(prev), To: string(status)}); err != nil {
		org.Status = prev
		if rerr := r.store.Update(ctx, org); rerr != nil {
			r.logger.Error("status rollback failed", "tenantId", tenantID, "error", rerr)
		}
		return domain.Organization{}, err
	}
	return org, nil
}

// UpdateRiskScore stores the latest externally computed score.
func (r *Registry) UpdateRiskScore(ctx context.Context, tenantID string, score int) error {
	unlock := r.lockOrg(tenantID)
	defer unlock()

	org, err := r.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	org.RiskScore = &score
	return r.store.Update(ctx, org)
}

// RequireActive rejects mutations against a suspended organization.
func RequireActive(org domain.Organization) error {
	if org.Status == domain.OrgSuspended {
		return domain.ErrTenantSuspended
	}
	return nil
}
