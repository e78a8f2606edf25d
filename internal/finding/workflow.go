// Package finding implements the finding workflow: status progression
// crossed with one-way human verification.
package finding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/hold"
	"github.com/yourorg/compliance-ledger/internal/ledger"
)

// NewFinding is the input of Create.
type NewFinding struct {
	ID          string          `json:"id,omitempty"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Severity    domain.Severity `json:"severity"`
	Source      string          `json:"source,omitempty"`
}

// Edit changes the content of a finding. Nil fields are left alone.
type Edit struct {
	Category    *string          `json:"category,omitempty"`
	Description *string          `json:"description,omitempty"`
	Severity    *domain.Severity `json:"severity,omitempty"`
}

var transitions = map[domain.FindingStatus][]domain.FindingStatus{
	domain.FindingOpen:       {domain.FindingInProgress},
	domain.FindingInProgress: {domain.FindingOpen, domain.FindingResolved},
}

type Workflow struct {
	store  Store
	ledger ledger.Recorder
	guard  hold.Guard
	logger *slog.Logger
	now    func() time.Time
	locks  sync.Map // tenant id -> *sync.Mutex
}

func NewWorkflow(store Store, rec ledger.Recorder, guard hold.Guard, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{store: store, ledger: rec, guard: guard, logger: logger, now: time.Now}
}

func (w *Workflow) lock(tenantID string) func() {
	v, _ := w.locks.LoadOrStore(tenantID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create adds a finding. Creation is additive and allowed under a hold.
// New findings start OPEN and AI_GENERATED until a human verifies them.
func (w *Workflow) Create(ctx context.Context, tenantID string, actor domain.Actor, in NewFinding) (domain.Finding, error) {
	if strings.TrimSpace(in.Category) == "" {
		return domain.Finding{}, domain.InvalidInput("category", "required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return domain.Finding{}, domain.InvalidInput("description", "required")
	}
	if !in.Severity.Valid() {
		return domain.Finding{}, domain.InvalidInput("severity", "must be LOW, MEDIUM, HIGH or CRITICAL")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}

	unlock := w.lock(tenantID)
	defer unlock()

	if _, err := w.store.Get(ctx, tenantID, id); err == nil {
		return domain.Finding{}, domain.InvalidInput("id", "already exists")
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Finding{}, fmt.Errorf("finding: lookup: %w", err)
	}
	f := domain.Finding{
		ID:           id,
		TenantID:     tenantID,
		Category:     strings.TrimSpace(in.Category),
		Description:  strings.TrimSpace(in.Description),
		Severity:     in.Severity,
		Status:       domain.FindingOpen,
		Verification: domain.VerificationAIGenerated,
		Source:       in.Source,
		CreatedAt:    w.now().UTC(),
	}
	// The row goes in first so FINDING_CREATED never names a finding that
	// does not exist; it is discarded if the event cannot be recorded.
	if err := w.store.Insert(ctx, f); err != nil {
		return domain.Finding{}, fmt.Errorf("finding: insert: %w", err)
	}
	if _, err := w.ledger.Record(ctx, tenantID, actor.ID, ledger.FindingCreated{
		FindingID: f.ID, Category: f.Category, Severity: string(f.Severity), Source: f.Source,
	}); err != nil {
		if derr := w.store.Discard(ctx, tenantID, f.ID); derr != nil {
			w.logger.Error("finding discard failed", "tenantId", tenantID, "findingId", f.ID, "error", derr)
		}
		return domain.Finding{}, err
	}
	return f, nil
}

func (w *Workflow) Get(ctx context.Context, tenantID, id string) (domain.Finding, error) {
	return w.store.Get(ctx, tenantID, id)
}

func (w *Workflow) List(ctx context.Context, tenantID string) ([]domain.Finding, error) {
	return w.store.List(ctx, tenantID)
}

// Edit rewrites the content of an existing finding. This is a mutation of
// historical state and fails with domain.ErrHoldViolation under a hold.
func (w *Workflow) Edit(ctx context.Context, tenantID string, actor domain.Actor, id string, e Edit) (domain.Finding, error) {
	unlock := w.lock(tenantID)
	defer unlock()

	f, err := w.store.Get(ctx, tenantID, id)
	if err != nil {
		return domain.Finding{}, err
	}
	err = w.guard.Mutate(ctx, tenantID, domain.EvidenceFindings, func() error {
		prev := f
		var fields []string
		if e.Category != nil && strings.TrimSpace(*e.Category) != f.Category {
			if strings.TrimSpace(*e.Category) == "" {
				return domain.InvalidInput("category", "must not be empty")
			}
			f.Category = strings.TrimSpace(*e.Category)
			fields = append(fields, "category")
		}
		if e.Description != nil && strings.TrimSpace(*e.Description) != f.Description {
			if strings.TrimSpace(*e.Description) == "" {
				return domain.InvalidInput("description", "must not be empty")
			}
			f.Description = strings.TrimSpace(*e.Description)
			fields = append(fields, "description")
		}
		if e.Severity != nil && *e.Severity != f.Severity {
			if !e.Severity.Valid() {
				return domain.InvalidInput("severity", "must be LOW, MEDIUM, HIGH or CRITICAL")
			}
			f.Severity = *e.Severity
			fields = append(fields, "severity")
		}
		if len(fields) == 0 {
			return nil
		}
		return w.persist(ctx, actor, prev, f, ledger.FindingUpdated{FindingID: f.ID, Fields: fields})
	})
	if err != nil {
		w.logBlocked(err, "finding edit blocked", tenantID, id, actor)
		return domain.Finding{}, err
	}
	return f, nil
}

// SetStatus moves a finding along OPEN -> IN_PROGRESS -> RESOLVED (or back
// to OPEN from IN_PROGRESS). Only human-verified findings can be resolved.
// A status change rewrites the finding and is refused under a hold.
func (w *Workflow) SetStatus(ctx context.Context, tenantID string, actor domain.Actor, id string, status domain.FindingStatus) (domain.Finding, error) {
	unlock := w.lock(tenantID)
	defer unlock()

	f, err := w.store.Get(ctx, tenantID, id)
	if err != nil {
		return domain.Finding{}, err
	}
	if f.Status == status {
		return f, nil
	}
	allowed := false
	for _, next := range transitions[f.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.Finding{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, f.Status, status)
	}
	if status == domain.FindingResolved && (f.Verification != domain.VerificationHumanVerified || !actor.IsHuman()) {
		return domain.Finding{}, fmt.Errorf("%w: finding must be human verified before it is resolved", domain.ErrInvalidTransition)
	}

	err = w.guard.Mutate(ctx, tenantID, domain.EvidenceFindings, func() error {
		prev := f
		f.Status = status
		md := ledger.FindingUpdated{FindingID: f.ID, Fields: []string{"status"}, Status: string(status)}
		return w.persist(ctx, actor, prev, f, md)
	})
	if err != nil {
		w.logBlocked(err, "finding status change blocked", tenantID, id, actor)
		return domain.Finding{}, err
	}
	return f, nil
}

func (w *Workflow) logBlocked(err error, msg, tenantID, id string, actor domain.Actor) {
	if errors.Is(err, domain.ErrHoldViolation) {
		w.logger.Warn(msg, "tenantId", tenantID, "findingId", id, "actorId", actor.ID, "error", err)
	}
}

// VerifyFinding records a human verification. Verification is one-way; a
// second call fails with domain.ErrAlreadyVerified and changes nothing.
// It adds evidence rather than rewriting history, so it is allowed under a
// hold.
func (w *Workflow) VerifyFinding(ctx context.Context, tenantID, id string, actor domain.Actor) (domain.Finding, error) {
	if !actor.IsHuman() {
		return domain.Finding{}, domain.ErrAccessDenied
	}
	unlock := w.lock(tenantID)
	defer unlock()

	f, err := w.store.Get(ctx, tenantID, id)
	if err != nil {
		return domain.Finding{}, err
	}
	if f.Verification == domain.VerificationHumanVerified {
		return f, domain.ErrAlreadyVerified
	}

	prev := f
	now := w.now().UTC()
	verifier := actor.ID
	f.Verification = domain.VerificationHumanVerified
	f.VerifiedBy = &verifier
	f.VerifiedAt = &now
	md := ledger.FindingVerified{FindingID: f.ID, Category: f.Category, Severity: string(f.Severity)}
	if err := w.persist(ctx, actor, prev, f, md); err != nil {
		return domain.Finding{}, err
	}
	w.logger.Info("finding verified", "tenantId", tenantID, "findingId", id, "actorId", actor.ID)
	return f, nil
}

// persist stores next and records md; the store is restored to prev when
// the event cannot be recorded.
func (w *Workflow) persist(ctx context.Context, actor domain.Actor, prev, next domain.Finding, md ledger.Metadata) error {
	if err := w.store.Update(ctx, next); err != nil {
		return fmt.Errorf("finding: update: %w", err)
	}
	if _, err := w.ledger.Record(ctx, next.TenantID, actor.ID, md); err != nil {
		if rerr := w.store.Update(ctx, prev); rerr != nil {
			w.logger.Error("finding restore failed", "tenantId", next.TenantID, "findingId", next.ID, "error", rerr)
		}
		return err
	}
	return nil
}
