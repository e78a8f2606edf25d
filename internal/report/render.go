package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/ledger"
)

// Snapshot is the tenant state a report is rendered from.
type Snapshot struct {
	TenantID     string                  `json:"tenantId"`
	Organization domain.Organization     `json:"organization"`
	Type         domain.ReportType       `json:"type"`
	GeneratedAt  time.Time               `json:"generatedAt"`
	Findings     []domain.Finding        `json:"findings"`
	Holds        []domain.LitigationHold `json:"holds"`
	Chain        ledger.Verification     `json:"chain"`
}

// Renderer turns a snapshot into report bytes. Renderers must be safe for
// concurrent use.
type Renderer interface {
	Render(ctx context.Context, reportType domain.ReportType, snap Snapshot) ([]byte, error)
	ContentType() string
}

// SnapshotSource loads the state a report covers.
type SnapshotSource interface {
	Snapshot(ctx context.Context, tenantID string, reportType domain.ReportType) (Snapshot, error)
}

// JSONRenderer emits the snapshot as indented JSON.
type JSONRenderer struct{}

func (JSONRenderer) ContentType() string { return "application/json" }

func (JSONRenderer) Render(ctx context.Context, reportType domain.ReportType, snap Snapshot) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap.Type = reportType
	out, err := jsonv2.Marshal(snap, jsonv2.Deterministic(true), jsontext.WithIndent("  "))
	if err != nil {
		return nil, fmt.Errorf("report: render json: %w", err)
	}
	return out, nil
}

// NewRenderer picks the renderer named by cfg.Renderer.
func NewRenderer(cfg Config) (Renderer, error) {
	switch cfg.Renderer {
	case "", "json":
		return JSONRenderer{}, nil
	case "pdf":
		return NewPDFRenderer(cfg), nil
	}
	return nil, fmt.Errorf("report: unknown renderer %q", cfg.Renderer)
}

type orgReader interface {
	Get(ctx context.Context, tenantID string) (domain.Organization, error)
}

type findingLister interface {
	List(ctx context.Context, tenantID string) ([]domain.Finding, error)
}

type holdHistory interface {
	History(ctx context.Context, tenantID string) ([]domain.LitigationHold, error)
}

type chainVerifier interface {
	Verify(ctx context.Context, tenantID string) (ledger.Verification, error)
}

// LiveSource reads snapshots from the running components.
type LiveSource struct {
	Orgs     orgReader
	Findings findingLister
	Holds    holdHistory
	Chain    chainVerifier
	Now      func() time.Time
}

func (s LiveSource) Snapshot(ctx context.Context, tenantID string, reportType domain.ReportType) (Snapshot, error) {
	org, err := s.Orgs.Get(ctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	findings, err := s.Findings.List(ctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	holds, err := s.Holds.History(ctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	// A broken chain is reported inside the snapshot, not as a failure.
	v, err := s.Chain.Verify(ctx, tenantID)
	if err != nil && !errors.Is(err, domain.ErrChainBroken) {
		return Snapshot{}, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return Snapshot{
		TenantID:     tenantID,
		Organization: org,
		Type:         reportType,
		GeneratedAt:  now().UTC(),
		Findings:     findings,
		Holds:        holds,
		Chain:        v,
	}, nil
}
