// Package gateway authenticates actors, enforces the role matrix and tenant
// bindings, and exposes every ledger-backed operation over HTTP. Nothing
// behind the gateway trusts a client-supplied role or tenant.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/export"
	"github.com/yourorg/compliance-ledger/internal/finding"
	"github.com/yourorg/compliance-ledger/internal/hold"
	"github.com/yourorg/compliance-ledger/internal/ledger"
	"github.com/yourorg/compliance-ledger/internal/report"
	"github.com/yourorg/compliance-ledger/internal/risk"
	"github.com/yourorg/compliance-ledger/internal/tenant"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

type Deps struct {
	Ledger    *ledger.Ledger
	Registry  *tenant.Registry
	Holds     *hold.Manager
	Findings  *finding.Workflow
	Reports   *report.Scheduler
	Exports   *export.Builder
	Risk      risk.Engine
	Directory *Directory
	Logger    *slog.Logger
}

type Gateway struct {
	deps     Deps
	cfg      Config
	secret   []byte
	now      func() time.Time
	sessions *sessions
	limits   *limiters
}

func New(deps Deps, cfg Config) *Gateway {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Directory == nil {
		deps.Directory = NewDirectory()
	}
	if deps.Risk == nil {
		deps.Risk = risk.Unconfigured{}
	}
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
		deps.Logger.Warn("JWT_SECRET not set; using an ephemeral signing key")
	}
	return &Gateway{
		deps:     deps,
		cfg:      cfg,
		secret:   secret,
		now:      time.Now,
		sessions: &sessions{byID: map[string]*session{}},
		limits:   newLimiters(cfg.RatePerSecond, cfg.RateBurst),
	}
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string       `json:"token"`
	SessionID string       `json:"sessionId"`
	Actor     domain.Actor `json:"actor"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// Login checks the actor's secret and, when enrolled, a TOTP code. Every
// attempt is evidenced: in the actor's home tenant when known, otherwise in
// the reserved system tenant.
func (g *Gateway) Login(ctx context.Context, actorID, secret, otp string) (LoginResult, error) {
	actorID = strings.TrimSpace(actorID)
	now := g.now()
	cred, ok := g.deps.Directory.Lookup(actorID)
	key := unknownPrincipal
	if ok {
		key = "login:" + actorID
	}
	if !g.limits.allow(key, now) {
		return LoginResult{}, ErrRateLimited
	}
	if !ok {
		g.loginFailed(ctx, domain.SystemTenantID, actorID, "unknown principal")
		return LoginResult{}, domain.ErrUnauthenticated
	}
	home := cred.HomeTenant
	if home == "" {
		home = domain.SystemTenantID
	}
	if !VerifySecret(secret, cred.SecretHash) {
		g.loginFailed(ctx, home, actorID, "invalid credentials")
		return LoginResult{}, domain.ErrUnauthenticated
	}
	mfa := cred.TOTPSecret != ""
	if mfa && !totp.Validate(strings.TrimSpace(otp), cred.TOTPSecret) {
		g.loginFailed(ctx, home, actorID, "invalid second factor")
		return LoginResult{}, domain.ErrUnauthenticated
	}
	actor := cred.Actor
	if actor.Role == domain.RoleRegulator {
		if actor.RegulatorExpiresAt == nil || !now.Before(*actor.RegulatorExpiresAt) {
			g.loginFailed(ctx, home, actorID, "regulator access expired")
			return LoginResult{}, domain.ErrSessionExpired
		}
	}

	sess := &session{
		id:        uuid.NewString(),
		actorID:   actor.ID,
		issuedAt:  now,
		lastSeen:  now,
		expiresAt: expiry(actor, now, g.cfg),
	}
	token, err := g.signToken(sess, actor)
	if err != nil {
		return LoginResult{}, err
	}
	md := ledger.LoginSuccess{SessionID: sess.id, Role: string(actor.Role), MFA: mfa}
	if _, err := g.deps.Ledger.Record(ctx, home, actor.ID, md); err != nil {
		return LoginResult{}, err
	}
	g.sessions.put(sess)
	g.deps.Logger.Info("login", "actorId", actor.ID, "role", actor.Role, "sessionId", sess.id, "corrId", domain.CorrelationIDFromContext(ctx))
	return LoginResult{Token: token, SessionID: sess.id, Actor: actor, ExpiresAt: sess.expiresAt}, nil
}

func (g *Gateway) loginFailed(ctx context.Context, tenantID, principal, reason string) {
	if _, err := g.deps.Ledger.Record(ctx, tenantID, principal, ledger.LoginFailed{Principal: principal, Reason: reason}); err != nil {
		g.deps.Logger.Error("login failure not recorded", "tenantId", tenantID, "error", err)
	}
	g.deps.Logger.Warn("login failed", "principal", principal, "reason", reason, "corrId", domain.CorrelationIDFromContext(ctx))
}

// Authenticate turns a bearer token into a Principal. The token must carry a
// valid signature and map to a live, non-idle session of a known actor.
func (g *Gateway) Authenticate(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, domain.ErrUnauthenticated
	}
	claims, err := g.parseToken(token)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) && claims.ID != "" {
			g.end(claims.ID)
		}
		return Principal{}, err
	}
	now := g.now()
	sess, err := g.sessions.touch(claims.ID, now, g.cfg.IdleTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			g.deps.Registry.Release(claims.ID)
		}
		return Principal{}, err
	}
	cred, ok := g.deps.Directory.Lookup(sess.actorID)
	if !ok || sess.actorID != claims.Subject {
		g.end(sess.id)
		return Principal{}, domain.ErrUnauthenticated
	}
	if !g.limits.allow("actor:"+sess.actorID, now) {
		return Principal{}, ErrRateLimited
	}
	return Principal{SessionID: sess.id, Actor: cred.Actor, ExpiresAt: sess.expiresAt}, nil
}

// Logout ends the session and its tenant binding.
func (g *Gateway) Logout(_ context.Context, p Principal) {
	g.end(p.SessionID)
	g.deps.Logger.Info("logout", "actorId", p.Actor.ID, "sessionId", p.SessionID)
}

func (g *Gateway) end(sessionID string) {
	g.sessions.drop(sessionID)
	g.deps.Registry.Release(sessionID)
}

// scope authorizes p for perm on tenantID: the role must carry perm and the
// session must be bound to tenantID. Mutations also require an active
// organization.
func (g *Gateway) scope(ctx context.Context, p Principal, tenantID string, perm Permission, mutates bool) (domain.Organization, error) {
	if !Allowed(p.Actor.Role, perm) {
		g.deps.Logger.Warn("permission denied", "actorId", p.Actor.ID, "role", p.Actor.Role, "permission", perm, "tenantId", tenantID)
		return domain.Organization{}, domain.ErrRoleForbidden
	}
	org, err := g.deps.Registry.Resolve(ctx, p.SessionID, tenantID)
	if err != nil {
		return domain.Organization{}, err
	}
	if mutates {
		if err := tenant.RequireActive(org); err != nil {
			return domain.Organization{}, err
		}
	}
	return org, nil
}

// SwitchContext binds the session to tenantID. Every role may bind; what it
// may do there is decided per operation.
func (g *Gateway) SwitchContext(ctx context.Context, p Principal, tenantID string) (domain.Organization, error) {
	return g.deps.Registry.SwitchContext(ctx, p.SessionID, p.Actor, tenantID)
}

func (g *Gateway) CreateOrganization(ctx context.Context, p Principal, in tenant.NewOrganization) (domain.Organization, error) {
	if !Allowed(p.Actor.Role, PermManageOrgs) {
		return domain.Organization{}, domain.ErrRoleForbidden
	}
	return g.deps.Registry.CreateOrganization(ctx, p.Actor, in)
}

func (g *Gateway) Organization(ctx context.Context, p Principal, tenantID string) (domain.Organization, error) {
	return g.scope(ctx, p, tenantID, PermViewOrg, false)
}

// SetOrgStatus suspends or reactivates the bound organization. It is the one
// mutation allowed on a suspended organization.
func (g *Gateway) SetOrgStatus(ctx context.Context, p Principal, tenantID string, status domain.OrgStatus) (domain.Organization, error) {
	if _, err := g.scope(ctx, p, tenantID, PermManageOrgs, false); err != nil {
		return domain.Organization{}, err
	}
	return g.deps.Registry.SetStatus(ctx, p.Actor, tenantID, status)
}

func (g *Gateway) SubmitReport(ctx context.Context, p Principal, tenantID string, reportType domain.ReportType) (domain.ReportArtifact, error) {
	if _, err := g.scope(ctx, p, tenantID, PermReports, true); err != nil {
		return domain.ReportArtifact{}, err
	}
	return g.deps.Reports.Submit(ctx, tenantID, reportType, p.Actor)
}

func (g *Gateway) ReportStatus(ctx context.Context, p Principal, tenantID, reportID string) (domain.ReportArtifact, error) {
	if _, err := g.scope(ctx, p, tenantID, PermReports, false); err != nil {
		return domain.ReportArtifact{}, err
	}
	return g.deps.Reports.Get(ctx, tenantID, reportID)
}

func (g *Gateway) Reports(ctx context.Context, p Principal, tenantID string) ([]domain.ReportArtifact, error) {
	if _, err := g.scope(ctx, p, tenantID, PermReports, false); err != nil {
		return nil, err
	}
	return g.deps.Reports.List(ctx, tenantID)
}

// ReportContent returns the rendered bytes and their content type.
func (g *Gateway) ReportContent(ctx context.Context, p Principal, tenantID, reportID string) ([]byte, string, domain.ReportArtifact, error) {
	if _, err := g.scope(ctx, p, tenantID, PermReports, false); err != nil {
		return nil, "", domain.ReportArtifact{}, err
	}
	return g.deps.Reports.Content(ctx, tenantID, reportID)
}

func (g *Gateway) PurgeReport(ctx context.Context, p Principal, tenantID, reportID string) (domain.ReportArtifact, error) {
	if _, err := g.scope(ctx, p, tenantID, PermPurgeReports, true); err != nil {
		return domain.ReportArtifact{}, err
	}
	return g.deps.Reports.Purge(ctx, tenantID, p.Actor, reportID)
}

func (g *Gateway) CreateFinding(ctx context.Context, p Principal, tenantID string, in finding.NewFinding) (domain.Finding, error) {
	if _, err := g.scope(ctx, p, tenantID, PermFindings, true); err != nil {
		return domain.Finding{}, err
	}
	return g.deps.Findings.Create(ctx, tenantID, p.Actor, in)
}

func (g *Gateway) ListFindings(ctx context.Context, p Principal, tenantID string) ([]domain.Finding, error) {
	if _, err := g.scope(ctx, p, tenantID, PermFindings, false); err != nil {
		return nil, err
	}
	return g.deps.Findings.List(ctx, tenantID)
}

func (g *Gateway) EditFinding(ctx context.Context, p Principal, tenantID, findingID string, e finding.Edit) (domain.Finding, error) {
	if _, err := g.scope(ctx, p, tenantID, PermFindings, true); err != nil {
		return domain.Finding{}, err
	}
	return g.deps.Findings.Edit(ctx, tenantID, p.Actor, findingID, e)
}

func (g *Gateway) SetFindingStatus(ctx context.Context, p Principal, tenantID, findingID string, status domain.FindingStatus) (domain.Finding, error) {
	if _, err := g.scope(ctx, p, tenantID, PermFindings, true); err != nil {
		return domain.Finding{}, err
	}
	return g.deps.Findings.SetStatus(ctx, tenantID, p.Actor, findingID, status)
}

func (g *Gateway) VerifyFinding(ctx context.Context, p Principal, tenantID, findingID string) (domain.Finding, error) {
	if _, err := g.scope(ctx, p, tenantID, PermVerifyFinding, true); err != nil {
		return domain.Finding{}, err
	}
	return g.deps.Findings.VerifyFinding(ctx, tenantID, findingID, p.Actor)
}

func (g *Gateway) ActivateHold(ctx context.Context, p Principal, tenantID, reason string, scope domain.EvidenceCategory) (domain.LitigationHold, error) {
	if _, err := g.scope(ctx, p, tenantID, PermHolds, true); err != nil {
		return domain.LitigationHold{}, err
	}
	if scope == "" {
		scope = domain.EvidenceGlobal
	}
	return g.deps.Holds.Activate(ctx, tenantID, p.Actor, reason, scope)
}

// LiftHold closes the active hold. A cosigner, when named, must be a known
// actor with hold rights who is a member of the tenant.
func (g *Gateway) LiftHold(ctx context.Context, p Principal, tenantID, cosignerID string) (domain.LitigationHold, error) {
	if _, err := g.scope(ctx, p, tenantID, PermHolds, true); err != nil {
		return domain.LitigationHold{}, err
	}
	var cosigner *domain.Actor
	if cosignerID = strings.TrimSpace(cosignerID); cosignerID != "" {
		cred, ok := g.deps.Directory.Lookup(cosignerID)
		if !ok || !Allowed(cred.Actor.Role, PermHolds) {
			return domain.LitigationHold{}, domain.ErrDualCustody
		}
		member, err := g.deps.Registry.IsMember(ctx, tenantID, cosignerID)
		if err != nil {
			return domain.LitigationHold{}, err
		}
		if !member {
			return domain.LitigationHold{}, domain.ErrDualCustody
		}
		cosigner = &cred.Actor
	}
	return g.deps.Holds.Lift(ctx, tenantID, p.Actor, cosigner)
}

// HoldState is the live hold, if any, and every past activation.
type HoldState struct {
	Active  *domain.LitigationHold  `json:"active,omitempty"`
	History []domain.LitigationHold `json:"history"`
}

func (g *Gateway) Holds(ctx context.Context, p Principal, tenantID string) (HoldState, error) {
	if _, err := g.scope(ctx, p, tenantID, PermHolds, false); err != nil {
		return HoldState{}, err
	}
	var st HoldState
	h, ok, err := g.deps.Holds.Active(ctx, tenantID)
	if err != nil {
		return HoldState{}, err
	}
	if ok {
		st.Active = &h
	}
	if st.History, err = g.deps.Holds.History(ctx, tenantID); err != nil {
		return HoldState{}, err
	}
	return st, nil
}

// AssessmentResult is a recorded assessment and the findings derived from it.
type AssessmentResult struct {
	Assessment risk.Assessment  `json:"assessment"`
	Findings   []domain.Finding `json:"findings"`
}

// RecordAssessment asks the risk engine to assess filing, evidences the
// result, stores the score on the organization and opens one AI_GENERATED
// finding per factor. The score is taken as given.
func (g *Gateway) RecordAssessment(ctx context.Context, p Principal, tenantID string, filing json.RawMessage) (AssessmentResult, error) {
	if _, err := g.scope(ctx, p, tenantID, PermAssessments, true); err != nil {
		return AssessmentResult{}, err
	}
	a, err := g.deps.Risk.Assess(ctx, tenantID, filing)
	if err != nil {
		return AssessmentResult{}, err
	}
	if err := a.Validate(); err != nil {
		return AssessmentResult{}, fmt.Errorf("%w: %v", risk.ErrUnavailable, err)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	md := ledger.AssessmentRecorded{AssessmentID: a.ID, Score: a.Score, FactorCount: len(a.Factors), Engine: a.Engine}
	if _, err := g.deps.Ledger.Record(ctx, tenantID, p.Actor.ID, md); err != nil {
		return AssessmentResult{}, err
	}
	if err := g.deps.Registry.UpdateRiskScore(ctx, tenantID, a.Score); err != nil {
		g.deps.Logger.Error("risk score not stored", "tenantId", tenantID, "assessmentId", a.ID, "error", err)
	}

	res := AssessmentResult{Assessment: a, Findings: make([]domain.Finding, 0, len(a.Factors))}
	for _, f := range a.Factors {
		desc := f.Finding
		if f.Details != "" {
			desc += ": " + f.Details
		}
		created, err := g.deps.Findings.Create(ctx, tenantID, p.Actor, finding.NewFinding{
			Category:    f.Category,
			Description: desc,
			Severity:    f.Severity,
			Source:      a.ID,
		})
		if err != nil {
			return res, fmt.Errorf("gateway: finding from assessment %s: %w", a.ID, err)
		}
		res.Findings = append(res.Findings, created)
	}
	return res, nil
}

func (g *Gateway) CaptureLead(ctx context.Context, p Principal, tenantID, email, source string) (domain.AuditEvent, error) {
	if _, err := g.scope(ctx, p, tenantID, PermLeads, true); err != nil {
		return domain.AuditEvent{}, err
	}
	if source == "" {
		source = "api"
	}
	return g.deps.Ledger.Record(ctx, tenantID, p.Actor.ID, ledger.LeadCaptured{Email: strings.TrimSpace(email), Source: source})
}

func (g *Gateway) ExportPackage(ctx context.Context, p Principal, tenantID string, scope export.Scope) (export.Package, error) {
	if _, err := g.scope(ctx, p, tenantID, PermExports, false); err != nil {
		return export.Package{}, err
	}
	return g.deps.Exports.Build(ctx, tenantID, p.Actor, scope)
}

// QueryAuditLog returns events of the bound tenant in sequence order.
func (g *Gateway) QueryAuditLog(ctx context.Context, p Principal, tenantID string, f ledger.Filter) ([]domain.AuditEvent, error) {
	if _, err := g.scope(ctx, p, tenantID, PermQueryAudit, false); err != nil {
		return nil, err
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultQueryLimit
	case f.Limit > maxQueryLimit:
		f.Limit = maxQueryLimit
	}
	return ledger.Collect(g.deps.Ledger.Query(ctx, tenantID, f))
}

// VerifyChain recomputes the bound tenant's chain. A broken chain comes back
// as a Verification with OK false together with the ChainBroken error.
func (g *Gateway) VerifyChain(ctx context.Context, p Principal, tenantID string) (ledger.Verification, error) {
	if _, err := g.scope(ctx, p, tenantID, PermVerifyChain, false); err != nil {
		return ledger.Verification{}, err
	}
	return g.deps.Ledger.Verify(ctx, tenantID)
}
