package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/compliance-ledger/internal/config"
	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/export"
	"github.com/yourorg/compliance-ledger/internal/finding"
	"github.com/yourorg/compliance-ledger/internal/hold"
	"github.com/yourorg/compliance-ledger/internal/ledger"
	"github.com/yourorg/compliance-ledger/internal/notify"
	"github.com/yourorg/compliance-ledger/internal/report"
	"github.com/yourorg/compliance-ledger/internal/risk"
	"github.com/yourorg/compliance-ledger/internal/tenant"
)

const totpSecret = "JBSWY3DPEHPK3PXP"

type fixture struct {
	gw       *Gateway
	ledger   *ledger.Ledger
	registry *tenant.Registry
	findings *finding.Workflow
	reports  *report.Scheduler
	dir      *Directory
	seed     config.Seed
}

func secretFor(id string) string { return "pw-" + id }

func testSeed(t *testing.T) config.Seed {
	t.Helper()
	expires := time.Now().Add(24 * time.Hour).UTC()
	actors := []config.SeedActor{
		{ID: "analyst-1", Role: "ANALYST", HomeTenant: "org_001"},
		{ID: "analyst-2", Role: "ANALYST", HomeTenant: "org_002"},
		{ID: "cco-1", Role: "CHIEF_COMPLIANCE_OFFICER", HomeTenant: "org_001"},
		{ID: "board-1", Role: "BOARD", HomeTenant: "org_001"},
		{ID: "reg-1", Role: "REGULATOR", RegulatorExpiresAt: &expires},
		{ID: "mfa-1", Role: "ANALYST", HomeTenant: "org_001", TOTPSecret: totpSecret},
	}
	for i := range actors {
		hash, err := HashSecret(secretFor(actors[i].ID), Config{BcryptCost: 4})
		require.NoError(t, err)
		actors[i].SecretHash = hash
	}
	return config.Seed{
		Organizations: []config.SeedOrganization{
			{ID: "org_001", DisplayName: "Acme Holdings", Members: []string{"reg-1"}},
			{ID: "org_002", DisplayName: "Globex", Members: []string{"cco-1"}},
		},
		Actors: actors,
	}
}

func testConfig() Config {
	return Config{
		JWTSecret:           "test-secret-test-secret-test-secret",
		Issuer:              "test",
		TokenTTL:            12 * time.Hour,
		IdleTimeout:         30 * time.Minute,
		RegulatorMaxSession: 2 * time.Hour,
		RatePerSecond:       1000,
		RateBurst:           1000,
		MaxBodyBytes:        1 << 20,
	}
}

func newFixture(t *testing.T, engine risk.Engine) *fixture {
	t.Helper()
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore(), notify.Discard{}, nil)
	reg := tenant.NewRegistry(tenant.NewMemoryStore(), l, tenant.Config{}, nil)
	holds := hold.NewManager(hold.NewMemoryStore(), l, hold.Config{}, nil)
	wf := finding.NewWorkflow(finding.NewMemoryStore(), l, holds, nil)
	sched := report.NewScheduler(report.Deps{
		Store:   report.NewMemoryArtifactStore(),
		Blobs:   report.NewInMemoryStorage(),
		Source:  report.LiveSource{Orgs: reg, Findings: wf, Holds: holds, Chain: l},
		Ledger:  l,
		Guard:   holds,
		Notices: notify.Discard{},
	}, report.Config{Workers: 1, MaxQueue: 8})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Close(ctx)
	})

	dir := NewDirectory()
	seed := testSeed(t)
	require.NoError(t, ApplySeed(ctx, seed, dir, reg))

	gw := New(Deps{
		Ledger:    l,
		Registry:  reg,
		Holds:     holds,
		Findings:  wf,
		Reports:   sched,
		Exports:   export.NewBuilder(l, wf, holds, nil),
		Risk:      engine,
		Directory: dir,
	}, testConfig())
	return &fixture{gw: gw, ledger: l, registry: reg, findings: wf, reports: sched, dir: dir, seed: seed}
}

// bind logs actorID in and binds the session to tenantID.
func (f *fixture) bind(t *testing.T, actorID, tenantID string) Principal {
	t.Helper()
	ctx := context.Background()
	res, err := f.gw.Login(ctx, actorID, secretFor(actorID), "")
	require.NoError(t, err)
	p, err := f.gw.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	_, err = f.gw.SwitchContext(ctx, p, tenantID)
	require.NoError(t, err)
	return p
}

func (f *fixture) events(t *testing.T, tenantID string, actions ...ledger.Action) []domain.AuditEvent {
	t.Helper()
	evs, err := ledger.Collect(f.ledger.Query(context.Background(), tenantID, ledger.Filter{Actions: actions}))
	require.NoError(t, err)
	return evs
}

func TestLogin_RecordsEveryAttempt(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.gw.Login(ctx, "analyst-1", secretFor("analyst-1"), "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, domain.RoleAnalyst, res.Actor.Role)

	_, err = f.gw.Login(ctx, "analyst-1", "wrong", "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.gw.Login(ctx, "mallory", "anything", "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	ok := f.events(t, "org_001", ledger.ActionLoginSuccess)
	require.Len(t, ok, 1)
	md, err := ledger.DecodeMetadata(ledger.Action(ok[0].Action), ok[0].Metadata)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, md.(*ledger.LoginSuccess).SessionID)

	require.Len(t, f.events(t, "org_001", ledger.ActionLoginFailed), 1)
	unknown := f.events(t, domain.SystemTenantID, ledger.ActionLoginFailed)
	require.Len(t, unknown, 1)
	assert.Equal(t, "mallory", unknown[0].ActorID)
}

func TestLogin_SecondFactor(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.gw.Login(ctx, "mfa-1", secretFor("mfa-1"), "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.gw.Login(ctx, "mfa-1", secretFor("mfa-1"), "000000x")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	code, err := totp.GenerateCode(totpSecret, time.Now())
	require.NoError(t, err)
	_, err = f.gw.Login(ctx, "mfa-1", secretFor("mfa-1"), code)
	require.NoError(t, err)

	evs := f.events(t, "org_001", ledger.ActionLoginSuccess)
	require.Len(t, evs, 1)
	md, err := ledger.DecodeMetadata(ledger.Action(evs[0].Action), evs[0].Metadata)
	require.NoError(t, err)
	assert.True(t, md.(*ledger.LoginSuccess).MFA)
}

func TestAuthenticate_IdleTimeout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now()
	f.gw.now = func() time.Time { return now }

	res, err := f.gw.Login(ctx, "analyst-1", secretFor("analyst-1"), "")
	require.NoError(t, err)
	_, err = f.gw.Authenticate(ctx, res.Token)
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	_, err = f.gw.Authenticate(ctx, res.Token)
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	now = now.Add(time.Minute)
	_, err = f.gw.Authenticate(ctx, res.Token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestAuthenticate_RejectsForeignAndRevokedTokens(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	other := New(Deps{Ledger: f.ledger, Registry: f.registry, Directory: f.dir}, Config{JWTSecret: "another-secret", Issuer: "test", TokenTTL: time.Hour})
	res, err := other.Login(ctx, "analyst-1", secretFor("analyst-1"), "")
	require.NoError(t, err)
	_, err = f.gw.Authenticate(ctx, res.Token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	res, err = f.gw.Login(ctx, "analyst-1", secretFor("analyst-1"), "")
	require.NoError(t, err)
	p, err := f.gw.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	f.gw.Logout(ctx, p)
	_, err = f.gw.Authenticate(ctx, res.Token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestRegulator_HardExpiry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now()
	f.gw.now = func() time.Time { return now }

	expires := now.Add(time.Hour)
	cred, _ := f.dir.Lookup("reg-1")
	cred.Actor.RegulatorExpiresAt = &expires
	f.dir.Put(cred)

	res, err := f.gw.Login(ctx, "reg-1", secretFor("reg-1"), "")
	require.NoError(t, err)
	assert.True(t, res.ExpiresAt.Equal(expires))

	// activity keeps the idle clock fresh but not the hard expiry
	for i := 0; i < 3; i++ {
		now = now.Add(20 * time.Minute)
		_, err := f.gw.Authenticate(ctx, res.Token)
		if i < 2 {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, domain.ErrSessionExpired)
		}
	}
}

func TestRegulator_ExpiredAccessCannotLogIn(t *testing.T) {
	f := newFixture(t, nil)
	past := time.Now().Add(-time.Minute)
	cred, _ := f.dir.Lookup("reg-1")
	cred.Actor.RegulatorExpiresAt = &past
	f.dir.Put(cred)

	_, err := f.gw.Login(context.Background(), "reg-1", secretFor("reg-1"), "")
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	require.Len(t, f.events(t, domain.SystemTenantID, ledger.ActionLoginFailed), 1)
}

func TestRegulator_ReadOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.bind(t, "reg-1", "org_001")

	_, err := f.gw.QueryAuditLog(ctx, p, "org_001", ledger.Filter{})
	require.NoError(t, err)
	v, err := f.gw.VerifyChain(ctx, p, "org_001")
	require.NoError(t, err)
	assert.True(t, v.OK)

	denied := map[string]error{}
	_, denied["SubmitReport"] = f.gw.SubmitReport(ctx, p, "org_001", domain.ReportAudit)
	_, denied["CreateFinding"] = f.gw.CreateFinding(ctx, p, "org_001", finding.NewFinding{Category: "AML", Description: "x", Severity: domain.SeverityLow})
	_, denied["VerifyFinding"] = f.gw.VerifyFinding(ctx, p, "org_001", "101")
	_, denied["ActivateHold"] = f.gw.ActivateHold(ctx, p, "org_001", "Subpoena", domain.EvidenceGlobal)
	_, denied["ExportPackage"] = f.gw.ExportPackage(ctx, p, "org_001", export.Scope{})
	_, denied["CaptureLead"] = f.gw.CaptureLead(ctx, p, "org_001", "lead@example.com", "web")
	_, denied["Organization"] = f.gw.Organization(ctx, p, "org_001")
	_, denied["CreateOrganization"] = f.gw.CreateOrganization(ctx, p, tenant.NewOrganization{DisplayName: "Rogue"})
	for op, err := range denied {
		assert.ErrorIs(t, err, domain.ErrRoleForbidden, op)
	}
}

func TestTenantIsolationMatrix(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		actor, bound, other string
	}{
		{"analyst-1", "org_001", "org_002"},
		{"analyst-2", "org_002", "org_001"},
		{"cco-1", "org_001", "org_002"},
		{"cco-1", "org_002", "org_001"},
	}
	for _, tc := range cases {
		t.Run(tc.actor+"@"+tc.bound, func(t *testing.T) {
			p := f.bind(t, tc.actor, tc.bound)
			_, err := f.gw.QueryAuditLog(ctx, p, tc.bound, ledger.Filter{})
			require.NoError(t, err)

			calls := map[string]func() error{
				"QueryAuditLog": func() error { _, err := f.gw.QueryAuditLog(ctx, p, tc.other, ledger.Filter{}); return err },
				"VerifyChain":   func() error { _, err := f.gw.VerifyChain(ctx, p, tc.other); return err },
				"SubmitReport":  func() error { _, err := f.gw.SubmitReport(ctx, p, tc.other, domain.ReportAudit); return err },
				"ListFindings":  func() error { _, err := f.gw.ListFindings(ctx, p, tc.other); return err },
				"CreateFinding": func() error {
					_, err := f.gw.CreateFinding(ctx, p, tc.other, finding.NewFinding{Category: "AML", Description: "x", Severity: domain.SeverityLow})
					return err
				},
				"VerifyFinding": func() error { _, err := f.gw.VerifyFinding(ctx, p, tc.other, "101"); return err },
				"CaptureLead":   func() error { _, err := f.gw.CaptureLead(ctx, p, tc.other, "lead@example.com", "web"); return err },
				"ReportStatus":  func() error { _, err := f.gw.ReportStatus(ctx, p, tc.other, "x"); return err },
			}
			for op, call := range calls {
				assert.ErrorIs(t, call(), domain.ErrAccessDenied, op)
			}
		})
	}

	p := f.bind(t, "analyst-1", "org_001")
	_, err := f.gw.SwitchContext(ctx, p, "org_002")
	require.ErrorIs(t, err, domain.ErrAccessDenied)
	_, err = f.gw.SwitchContext(ctx, p, "org_404")
	require.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Empty(t, f.events(t, "org_002", ledger.ActionFindingCreated, ledger.ActionLeadCaptured))
}

func TestHoldScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cco := f.bind(t, "cco-1", "org_001")

	_, err := f.gw.CreateFinding(ctx, cco, "org_001", finding.NewFinding{ID: "101", Category: "AML", Description: "Wire transfer gaps", Severity: domain.SeverityHigh})
	require.NoError(t, err)

	a, err := f.gw.SubmitReport(ctx, cco, "org_001", domain.ReportAudit)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportQueued, a.Status)
	assert.Equal(t, domain.PendingDigest, a.ContentDigest)
	require.Eventually(t, func() bool {
		got, err := f.gw.ReportStatus(ctx, cco, "org_001", a.ID)
		return err == nil && got.Status == domain.ReportCompleted
	}, 5*time.Second, 10*time.Millisecond)
	first, err := f.gw.ReportStatus(ctx, cco, "org_001", a.ID)
	require.NoError(t, err)
	second, err := f.gw.ReportStatus(ctx, cco, "org_001", a.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ContentDigest, second.ContentDigest)

	generated := f.events(t, "org_001", ledger.ActionReportGenerated)
	require.Len(t, generated, 1)
	md, err := ledger.DecodeMetadata(ledger.Action(generated[0].Action), generated[0].Metadata)
	require.NoError(t, err)
	assert.Equal(t, first.ContentDigest, md.(*ledger.ReportGenerated).Digest)

	h, err := f.gw.ActivateHold(ctx, cco, "org_001", "Subpoena received", "")
	require.NoError(t, err)
	assert.Equal(t, domain.EvidenceGlobal, h.Scope)
	activated := f.events(t, "org_001", ledger.ActionLitigationHoldActivated)
	require.Len(t, activated, 1)

	desc := "rewritten"
	_, err = f.gw.EditFinding(ctx, cco, "org_001", "101", finding.Edit{Description: &desc})
	require.ErrorIs(t, err, domain.ErrHoldViolation)

	verified, err := f.gw.VerifyFinding(ctx, cco, "org_001", "101")
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationHumanVerified, verified.Verification)
	ev := f.events(t, "org_001", ledger.ActionFindingVerified)
	require.Len(t, ev, 1)
	assert.Equal(t, activated[0].Seq+1, ev[0].Seq)

	_, err = f.gw.VerifyFinding(ctx, cco, "org_001", "101")
	require.ErrorIs(t, err, domain.ErrAlreadyVerified)

	v, err := f.gw.VerifyChain(ctx, cco, "org_001")
	require.NoError(t, err)
	assert.True(t, v.OK)
}

func TestLiftHold_DualCustody(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cco := f.bind(t, "cco-1", "org_001")
	board := f.bind(t, "board-1", "org_001")
	analyst := f.bind(t, "analyst-1", "org_001")

	_, err := f.gw.ActivateHold(ctx, cco, "org_001", "Subpoena received", domain.EvidenceFindings)
	require.NoError(t, err)
	_, err = f.gw.ActivateHold(ctx, board, "org_001", "again", domain.EvidenceGlobal)
	require.ErrorIs(t, err, domain.ErrHoldAlreadyActive)

	_, err = f.gw.LiftHold(ctx, analyst, "org_001", "")
	require.ErrorIs(t, err, domain.ErrRoleForbidden)
	_, err = f.gw.LiftHold(ctx, cco, "org_001", "")
	require.ErrorIs(t, err, domain.ErrDualCustody)
	_, err = f.gw.LiftHold(ctx, board, "org_001", "analyst-1")
	require.ErrorIs(t, err, domain.ErrDualCustody)

	lifted, err := f.gw.LiftHold(ctx, board, "org_001", "cco-1")
	require.NoError(t, err)
	assert.False(t, lifted.Active)
	require.NotNil(t, lifted.Cosigner)
	assert.Equal(t, "cco-1", *lifted.Cosigner)

	_, err = f.gw.LiftHold(ctx, board, "org_001", "")
	require.ErrorIs(t, err, domain.ErrNoActiveHold)

	st, err := f.gw.Holds(ctx, board, "org_001")
	require.NoError(t, err)
	assert.Nil(t, st.Active)
	assert.Len(t, st.History, 1)
}

func TestRecordAssessment(t *testing.T) {
	engine := risk.Static{Result: risk.Assessment{
		ID:    "asm-1",
		Score: 72,
		Factors: []risk.Factor{
			{Category: "AML", Score: 40, Severity: domain.SeverityHigh, Finding: "Structuring pattern", Details: "12 deposits under threshold"},
			{Category: "KYC", Score: 32, Severity: domain.SeverityMedium, Finding: "Stale beneficial owner data"},
		},
	}}
	f := newFixture(t, engine)
	ctx := context.Background()
	p := f.bind(t, "analyst-1", "org_001")

	res, err := f.gw.RecordAssessment(ctx, p, "org_001", json.RawMessage(`{"filing":"10-K"}`))
	require.NoError(t, err)
	require.Len(t, res.Findings, 2)
	for _, fd := range res.Findings {
		assert.Equal(t, domain.VerificationAIGenerated, fd.Verification)
		assert.Equal(t, domain.FindingOpen, fd.Status)
		assert.Equal(t, "asm-1", fd.Source)
	}
	assert.Contains(t, res.Findings[0].Description, "12 deposits")

	org, err := f.gw.Organization(ctx, p, "org_001")
	require.NoError(t, err)
	require.NotNil(t, org.RiskScore)
	assert.Equal(t, 72, *org.RiskScore)

	evs := f.events(t, "org_001", ledger.ActionAssessmentRecorded)
	require.Len(t, evs, 1)
	md, err := ledger.DecodeMetadata(ledger.Action(evs[0].Action), evs[0].Metadata)
	require.NoError(t, err)
	rec := md.(*ledger.AssessmentRecorded)
	assert.Equal(t, 72, rec.Score)
	assert.Equal(t, 2, rec.FactorCount)
	assert.Len(t, f.events(t, "org_001", ledger.ActionFindingCreated), 2)
}

func TestRecordAssessment_EngineUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	p := f.bind(t, "analyst-1", "org_001")
	_, err := f.gw.RecordAssessment(context.Background(), p, "org_001", json.RawMessage(`{}`))
	require.ErrorIs(t, err, risk.ErrUnavailable)
	assert.Empty(t, f.events(t, "org_001", ledger.ActionAssessmentRecorded))
}

func TestSuspendedOrganization(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cco := f.bind(t, "cco-1", "org_001")

	org, err := f.gw.SetOrgStatus(ctx, cco, "org_001", domain.OrgSuspended)
	require.NoError(t, err)
	assert.Equal(t, domain.OrgSuspended, org.Status)

	_, err = f.gw.CreateFinding(ctx, cco, "org_001", finding.NewFinding{Category: "AML", Description: "x", Severity: domain.SeverityLow})
	require.ErrorIs(t, err, domain.ErrTenantSuspended)
	_, err = f.gw.QueryAuditLog(ctx, cco, "org_001", ledger.Filter{})
	require.NoError(t, err)

	_, err = f.gw.SetOrgStatus(ctx, cco, "org_001", domain.OrgActive)
	require.NoError(t, err)
	_, err = f.gw.CreateFinding(ctx, cco, "org_001", finding.NewFinding{Category: "AML", Description: "x", Severity: domain.SeverityLow})
	require.NoError(t, err)
	assert.Len(t, f.events(t, "org_001", ledger.ActionOrgStatusChanged), 2)
}

func TestQueryAuditLog_Filters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.bind(t, "analyst-1", "org_001")
	for i := 0; i < 3; i++ {
		_, err := f.gw.CaptureLead(ctx, p, "org_001", "lead@example.com", "web")
		require.NoError(t, err)
	}

	evs, err := f.gw.QueryAuditLog(ctx, p, "org_001", ledger.Filter{Actions: []ledger.Action{ledger.ActionLeadCaptured}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Less(t, evs[0].Seq, evs[1].Seq)

	_, err = f.gw.CaptureLead(ctx, p, "org_001", "not-an-email", "web")
	require.ErrorIs(t, err, domain.ErrInvalidMetadata)
}

func TestApplySeed_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, ApplySeed(context.Background(), f.seed, f.dir, f.registry))
	assert.Len(t, f.events(t, "org_001", ledger.ActionOrgCreate), 1)
	assert.Len(t, f.events(t, "org_002", ledger.ActionOrgCreate), 1)
	assert.Equal(t, len(f.seed.Actors), f.dir.Len())

	bad := f.seed
	bad.Actors = append([]config.SeedActor{}, f.seed.Actors...)
	bad.Actors[0].Role = "JANITOR"
	require.Error(t, ApplySeed(context.Background(), bad, f.dir, f.registry))
}

func TestVerifySecret(t *testing.T) {
	bc, err := HashSecret("s3cret", Config{BcryptCost: 4})
	require.NoError(t, err)
	assert.True(t, VerifySecret("s3cret", bc))
	assert.False(t, VerifySecret("other", bc))

	a2, err := HashSecret("s3cret", Config{HashAlgorithm: "argon2", Argon2Time: 1, Argon2Memory: 8 * 1024, Argon2Threads: 1})
	require.NoError(t, err)
	assert.True(t, VerifySecret("s3cret", a2))
	assert.False(t, VerifySecret("other", a2))
	assert.False(t, VerifySecret("s3cret", "plaintext"))
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed(domain.RoleRegulator, PermQueryAudit))
	assert.True(t, Allowed(domain.RoleRegulator, PermVerifyChain))
	assert.False(t, Allowed(domain.RoleRegulator, PermViewOrg))
	assert.False(t, Allowed(domain.RoleAnalyst, PermHolds))
	assert.False(t, Allowed(domain.RoleBoard, PermFindings))
	assert.True(t, Allowed(domain.RoleBoard, PermExports))
	assert.True(t, Allowed(domain.RoleChiefComplianceOfficer, PermPurgeReports))
	assert.False(t, Allowed(domain.Role("JANITOR"), PermQueryAudit))
}
