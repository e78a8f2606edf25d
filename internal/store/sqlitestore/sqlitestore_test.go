package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/finding"
	"github.com/yourorg/compliance-ledger/internal/hold"
	"github.com/yourorg/compliance-ledger/internal/ledger"
	"github.com/yourorg/compliance-ledger/internal/notify"
	"github.com/yourorg/compliance-ledger/internal/tenant"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var cco = domain.Actor{ID: "cco-1", Role: domain.RoleChiefComplianceOfficer}

func TestLedgerOnSQLite_VerifiesAfterReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	db, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	l := ledger.New(db.Events(), notify.Discard{}, nil)
	for i := 0; i < 5; i++ {
		_, err := l.Record(ctx, "org_001", cco.ID, ledger.LeadCaptured{Email: "lead@example.com", Source: "web"})
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	db, err = Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer db.Close()
	l = ledger.New(db.Events(), notify.Discard{}, nil)

	v, err := l.Verify(ctx, "org_001")
	require.NoError(t, err)
	assert.True(t, v.OK)
	assert.Equal(t, int64(5), v.EventCount)

	ev, err := l.Record(ctx, "org_001", cco.ID, ledger.LeadCaptured{Email: "next@example.com", Source: "web"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), ev.Seq)
}

func TestEvents_AppendOnly(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l := ledger.New(db.Events(), notify.Discard{}, nil)
	_, err := l.Record(ctx, "org_001", cco.ID, ledger.LeadCaptured{Email: "lead@example.com", Source: "web"})
	require.NoError(t, err)

	_, err = db.db.ExecContext(ctx, `UPDATE audit_events SET actor_id = 'mallory' WHERE tenant_id = 'org_001'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = db.db.ExecContext(ctx, `DELETE FROM audit_events WHERE tenant_id = 'org_001'`)
	require.Error(t, err)

	v, err := l.Verify(ctx, "org_001")
	require.NoError(t, err)
	assert.True(t, v.OK)
}

func TestEvents_SeqConflict(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Events()
	ev := domain.AuditEvent{ID: "e0", TenantID: "org_001", Seq: 0, Action: "LEAD_CAPTURED", ActorID: "a",
		Timestamp: time.Now(), Metadata: []byte(`{}`), Digest: "d0", PrevDigest: "p"}
	require.NoError(t, s.Append(ctx, ev))

	ev.ID = "e0b"
	require.ErrorIs(t, s.Append(ctx, ev), ledger.ErrSeqConflict)
	ev.ID, ev.Seq = "e2", 2
	require.ErrorIs(t, s.Append(ctx, ev), ledger.ErrSeqConflict)

	ev.TenantID, ev.ID, ev.Seq = "org_002", "e3", 0
	require.NoError(t, s.Append(ctx, ev))

	page, err := s.Range(ctx, "org_001", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "d0", page[0].Digest)
}

func TestOrgs(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Orgs()
	org := domain.Organization{ID: "org_001", DisplayName: "Acme", Status: domain.OrgActive, CreatedAt: time.Now()}
	require.NoError(t, s.Create(ctx, org))
	require.ErrorIs(t, s.Create(ctx, org), tenant.ErrExists)

	added, err := s.AddMember(ctx, "org_001", "analyst-1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddMember(ctx, "org_001", "analyst-1")
	require.NoError(t, err)
	assert.False(t, added)
	_, err = s.AddMember(ctx, "org_404", "analyst-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	score := 62
	org.RiskScore = &score
	org.Status = domain.OrgSuspended
	require.NoError(t, s.Update(ctx, org))

	got, err := s.Get(ctx, "org_001")
	require.NoError(t, err)
	assert.Equal(t, 1, got.MemberCount)
	require.NotNil(t, got.RiskScore)
	assert.Equal(t, 62, *got.RiskScore)
	assert.Equal(t, domain.OrgSuspended, got.Status)

	tenants, err := s.MemberTenants(ctx, "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"org_001"}, tenants)
}

func TestHolds_WithManager(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l := ledger.New(db.Events(), notify.Discard{}, nil)
	m := hold.NewManager(db.Holds(), l, hold.Config{}, nil)

	_, err := m.Activate(ctx, "org_001", cco, "Subpoena received", domain.EvidenceGlobal)
	require.NoError(t, err)
	_, err = m.Activate(ctx, "org_001", cco, "again", domain.EvidenceGlobal)
	require.ErrorIs(t, err, domain.ErrHoldAlreadyActive)
	require.ErrorIs(t, m.CheckMutation(ctx, "org_001", domain.EvidenceFindings), domain.ErrHoldViolation)

	lifted, err := m.Lift(ctx, "org_001", domain.Actor{ID: "board-1", Role: domain.RoleBoard}, nil)
	require.NoError(t, err)
	assert.False(t, lifted.Active)

	history, err := m.History(ctx, "org_001")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].LiftedAt)
	assert.Equal(t, "board-1", *history[0].LiftedBy)

	// the partial index allows a new active hold once the previous one is lifted
	_, err = m.Activate(ctx, "org_001", cco, "Second matter", domain.EvidenceFindings)
	require.NoError(t, err)
	require.ErrorIs(t, db.Holds().Insert(ctx, domain.LitigationHold{
		ID: "dup", TenantID: "org_001", Active: true, Reason: "x", Scope: domain.EvidenceGlobal,
		ActivatedBy: "cco-1", ActivatedByRole: domain.RoleChiefComplianceOfficer, ActivatedAt: time.Now(),
	}), hold.ErrActiveExists)
}

func TestFindings_WithWorkflow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l := ledger.New(db.Events(), notify.Discard{}, nil)
	holds := hold.NewManager(db.Holds(), l, hold.Config{}, nil)
	wf := finding.NewWorkflow(db.Findings(), l, holds, nil)

	_, err := wf.Create(ctx, "org_001", cco, finding.NewFinding{ID: "101", Category: "AML", Description: "Wire gaps", Severity: domain.SeverityHigh})
	require.NoError(t, err)
	f, err := wf.VerifyFinding(ctx, "org_001", "101", cco)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationHumanVerified, f.Verification)

	got, err := db.Findings().Get(ctx, "org_001", "101")
	require.NoError(t, err)
	require.NotNil(t, got.VerifiedAt)
	assert.Equal(t, "cco-1", *got.VerifiedBy)

	_, err = db.Findings().Get(ctx, "org_002", "101")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArtifacts(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Artifacts()
	now := time.Now().UTC()
	a := domain.ReportArtifact{
		ID: "00000000-0000-0000-0000-000000000001", TenantID: "org_001", Type: domain.ReportAudit,
		Status: domain.ReportQueued, RequestedBy: "analyst-1", CreatedAt: now, ContentDigest: domain.PendingDigest,
	}
	require.NoError(t, s.Insert(ctx, a))

	unfinished, err := s.Unfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)

	a.Status = domain.ReportCompleted
	a.CompletedAt = &now
	a.ContentDigest = "abc"
	a.Size = 3
	require.NoError(t, s.Update(ctx, a))

	got, err := s.Get(ctx, "org_001", a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportCompleted, got.Status)
	assert.Equal(t, "abc", got.ContentDigest)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, now.Equal(*got.CompletedAt))

	_, err = s.Get(ctx, "org_002", a.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	unfinished, err = s.Unfinished(ctx)
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}
