package hold

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/ledger"
	"github.com/yourorg/compliance-ledger/internal/notify"
)

var (
	cco   = domain.Actor{ID: "cco-1", Role: domain.RoleChiefComplianceOfficer}
	cco2  = domain.Actor{ID: "cco-2", Role: domain.RoleChiefComplianceOfficer}
	board = domain.Actor{ID: "board-1", Role: domain.RoleBoard}
)

func newManager(t *testing.T, cfg Config) (*Manager, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore(), notify.Discard{}, nil)
	return NewManager(NewMemoryStore(), l, cfg, nil), l
}

func TestActivate_StateMachine(t *testing.T) {
	m, l := newManager(t, Config{})
	ctx := context.Background()

	_, err := m.Activate(ctx, "org_001", cco, "  ", domain.EvidenceGlobal)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	h, err := m.Activate(ctx, "org_001", cco, "Subpoena received", "")
	require.NoError(t, err)
	assert.True(t, h.Active)
	assert.Equal(t, domain.EvidenceGlobal, h.Scope)

	_, err = m.Activate(ctx, "org_001", board, "again", domain.EvidenceGlobal)
	require.ErrorIs(t, err, domain.ErrHoldAlreadyActive)

	lifted, err := m.Lift(ctx, "org_001", board, nil)
	require.NoError(t, err)
	assert.False(t, lifted.Active)
	require.NotNil(t, lifted.LiftedBy)
	assert.Equal(t, board.ID, *lifted.LiftedBy)

	_, err = m.Lift(ctx, "org_001", board, nil)
	require.ErrorIs(t, err, domain.ErrNoActiveHold)

	_, err = m.Activate(ctx, "org_001", board, "Second matter", domain.EvidenceFindings)
	require.NoError(t, err)

	history, err := m.History(ctx, "org_001")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	events, err := ledger.Collect(l.Query(ctx, "org_001", ledger.Filter{}))
	require.NoError(t, err)
	var actions []string
	for _, ev := range events {
		actions = append(actions, ev.Action)
	}
	assert.Equal(t, []string{
		string(ledger.ActionLitigationHoldActivated),
		string(ledger.ActionLitigationHoldLifted),
		string(ledger.ActionLitigationHoldActivated),
	}, actions)
}

func TestLift_DualCustody(t *testing.T) {
	m, _ := newManager(t, Config{})
	ctx := context.Background()
	_, err := m.Activate(ctx, "org_001", cco, "Subpoena received", domain.EvidenceGlobal)
	require.NoError(t, err)

	_, err = m.Lift(ctx, "org_001", cco, nil)
	require.ErrorIs(t, err, domain.ErrDualCustody)
	_, err = m.Lift(ctx, "org_001", cco2, nil)
	require.ErrorIs(t, err, domain.ErrAccessDenied)

	active, ok, err := m.Active(ctx, "org_001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, active.Active)
}

func TestLift_StrictRequiresCosigner(t *testing.T) {
	m, _ := newManager(t, Config{StrictDualCustody: true})
	ctx := context.Background()
	_, err := m.Activate(ctx, "org_001", cco, "Subpoena received", domain.EvidenceGlobal)
	require.NoError(t, err)

	_, err = m.Lift(ctx, "org_001", board, nil)
	require.ErrorIs(t, err, domain.ErrDualCustody)
	_, err = m.Lift(ctx, "org_001", board, &board)
	require.ErrorIs(t, err, domain.ErrDualCustody)

	h, err := m.Lift(ctx, "org_001", board, &cco2)
	require.NoError(t, err)
	require.NotNil(t, h.Cosigner)
	assert.Equal(t, cco2.ID, *h.Cosigner)
}

func TestCheckMutation_Scope(t *testing.T) {
	m, _ := newManager(t, Config{})
	ctx := context.Background()

	require.NoError(t, m.CheckMutation(ctx, "org_001", domain.EvidenceFindings))

	_, err := m.Activate(ctx, "org_001", cco, "Findings only", domain.EvidenceFindings)
	require.NoError(t, err)
	assert.ErrorIs(t, m.CheckMutation(ctx, "org_001", domain.EvidenceFindings), domain.ErrHoldViolation)
	assert.NoError(t, m.CheckMutation(ctx, "org_001", domain.EvidenceReportArtifacts))
	assert.NoError(t, m.CheckMutation(ctx, "org_002", domain.EvidenceFindings))

	_, err = m.Lift(ctx, "org_001", board, nil)
	require.NoError(t, err)
	_, err = m.Activate(ctx, "org_001", cco, "Everything", domain.EvidenceGlobal)
	require.NoError(t, err)
	assert.ErrorIs(t, m.CheckMutation(ctx, "org_001", domain.EvidenceReportArtifacts), domain.ErrHoldViolation)
	assert.ErrorIs(t, m.CheckMutation(ctx, "org_001", domain.EvidenceAuditEvents), domain.ErrHoldViolation)
}

func TestMutate_ActivationWaitsForWrite(t *testing.T) {
	m, _ := newManager(t, Config{})
	ctx := context.Background()

	activated := make(chan error, 1)
	var ranUnheld bool
	err := m.Mutate(ctx, "org_001", domain.EvidenceFindings, func() error {
		go func() {
			_, err := m.Activate(ctx, "org_001", cco, "Subpoena received", domain.EvidenceGlobal)
			activated <- err
		}()
		select {
		case <-activated:
			t.Error("activation committed while a guarded write was running")
		case <-time.After(50 * time.Millisecond):
		}
		_, active, err := m.Active(ctx, "org_001")
		ranUnheld = err == nil && !active
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ranUnheld)
	require.NoError(t, <-activated)

	called := false
	err = m.Mutate(ctx, "org_001", domain.EvidenceFindings, func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, domain.ErrHoldViolation)
	assert.False(t, called)

	require.NoError(t, m.Mutate(ctx, "org_002", domain.EvidenceFindings, func() error { return nil }))
}

func TestActivate_ConcurrentOnlyOneWins(t *testing.T) {
	m, _ := newManager(t, Config{})
	ctx := context.Background()
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := m.Activate(ctx, "org_001", cco, "race", domain.EvidenceGlobal)
			errs <- err
		}()
	}
	wins := 0
	for i := 0; i < 10; i++ {
		if err := <-errs; err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrHoldAlreadyActive)
		}
	}
	assert.Equal(t, 1, wins)
}
