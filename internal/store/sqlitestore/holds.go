package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/hold"
)

// HoldStore implements hold.Store. A partial unique index allows a single
// active row per tenant.
type HoldStore struct {
	db *sql.DB
}

var _ hold.Store = (*HoldStore)(nil)

const holdColumns = `id, tenant_id, active, reason, scope, activated_by, activated_by_role, activated_at, lifted_by, lifted_at, cosigner`

func (s *HoldStore) Insert(ctx context.Context, h domain.LitigationHold) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO litigation_holds (`+holdColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.TenantID, h.Active, h.Reason, string(h.Scope), h.ActivatedBy, string(h.ActivatedByRole),
		formatTime(h.ActivatedAt), nullString(h.LiftedBy), nullTime(h.LiftedAt), nullString(h.Cosigner))
	if err != nil {
		if isConstraint(err) {
			return hold.ErrActiveExists
		}
		return fmt.Errorf("sqlitestore: insert hold: %w", err)
	}
	return nil
}

func (s *HoldStore) Update(ctx context.Context, h domain.LitigationHold) error {
	res, err := s.db.ExecContext(ctx, `UPDATE litigation_holds
		SET active = ?, lifted_by = ?, lifted_at = ?, cosigner = ?
		WHERE tenant_id = ? AND id = ?`,
		h.Active, nullString(h.LiftedBy), nullTime(h.LiftedAt), nullString(h.Cosigner), h.TenantID, h.ID)
	if err != nil {
		if isConstraint(err) {
			return hold.ErrActiveExists
		}
		return fmt.Errorf("sqlitestore: update hold: %w", err)
	}
	return requireRow(res)
}

func (s *HoldStore) Discard(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM litigation_holds WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: discard hold: %w", err)
	}
	return requireRow(res)
}

func (s *HoldStore) Active(ctx context.Context, tenantID string) (domain.LitigationHold, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM litigation_holds
		WHERE tenant_id = ? AND active = 1`, tenantID)
	h, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LitigationHold{}, false, nil
	}
	if err != nil {
		return domain.LitigationHold{}, false, fmt.Errorf("sqlitestore: active hold: %w", err)
	}
	return h, true, nil
}

func (s *HoldStore) List(ctx context.Context, tenantID string) ([]domain.LitigationHold, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+holdColumns+` FROM litigation_holds
		WHERE tenant_id = ? ORDER BY activated_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list holds: %w", err)
	}
	defer rows.Close()
	var out []domain.LitigationHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan hold: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHold(sc scanner) (domain.LitigationHold, error) {
	var (
		h                        domain.LitigationHold
		scope, role, activatedAt string
		liftedBy, liftedAt, co   sql.NullString
	)
	if err := sc.Scan(&h.ID, &h.TenantID, &h.Active, &h.Reason, &scope, &h.ActivatedBy, &role,
		&activatedAt, &liftedBy, &liftedAt, &co); err != nil {
		return domain.LitigationHold{}, err
	}
	var err error
	h.Scope = domain.EvidenceCategory(scope)
	h.ActivatedByRole = domain.Role(role)
	if h.ActivatedAt, err = parseTime(activatedAt); err != nil {
		return domain.LitigationHold{}, err
	}
	if h.LiftedAt, err = timePtr(liftedAt); err != nil {
		return domain.LitigationHold{}, err
	}
	h.LiftedBy = stringPtr(liftedBy)
	h.Cosigner = stringPtr(co)
	return h, nil
}
