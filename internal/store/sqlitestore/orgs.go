package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/tenant"
)

// OrgStore implements tenant.OrgStore.
type OrgStore struct {
	db *sql.DB
}

var _ tenant.OrgStore = (*OrgStore)(nil)

func (s *OrgStore) Create(ctx context.Context, org domain.Organization) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO organizations
		(id, display_name, tax_id, risk_score, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		org.ID, org.DisplayName, org.TaxID, nullInt(org.RiskScore), string(org.Status), formatTime(org.CreatedAt))
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: %s", tenant.ErrExists, org.ID)
		}
		return fmt.Errorf("sqlitestore: create organization: %w", err)
	}
	return nil
}

// Discard removes an organization and its memberships in one transaction.
func (s *OrgStore) Discard(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: discard organization: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE tenant_id = ?`, id); err != nil {
		return fmt.Errorf("sqlitestore: discard memberships: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM organizations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: discard organization: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *OrgStore) Get(ctx context.Context, id string) (domain.Organization, error) {
	var (
		org     domain.Organization
		risk    sql.NullInt64
		status  string
		created string
	)
	err := s.db.QueryRowContext(ctx, `SELECT o.id, o.display_name, o.tax_id, o.risk_score, o.status, o.created_at,
			(SELECT COUNT(*) FROM memberships m WHERE m.tenant_id = o.id)
		FROM organizations o WHERE o.id = ?`, id).
		Scan(&org.ID, &org.DisplayName, &org.TaxID, &risk, &status, &created, &org.MemberCount)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Organization{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Organization{}, fmt.Errorf("sqlitestore: get organization: %w", err)
	}
	if risk.Valid {
		v := int(risk.Int64)
		org.RiskScore = &v
	}
	org.Status = domain.OrgStatus(status)
	if org.CreatedAt, err = parseTime(created); err != nil {
		return domain.Organization{}, fmt.Errorf("sqlitestore: get organization: %w", err)
	}
	return org, nil
}

func (s *OrgStore) Update(ctx context.Context, org domain.Organization) error {
	res, err := s.db.ExecContext(ctx, `UPDATE organizations
		SET display_name = ?, tax_id = ?, risk_score = ?, status = ? WHERE id = ?`,
		org.DisplayName, org.TaxID, nullInt(org.RiskScore), string(org.Status), org.ID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update organization: %w", err)
	}
	return requireRow(res)
}

func (s *OrgStore) AddMember(ctx context.Context, tenantID, actorID string) (bool, error) {
	if _, err := s.Get(ctx, tenantID); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO memberships (tenant_id, actor_id) VALUES (?, ?)`, tenantID, actorID)
	if err != nil {
		return false, fmt.Errorf("sqlitestore: add member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlitestore: add member: %w", err)
	}
	return n > 0, nil
}

func (s *OrgStore) IsMember(ctx context.Context, tenantID, actorID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM memberships WHERE tenant_id = ? AND actor_id = ?`, tenantID, actorID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlitestore: is member: %w", err)
	}
	return true, nil
}

func (s *OrgStore) MemberTenants(ctx context.Context, actorID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM memberships WHERE actor_id = ? ORDER BY tenant_id`, actorID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: member tenants: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
