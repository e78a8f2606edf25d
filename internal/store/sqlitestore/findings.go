package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/finding"
)

// FindingStore implements finding.Store.
type FindingStore struct {
	db *sql.DB
}

var _ finding.Store = (*FindingStore)(nil)

const findingColumns = `id, tenant_id, category, description, severity, status, verification, verified_by, verified_at, source, created_at`

func (s *FindingStore) Insert(ctx context.Context, f domain.Finding) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO findings (`+findingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.TenantID, f.Category, f.Description, string(f.Severity), string(f.Status), string(f.Verification),
		nullString(f.VerifiedBy), nullTime(f.VerifiedAt), f.Source, formatTime(f.CreatedAt))
	if err != nil {
		if isConstraint(err) {
			return domain.InvalidInput("id", "already exists")
		}
		return fmt.Errorf("sqlitestore: insert finding: %w", err)
	}
	return nil
}

func (s *FindingStore) Get(ctx context.Context, tenantID, id string) (domain.Finding, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+findingColumns+` FROM findings WHERE tenant_id = ? AND id = ?`, tenantID, id)
	f, err := scanFinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Finding{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Finding{}, fmt.Errorf("sqlitestore: get finding: %w", err)
	}
	return f, nil
}

func (s *FindingStore) Update(ctx context.Context, f domain.Finding) error {
	res, err := s.db.ExecContext(ctx, `UPDATE findings
		SET category = ?, description = ?, severity = ?, status = ?, verification = ?, verified_by = ?, verified_at = ?
		WHERE tenant_id = ? AND id = ?`,
		f.Category, f.Description, string(f.Severity), string(f.Status), string(f.Verification),
		nullString(f.VerifiedBy), nullTime(f.VerifiedAt), f.TenantID, f.ID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update finding: %w", err)
	}
	return requireRow(res)
}

func (s *FindingStore) Discard(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM findings WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: discard finding: %w", err)
	}
	return requireRow(res)
}

func (s *FindingStore) List(ctx context.Context, tenantID string) ([]domain.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+findingColumns+` FROM findings
		WHERE tenant_id = ? ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list findings: %w", err)
	}
	defer rows.Close()
	var out []domain.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan finding: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFinding(sc scanner) (domain.Finding, error) {
	var (
		f                              domain.Finding
		severity, status, verification string
		verifiedBy, verifiedAt         sql.NullString
		created                        string
	)
	if err := sc.Scan(&f.ID, &f.TenantID, &f.Category, &f.Description, &severity, &status, &verification,
		&verifiedBy, &verifiedAt, &f.Source, &created); err != nil {
		return domain.Finding{}, err
	}
	var err error
	f.Severity = domain.Severity(severity)
	f.Status = domain.FindingStatus(status)
	f.Verification = domain.Verification(verification)
	f.VerifiedBy = stringPtr(verifiedBy)
	if f.VerifiedAt, err = timePtr(verifiedAt); err != nil {
		return domain.Finding{}, err
	}
	if f.CreatedAt, err = parseTime(created); err != nil {
		return domain.Finding{}, err
	}
	return f, nil
}
