package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/report"
)

// ArtifactStore implements report.ArtifactStore.
type ArtifactStore struct {
	db *sql.DB
}

var _ report.ArtifactStore = (*ArtifactStore)(nil)

const artifactColumns = `id, tenant_id, type, status, requested_by, created_at, started_at, completed_at, size, content_digest, failure_reason, purged_at`

func (s *ArtifactStore) Insert(ctx context.Context, a domain.ReportArtifact) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO report_artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, string(a.Type), string(a.Status), a.RequestedBy, formatTime(a.CreatedAt),
		nullTime(a.StartedAt), nullTime(a.CompletedAt), a.Size, a.ContentDigest, a.FailureReason, nullTime(a.PurgedAt))
	if err != nil {
		return fmt.Errorf("sqlitestore: insert artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStore) Update(ctx context.Context, a domain.ReportArtifact) error {
	res, err := s.db.ExecContext(ctx, `UPDATE report_artifacts
		SET status = ?, started_at = ?, completed_at = ?, size = ?, content_digest = ?, failure_reason = ?, purged_at = ?
		WHERE tenant_id = ? AND id = ?`,
		string(a.Status), nullTime(a.StartedAt), nullTime(a.CompletedAt), a.Size, a.ContentDigest,
		a.FailureReason, nullTime(a.PurgedAt), a.TenantID, a.ID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update artifact: %w", err)
	}
	return requireRow(res)
}

func (s *ArtifactStore) Get(ctx context.Context, tenantID, id string) (domain.ReportArtifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM report_artifacts WHERE tenant_id = ? AND id = ?`, tenantID, id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReportArtifact{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ReportArtifact{}, fmt.Errorf("sqlitestore: get artifact: %w", err)
	}
	return a, nil
}

func (s *ArtifactStore) List(ctx context.Context, tenantID string) ([]domain.ReportArtifact, error) {
	return s.query(ctx, `SELECT `+artifactColumns+` FROM report_artifacts
		WHERE tenant_id = ? ORDER BY created_at, id`, tenantID)
}

func (s *ArtifactStore) Unfinished(ctx context.Context) ([]domain.ReportArtifact, error) {
	return s.query(ctx, `SELECT `+artifactColumns+` FROM report_artifacts
		WHERE status IN (?, ?) ORDER BY created_at, id`, string(domain.ReportQueued), string(domain.ReportProcessing))
}

func (s *ArtifactStore) query(ctx context.Context, q string, args ...any) ([]domain.ReportArtifact, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list artifacts: %w", err)
	}
	defer rows.Close()
	var out []domain.ReportArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanArtifact(sc scanner) (domain.ReportArtifact, error) {
	var (
		a                            domain.ReportArtifact
		typ, status, created         string
		started, completed, purgedAt sql.NullString
	)
	if err := sc.Scan(&a.ID, &a.TenantID, &typ, &status, &a.RequestedBy, &created, &started, &completed,
		&a.Size, &a.ContentDigest, &a.FailureReason, &purgedAt); err != nil {
		return domain.ReportArtifact{}, err
	}
	var err error
	a.Type = domain.ReportType(typ)
	a.Status = domain.ReportStatus(status)
	if a.CreatedAt, err = parseTime(created); err != nil {
		return domain.ReportArtifact{}, err
	}
	if a.StartedAt, err = timePtr(started); err != nil {
		return domain.ReportArtifact{}, err
	}
	if a.CompletedAt, err = timePtr(completed); err != nil {
		return domain.ReportArtifact{}, err
	}
	if a.PurgedAt, err = timePtr(purgedAt); err != nil {
		return domain.ReportArtifact{}, err
	}
	return a, nil
}
