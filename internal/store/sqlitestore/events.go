package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/ledger"
)

// EventStore implements ledger.EventStore.
type EventStore struct {
	db *sql.DB
}

var _ ledger.EventStore = (*EventStore)(nil)

const eventColumns = `id, tenant_id, seq, action, actor_id, ts, metadata, digest, prev_digest`

// Append inserts ev only when ev.Seq is the next sequence of the tenant.
func (s *EventStore) Append(ctx context.Context, ev domain.AuditEvent) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (`+eventColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE (SELECT COALESCE(MAX(seq) + 1, 0) FROM audit_events WHERE tenant_id = ?) = ?`,
		ev.ID, ev.TenantID, ev.Seq, ev.Action, ev.ActorID, formatTime(ev.Timestamp),
		[]byte(ev.Metadata), ev.Digest, ev.PrevDigest,
		ev.TenantID, ev.Seq,
	)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: tenant %s seq %d", ledger.ErrSeqConflict, ev.TenantID, ev.Seq)
		}
		return fmt.Errorf("sqlitestore: append event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: append event: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: tenant %s seq %d", ledger.ErrSeqConflict, ev.TenantID, ev.Seq)
	}
	return nil
}

func (s *EventStore) Last(ctx context.Context, tenantID string) (domain.AuditEvent, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_events
		WHERE tenant_id = ? ORDER BY seq DESC LIMIT 1`, tenantID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AuditEvent{}, false, nil
	}
	if err != nil {
		return domain.AuditEvent{}, false, fmt.Errorf("sqlitestore: last event: %w", err)
	}
	return ev, true, nil
}

func (s *EventStore) Range(ctx context.Context, tenantID string, fromSeq int64, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM audit_events
		WHERE tenant_id = ? AND seq >= ? ORDER BY seq ASC LIMIT ?`, tenantID, fromSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: range events: %w", err)
	}
	defer rows.Close()
	var out []domain.AuditEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(sc scanner) (domain.AuditEvent, error) {
	var (
		ev       domain.AuditEvent
		ts       string
		metadata []byte
	)
	if err := sc.Scan(&ev.ID, &ev.TenantID, &ev.Seq, &ev.Action, &ev.ActorID, &ts, &metadata, &ev.Digest, &ev.PrevDigest); err != nil {
		return domain.AuditEvent{}, err
	}
	t, err := parseTime(ts)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	ev.Timestamp = t
	ev.Metadata = metadata
	return ev, nil
}
