// Package report runs the asynchronous report artifact lifecycle
// (QUEUED -> PROCESSING -> COMPLETED | FAILED) on a bounded worker pool.
package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/hold"
	"github.com/yourorg/compliance-ledger/internal/ledger"
	"github.com/yourorg/compliance-ledger/internal/notify"
)

var (
	ErrQueueFull = errors.New("report queue full")
	ErrClosed    = errors.New("report scheduler closed")
	// ErrNotReady is returned for content of an artifact that has not
	// completed or whose content was purged.
	ErrNotReady = fmt.Errorf("%w: report content not available", domain.ErrInvalidTransition)
	// ErrContentMismatch means stored content no longer hashes to the
	// recorded digest.
	ErrContentMismatch = errors.New("report content digest mismatch")
)

type artifactID = openapi_types.UUID

const (
	interruptedReason = "interrupted"
	defaultMaxQueue   = 64
)

// Scheduler owns the report worker pool. Jobs are run in submission order by
// cfg.Workers long-lived workers.
type Scheduler struct {
	store    ArtifactStore
	blobs    Storage
	renderer Renderer
	source   SnapshotSource
	ledger   ledger.Recorder
	guard    hold.Guard
	notices  notify.Publisher
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	jobs      chan domain.ReportArtifact
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	pending int
	closed  bool
}

// Deps bundles the collaborators of a Scheduler.
type Deps struct {
	Store    ArtifactStore
	Blobs    Storage
	Renderer Renderer
	Source   SnapshotSource
	Ledger   ledger.Recorder
	Guard    hold.Guard
	Notices  notify.Publisher
	Logger   *slog.Logger
}

func NewScheduler(deps Deps, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = defaultMaxQueue
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notices := deps.Notices
	if notices == nil {
		notices = notify.NewLogPublisher(logger)
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = JSONRenderer{}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:     deps.Store,
		blobs:     deps.Blobs,
		renderer:  renderer,
		source:    deps.Source,
		ledger:    deps.Ledger,
		guard:     deps.Guard,
		notices:   notices,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		jobs:      make(chan domain.ReportArtifact, cfg.MaxQueue),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	s.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go s.worker()
	}
	return s
}

// Submit queues a report and returns immediately with a QUEUED artifact
// whose digest is PENDING.
func (s *Scheduler) Submit(ctx context.Context, tenantID string, reportType domain.ReportType, actor domain.Actor) (domain.ReportArtifact, error) {
	if !reportType.Valid() {
		return domain.ReportArtifact{}, domain.InvalidInput("type", "must be AUDIT, FORENSIC, ADVISORY or REGULATORY")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ReportArtifact{}, ErrClosed
	}
	// pending counts admitted jobs that have not finished, running ones
	// included, so the send to jobs below never blocks.
	if s.pending >= s.cfg.MaxQueue {
		s.mu.Unlock()
		return domain.ReportArtifact{}, ErrQueueFull
	}
	s.pending++
	s.mu.Unlock()

	queued := false
	defer func() {
		if !queued {
			s.release()
		}
	}()

	id := artifactID(uuid.New())
	a := domain.ReportArtifact{
		ID:            id.String(),
		TenantID:      tenantID,
		Type:          reportType,
		Status:        domain.ReportQueued,
		RequestedBy:   actor.ID,
		CreatedAt:     s.now().UTC(),
		ContentDigest: domain.PendingDigest,
	}
	if err := s.store.Insert(ctx, a); err != nil {
		return domain.ReportArtifact{}, fmt.Errorf("report: insert: %w", err)
	}
	md := ledger.ReportGenerationInitiated{ArtifactID: a.ID, ReportType: string(reportType)}
	if _, err := s.ledger.Record(ctx, tenantID, actor.ID, md); err != nil {
		s.fail(context.WithoutCancel(ctx), a, "initiation not recorded")
		return domain.ReportArtifact{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.fail(context.WithoutCancel(ctx), a, interruptedReason)
		return domain.ReportArtifact{}, ErrClosed
	}
	s.jobs <- a
	queued = true
	s.mu.Unlock()

	s.logger.Info("report queued", "tenantId", tenantID, "artifactId", a.ID, "type", reportType)
	return cloneArtifact(a), nil
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for a := range s.jobs {
		s.run(a)
		s.release()
	}
}

func (s *Scheduler) run(a domain.ReportArtifact) {
	ctx := s.runCtx
	if ctx.Err() != nil {
		s.fail(context.Background(), a, interruptedReason)
		return
	}

	start := s.now().UTC()
	a.Status = domain.ReportProcessing
	a.StartedAt = &start
	if err := s.store.Update(ctx, a); err != nil {
		s.fail(context.Background(), a, "state not persisted")
		return
	}

	if err := s.process(ctx, &a); err != nil {
		reason := "render failed"
		switch {
		case errors.Is(err, context.Canceled):
			reason = interruptedReason
		case errors.Is(err, errStorage):
			reason = "storage failed"
		case errors.Is(err, errLedger):
			reason = "ledger unavailable"
		}
		s.logger.Error("report failed", "tenantId", a.TenantID, "artifactId", a.ID, "error", err)
		s.fail(context.Background(), a, reason)
	}
}

var (
	errStorage = errors.New("storage")
	errLedger  = errors.New("ledger")
)

func (s *Scheduler) process(ctx context.Context, a *domain.ReportArtifact) error {
	snap, err := s.source.Snapshot(ctx, a.TenantID, a.Type)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	body, err := s.renderer.Render(ctx, a.Type, snap)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	digest := hashBytes(body)
	key := contentKey(a.TenantID, a.ID)
	if err := s.blobs.PutObject(ctx, key, body, s.renderer.ContentType()); err != nil {
		return fmt.Errorf("%w: %v", errStorage, err)
	}

	md := ledger.ReportGenerated{ArtifactID: a.ID, Digest: digest, ReportType: string(a.Type), Size: int64(len(body))}
	if _, err := s.ledger.Record(ctx, a.TenantID, domain.SystemActorID, md); err != nil {
		_ = s.blobs.DeleteObject(context.Background(), key)
		return fmt.Errorf("%w: %v", errLedger, err)
	}

	done := s.now().UTC()
	a.Status = domain.ReportCompleted
	a.CompletedAt = &done
	a.ContentDigest = digest
	a.Size = int64(len(body))
	if err := s.store.Update(context.Background(), *a); err != nil {
		// REPORT_GENERATED is already recorded; Recover will not undo it.
		s.logger.Error("report completion not persisted", "tenantId", a.TenantID, "artifactId", a.ID, "error", err)
		return nil
	}
	s.publish(ctx, *a, notify.KindReportCompleted)
	s.logger.Info("report completed", "tenantId", a.TenantID, "artifactId", a.ID, "size", a.Size)
	return nil
}

func (s *Scheduler) fail(ctx context.Context, a domain.ReportArtifact, reason string) {
	now := s.now().UTC()
	a.Status = domain.ReportFailed
	a.CompletedAt = &now
	a.FailureReason = reason
	if err := s.store.Update(ctx, a); err != nil {
		s.logger.Error("report failure not persisted", "tenantId", a.TenantID, "artifactId", a.ID, "error", err)
		return
	}
	s.publish(ctx, a, notify.KindReportFailed)
}

func (s *Scheduler) publish(ctx context.Context, a domain.ReportArtifact, kind string) {
	n := notify.Notification{
		Kind:     kind,
		Severity: notify.SeverityInfo,
		TenantID: a.TenantID,
		Subject:  "report " + a.ID,
		Attributes: map[string]string{
			"artifactId": a.ID,
			"type":       string(a.Type),
			"status":     string(a.Status),
		},
		At: s.now().UTC(),
	}
	if a.Status == domain.ReportCompleted {
		n.Attributes["digest"] = a.ContentDigest
		n.Attributes["size"] = strconv.FormatInt(a.Size, 10)
	} else {
		n.Attributes["reason"] = a.FailureReason
	}
	if err := s.notices.Publish(context.WithoutCancel(ctx), n); err != nil {
		s.logger.Warn("report notice not delivered", "artifactId", a.ID, "error", err)
	}
}

// Get returns the artifact as stored. Polling a COMPLETED artifact always
// yields the same digest.
func (s *Scheduler) Get(ctx context.Context, tenantID, id string) (domain.ReportArtifact, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ReportArtifact{}, domain.ErrNotFound
	}
	return s.store.Get(ctx, tenantID, id)
}

func (s *Scheduler) List(ctx context.Context, tenantID string) ([]domain.ReportArtifact, error) {
	return s.store.List(ctx, tenantID)
}

// Content returns the rendered bytes of a completed artifact after checking
// them against the recorded digest.
func (s *Scheduler) Content(ctx context.Context, tenantID, id string) ([]byte, string, domain.ReportArtifact, error) {
	a, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, "", domain.ReportArtifact{}, err
	}
	if a.Status != domain.ReportCompleted || a.PurgedAt != nil {
		return nil, "", a, ErrNotReady
	}
	body, contentType, err := s.blobs.GetObject(ctx, contentKey(tenantID, id))
	if err != nil {
		return nil, "", a, fmt.Errorf("report: content: %w", err)
	}
	if hashBytes(body) != a.ContentDigest {
		s.logger.Error("report content digest mismatch", "tenantId", tenantID, "artifactId", id)
		return nil, "", a, ErrContentMismatch
	}
	return body, contentType, a, nil
}

// Purge removes the rendered content of a finished artifact under the
// retention policy. The artifact record and its ledger events remain.
func (s *Scheduler) Purge(ctx context.Context, tenantID string, actor domain.Actor, id string) (domain.ReportArtifact, error) {
	a, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return domain.ReportArtifact{}, err
	}
	if !a.Status.Terminal() {
		return domain.ReportArtifact{}, fmt.Errorf("%w: report %s is %s", domain.ErrInvalidTransition, id, a.Status)
	}
	if a.PurgedAt != nil {
		return a, nil
	}
	err = s.guard.Mutate(ctx, tenantID, domain.EvidenceReportArtifacts, func() error {
		md := ledger.ReportArtifactPurged{ArtifactID: a.ID, Digest: a.ContentDigest}
		if _, err := s.ledger.Record(ctx, tenantID, actor.ID, md); err != nil {
			return err
		}
		if err := s.blobs.DeleteObject(ctx, contentKey(tenantID, id)); err != nil {
			return fmt.Errorf("report: purge content: %w", err)
		}
		now := s.now().UTC()
		a.PurgedAt = &now
		if err := s.store.Update(ctx, a); err != nil {
			return fmt.Errorf("report: purge: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrHoldViolation) {
			s.logger.Warn("report purge blocked", "tenantId", tenantID, "artifactId", id, "actorId", actor.ID, "error", err)
		}
		return domain.ReportArtifact{}, err
	}
	return a, nil
}

// Recover fails every artifact a previous process left QUEUED or
// PROCESSING. It must run before Submit is first called.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	list, err := s.store.Unfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("report: recover: %w", err)
	}
	for _, a := range list {
		s.fail(ctx, a, interruptedReason)
	}
	if len(list) > 0 {
		s.logger.Warn("interrupted reports marked failed", "count", len(list))
	}
	return len(list), nil
}

// Close stops accepting work and waits for queued reports. When ctx ends
// first, running reports are cancelled and fail as interrupted.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancelRun()
		return nil
	case <-ctx.Done():
		s.cancelRun()
		<-done
		return ctx.Err()
	}
}

func contentKey(tenantID, id string) string {
	return fmt.Sprintf("reports/%s/%s", tenantID, id)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
