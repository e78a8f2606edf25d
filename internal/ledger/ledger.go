// Package ledger is the append-only, per-tenant audit ledger. Record is the
// only way any component writes an AuditEvent.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/compliance-ledger/internal/chain"
	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/notify"
)

const defaultPageSize = 256

// Recorder is the write side of the ledger as seen by other components.
type Recorder interface {
	Record(ctx context.Context, tenantID, actorID string, md Metadata) (domain.AuditEvent, error)
}

// ChainBrokenError reports the first sequence that failed verification.
type ChainBrokenError struct {
	TenantID string
	Seq      int64
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("audit chain broken for tenant %s at seq %d", e.TenantID, e.Seq)
}

func (e *ChainBrokenError) Unwrap() error {
	return domain.ErrChainBroken
}

// Verification is the outcome of Verify. BrokenAtSeq is -1 when OK.
type Verification struct {
	TenantID    string    `json:"tenantId"`
	OK          bool      `json:"ok"`
	BrokenAtSeq int64     `json:"brokenAtSeq"`
	EventCount  int64     `json:"eventCount"`
	HeadDigest  string    `json:"headDigest"`
	VerifiedAt  time.Time `json:"verifiedAt"`
}

// Filter narrows Query. Zero values match everything.
type Filter struct {
	Actions []Action
	ActorID string
	FromSeq int64
	ToSeq   *int64
	Since   *time.Time
	Until   *time.Time
	Limit   int
}

func (f Filter) match(ev domain.AuditEvent) bool {
	if len(f.Actions) > 0 && !slices.Contains(f.Actions, Action(ev.Action)) {
		return false
	}
	if f.ActorID != "" && ev.ActorID != f.ActorID {
		return false
	}
	if f.Since != nil && ev.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && ev.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

type tenantChain struct {
	mu     sync.RWMutex
	loaded bool
	head   chain.Head
}

// Ledger serializes writes per tenant and never across tenants.
type Ledger struct {
	store    EventStore
	alerts   notify.Publisher
	logger   *slog.Logger
	chains   sync.Map // tenant id -> *tenantChain
	now      func() time.Time
	pageSize int
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithPageSize sets how many events Query and Verify read per store call.
func WithPageSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

func New(store EventStore, alerts notify.Publisher, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if alerts == nil {
		alerts = notify.NewLogPublisher(logger)
	}
	l := &Ledger{
		store:    store,
		alerts:   alerts,
		logger:   logger,
		now:      time.Now,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) chainFor(tenantID string) *tenantChain {
	if c, ok := l.chains.Load(tenantID); ok {
		return c.(*tenantChain)
	}
	c, _ := l.chains.LoadOrStore(tenantID, &tenantChain{})
	return c.(*tenantChain)
}

// loadLocked fills c.head from the store. c.mu must be held for writing.
func (l *Ledger) loadLocked(ctx context.Context, tenantID string, c *tenantChain) error {
	if c.loaded {
		return nil
	}
	last, ok, err := l.store.Last(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("ledger: load head: %w", err)
	}
	c.head = chain.Genesis()
	if ok {
		c.head = chain.Head{Next: last.Seq + 1, Digest: last.Digest, Timestamp: last.Timestamp}
	}
	c.loaded = true
	return nil
}

// Record appends the event described by md to the tenant chain. The tenant
// lock is held across sequence assignment, hashing and persistence; a failed
// append leaves the head untouched so no sequence number is consumed.
func (l *Ledger) Record(ctx context.Context, tenantID, actorID string, md Metadata) (domain.AuditEvent, error) {
	if tenantID == "" {
		return domain.AuditEvent{}, domain.InvalidInput("tenantId", "required")
	}
	if md == nil {
		return domain.AuditEvent{}, fmt.Errorf("%w: metadata is nil", domain.ErrInvalidMetadata)
	}
	if !md.Action().Valid() {
		return domain.AuditEvent{}, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidMetadata, md.Action())
	}
	if err := md.Validate(); err != nil {
		return domain.AuditEvent{}, err
	}

	c := l.chainFor(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := l.loadLocked(ctx, tenantID, c); err != nil {
		return domain.AuditEvent{}, err
	}

	ts := l.now().UTC()
	if !ts.After(c.head.Timestamp) {
		ts = c.head.Timestamp.Add(time.Nanosecond)
	}
	entry, err := chain.Append(c.head, tenantID, string(md.Action()), actorID, ts, md)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	ev := eventFromEntry(uuid.NewString(), entry)
	if err := l.store.Append(ctx, ev); err != nil {
		return domain.AuditEvent{}, fmt.Errorf("ledger: append: %w", err)
	}
	c.head = entry.Advance()

	l.logger.Debug("audit event recorded",
		"tenantId", tenantID, "seq", ev.Seq, "action", ev.Action, "corrId", domain.CorrelationIDFromContext(ctx))
	return cloneEvent(ev), nil
}

// Head returns the current tip of a tenant chain.
func (l *Ledger) Head(ctx context.Context, tenantID string) (chain.Head, error) {
	c := l.chainFor(tenantID)
	c.mu.RLock()
	if c.loaded {
		h := c.head
		c.mu.RUnlock()
		return h, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := l.loadLocked(ctx, tenantID, c); err != nil {
		return chain.Head{}, err
	}
	return c.head, nil
}

// Verify recomputes every digest of the tenant chain up to the head observed
// when the call starts. Events below that head are immutable, so concurrent
// writes cannot produce a false break. A break is reported through the
// returned *ChainBrokenError and an operator alert; it is never repaired.
func (l *Ledger) Verify(ctx context.Context, tenantID string) (Verification, error) {
	head, err := l.Head(ctx, tenantID)
	if err != nil {
		return Verification{}, err
	}
	result := Verification{
		TenantID:    tenantID,
		OK:          true,
		BrokenAtSeq: -1,
		EventCount:  head.Next,
		HeadDigest:  head.Digest,
		VerifiedAt:  l.now().UTC(),
	}

	v := chain.NewVerifier()
	broken := int64(-1)
	from := int64(0)
scan:
	for from < head.Next {
		page, err := l.store.Range(ctx, tenantID, from, l.pageSize)
		if err != nil {
			return Verification{}, fmt.Errorf("ledger: verify read: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, ev := range page {
			if ev.Seq >= head.Next {
				break scan
			}
			if !v.Check(entryFromEvent(ev)) {
				broken = v.Checked()
				break scan
			}
			from = ev.Seq + 1
		}
	}
	if broken < 0 && v.Checked() < head.Next {
		broken = v.Checked()
	}
	if broken < 0 {
		return result, nil
	}

	result.OK = false
	result.BrokenAtSeq = broken
	l.logger.Error("audit chain verification failed", "tenantId", tenantID, "brokenAtSeq", broken)
	alert := notify.Notification{
		Kind:     notify.KindChainBroken,
		Severity: notify.SeverityCritical,
		TenantID: tenantID,
		Subject:  "audit chain verification failed",
		Attributes: map[string]string{
			"brokenAtSeq": strconv.FormatInt(broken, 10),
			"eventCount":  strconv.FormatInt(head.Next, 10),
		},
		At: result.VerifiedAt,
	}
	if err := l.alerts.Publish(ctx, alert); err != nil {
		l.logger.Error("chain broken alert not delivered", "tenantId", tenantID, "error", err)
	}
	return result, &ChainBrokenError{TenantID: tenantID, Seq: broken}
}

// Query returns the tenant's events in ascending sequence order. The
// sequence is lazy and restartable: each range over it reads the store
// again, bounded by the head at the time iteration starts.
func (l *Ledger) Query(ctx context.Context, tenantID string, f Filter) iter.Seq2[domain.AuditEvent, error] {
	return func(yield func(domain.AuditEvent, error) bool) {
		head, err := l.Head(ctx, tenantID)
		if err != nil {
			yield(domain.AuditEvent{}, err)
			return
		}
		upper := head.Next
		if f.ToSeq != nil && *f.ToSeq+1 < upper {
			upper = *f.ToSeq + 1
		}
		from := max(f.FromSeq, 0)
		emitted := 0
		for from < upper {
			page, err := l.store.Range(ctx, tenantID, from, l.pageSize)
			if err != nil {
				yield(domain.AuditEvent{}, fmt.Errorf("ledger: query: %w", err))
				return
			}
			if len(page) == 0 {
				return
			}
			for _, ev := range page {
				if ev.Seq >= upper {
					return
				}
				from = ev.Seq + 1
				if !f.match(ev) {
					continue
				}
				if !yield(ev, nil) {
					return
				}
				emitted++
				if f.Limit > 0 && emitted >= f.Limit {
					return
				}
			}
		}
	}
}

// Collect drains a query into a slice.
func Collect(seq iter.Seq2[domain.AuditEvent, error]) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	for ev, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// IsChainBroken reports whether err is a verification failure.
func IsChainBroken(err error) bool {
	return errors.Is(err, domain.ErrChainBroken)
}

func eventFromEntry(id string, e chain.Entry) domain.AuditEvent {
	return domain.AuditEvent{
		ID:         id,
		TenantID:   e.TenantID,
		Seq:        e.Seq,
		Action:     e.Action,
		ActorID:    e.ActorID,
		Timestamp:  e.Timestamp,
		Metadata:   e.Metadata,
		Digest:     e.Digest,
		PrevDigest: e.PrevDigest,
	}
}

func entryFromEvent(ev domain.AuditEvent) chain.Entry {
	return chain.Entry{
		TenantID:   ev.TenantID,
		Seq:        ev.Seq,
		Action:     ev.Action,
		ActorID:    ev.ActorID,
		Timestamp:  ev.Timestamp,
		Metadata:   ev.Metadata,
		PrevDigest: ev.PrevDigest,
		Digest:     ev.Digest,
	}
}
