// Package export builds regulatory evidence packages: a zip of the tenant's
// audit chain, its verification result, findings and holds, described by a
// manifest of SHA-256 file digests.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"time"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/ledger"
)

const (
	ToolVersion   = "1.0.0"
	HashAlgorithm = "SHA256"
)

// Scope limits the audit events included in a package.
type Scope struct {
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

type Manifest struct {
	ExportID      string            `json:"export_id"`
	TenantID      string            `json:"tenant_id"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Scope         Scope             `json:"scope"`
	ToolVersion   string            `json:"tool_version"`
	HashAlgorithm string            `json:"hash_algorithm"`
	Files         map[string]string `json:"files"`
	PackageHash   string            `json:"package_hash"`
}

// Package is a built export.
type Package struct {
	ID         string
	TenantID   string
	Manifest   Manifest
	Archive    []byte
	EventCount int64
	ChainValid bool
}

// FileName is the download name of the archive.
func (p Package) FileName() string {
	return fmt.Sprintf("%s_%s.zip", p.TenantID, p.Manifest.GeneratedAt.Format("20060102150405"))
}

type auditReader interface {
	ledger.Recorder
	Query(ctx context.Context, tenantID string, f ledger.Filter) iter.Seq2[domain.AuditEvent, error]
	Verify(ctx context.Context, tenantID string) (ledger.Verification, error)
}

type findingLister interface {
	List(ctx context.Context, tenantID string) ([]domain.Finding, error)
}

type holdHistory interface {
	History(ctx context.Context, tenantID string) ([]domain.LitigationHold, error)
}

type Builder struct {
	ledger   auditReader
	findings findingLister
	holds    holdHistory
	logger   *slog.Logger
	now      func() time.Time
}

func NewBuilder(l auditReader, findings findingLister, holds holdHistory, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{ledger: l, findings: findings, holds: holds, logger: logger, now: time.Now}
}

// Build assembles the package and records REGULATORY_EXPORT_GENERATED with
// the package digest. A broken chain does not stop the export; the
// verification file says where it broke.
func (b *Builder) Build(ctx context.Context, tenantID string, actor domain.Actor, scope Scope) (Package, error) {
	if scope.Since != nil && scope.Until != nil && scope.Until.Before(*scope.Since) {
		return Package{}, domain.InvalidInput("until", "must not be before since")
	}
	verification, err := b.ledger.Verify(ctx, tenantID)
	if err != nil && !errors.Is(err, domain.ErrChainBroken) {
		return Package{}, fmt.Errorf("export: verify: %w", err)
	}
	upper := verification.EventCount - 1
	events, err := ledger.Collect(b.ledger.Query(ctx, tenantID, ledger.Filter{
		ToSeq: &upper,
		Since: scope.Since,
		Until: scope.Until,
	}))
	if err != nil {
		return Package{}, fmt.Errorf("export: events: %w", err)
	}
	findings, err := b.findings.List(ctx, tenantID)
	if err != nil {
		return Package{}, fmt.Errorf("export: findings: %w", err)
	}
	holds, err := b.holds.History(ctx, tenantID)
	if err != nil {
		return Package{}, fmt.Errorf("export: holds: %w", err)
	}
	if events == nil {
		events = []domain.AuditEvent{}
	}

	generatedAt := b.now().UTC()
	files := []struct {
		name string
		v    any
	}{
		{"audit/audit_events.json", events},
		{"audit/chain_verification.json", verification},
		{"findings/findings.json", findings},
		{"holds/holds.json", holds},
		{"meta/system_version.json", map[string]string{"system_version": ToolVersion}},
	}

	manifest := Manifest{
		ExportID:      uuid.NewString(),
		TenantID:      tenantID,
		GeneratedAt:   generatedAt,
		Scope:         scope,
		ToolVersion:   ToolVersion,
		HashAlgorithm: HashAlgorithm,
		Files:         map[string]string{},
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	digests := make([]string, 0, len(files))
	for _, f := range files {
		body, err := encode(f.v)
		if err != nil {
			return Package{}, fmt.Errorf("export: encode %s: %w", f.name, err)
		}
		sum := hashBytes(body)
		manifest.Files[f.name] = sum
		digests = append(digests, sum)
		if err := writeEntry(zw, f.name, body, generatedAt); err != nil {
			return Package{}, err
		}
	}
	manifest.PackageHash = PackageHash(digests)
	mbody, err := encode(manifest)
	if err != nil {
		return Package{}, fmt.Errorf("export: encode manifest: %w", err)
	}
	if err := writeEntry(zw, "manifest.json", mbody, generatedAt); err != nil {
		return Package{}, err
	}
	if err := zw.Close(); err != nil {
		return Package{}, fmt.Errorf("export: zip: %w", err)
	}

	md := ledger.RegulatoryExport{
		ExportID:      manifest.ExportID,
		PackageDigest: manifest.PackageHash,
		HashAlgorithm: HashAlgorithm,
		EventCount:    int64(len(events)),
		ChainValid:    verification.OK,
	}
	if _, err := b.ledger.Record(ctx, tenantID, actor.ID, md); err != nil {
		return Package{}, err
	}
	b.logger.Info("regulatory export generated", "tenantId", tenantID, "exportId", manifest.ExportID,
		"events", len(events), "chainValid", verification.OK)
	return Package{
		ID:         manifest.ExportID,
		TenantID:   tenantID,
		Manifest:   manifest,
		Archive:    buf.Bytes(),
		EventCount: int64(len(events)),
		ChainValid: verification.OK,
	}, nil
}

// PackageHash is the SHA-256 of the sorted, concatenated file digests.
func PackageHash(fileDigests []string) string {
	sorted := append([]string(nil), fileDigests...)
	sort.Strings(sorted)
	return hashBytes([]byte(strings.Join(sorted, "")))
}

func encode(v any) ([]byte, error) {
	return jsonv2.Marshal(v, jsonv2.Deterministic(true), jsontext.WithIndent("  "))
}

func writeEntry(zw *zip.Writer, name string, body []byte, modified time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return fmt.Errorf("export: zip %s: %w", name, err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("export: zip %s: %w", name, err)
	}
	return nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
