// Package domain holds the entities shared by the ledger components and the
// error taxonomy every component returns.
package domain

import (
	"context"
	"encoding/json"
	"time"
)

// SystemTenantID is the reserved tenant that receives process-level events
// and failed logins for unknown principals.
const SystemTenantID = "_system"

// Role is the authorization role of an actor.
type Role string

const (
	RoleAnalyst                Role = "ANALYST"
	RoleChiefComplianceOfficer Role = "CHIEF_COMPLIANCE_OFFICER"
	RoleBoard                  Role = "BOARD"
	RoleRegulator              Role = "REGULATOR"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAnalyst, RoleChiefComplianceOfficer, RoleBoard, RoleRegulator:
		return true
	}
	return false
}

// Actor is an authenticated principal.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	// RegulatorExpiresAt is required for RoleRegulator and ignored otherwise.
	RegulatorExpiresAt *time.Time `json:"regulatorExpiresAt,omitempty"`
}

// IsHuman is false only for the system actor used by background workers.
func (a Actor) IsHuman() bool {
	return a.ID != SystemActorID
}

// SystemActorID identifies events produced by the service itself.
const SystemActorID = "system"

// SystemActor is the actor of worker and boot events.
var SystemActor = Actor{ID: SystemActorID, DisplayName: "system", Role: RoleChiefComplianceOfficer}

// OrgStatus is the soft lifecycle status of an organization.
type OrgStatus string

const (
	OrgActive    OrgStatus = "ACTIVE"
	OrgSuspended OrgStatus = "SUSPENDED"
)

// Organization is the tenant root.
type Organization struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	TaxID       string    `json:"taxId"`
	RiskScore   *int      `json:"riskScore,omitempty"`
	Status      OrgStatus `json:"status"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AuditEvent is one link of a tenant chain. Events are created once by the
// ledger and never mutated.
type AuditEvent struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	Seq        int64           `json:"seq"`
	Action     string          `json:"action"`
	ActorID    string          `json:"actorId"`
	Timestamp  time.Time       `json:"timestamp"`
	Metadata   json.RawMessage `json:"metadata"`
	Digest     string          `json:"digest"`
	PrevDigest string          `json:"prevDigest"`
}

// EvidenceCategory names a class of historical records a hold can freeze.
type EvidenceCategory string

const (
	EvidenceGlobal          EvidenceCategory = "GLOBAL"
	EvidenceAuditEvents     EvidenceCategory = "AUDIT_EVENTS"
	EvidenceFindings        EvidenceCategory = "FINDINGS"
	EvidenceReportArtifacts EvidenceCategory = "REPORT_ARTIFACTS"
)

// Valid reports whether c is a known scope.
func (c EvidenceCategory) Valid() bool {
	switch c {
	case EvidenceGlobal, EvidenceAuditEvents, EvidenceFindings, EvidenceReportArtifacts:
		return true
	}
	return false
}

// Covers reports whether a hold scoped to c freezes records of category other.
func (c EvidenceCategory) Covers(other EvidenceCategory) bool {
	return c == EvidenceGlobal || c == other
}

// LitigationHold is one activation of a tenant hold. Lifted holds are kept.
type LitigationHold struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenantId"`
	Active          bool             `json:"active"`
	Reason          string           `json:"reason"`
	Scope           EvidenceCategory `json:"scope"`
	ActivatedBy     string           `json:"activatedBy"`
	ActivatedByRole Role             `json:"activatedByRole"`
	ActivatedAt     time.Time        `json:"activatedAt"`
	LiftedBy        *string          `json:"liftedBy,omitempty"`
	LiftedAt        *time.Time       `json:"liftedAt,omitempty"`
	Cosigner        *string          `json:"cosigner,omitempty"`
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type FindingStatus string

const (
	FindingOpen       FindingStatus = "OPEN"
	FindingInProgress FindingStatus = "IN_PROGRESS"
	FindingResolved   FindingStatus = "RESOLVED"
)

type Verification string

const (
	VerificationAIGenerated   Verification = "AI_GENERATED"
	VerificationHumanVerified Verification = "HUMAN_VERIFIED"
)

// Finding is a compliance observation within a tenant.
type Finding struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"tenantId"`
	Category     string        `json:"category"`
	Description  string        `json:"description"`
	Severity     Severity      `json:"severity"`
	Status       FindingStatus `json:"status"`
	Verification Verification  `json:"verification"`
	VerifiedBy   *string       `json:"verifiedBy,omitempty"`
	VerifiedAt   *time.Time    `json:"verifiedAt,omitempty"`
	Source       string        `json:"source,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

type ReportType string

const (
	ReportAudit      ReportType = "AUDIT"
	ReportForensic   ReportType = "FORENSIC"
	ReportAdvisory   ReportType = "ADVISORY"
	ReportRegulatory ReportType = "REGULATORY"
)

func (t ReportType) Valid() bool {
	switch t {
	case ReportAudit, ReportForensic, ReportAdvisory, ReportRegulatory:
		return true
	}
	return false
}

type ReportStatus string

const (
	ReportQueued     ReportStatus = "QUEUED"
	ReportProcessing ReportStatus = "PROCESSING"
	ReportCompleted  ReportStatus = "COMPLETED"
	ReportFailed     ReportStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s ReportStatus) Terminal() bool {
	return s == ReportCompleted || s == ReportFailed
}

// PendingDigest is the content digest of an artifact that has not completed.
const PendingDigest = "PENDING"

// ReportArtifact is the lifecycle record of one report job.
type ReportArtifact struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenantId"`
	Type          ReportType   `json:"type"`
	Status        ReportStatus `json:"status"`
	RequestedBy   string       `json:"requestedBy"`
	CreatedAt     time.Time    `json:"createdAt"`
	StartedAt     *time.Time   `json:"startedAt,omitempty"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty"`
	Size          int64        `json:"size"`
	ContentDigest string       `json:"contentDigest"`
	FailureReason string       `json:"failureReason,omitempty"`
	// PurgedAt is set once retention removed the rendered content.
	PurgedAt *time.Time `json:"purgedAt,omitempty"`
}

// CorrelationIDKey is the context key for the request correlation id.
type CorrelationIDKey struct{}

// ContextWithCorrelationID attaches a correlation id to ctx.
func ContextWithCorrelationID(ctx context.Context, corrID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey{}, corrID)
}

// CorrelationIDFromContext returns the correlation id of ctx, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(CorrelationIDKey{}).(string)
	return v
}
