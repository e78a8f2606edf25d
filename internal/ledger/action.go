package ledger

import (
	"fmt"
	"net/mail"

	jsonv2 "github.com/go-json-experiment/json"

	"github.com/yourorg/compliance-ledger/internal/domain"
)

// Action is the closed set of event kinds the ledger accepts.
type Action string

const (
	ActionLoginSuccess              Action = "LOGIN_SUCCESS"
	ActionLoginFailed               Action = "LOGIN_FAILED"
	ActionOrgContextSwitch          Action = "ORG_CONTEXT_SWITCH"
	ActionOrgCreate                 Action = "ORG_CREATE"
	ActionOrgStatusChanged          Action = "ORG_STATUS_CHANGED"
	ActionReportGenerationInitiated Action = "REPORT_GENERATION_INITIATED"
	ActionReportGenerated           Action = "REPORT_GENERATED"
	ActionReportArtifactPurged      Action = "REPORT_ARTIFACT_PURGED"
	ActionFindingCreated            Action = "FINDING_CREATED"
	ActionFindingUpdated            Action = "FINDING_UPDATED"
	ActionFindingVerified           Action = "FINDING_VERIFIED"
	ActionLitigationHoldActivated   Action = "LITIGATION_HOLD_ACTIVATED"
	ActionLitigationHoldLifted      Action = "LITIGATION_HOLD_LIFTED"
	ActionAssessmentRecorded        Action = "ASSESSMENT_RECORDED"
	ActionRegulatoryExport          Action = "REGULATORY_EXPORT_GENERATED"
	ActionLeadCaptured              Action = "LEAD_CAPTURED"
	ActionSystemBoot                Action = "SYSTEM_BOOT"
)

// Metadata is the typed payload of one action kind. The action recorded
// for an event is always the tag of its metadata.
type Metadata interface {
	Action() Action
	Validate() error
}

var registry = map[Action]func() Metadata{
	ActionLoginSuccess:              func() Metadata { return &LoginSuccess{} },
	ActionLoginFailed:               func() Metadata { return &LoginFailed{} },
	ActionOrgContextSwitch:          func() Metadata { return &OrgContextSwitch{} },
	ActionOrgCreate:                 func() Metadata { return &OrgCreate{} },
	ActionOrgStatusChanged:          func() Metadata { return &OrgStatusChanged{} },
	ActionReportGenerationInitiated: func() Metadata { return &ReportGenerationInitiated{} },
	ActionReportGenerated:           func() Metadata { return &ReportGenerated{} },
	ActionReportArtifactPurged:      func() Metadata { return &ReportArtifactPurged{} },
	ActionFindingCreated:            func() Metadata { return &FindingCreated{} },
	ActionFindingUpdated:            func() Metadata { return &FindingUpdated{} },
	ActionFindingVerified:           func() Metadata { return &FindingVerified{} },
	ActionLitigationHoldActivated:   func() Metadata { return &HoldActivated{} },
	ActionLitigationHoldLifted:      func() Metadata { return &HoldLifted{} },
	ActionAssessmentRecorded:        func() Metadata { return &AssessmentRecorded{} },
	ActionRegulatoryExport:          func() Metadata { return &RegulatoryExport{} },
	ActionLeadCaptured:              func() Metadata { return &LeadCaptured{} },
	ActionSystemBoot:                func() Metadata { return &SystemBoot{} },
}

// Valid reports whether a is part of the enumeration.
func (a Action) Valid() bool {
	_, ok := registry[a]
	return ok
}

// DecodeMetadata parses untyped input into the metadata shape of action.
// Unknown actions, unknown members and missing fields fail with
// domain.ErrInvalidMetadata.
func DecodeMetadata(action Action, raw []byte) (Metadata, error) {
	ctor, ok := registry[action]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidMetadata, action)
	}
	md := ctor()
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := jsonv2.Unmarshal(raw, md, jsonv2.RejectUnknownMembers(true)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMetadata, err)
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return md, nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", domain.ErrInvalidMetadata, field)
}

type LoginSuccess struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	MFA       bool   `json:"mfa"`
}

func (LoginSuccess) Action() Action { return ActionLoginSuccess }
func (m LoginSuccess) Validate() error {
	if m.SessionID == "" {
		return missing("session_id")
	}
	return nil
}

type LoginFailed struct {
	Principal string `json:"principal"`
	Reason    string `json:"reason"`
}

func (LoginFailed) Action() Action { return ActionLoginFailed }
func (m LoginFailed) Validate() error {
	if m.Reason == "" {
		return missing("reason")
	}
	return nil
}

type OrgContextSwitch struct {
	SessionID  string `json:"session_id"`
	FromTenant string `json:"from_tenant,omitempty"`
	ToTenant   string `json:"to_tenant"`
}

func (OrgContextSwitch) Action() Action { return ActionOrgContextSwitch }
func (m OrgContextSwitch) Validate() error {
	if m.ToTenant == "" {
		return missing("to_tenant")
	}
	return nil
}

type OrgCreate struct {
	DisplayName string `json:"display_name"`
	TaxID       string `json:"tax_id"`
}

func (OrgCreate) Action() Action { return ActionOrgCreate }
func (m OrgCreate) Validate() error {
	if m.DisplayName == "" {
		return missing("display_name")
	}
	return nil
}

type OrgStatusChanged struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (OrgStatusChanged) Action() Action { return ActionOrgStatusChanged }
func (m OrgStatusChanged) Validate() error {
	if m.To == "" {
		return missing("to")
	}
	return nil
}

type ReportGenerationInitiated struct {
	ArtifactID string `json:"artifact_id"`
	ReportType string `json:"report_type"`
}

func (ReportGenerationInitiated) Action() Action { return ActionReportGenerationInitiated }
func (m ReportGenerationInitiated) Validate() error {
	if m.ArtifactID == "" {
		return missing("artifact_id")
	}
	return nil
}

type ReportGenerated struct {
	ArtifactID string `json:"artifact_id"`
	Digest     string `json:"digest"`
	ReportType string `json:"report_type"`
	Size       int64  `json:"size"`
}

func (ReportGenerated) Action() Action { return ActionReportGenerated }
func (m ReportGenerated) Validate() error {
	if m.ArtifactID == "" {
		return missing("artifact_id")
	}
	if m.Digest == "" || m.Digest == domain.PendingDigest {
		return missing("digest")
	}
	return nil
}

type ReportArtifactPurged struct {
	ArtifactID string `json:"artifact_id"`
	Digest     string `json:"digest"`
}

func (ReportArtifactPurged) Action() Action { return ActionReportArtifactPurged }
func (m ReportArtifactPurged) Validate() error {
	if m.ArtifactID == "" {
		return missing("artifact_id")
	}
	return nil
}

type FindingCreated struct {
	FindingID string `json:"finding_id"`
	Category  string `json:"category"`
	Severity  string `json:"severity"`
	Source    string `json:"source,omitempty"`
}

func (FindingCreated) Action() Action { return ActionFindingCreated }
func (m FindingCreated) Validate() error {
	if m.FindingID == "" {
		return missing("finding_id")
	}
	return nil
}

// FindingUpdated lists the changed fields, not their values.
type FindingUpdated struct {
	FindingID string   `json:"finding_id"`
	Fields    []string `json:"fields"`
	Status    string   `json:"status,omitempty"`
}

func (FindingUpdated) Action() Action { return ActionFindingUpdated }
func (m FindingUpdated) Validate() error {
	if m.FindingID == "" {
		return missing("finding_id")
	}
	if len(m.Fields) == 0 {
		return missing("fields")
	}
	return nil
}

type FindingVerified struct {
	FindingID string `json:"finding_id"`
	Category  string `json:"category"`
	Severity  string `json:"severity"`
}

func (FindingVerified) Action() Action { return ActionFindingVerified }
func (m FindingVerified) Validate() error {
	if m.FindingID == "" {
		return missing("finding_id")
	}
	return nil
}

type HoldActivated struct {
	HoldID string `json:"hold_id"`
	Reason string `json:"reason"`
	Scope  string `json:"scope"`
}

func (HoldActivated) Action() Action { return ActionLitigationHoldActivated }
func (m HoldActivated) Validate() error {
	if m.HoldID == "" {
		return missing("hold_id")
	}
	if m.Reason == "" {
		return missing("reason")
	}
	return nil
}

type HoldLifted struct {
	HoldID      string `json:"hold_id"`
	ActivatedBy string `json:"activated_by"`
	Cosigner    string `json:"cosigner,omitempty"`
}

func (HoldLifted) Action() Action { return ActionLitigationHoldLifted }
func (m HoldLifted) Validate() error {
	if m.HoldID == "" {
		return missing("hold_id")
	}
	return nil
}

// AssessmentRecorded is evidence that an external assessment happened. The
// score is recorded as received.
type AssessmentRecorded struct {
	AssessmentID string `json:"assessment_id"`
	Score        int    `json:"score"`
	FactorCount  int    `json:"factor_count"`
	Engine       string `json:"engine,omitempty"`
}

func (AssessmentRecorded) Action() Action { return ActionAssessmentRecorded }
func (m AssessmentRecorded) Validate() error {
	if m.AssessmentID == "" {
		return missing("assessment_id")
	}
	return nil
}

type RegulatoryExport struct {
	ExportID      string `json:"export_id"`
	PackageDigest string `json:"package_digest"`
	HashAlgorithm string `json:"hash_algorithm"`
	EventCount    int64  `json:"event_count"`
	ChainValid    bool   `json:"chain_valid"`
}

func (RegulatoryExport) Action() Action { return ActionRegulatoryExport }
func (m RegulatoryExport) Validate() error {
	if m.ExportID == "" {
		return missing("export_id")
	}
	if m.PackageDigest == "" {
		return missing("package_digest")
	}
	return nil
}

type LeadCaptured struct {
	Email  string `json:"email"`
	Source string `json:"source"`
}

func (LeadCaptured) Action() Action { return ActionLeadCaptured }
func (m LeadCaptured) Validate() error {
	if m.Email == "" {
		return missing("email")
	}
	if _, err := mail.ParseAddress(m.Email); err != nil {
		return fmt.Errorf("%w: email: %v", domain.ErrInvalidMetadata, err)
	}
	return nil
}

type SystemBoot struct {
	Version  string `json:"version"`
	Instance string `json:"instance"`
}

func (SystemBoot) Action() Action { return ActionSystemBoot }
func (m SystemBoot) Validate() error {
	if m.Instance == "" {
		return missing("instance")
	}
	return nil
}
