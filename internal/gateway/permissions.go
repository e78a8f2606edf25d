package gateway

import "github.com/yourorg/compliance-ledger/internal/domain"

// Permission is a server-side capability checked before any tenant access.
type Permission string

const (
	PermQueryAudit    Permission = "audit:query"
	PermVerifyChain   Permission = "audit:verify"
	PermViewOrg       Permission = "org:read"
	PermManageOrgs    Permission = "org:admin"
	PermFindings      Permission = "findings:write"
	PermVerifyFinding Permission = "findings:verify"
	PermReports       Permission = "reports:write"
	PermPurgeReports  Permission = "reports:purge"
	PermHolds         Permission = "holds:write"
	PermAssessments   Permission = "assessments:write"
	PermLeads         Permission = "leads:write"
	PermExports       Permission = "exports:write"
)

// Regulators are read-only: audit queries and chain verification only.
var matrix = map[domain.Role][]Permission{
	domain.RoleRegulator: {PermQueryAudit, PermVerifyChain},
	domain.RoleAnalyst: {
		PermQueryAudit, PermVerifyChain, PermViewOrg,
		PermFindings, PermVerifyFinding, PermReports, PermAssessments, PermLeads,
	},
	domain.RoleBoard: {
		PermQueryAudit, PermVerifyChain, PermViewOrg,
		PermReports, PermHolds, PermExports,
	},
	domain.RoleChiefComplianceOfficer: {
		PermQueryAudit, PermVerifyChain, PermViewOrg, PermManageOrgs,
		PermFindings, PermVerifyFinding, PermReports, PermPurgeReports,
		PermHolds, PermAssessments, PermLeads, PermExports,
	},
}

// Allowed reports whether role carries perm.
func Allowed(role domain.Role, perm Permission) bool {
	for _, p := range matrix[role] {
		if p == perm {
			return true
		}
	}
	return false
}
