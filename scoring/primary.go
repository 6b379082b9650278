package scoring

import (
	"fmt"
	"time"

	"github.com/ProtocolCHecker/riskmon/registry"
)

// activeIncidentWindow is how recent a funds-loss incident must be to count
// as active.
const activeIncidentWindow = 30 * 24 * time.Hour

// CheckStatus of a primary check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckFail CheckStatus = "fail"
)

// CheckResult is the outcome of one primary check.
type CheckResult struct {
	ID     string      `json:"id"`
	Status CheckStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// Primary check identifiers, in evaluation order.
const (
	CheckHasAudit         = "has_security_audit"
	CheckNoCriticalIssues = "no_critical_audit_issues"
	CheckNoActiveIncident = "no_active_security_incident"
)

// RunPrimaryChecks evaluates the three binary gates in order. Any failure
// disqualifies the asset from numeric scoring.
func RunPrimaryChecks(cfg *registry.AssetConfig, now time.Time) (bool, []CheckResult) {
	checks := []CheckResult{
		checkHasAudit(cfg),
		checkNoCriticalIssues(cfg),
		checkNoActiveIncident(cfg, now),
	}
	qualified := true
	for _, check := range checks {
		if check.Status == CheckFail {
			qualified = false
		}
	}
	return qualified, checks
}

func checkHasAudit(cfg *registry.AssetConfig) CheckResult {
	result := CheckResult{ID: CheckHasAudit, Status: CheckPass}
	if cfg.AuditData == nil || len(cfg.AuditData.Audits) == 0 {
		result.Status = CheckFail
		result.Reason = "no security audit on record"
	}
	return result
}

func checkNoCriticalIssues(cfg *registry.AssetConfig) CheckResult {
	result := CheckResult{ID: CheckNoCriticalIssues, Status: CheckPass}
	if cfg.AuditData == nil {
		return result
	}
	for _, audit := range cfg.AuditData.Audits {
		if audit.CriticalIssuesUnresolved > 0 {
			result.Status = CheckFail
			result.Reason = fmt.Sprintf("%d unresolved critical issue(s) in %s audit",
				audit.CriticalIssuesUnresolved, audit.Auditor)
			return result
		}
	}
	return result
}

func checkNoActiveIncident(cfg *registry.AssetConfig, now time.Time) CheckResult {
	result := CheckResult{ID: CheckNoActiveIncident, Status: CheckPass}
	if cfg.AuditData == nil {
		return result
	}
	cutoff := now.Add(-activeIncidentWindow)
	for _, incident := range cfg.AuditData.Incidents {
		if incident.FundsLostUSD <= 0 || incident.Date.Before(cutoff) {
			continue
		}
		if incident.ResolvedAt == nil || incident.ResolvedAt.After(cutoff) {
			result.Status = CheckFail
			result.Reason = fmt.Sprintf("funds-loss incident on %s still active",
				incident.Date.Format("2006-01-02"))
			return result
		}
	}
	return result
}
