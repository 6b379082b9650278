package scoring

import (
	"math"
	"time"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/registry"
)

// Grade letters and their score bands. The bands partition [0,100]:
// A [85,100], B [70,85), C [55,70), D [40,55), F [0,40).
const (
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
	GradeD = "D"
	GradeF = "F"
)

// Circuit breaker identifiers.
const (
	BreakerUndercollateralized = "reserve_undercollateralized"
	BreakerCriticalAdminEOA    = "critical_admin_eoa"
	BreakerActiveIncident      = "active_security_incident"
	BreakerCategoryBelow25     = "category_below_25"
	BreakerCategoryBelow40     = "category_below_40"
	BreakerNoAudit             = "no_audit"
)

// ScoreResult is the numeric outcome for a qualified asset.
type ScoreResult struct {
	Categories []CategoryScore `json:"categories"`
	RawScore   float64         `json:"raw_score"`
	FinalScore float64         `json:"final_score"`
	Grade      string          `json:"grade"`
	Breakers   []string        `json:"breakers,omitempty"`
}

// Report is the full scoring artifact for one asset at one point in time.
// Result is nil when a primary check disqualified the asset.
type Report struct {
	Symbol      string        `json:"symbol"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
	Qualified   bool          `json:"qualified"`
	Checks      []CheckResult `json:"checks"`
	Result      *ScoreResult  `json:"result,omitempty"`
}

// Score runs the full pipeline: primary checks, category scoring, circuit
// breakers and grade. It is pure over (config, snapshot, now): repeated
// evaluation with the same inputs yields an identical report.
func Score(asset registry.Asset, snap Snapshot, now time.Time) Report {
	report := Report{
		Symbol:      asset.Symbol,
		EvaluatedAt: now,
	}

	qualified, checks := RunPrimaryChecks(asset.Config, now)
	report.Qualified = qualified
	report.Checks = checks
	if !qualified {
		return report
	}

	categories := scoreCategories(asset.Config, snap, now)

	// Weighted sum over present categories; absent sections renormalize.
	var weighted, totalWeight float64
	for _, category := range categories {
		if category.Missing {
			continue
		}
		weighted += category.Score * category.Weight
		totalWeight += category.Weight
	}
	raw := 0.0
	if totalWeight > 0 {
		raw = weighted / totalWeight
	}

	final, breakers := applyBreakers(raw, asset.Config, snap, checks, categories)
	report.Result = &ScoreResult{
		Categories: categories,
		RawScore:   raw,
		FinalScore: final,
		Grade:      GradeFor(final),
		Breakers:   breakers,
	}
	return report
}

// applyBreakers evaluates the breaker table in order. Caps and multipliers
// both apply; the final score is min(lowest cap, multiplied score).
func applyBreakers(raw float64, cfg *registry.AssetConfig, snap Snapshot, checks []CheckResult, categories []CategoryScore) (float64, []string) {
	var breakers []string
	capValue := math.Inf(1)
	multiplier := 1.0

	applyCap := func(name string, value float64) {
		breakers = append(breakers, name)
		if value < capValue {
			capValue = value
		}
	}

	if ratio, ok := snap.Value(catalog.MetricPorRatio); ok && ratio < 1.0 {
		applyCap(BreakerUndercollateralized, 69)
	}

	if cfg.Governance != nil {
		for _, role := range cfg.Governance.Roles {
			if role.RoleWeight >= 4 && role.AuthorityKind == registry.AuthorityEOA {
				applyCap(BreakerCriticalAdminEOA, 54)
				break
			}
		}
	}

	if checkFailed(checks, CheckNoActiveIncident) {
		applyCap(BreakerActiveIncident, 39)
	}

	// The stricter category breaker subsumes the looser one.
	lowest := math.Inf(1)
	for _, category := range categories {
		if !category.Missing && category.Score < lowest {
			lowest = category.Score
		}
	}
	switch {
	case lowest < 25:
		breakers = append(breakers, BreakerCategoryBelow25)
		multiplier = 0.5
	case lowest < 40:
		breakers = append(breakers, BreakerCategoryBelow40)
		multiplier = 0.7
	}

	if checkFailed(checks, CheckHasAudit) {
		applyCap(BreakerNoAudit, 54)
	}

	final := raw * multiplier
	if capValue < final {
		final = capValue
	}
	return final, breakers
}

func checkFailed(checks []CheckResult, id string) bool {
	for _, check := range checks {
		if check.ID == id && check.Status == CheckFail {
			return true
		}
	}
	return false
}

// GradeFor maps a final score to its letter grade.
func GradeFor(score float64) string {
	switch {
	case score >= 85:
		return GradeA
	case score >= 70:
		return GradeB
	case score >= 55:
		return GradeC
	case score >= 40:
		return GradeD
	default:
		return GradeF
	}
}
