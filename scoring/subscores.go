package scoring

import (
	"math"
	"time"

	"github.com/ProtocolCHecker/riskmon/registry"
)

// anchor is one point of a piecewise-linear score mapping.
type anchor struct {
	x     float64
	score float64
}

// interpolate maps a raw value through anchors sorted by x ascending.
// Values outside the end anchors clamp to the end scores.
func interpolate(value float64, anchors []anchor) float64 {
	if len(anchors) == 0 {
		return 0
	}
	if value <= anchors[0].x {
		return anchors[0].score
	}
	last := anchors[len(anchors)-1]
	if value >= last.x {
		return last.score
	}
	for i := 1; i < len(anchors); i++ {
		if value <= anchors[i].x {
			lo, hi := anchors[i-1], anchors[i]
			frac := (value - lo.x) / (hi.x - lo.x)
			return lo.score + frac*(hi.score-lo.score)
		}
	}
	return last.score
}

func clampScore(score float64) float64 {
	return math.Max(0, math.Min(100, score))
}

// topTierAuditors qualify for the audit score bonus.
var topTierAuditors = map[string]bool{
	"OpenZeppelin":        true,
	"Trail of Bits":       true,
	"Consensys Diligence": true,
	"Spearbit":            true,
	"ChainSecurity":       true,
}

// auditScore: base 80 with at least one audit, 20 without; degraded for
// unresolved findings and stale reports, boosted for a top-tier auditor.
func auditScore(ad *registry.AuditData, now time.Time) float64 {
	if ad == nil || len(ad.Audits) == 0 {
		return 20
	}

	score := 80.0
	var (
		anyCritical bool
		anyHigh     bool
		topTier     bool
		mostRecent  time.Time
	)
	for _, audit := range ad.Audits {
		if audit.CriticalIssuesUnresolved > 0 {
			anyCritical = true
		}
		if audit.HighIssuesUnresolved > 0 {
			anyHigh = true
		}
		if topTierAuditors[audit.Auditor] {
			topTier = true
		}
		if audit.Date.After(mostRecent) {
			mostRecent = audit.Date
		}
	}

	if anyCritical {
		score *= 0.3
	}
	if anyHigh {
		score *= 0.7
	}

	months := now.Sub(mostRecent).Hours() / 24 / 30
	if months > 24 {
		score *= 0.6
	} else if months > 12 {
		score *= 0.8
	}

	if topTier {
		score *= 1.1
	}
	return clampScore(score)
}

// codeMaturityScore grows with days since deployment.
func codeMaturityScore(deployed time.Time, now time.Time) float64 {
	days := now.Sub(deployed).Hours() / 24
	return interpolate(days, []anchor{
		{0, 10}, {30, 30}, {90, 50}, {180, 70}, {365, 85}, {730, 100},
	})
}

// incidentHistoryScore starts at 100 and deducts per incident: funds-loss
// incidents cost 30 plus up to 30 more scaled by the TVL share lost,
// non-loss incidents cost 15.
func incidentHistoryScore(incidents []registry.Incident) float64 {
	score := 100.0
	for _, incident := range incidents {
		if incident.FundsLostUSD > 0 {
			score -= 30 + math.Min(30, incident.FundsLostPctOfTVL)
		} else {
			score -= 15
		}
	}
	return clampScore(score)
}

// adminKeyControlScore starts at 100 and deducts per governance role by
// authority kind, weighted by the role's criticality.
func adminKeyControlScore(gov *registry.Governance) float64 {
	score := 100.0
	for _, role := range gov.Roles {
		var penalty float64
		switch role.AuthorityKind {
		case registry.AuthorityEOA:
			penalty = 15
		case registry.AuthorityMultisig:
			if role.SignerCount > 0 {
				penalty = (1 - float64(role.Threshold)/float64(role.SignerCount)) * 10
			} else {
				penalty = 10
			}
		case registry.AuthorityDAOVoting:
			penalty = (100 - daoScore(role.DAOSafeguards)) / 100 * 10
		case registry.AuthorityContractUnknown:
			penalty = 7
		}
		score -= float64(role.RoleWeight) * penalty
	}
	if !gov.HasTimelock {
		score *= 0.85
	}
	return clampScore(score)
}

func daoScore(sg *registry.DAOSafeguards) float64 {
	score := 50.0
	if sg != nil {
		if sg.HasVetoPower {
			score += 15
		}
		if sg.HasDualGovernance {
			score += 10
		}
		if sg.QuorumPct >= 10 {
			score += 5
		}
	}
	return math.Min(score, 80)
}

func custodyModelScore(model string) float64 {
	switch model {
	case registry.CustodyRegulatedInsured:
		return 95
	case registry.CustodyDecentralized:
		return 85
	case registry.CustodyRegulated:
		return 80
	case registry.CustodyUnregulated:
		return 40
	default:
		return 30
	}
}

func timelockScore(gov *registry.Governance) float64 {
	if !gov.HasTimelock {
		return 20
	}
	switch {
	case gov.TimelockHours >= 48:
		return 100
	case gov.TimelockHours >= 24:
		return 80
	case gov.TimelockHours > 0:
		return 60
	default:
		return 60
	}
}

func blacklistScore(gov *registry.Governance) float64 {
	if !gov.HasBlacklist {
		return 100
	}
	switch gov.BlacklistControl {
	case registry.BlacklistGovernance:
		return 70
	case registry.BlacklistMultisig:
		return 55
	case registry.BlacklistSingleEntity:
		return 30
	default:
		return 50
	}
}

// pegDeviationScore is stepwise on the absolute deviation percentage.
func pegDeviationScore(deviationPct float64) float64 {
	dev := math.Abs(deviationPct)
	switch {
	case dev < 0.1:
		return 100
	case dev < 0.5:
		return 90
	case dev < 1:
		return 75
	case dev < 2:
		return 55
	case dev < 5:
		return 30
	default:
		return 10
	}
}

func volatilityScore(volPct float64) float64 {
	return interpolate(volPct, []anchor{
		{10, 100}, {25, 85}, {50, 60}, {80, 35}, {120, 10},
	})
}

func var95Score(varPct float64) float64 {
	return interpolate(varPct, []anchor{
		{2, 100}, {5, 80}, {10, 50}, {20, 10},
	})
}

func slippage100kScore(slippagePct float64) float64 {
	return interpolate(slippagePct, []anchor{
		{0.1, 100}, {0.5, 90}, {1, 75}, {2, 55}, {5, 25}, {10, 5},
	})
}

func slippage500kScore(slippagePct float64) float64 {
	return interpolate(slippagePct, []anchor{
		{0.25, 100}, {1, 85}, {2, 65}, {5, 35}, {10, 10},
	})
}

func poolHHIScore(hhi float64) float64 {
	return interpolate(hhi, []anchor{
		{1000, 100}, {1500, 90}, {2500, 70}, {4000, 45}, {6000, 20}, {8000, 5},
	})
}

func cascadeLiquidationScore(clrPct float64) float64 {
	return interpolate(clrPct, []anchor{
		{1, 100}, {5, 80}, {10, 55}, {20, 25}, {40, 5},
	})
}

func recursiveLendingScore(rlrPct float64) float64 {
	return interpolate(rlrPct, []anchor{
		{5, 100}, {10, 85}, {20, 55}, {35, 25}, {50, 5},
	})
}

func utilizationScore(utilizationPct float64) float64 {
	return interpolate(utilizationPct, []anchor{
		{50, 100}, {70, 85}, {80, 70}, {90, 40}, {95, 20}, {100, 5},
	})
}

func porScore(ratio float64) float64 {
	return interpolate(ratio, []anchor{
		{0.95, 0}, {0.98, 25}, {1.0, 85}, {1.02, 95}, {1.05, 100},
	})
}

func oracleFreshnessScore(minutes float64) float64 {
	return interpolate(minutes, []anchor{
		{5, 100}, {15, 90}, {30, 70}, {60, 40}, {120, 10},
	})
}

func crossChainLagScore(minutes float64) float64 {
	return interpolate(minutes, []anchor{
		{5, 100}, {15, 85}, {30, 60}, {60, 30}, {120, 10},
	})
}
