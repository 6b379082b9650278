package scoring

import (
	"time"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/registry"
)

// SubScore is one component of a category, with its trace.
type SubScore struct {
	Name    string  `json:"name"`
	Weight  float64 `json:"weight"`
	Score   float64 `json:"score"`
	Missing bool    `json:"missing,omitempty"`
	Note    string  `json:"note,omitempty"`
}

// CategoryScore is one weighted category with its sub-score trace. When a
// sub-score's input is absent its weight is redistributed proportionally
// across the remaining sub-scores of the category.
type CategoryScore struct {
	Name      string     `json:"name"`
	Weight    float64    `json:"weight"`
	Score     float64    `json:"score"`
	Missing   bool       `json:"missing,omitempty"`
	SubScores []SubScore `json:"sub_scores"`
}

// Category names and weights.
const (
	CategorySmartContract = "smart_contract"
	CategoryCounterparty  = "counterparty"
	CategoryMarket        = "market"
	CategoryLiquidity     = "liquidity"
	CategoryCollateral    = "collateral"
	CategoryReserveOracle = "reserve_oracle"
)

var categoryWeights = map[string]float64{
	CategorySmartContract: 0.10,
	CategoryCounterparty:  0.25,
	CategoryMarket:        0.15,
	CategoryLiquidity:     0.15,
	CategoryCollateral:    0.10,
	CategoryReserveOracle: 0.25,
}

// scoreCategories computes the six categories from static config and the
// metric snapshot.
func scoreCategories(cfg *registry.AssetConfig, snap Snapshot, now time.Time) []CategoryScore {
	return []CategoryScore{
		smartContractCategory(cfg, now),
		counterpartyCategory(cfg),
		marketCategory(snap),
		liquidityCategory(snap),
		collateralCategory(snap),
		reserveOracleCategory(snap),
	}
}

// finish computes the weighted category score, redistributing the weight of
// missing sub-scores proportionally across the present ones.
func finish(name string, subs []SubScore) CategoryScore {
	category := CategoryScore{Name: name, Weight: categoryWeights[name], SubScores: subs}
	var weighted, total float64
	for _, sub := range subs {
		if sub.Missing {
			continue
		}
		weighted += sub.Score * sub.Weight
		total += sub.Weight
	}
	if total == 0 {
		category.Missing = true
		return category
	}
	category.Score = weighted / total
	return category
}

func present(name string, weight, score float64) SubScore {
	return SubScore{Name: name, Weight: weight, Score: score}
}

func missing(name string, weight float64, note string) SubScore {
	return SubScore{Name: name, Weight: weight, Missing: true, Note: note}
}

func smartContractCategory(cfg *registry.AssetConfig, now time.Time) CategoryScore {
	ad := cfg.AuditData
	if ad == nil {
		return finish(CategorySmartContract, []SubScore{
			missing("audit_score", 40, "no audit_data section"),
			missing("code_maturity", 30, "no audit_data section"),
			missing("incident_history", 30, "no audit_data section"),
		})
	}

	subs := []SubScore{
		present("audit_score", 40, auditScore(ad, now)),
	}
	if ad.DeploymentDate.IsZero() {
		subs = append(subs, missing("code_maturity", 30, "deployment_date not set"))
	} else {
		subs = append(subs, present("code_maturity", 30, codeMaturityScore(ad.DeploymentDate, now)))
	}
	subs = append(subs, present("incident_history", 30, incidentHistoryScore(ad.Incidents)))
	return finish(CategorySmartContract, subs)
}

func counterpartyCategory(cfg *registry.AssetConfig) CategoryScore {
	gov := cfg.Governance
	if gov == nil {
		return finish(CategoryCounterparty, []SubScore{
			missing("admin_key_control", 40, "no governance section"),
			missing("custody_model", 30, "no governance section"),
			missing("timelock_presence", 15, "no governance section"),
			missing("blacklist", 15, "no governance section"),
		})
	}
	return finish(CategoryCounterparty, []SubScore{
		present("admin_key_control", 40, adminKeyControlScore(gov)),
		present("custody_model", 30, custodyModelScore(gov.CustodyModel)),
		present("timelock_presence", 15, timelockScore(gov)),
		present("blacklist", 15, blacklistScore(gov)),
	})
}

func marketCategory(snap Snapshot) CategoryScore {
	subs := make([]SubScore, 0, 3)
	if value, ok := snap.Value(catalog.MetricPegDeviation); ok {
		subs = append(subs, present("peg_deviation", 40, pegDeviationScore(value)))
	} else {
		subs = append(subs, missing("peg_deviation", 40, "no peg_deviation_pct sample"))
	}
	if value, ok := snap.Value(catalog.MetricVolatility); ok {
		subs = append(subs, present("volatility", 30, volatilityScore(value)))
	} else {
		subs = append(subs, missing("volatility", 30, "no volatility_annualized_pct sample"))
	}
	if value, ok := snap.Value(catalog.MetricVaR95); ok {
		subs = append(subs, present("var95", 30, var95Score(value)))
	} else {
		subs = append(subs, missing("var95", 30, "no var95_pct sample"))
	}
	return finish(CategoryMarket, subs)
}

func liquidityCategory(snap Snapshot) CategoryScore {
	subs := make([]SubScore, 0, 3)
	if value, ok := snap.TVLWeighted(catalog.MetricSlippage100k); ok {
		subs = append(subs, present("slippage_100k", 40, slippage100kScore(value)))
	} else {
		subs = append(subs, missing("slippage_100k", 40, "no slippage_100k_pct sample"))
	}
	if value, ok := snap.TVLWeighted(catalog.MetricSlippage500k); ok {
		subs = append(subs, present("slippage_500k", 30, slippage500kScore(value)))
	} else {
		subs = append(subs, missing("slippage_500k", 30, "no slippage_500k_pct sample"))
	}
	if value, ok := poolHHI(snap); ok {
		subs = append(subs, present("hhi", 30, poolHHIScore(value)))
	} else {
		subs = append(subs, missing("hhi", 30, "no LP hhi sample"))
	}
	return finish(CategoryLiquidity, subs)
}

// poolHHI averages LP-concentration HHI across pools. Holder-distribution
// HHI samples carry a different variant tag and feed alerts only.
func poolHHI(snap Snapshot) (float64, bool) {
	lp := snap.AllVariant(catalog.MetricHHI, "lp")
	if len(lp) == 0 {
		return 0, false
	}
	var sum float64
	for _, sample := range lp {
		sum += sample.Value
	}
	return sum / float64(len(lp)), true
}

func collateralCategory(snap Snapshot) CategoryScore {
	subs := make([]SubScore, 0, 3)
	if value, ok := snap.TVLWeighted(catalog.MetricCLR); ok {
		subs = append(subs, present("cascade_liquidation", 40, cascadeLiquidationScore(value)))
	} else {
		subs = append(subs, missing("cascade_liquidation", 40, "no clr_pct sample"))
	}
	if value, ok := snap.TVLWeighted(catalog.MetricRLR); ok {
		subs = append(subs, present("recursive_lending", 35, recursiveLendingScore(value)))
	} else {
		subs = append(subs, missing("recursive_lending", 35, "no rlr_pct sample"))
	}
	if value, ok := snap.TVLWeighted(catalog.MetricUtilizationRate); ok {
		subs = append(subs, present("utilization", 25, utilizationScore(value)))
	} else {
		subs = append(subs, missing("utilization", 25, "no utilization_rate sample"))
	}
	return finish(CategoryCollateral, subs)
}

func reserveOracleCategory(snap Snapshot) CategoryScore {
	subs := make([]SubScore, 0, 3)
	if value, ok := snap.Value(catalog.MetricPorRatio); ok {
		subs = append(subs, present("proof_of_reserves", 50, porScore(value)))
	} else {
		subs = append(subs, missing("proof_of_reserves", 50, "no por_ratio sample"))
	}
	if value, ok := worstOf(snap, catalog.MetricOracleFreshness); ok {
		subs = append(subs, present("oracle_freshness", 25, oracleFreshnessScore(value)))
	} else {
		subs = append(subs, missing("oracle_freshness", 25, "no oracle_freshness_minutes sample"))
	}
	if value, ok := worstOf(snap, catalog.MetricCrossChainOracleLag); ok {
		subs = append(subs, present("cross_chain_lag", 25, crossChainLagScore(value)))
	} else {
		subs = append(subs, missing("cross_chain_lag", 25, "no cross_chain_oracle_lag_minutes sample"))
	}
	return finish(CategoryReserveOracle, subs)
}

// worstOf takes the maximum value across targets; for staleness metrics the
// worst feed drives the score.
func worstOf(snap Snapshot, metric string) (float64, bool) {
	group := snap.All(metric)
	if len(group) == 0 {
		return 0, false
	}
	worst := group[0].Value
	for _, sample := range group[1:] {
		if sample.Value > worst {
			worst = sample.Value
		}
	}
	return worst, true
}
