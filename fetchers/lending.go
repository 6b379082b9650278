package fetchers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/registry"
	"github.com/ProtocolCHecker/riskmon/store"
)

// Health factor below which a position counts toward cascade liquidation
// risk.
const cascadeHealthFactor = 1.1

// Lending market subgraph ids per protocol on the gateway.
var lendingSubgraphIDs = map[string]string{
	"aave_v3":     "Cd2gEDVeqnjBn1hSeqFMitw8Q1iiyV9FYUZkLNRcL87g",
	"compound_v3": "5nwMCSHaTqG3Kd2gHznbTXEnZ9QNWsssQfbHhDqQSQFp",
	"fluid":       "8fFyLbeHVKnDT5caPEBZGKjfbzTnYXN7VP4n7tFtpVcT",
}

// LendingFetcher reads utilization and position-level risk ratios for each
// configured lending market.
type LendingFetcher struct {
	clients *Clients
}

func NewLendingFetcher(clients *Clients) *LendingFetcher {
	return &LendingFetcher{clients: clients}
}

func (f *LendingFetcher) Kind() catalog.FetcherKind {
	return catalog.KindLending
}

func (f *LendingFetcher) Fetch(ctx context.Context, asset registry.Asset, scope Scope) ([]store.Sample, error) {
	markets := asset.Config.LendingConfigs
	if len(markets) == 0 {
		return nil, nil
	}
	if scope.Class != catalog.ClassHigh && scope.Class != catalog.ClassMedium {
		return nil, nil
	}

	targets := markets
	if scope.Index != AllTargets {
		if scope.Index < 0 || scope.Index >= len(markets) {
			return nil, terminal(catalog.KindLending, fmt.Errorf("market index %d out of range", scope.Index))
		}
		targets = markets[scope.Index : scope.Index+1]
	}

	var samples []store.Sample
	for _, market := range targets {
		marketSamples, err := f.fetchMarket(ctx, asset, market, scope.Class)
		if err != nil {
			return nil, err
		}
		samples = append(samples, marketSamples...)
	}
	return samples, nil
}

type marketState struct {
	TotalSuppliedUSD float64
	TotalBorrowedUSD float64
	// Position-level records: supply value, borrow value, health factor.
	Positions []positionState
}

type positionState struct {
	SupplyUSD    float64
	BorrowUSD    float64
	HealthFactor float64
}

func (f *LendingFetcher) fetchMarket(ctx context.Context, asset registry.Asset, market registry.LendingConfig, class catalog.FrequencyClass) ([]store.Sample, error) {
	state, err := f.queryMarket(ctx, market)
	if err != nil {
		return nil, err
	}

	name := market.MarketName
	if name == "" {
		name = fmt.Sprintf("%s:%s", market.Protocol, market.Chain)
	}
	marketCtx := map[string]interface{}{
		"market":   name,
		"protocol": market.Protocol,
		"tvl_usd":  state.TotalSuppliedUSD,
	}

	var samples []store.Sample
	if class == catalog.ClassHigh {
		utilization := 0.0
		if state.TotalSuppliedUSD > 0 {
			utilization = state.TotalBorrowedUSD / state.TotalSuppliedUSD * 100
		}
		samples = append(samples,
			newSample(asset.Symbol, catalog.MetricUtilizationRate, utilization, market.Chain, marketCtx))
		return samples, nil
	}

	// Medium class: cascade liquidation and recursive lending ratios.
	samples = append(samples,
		newSample(asset.Symbol, catalog.MetricCLR, cascadeLiquidationPct(state), market.Chain, marketCtx),
		newSample(asset.Symbol, catalog.MetricRLR, recursiveLendingPct(state), market.Chain, marketCtx),
	)
	return samples, nil
}

// cascadeLiquidationPct is the share of borrowed value held by positions
// whose health factor sits below the cascade threshold, in percent.
func cascadeLiquidationPct(state *marketState) float64 {
	if state.TotalBorrowedUSD == 0 {
		return 0
	}
	var atRisk float64
	for _, pos := range state.Positions {
		if pos.HealthFactor > 0 && pos.HealthFactor < cascadeHealthFactor {
			atRisk += pos.BorrowUSD
		}
	}
	return atRisk / state.TotalBorrowedUSD * 100
}

// recursiveLendingPct is the share of supply locked in borrow-and-redeposit
// loops on the same asset, in percent. A position supplying and borrowing
// the same market contributes the overlapping value.
func recursiveLendingPct(state *marketState) float64 {
	if state.TotalSuppliedUSD == 0 {
		return 0
	}
	var looped float64
	for _, pos := range state.Positions {
		if pos.SupplyUSD > 0 && pos.BorrowUSD > 0 {
			looped += min64(pos.SupplyUSD, pos.BorrowUSD)
		}
	}
	return looped / state.TotalSuppliedUSD * 100
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func (f *LendingFetcher) queryMarket(ctx context.Context, market registry.LendingConfig) (*marketState, error) {
	subgraphID := lendingSubgraphIDs[market.Protocol]
	if subgraphID == "" {
		return nil, terminal(catalog.KindLending, fmt.Errorf("no subgraph for protocol %s", market.Protocol))
	}

	query := `
		query ($token: String!) {
			market(id: $token) {
				totalDepositBalanceUSD
				totalBorrowBalanceUSD
				positions(first: 500, orderBy: balance, orderDirection: desc) {
					balanceUSD
					borrowBalanceUSD
					healthFactor
				}
			}
		}`
	var resp struct {
		Market *struct {
			TotalDepositBalanceUSD string `json:"totalDepositBalanceUSD"`
			TotalBorrowBalanceUSD  string `json:"totalBorrowBalanceUSD"`
			Positions              []struct {
				BalanceUSD       string `json:"balanceUSD"`
				BorrowBalanceUSD string `json:"borrowBalanceUSD"`
				HealthFactor     string `json:"healthFactor"`
			} `json:"positions"`
		} `json:"market"`
	}

	status, err := f.clients.Subgraph(ctx, subgraphID, query, map[string]interface{}{"token": market.TokenAddress}, &resp)
	if err != nil {
		if status != 0 && status != 200 {
			return nil, classifyHTTP(catalog.KindLending, status, err.Error())
		}
		return nil, classify(catalog.KindLending, err)
	}
	if resp.Market == nil {
		return nil, terminal(catalog.KindLending, fmt.Errorf("market %s not found in subgraph", market.TokenAddress))
	}

	state := &marketState{
		TotalSuppliedUSD: parseFloatOr(resp.Market.TotalDepositBalanceUSD, 0),
		TotalBorrowedUSD: parseFloatOr(resp.Market.TotalBorrowBalanceUSD, 0),
	}
	for _, pos := range resp.Market.Positions {
		state.Positions = append(state.Positions, positionState{
			SupplyUSD:    parseFloatOr(pos.BalanceUSD, 0),
			BorrowUSD:    parseFloatOr(pos.BorrowBalanceUSD, 0),
			HealthFactor: parseFloatOr(pos.HealthFactor, 0),
		})
	}
	return state, nil
}

func parseFloatOr(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return v
}
