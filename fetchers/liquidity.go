package fetchers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/registry"
	"github.com/ProtocolCHecker/riskmon/store"
)

// Subgraph ids per DEX protocol on the gateway. Substitutable via config by
// setting the pool's extra["subgraph_id"].
var defaultSubgraphIDs = map[string]string{
	"uniswap_v3":     "5zvR82QoaXYFyDEKLZ9t6v9adgnptxYpKpSbxtgVENFV",
	"curve":          "3fy93eAT56UJsRCEht8iFhfi6wjHWXtZ9dnnbQmvFopF",
	"pancakeswap_v3": "A1fvJWQLBeUAggX2WQTMm3FKjXTekNXo77ZySun4YN2m",
}

// LiquidityFetcher reads DEX pool depth from the subgraph gateway and derives
// TVL, slippage estimates and LP concentration.
type LiquidityFetcher struct {
	clients *Clients
}

func NewLiquidityFetcher(clients *Clients) *LiquidityFetcher {
	return &LiquidityFetcher{clients: clients}
}

func (f *LiquidityFetcher) Kind() catalog.FetcherKind {
	return catalog.KindLiquidity
}

func (f *LiquidityFetcher) Fetch(ctx context.Context, asset registry.Asset, scope Scope) ([]store.Sample, error) {
	pools := asset.Config.DexPools
	if len(pools) == 0 {
		return nil, nil
	}
	if scope.Class != catalog.ClassHigh && scope.Class != catalog.ClassMedium {
		return nil, nil
	}

	targets := pools
	if scope.Index != AllTargets {
		if scope.Index < 0 || scope.Index >= len(pools) {
			return nil, terminal(catalog.KindLiquidity, fmt.Errorf("pool index %d out of range", scope.Index))
		}
		targets = pools[scope.Index : scope.Index+1]
	}

	var samples []store.Sample
	for _, pool := range targets {
		poolSamples, err := f.fetchPool(ctx, asset, pool, scope.Class)
		if err != nil {
			return nil, err
		}
		samples = append(samples, poolSamples...)
	}
	return samples, nil
}

type poolState struct {
	TVLUSD      float64
	LPBalances  []float64
}

func (f *LiquidityFetcher) fetchPool(ctx context.Context, asset registry.Asset, pool registry.DexPool, class catalog.FrequencyClass) ([]store.Sample, error) {
	state, err := f.queryPool(ctx, pool)
	if err != nil {
		return nil, err
	}

	poolCtx := map[string]interface{}{"pool": pool.PoolName, "protocol": pool.Protocol, "address": pool.PoolAddress, "tvl_usd": state.TVLUSD}
	var samples []store.Sample

	if class == catalog.ClassHigh {
		samples = append(samples,
			newSample(asset.Symbol, catalog.MetricPoolTVL, state.TVLUSD, pool.Chain, poolCtx),
			newSample(asset.Symbol, catalog.MetricSlippage100k, estimateSlippagePct(100_000, state.TVLUSD), pool.Chain, poolCtx),
			newSample(asset.Symbol, catalog.MetricSlippage500k, estimateSlippagePct(500_000, state.TVLUSD), pool.Chain, poolCtx),
		)
		return samples, nil
	}

	// Medium class: LP concentration. Pools with no position data emit nothing.
	if len(state.LPBalances) == 0 {
		return nil, nil
	}
	lpCtx := map[string]interface{}{"pool": pool.PoolName, "protocol": pool.Protocol, "address": pool.PoolAddress, "variant": "lp"}
	samples = append(samples,
		newSample(asset.Symbol, catalog.MetricHHI, herfindahl(state.LPBalances), pool.Chain, lpCtx),
		newSample(asset.Symbol, catalog.MetricTop10Concentration, topNSharePct(state.LPBalances, 10), pool.Chain, lpCtx),
	)
	return samples, nil
}

func (f *LiquidityFetcher) queryPool(ctx context.Context, pool registry.DexPool) (*poolState, error) {
	subgraphID := pool.Extra["subgraph_id"]
	if subgraphID == "" {
		subgraphID = defaultSubgraphIDs[pool.Protocol]
	}
	if subgraphID == "" {
		return nil, terminal(catalog.KindLiquidity, fmt.Errorf("no subgraph for protocol %s", pool.Protocol))
	}

	query := `
		query ($pool: ID!) {
			pool(id: $pool) {
				totalValueLockedUSD
				positions(first: 100, orderBy: liquidity, orderDirection: desc) {
					liquidity
				}
			}
		}`
	var resp struct {
		Pool *struct {
			TotalValueLockedUSD string `json:"totalValueLockedUSD"`
			Positions           []struct {
				Liquidity string `json:"liquidity"`
			} `json:"positions"`
		} `json:"pool"`
	}

	status, err := f.clients.Subgraph(ctx, subgraphID, query, map[string]interface{}{"pool": pool.PoolAddress}, &resp)
	if err != nil {
		if status != 0 && status != 200 {
			return nil, classifyHTTP(catalog.KindLiquidity, status, err.Error())
		}
		return nil, classify(catalog.KindLiquidity, err)
	}
	if resp.Pool == nil {
		return nil, terminal(catalog.KindLiquidity, fmt.Errorf("pool %s not found in subgraph", pool.PoolAddress))
	}

	tvl, err := strconv.ParseFloat(resp.Pool.TotalValueLockedUSD, 64)
	if err != nil {
		return nil, terminal(catalog.KindLiquidity, fmt.Errorf("bad TVL %q: %w", resp.Pool.TotalValueLockedUSD, err))
	}

	state := &poolState{TVLUSD: tvl}
	for _, pos := range resp.Pool.Positions {
		liq, err := strconv.ParseFloat(pos.Liquidity, 64)
		if err != nil {
			continue
		}
		state.LPBalances = append(state.LPBalances, liq)
	}
	return state, nil
}
