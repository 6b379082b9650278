package fetchers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/registry"
	"github.com/ProtocolCHecker/riskmon/store"
)

// Explorer chain ids for the unified block-explorer API.
var explorerChainIDs = map[string]string{
	"ethereum": "1",
	"base":     "8453",
	"arbitrum": "42161",
	"optimism": "10",
	"polygon":  "137",
}

// DistributionFetcher reads token-holder concentration from the explorer API
// and supply from the chain.
type DistributionFetcher struct {
	clients *Clients
}

func NewDistributionFetcher(clients *Clients) *DistributionFetcher {
	return &DistributionFetcher{clients: clients}
}

func (f *DistributionFetcher) Kind() catalog.FetcherKind {
	return catalog.KindDistribution
}

func (f *DistributionFetcher) Fetch(ctx context.Context, asset registry.Asset, scope Scope) ([]store.Sample, error) {
	if scope.Class != catalog.ClassMedium || len(asset.Config.TokenAddresses) == 0 {
		return nil, nil
	}
	// Holder distribution is measured on the primary deployment.
	primary := asset.Config.TokenAddresses[0]
	chainID := explorerChainIDs[primary.Chain]
	if chainID == "" {
		// Non-EVM deployments have no explorer coverage; emit nothing.
		return nil, nil
	}

	balances, err := f.topHolders(ctx, chainID, primary.Address)
	if err != nil {
		return nil, err
	}

	supply, err := f.totalSupply(ctx, primary)
	if err != nil {
		return nil, err
	}

	holderCtx := map[string]interface{}{"variant": "holders", "holders_sampled": len(balances)}
	samples := []store.Sample{
		newSample(asset.Symbol, catalog.MetricTotalSupply, supply, primary.Chain, nil),
	}
	if len(balances) > 0 {
		samples = append(samples,
			newSample(asset.Symbol, catalog.MetricGini, gini(balances), primary.Chain, holderCtx),
			newSample(asset.Symbol, catalog.MetricHHI, herfindahl(balances), primary.Chain, holderCtx),
			newSample(asset.Symbol, catalog.MetricTop10Concentration, topNSharePct(balances, 10), primary.Chain, holderCtx),
		)
	}
	return samples, nil
}

func (f *DistributionFetcher) topHolders(ctx context.Context, chainID, tokenAddr string) ([]float64, error) {
	params := url.Values{}
	params.Set("chainid", chainID)
	params.Set("module", "token")
	params.Set("action", "topholders")
	params.Set("contractaddress", tokenAddr)
	params.Set("offset", "100")

	var resp struct {
		Status string `json:"status"`
		Result []struct {
			Balance string `json:"TokenHolderQuantity"`
		} `json:"result"`
	}
	status, err := f.clients.Explorer(ctx, params, &resp)
	if err != nil {
		if status != 0 && status != 200 {
			return nil, classifyHTTP(catalog.KindDistribution, status, err.Error())
		}
		return nil, classify(catalog.KindDistribution, err)
	}
	if resp.Status != "1" {
		return nil, terminal(catalog.KindDistribution, fmt.Errorf("explorer rejected holder query"))
	}

	var balances []float64
	for _, holder := range resp.Result {
		b, err := strconv.ParseFloat(holder.Balance, 64)
		if err != nil {
			continue
		}
		balances = append(balances, b)
	}
	return balances, nil
}

func (f *DistributionFetcher) totalSupply(ctx context.Context, ta registry.TokenAddress) (float64, error) {
	client, err := f.clients.Eth(ta.Chain)
	if err != nil {
		return 0, terminal(catalog.KindDistribution, err)
	}
	erc20, err := NewERC20Caller(common.HexToAddress(ta.Address), client)
	if err != nil {
		return 0, terminal(catalog.KindDistribution, err)
	}
	opts := &bind.CallOpts{Context: ctx}
	supply, err := erc20.TotalSupply(opts)
	if err != nil {
		return 0, classify(catalog.KindDistribution, err)
	}
	decimals, err := erc20.Decimals(opts)
	if err != nil {
		return 0, classify(catalog.KindDistribution, err)
	}
	return scaleBig(supply, int(decimals)), nil
}
