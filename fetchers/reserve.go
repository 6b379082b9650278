package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/registry"
	"github.com/ProtocolCHecker/riskmon/store"
)

// ReserveFetcher computes por_ratio (reserves / total supply, 1.0 = fully
// backed) according to the asset's proof_of_reserve kind.
type ReserveFetcher struct {
	clients *Clients
}

func NewReserveFetcher(clients *Clients) *ReserveFetcher {
	return &ReserveFetcher{clients: clients}
}

func (f *ReserveFetcher) Kind() catalog.FetcherKind {
	return catalog.KindReserve
}

func (f *ReserveFetcher) Fetch(ctx context.Context, asset registry.Asset, scope Scope) ([]store.Sample, error) {
	por := asset.Config.ProofOfReserve
	if por == nil || scope.Class != catalog.ClassCritical {
		return nil, nil
	}

	var (
		ratio float64
		err   error
	)
	switch por.Kind {
	case registry.PoRChainlink:
		ratio, err = f.chainlinkRatio(ctx, asset, por)
	case registry.PoRLiquidStaking:
		ratio, err = f.liquidStakingRatio(ctx, asset, por)
	case registry.PoRFractional:
		ratio, err = f.fractionalRatio(ctx, por)
	case registry.PoRNavBased:
		ratio, err = f.navRatio(ctx, asset, por)
	case registry.PoRScraper:
		ratio, err = f.scrapedRatio(ctx, por)
	default:
		return nil, terminal(catalog.KindReserve, fmt.Errorf("unknown proof_of_reserve kind %q", por.Kind))
	}
	if err != nil {
		return nil, err
	}

	sample := newSample(asset.Symbol, catalog.MetricPorRatio, ratio, "",
		map[string]interface{}{"kind": por.Kind})
	return []store.Sample{sample}, nil
}

// chainlinkRatio sums PoR-attested reserves and on-chain supply across the
// configured chains.
func (f *ReserveFetcher) chainlinkRatio(ctx context.Context, asset registry.Asset, por *registry.ProofOfReserve) (float64, error) {
	var totalReserves, totalSupply float64

	for chain, aggregator := range por.Aggregators {
		client, err := f.clients.Eth(chain)
		if err != nil {
			return 0, terminal(catalog.KindReserve, err)
		}

		caller, err := NewAggregatorCaller(common.HexToAddress(aggregator), client)
		if err != nil {
			return 0, terminal(catalog.KindReserve, err)
		}
		opts := &bind.CallOpts{Context: ctx}
		round, err := caller.LatestRoundData(opts)
		if err != nil {
			return 0, classify(catalog.KindReserve, err)
		}
		decimals, err := caller.Decimals(opts)
		if err != nil {
			return 0, classify(catalog.KindReserve, err)
		}
		totalReserves += scaleBig(round.Answer, int(decimals))

		tokenAddr := por.TokenAddresses[chain]
		if tokenAddr == "" {
			tokenAddr = tokenAddressOn(asset.Config, chain)
		}
		if tokenAddr == "" {
			return 0, terminal(catalog.KindReserve, fmt.Errorf("no token address for chain %s", chain))
		}
		supply, err := f.erc20Supply(ctx, client, tokenAddr)
		if err != nil {
			return 0, err
		}
		totalSupply += supply
	}

	if totalSupply == 0 {
		return 0, terminal(catalog.KindReserve, fmt.Errorf("total supply is zero"))
	}
	return totalReserves / totalSupply, nil
}

// liquidStakingRatio compares the staking vault's share accounting against
// the wrapped token supply on the asset's primary chain.
func (f *ReserveFetcher) liquidStakingRatio(ctx context.Context, asset registry.Asset, por *registry.ProofOfReserve) (float64, error) {
	if len(asset.Config.TokenAddresses) == 0 {
		return 0, terminal(catalog.KindReserve, fmt.Errorf("no token_addresses configured"))
	}
	primary := asset.Config.TokenAddresses[0]

	client, err := f.clients.Eth(primary.Chain)
	if err != nil {
		return 0, terminal(catalog.KindReserve, err)
	}

	vault, err := NewVaultCaller(common.HexToAddress(por.StakedToken), client)
	if err != nil {
		return 0, terminal(catalog.KindReserve, err)
	}
	opts := &bind.CallOpts{Context: ctx}
	assets, err := vault.TotalAssets(opts)
	if err != nil {
		return 0, classify(catalog.KindReserve, err)
	}

	supply, err := f.erc20Supply(ctx, client, primary.Address)
	if err != nil {
		return 0, err
	}
	if supply == 0 {
		return 0, terminal(catalog.KindReserve, fmt.Errorf("wrapped supply is zero"))
	}

	erc20, err := NewERC20Caller(common.HexToAddress(primary.Address), client)
	if err != nil {
		return 0, terminal(catalog.KindReserve, err)
	}
	decimals, err := erc20.Decimals(opts)
	if err != nil {
		return 0, classify(catalog.KindReserve, err)
	}
	return scaleBig(assets, int(decimals)) / supply, nil
}

// fractionalRatio reads a JSON backing source reporting reserves and supply.
func (f *ReserveFetcher) fractionalRatio(ctx context.Context, por *registry.ProofOfReserve) (float64, error) {
	var report struct {
		Reserves float64 `json:"reserves"`
		Supply   float64 `json:"supply"`
	}
	status, body, err := f.clients.Get(ctx, por.BackingSource)
	if err != nil {
		return 0, classify(catalog.KindReserve, err)
	}
	if status != 200 {
		return 0, classifyHTTP(catalog.KindReserve, status, body)
	}
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return 0, terminal(catalog.KindReserve, fmt.Errorf("decode backing report: %w", err))
	}
	if report.Supply == 0 {
		return 0, terminal(catalog.KindReserve, fmt.Errorf("backing source reports zero supply"))
	}
	return report.Reserves / report.Supply, nil
}

// navRatio reads the NAV oracle; the NAV itself is the backing ratio.
func (f *ReserveFetcher) navRatio(ctx context.Context, asset registry.Asset, por *registry.ProofOfReserve) (float64, error) {
	if len(asset.Config.TokenAddresses) == 0 {
		return 0, terminal(catalog.KindReserve, fmt.Errorf("no token_addresses configured"))
	}
	chain := asset.Config.TokenAddresses[0].Chain

	client, err := f.clients.Eth(chain)
	if err != nil {
		return 0, terminal(catalog.KindReserve, err)
	}
	caller, err := NewAggregatorCaller(common.HexToAddress(por.NavOracle), client)
	if err != nil {
		return 0, terminal(catalog.KindReserve, err)
	}
	opts := &bind.CallOpts{Context: ctx}
	round, err := caller.LatestRoundData(opts)
	if err != nil {
		return 0, classify(catalog.KindReserve, err)
	}
	decimals, err := caller.Decimals(opts)
	if err != nil {
		return 0, classify(catalog.KindReserve, err)
	}
	return scaleBig(round.Answer, int(decimals)), nil
}

// scrapedRatio pulls an HTML dashboard and extracts the first number after
// the configured parser hint.
func (f *ReserveFetcher) scrapedRatio(ctx context.Context, por *registry.ProofOfReserve) (float64, error) {
	status, body, err := f.clients.Get(ctx, por.URL)
	if err != nil {
		return 0, classify(catalog.KindReserve, err)
	}
	if status != 200 {
		return 0, classifyHTTP(catalog.KindReserve, status, body)
	}
	ratio, err := parseScrapedRatio(body, por.ParserHint)
	if err != nil {
		return 0, terminal(catalog.KindReserve, err)
	}
	return ratio, nil
}

var numberPattern = regexp.MustCompile(`[0-9]+(?:[,.][0-9]+)*%?`)

// parseScrapedRatio finds the first numeric token after the hint. A trailing
// percent sign divides by 100, so "102.4%" and "1.024" both read as 1.024.
func parseScrapedRatio(body, hint string) (float64, error) {
	section := body
	if hint != "" {
		idx := strings.Index(body, hint)
		if idx < 0 {
			return 0, fmt.Errorf("parser hint %q not found", hint)
		}
		section = body[idx+len(hint):]
	}
	match := numberPattern.FindString(section)
	if match == "" {
		return 0, fmt.Errorf("no numeric value after hint")
	}

	pct := strings.HasSuffix(match, "%")
	match = strings.TrimSuffix(match, "%")
	match = strings.ReplaceAll(match, ",", "")
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", match, err)
	}
	if pct {
		value /= 100
	}
	return value, nil
}

// erc20Supply reads totalSupply scaled by the token's decimals.
func (f *ReserveFetcher) erc20Supply(ctx context.Context, client *ethclient.Client, tokenAddr string) (float64, error) {
	erc20, err := NewERC20Caller(common.HexToAddress(tokenAddr), client)
	if err != nil {
		return 0, terminal(catalog.KindReserve, err)
	}
	opts := &bind.CallOpts{Context: ctx}
	supply, err := erc20.TotalSupply(opts)
	if err != nil {
		return 0, classify(catalog.KindReserve, err)
	}
	decimals, err := erc20.Decimals(opts)
	if err != nil {
		return 0, classify(catalog.KindReserve, err)
	}
	return scaleBig(supply, int(decimals)), nil
}

func scaleBig(value *big.Int, decimals int) float64 {
	if value == nil {
		return 0
	}
	f := new(big.Float).SetInt(value)
	divisor := new(big.Float).SetFloat64(math.Pow(10, float64(decimals)))
	f.Quo(f, divisor)
	result, _ := f.Float64()
	return result
}

func tokenAddressOn(cfg *registry.AssetConfig, chain string) string {
	for _, ta := range cfg.TokenAddresses {
		if ta.Chain == chain {
			return ta.Address
		}
	}
	return ""
}
