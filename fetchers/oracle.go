package fetchers

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/registry"
	"github.com/ProtocolCHecker/riskmon/store"
)

// freshnessClampMinutes bounds the reported staleness of a feed that exists
// but cannot be read sensibly (one year, in minutes).
const freshnessClampMinutes = 525600

// OracleFetcher reads price feed freshness and cross-chain feed lag.
type OracleFetcher struct {
	clients *Clients
	now     func() time.Time
}

func NewOracleFetcher(clients *Clients) *OracleFetcher {
	return &OracleFetcher{clients: clients, now: time.Now}
}

func (f *OracleFetcher) Kind() catalog.FetcherKind {
	return catalog.KindOracle
}

func (f *OracleFetcher) Fetch(ctx context.Context, asset registry.Asset, scope Scope) ([]store.Sample, error) {
	switch scope.Class {
	case catalog.ClassCritical:
		return f.fetchFreshness(ctx, asset, scope)
	case catalog.ClassMedium:
		return f.fetchCrossChainLag(ctx, asset)
	default:
		return nil, nil
	}
}

// feeds returns the combined feed list the critical class iterates.
func feeds(cfg *registry.AssetConfig) []registry.PriceFeed {
	all := make([]registry.PriceFeed, 0, len(cfg.PriceFeeds)+len(cfg.CrossChainFeeds))
	all = append(all, cfg.PriceFeeds...)
	all = append(all, cfg.CrossChainFeeds...)
	return all
}

func (f *OracleFetcher) fetchFreshness(ctx context.Context, asset registry.Asset, scope Scope) ([]store.Sample, error) {
	all := feeds(asset.Config)
	if len(all) == 0 {
		return nil, nil
	}

	targets := all
	if scope.Index != AllTargets {
		if scope.Index < 0 || scope.Index >= len(all) {
			return nil, terminal(catalog.KindOracle, fmt.Errorf("feed index %d out of range", scope.Index))
		}
		targets = all[scope.Index : scope.Index+1]
	}

	var samples []store.Sample
	for _, feed := range targets {
		minutes, err := f.readFreshness(ctx, feed)
		if err != nil {
			return nil, err
		}
		samples = append(samples, newSample(asset.Symbol, catalog.MetricOracleFreshness, minutes, feed.Chain,
			map[string]interface{}{"feed": feed.Name, "address": feed.Address}))
	}
	return samples, nil
}

func (f *OracleFetcher) readFreshness(ctx context.Context, feed registry.PriceFeed) (float64, error) {
	updatedAt, err := f.feedUpdatedAt(ctx, feed)
	if err != nil {
		return 0, err
	}
	if updatedAt.IsZero() {
		// Feed exists but reports no round; report it as maximally stale.
		return freshnessClampMinutes, nil
	}
	minutes := f.now().Sub(updatedAt).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	return math.Min(minutes, freshnessClampMinutes), nil
}

func (f *OracleFetcher) feedUpdatedAt(ctx context.Context, feed registry.PriceFeed) (time.Time, error) {
	client, err := f.clients.Eth(feed.Chain)
	if err != nil {
		return time.Time{}, terminal(catalog.KindOracle, err)
	}
	caller, err := NewAggregatorCaller(common.HexToAddress(feed.Address), client)
	if err != nil {
		return time.Time{}, terminal(catalog.KindOracle, err)
	}
	round, err := caller.LatestRoundData(&bind.CallOpts{Context: ctx})
	if err != nil {
		return time.Time{}, classify(catalog.KindOracle, err)
	}
	if round.UpdatedAt == nil || round.UpdatedAt.Sign() == 0 {
		return time.Time{}, nil
	}
	return time.Unix(round.UpdatedAt.Int64(), 0), nil
}

// fetchCrossChainLag pairs cross-chain feeds by name and emits the absolute
// difference of their update timestamps. Unpaired feeds emit nothing.
func (f *OracleFetcher) fetchCrossChainLag(ctx context.Context, asset registry.Asset) ([]store.Sample, error) {
	if len(asset.Config.CrossChainFeeds) < 2 {
		return nil, nil
	}

	byName := make(map[string][]registry.PriceFeed)
	for _, feed := range asset.Config.CrossChainFeeds {
		byName[feed.Name] = append(byName[feed.Name], feed)
	}

	var samples []store.Sample
	for name, group := range byName {
		if len(group) < 2 {
			continue
		}
		timestamps := make([]time.Time, len(group))
		for i, feed := range group {
			ts, err := f.feedUpdatedAt(ctx, feed)
			if err != nil {
				return nil, err
			}
			timestamps[i] = ts
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				lag := math.Abs(timestamps[i].Sub(timestamps[j]).Minutes())
				samples = append(samples, newSample(asset.Symbol, catalog.MetricCrossChainOracleLag,
					math.Min(lag, freshnessClampMinutes), "",
					map[string]interface{}{
						"feed":    name,
						"chain_a": group[i].Chain,
						"chain_b": group[j].Chain,
					}))
			}
		}
	}
	return samples, nil
}
