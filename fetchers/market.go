package fetchers

import (
	"context"
	"fmt"
	"math"
	"net/url"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/registry"
	"github.com/ProtocolCHecker/riskmon/store"
)

// MarketFetcher reads spot and historical prices from the off-chain quote
// source and derives peg deviation and return-distribution risk metrics.
type MarketFetcher struct {
	clients *Clients
}

func NewMarketFetcher(clients *Clients) *MarketFetcher {
	return &MarketFetcher{clients: clients}
}

func (f *MarketFetcher) Kind() catalog.FetcherKind {
	return catalog.KindMarket
}

func (f *MarketFetcher) Fetch(ctx context.Context, asset registry.Asset, scope Scope) ([]store.Sample, error) {
	pr := asset.Config.PriceRisk
	if pr == nil {
		return nil, nil
	}

	switch scope.Class {
	case catalog.ClassCritical:
		return f.fetchPegDeviation(ctx, asset, pr)
	case catalog.ClassDaily:
		return f.fetchReturnMetrics(ctx, asset, pr)
	default:
		return nil, nil
	}
}

// fetchPegDeviation emits peg_deviation_pct = (token/underlying - 1) * 100.
// When either side of the ratio is missing no sample is emitted.
func (f *MarketFetcher) fetchPegDeviation(ctx context.Context, asset registry.Asset, pr *registry.PriceRisk) ([]store.Sample, error) {
	prices, err := f.spotPrices(ctx, pr.TokenPriceID, pr.UnderlyingPriceID)
	if err != nil {
		return nil, err
	}
	tokenPrice, okToken := prices[pr.TokenPriceID]
	underlyingPrice, okUnderlying := prices[pr.UnderlyingPriceID]
	if !okToken || !okUnderlying || tokenPrice == 0 || underlyingPrice == 0 {
		return nil, nil
	}

	deviation := (tokenPrice/underlyingPrice - 1) * 100
	sample := newSample(asset.Symbol, catalog.MetricPegDeviation, deviation, "",
		map[string]interface{}{"token_price": tokenPrice, "underlying_price": underlyingPrice})
	return []store.Sample{sample}, nil
}

// fetchReturnMetrics derives the daily-class risk metrics from the last 365
// days of token prices and the token/underlying ratio series.
func (f *MarketFetcher) fetchReturnMetrics(ctx context.Context, asset registry.Asset, pr *registry.PriceRisk) ([]store.Sample, error) {
	tokenSeries, err := f.dailySeries(ctx, pr.TokenPriceID)
	if err != nil {
		return nil, err
	}
	if len(tokenSeries) < 30 {
		// Not enough history for a meaningful distribution.
		return nil, nil
	}

	returns := dailyReturns(tokenSeries)
	seriesCtx := map[string]interface{}{"days": len(tokenSeries)}

	samples := []store.Sample{
		newSample(asset.Symbol, catalog.MetricVolatility, annualizedVolatilityPct(returns), "", seriesCtx),
		newSample(asset.Symbol, catalog.MetricVaR95, var95Pct(returns), "", seriesCtx),
		newSample(asset.Symbol, catalog.MetricCVaR95, cvar95Pct(returns), "", seriesCtx),
	}

	underlyingSeries, err := f.dailySeries(ctx, pr.UnderlyingPriceID)
	if err != nil {
		return nil, err
	}
	if maxDev, ok := maxRatioDeviationPct(tokenSeries, underlyingSeries); ok {
		samples = append(samples,
			newSample(asset.Symbol, catalog.MetricPriceDeviation365d, maxDev, "", seriesCtx))
	}
	return samples, nil
}

// maxRatioDeviationPct is the largest absolute deviation of token/underlying
// from parity over the overlapping series, in percent.
func maxRatioDeviationPct(token, underlying []float64) (float64, bool) {
	n := len(token)
	if len(underlying) < n {
		n = len(underlying)
	}
	if n == 0 {
		return 0, false
	}
	var maxDev float64
	found := false
	for i := 0; i < n; i++ {
		if underlying[i] == 0 {
			continue
		}
		dev := math.Abs(token[i]/underlying[i]-1) * 100
		if dev > maxDev {
			maxDev = dev
		}
		found = true
	}
	return maxDev, found
}

func (f *MarketFetcher) spotPrices(ctx context.Context, ids ...string) (map[string]float64, error) {
	params := url.Values{}
	params.Set("ids", joinIDs(ids))
	params.Set("vs_currencies", "usd")

	var resp map[string]struct {
		USD float64 `json:"usd"`
	}
	status, err := f.clients.Quote(ctx, "/simple/price", params, &resp)
	if err != nil {
		if status != 0 && status != 200 {
			return nil, classifyHTTP(catalog.KindMarket, status, err.Error())
		}
		return nil, classify(catalog.KindMarket, err)
	}

	prices := make(map[string]float64, len(resp))
	for id, entry := range resp {
		prices[id] = entry.USD
	}
	return prices, nil
}

func (f *MarketFetcher) dailySeries(ctx context.Context, id string) ([]float64, error) {
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("days", "365")
	params.Set("interval", "daily")

	var resp struct {
		Prices [][2]float64 `json:"prices"`
	}
	status, err := f.clients.Quote(ctx, fmt.Sprintf("/coins/%s/market_chart", id), params, &resp)
	if err != nil {
		if status != 0 && status != 200 {
			return nil, classifyHTTP(catalog.KindMarket, status, err.Error())
		}
		return nil, classify(catalog.KindMarket, err)
	}

	series := make([]float64, 0, len(resp.Prices))
	for _, point := range resp.Prices {
		series = append(series, point[1])
	}
	return series, nil
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}
