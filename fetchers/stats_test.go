package fetchers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyReturns(t *testing.T) {
	returns := dailyReturns([]float64{100, 110, 99})
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, -0.10, returns[1], 1e-9)

	assert.Nil(t, dailyReturns([]float64{100}))
	// Zero prices are skipped rather than dividing by zero.
	assert.Len(t, dailyReturns([]float64{100, 0, 50}), 1)
}

func TestPercentile(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 1.0, percentile(xs, 0))
	assert.Equal(t, 10.0, percentile(xs, 100))
	assert.InDelta(t, 5.5, percentile(xs, 50), 1e-9)
	assert.InDelta(t, 1.45, percentile(xs, 5), 1e-9)
}

func TestVarAndCVar(t *testing.T) {
	// 18 small gains and two -10% days.
	returns := make([]float64, 20)
	for i := range returns {
		returns[i] = 0.01
	}
	returns[18] = -0.10
	returns[19] = -0.10

	v := var95Pct(returns)
	cv := cvar95Pct(returns)
	assert.InDelta(t, 10.0, v, 0.01)
	assert.GreaterOrEqual(t, cv, v, "expected shortfall at least VaR")
	assert.InDelta(t, 10.0, cv, 0.5)
}

func TestAnnualizedVolatility(t *testing.T) {
	flat := []float64{0.01, 0.01, 0.01, 0.01}
	assert.InDelta(t, 0, annualizedVolatilityPct(flat), 1e-9)

	mixed := []float64{0.02, -0.02, 0.02, -0.02}
	expected := stddev(mixed) * math.Sqrt(365) * 100
	assert.InDelta(t, expected, annualizedVolatilityPct(mixed), 1e-9)
	assert.Greater(t, expected, 0.0)
}

func TestHerfindahl(t *testing.T) {
	// Single holder: maximally concentrated.
	assert.InDelta(t, 10000, herfindahl([]float64{42}), 1e-9)

	// Four equal holders: 4 * (0.25)^2 * 10000 = 2500.
	assert.InDelta(t, 2500, herfindahl([]float64{10, 10, 10, 10}), 1e-9)

	assert.Equal(t, 0.0, herfindahl(nil))
	// Non-positive balances are ignored.
	assert.InDelta(t, 10000, herfindahl([]float64{5, 0, -3}), 1e-9)
}

func TestGini(t *testing.T) {
	assert.Equal(t, 0.0, gini([]float64{10, 10, 10, 10}))

	skewed := gini([]float64{1, 1, 1, 1000})
	assert.Greater(t, skewed, 0.7)
	assert.LessOrEqual(t, skewed, 1.0)

	assert.Equal(t, 0.0, gini([]float64{5}))
}

func TestTopNSharePct(t *testing.T) {
	balances := []float64{50, 30, 10, 5, 5}
	assert.InDelta(t, 80, topNSharePct(balances, 2), 1e-9)
	assert.InDelta(t, 100, topNSharePct(balances, 10), 1e-9)
	assert.Equal(t, 0.0, topNSharePct(nil, 10))
}

func TestEstimateSlippagePct(t *testing.T) {
	// A 100k trade against an 80M pool barely moves the price.
	small := estimateSlippagePct(100_000, 80_000_000)
	assert.Less(t, small, 0.5)

	// The same trade against a 500k pool is painful.
	big := estimateSlippagePct(100_000, 500_000)
	assert.Greater(t, big, 20.0)

	assert.Equal(t, 100.0, estimateSlippagePct(100_000, 0))
	assert.Less(t, small, big)
}

func TestParseScrapedRatio(t *testing.T) {
	html := `<div><span class="label">Collateral Ratio</span><span>102.4%</span></div>`

	ratio, err := parseScrapedRatio(html, "Collateral Ratio")
	require.NoError(t, err)
	assert.InDelta(t, 1.024, ratio, 1e-9)

	plain, err := parseScrapedRatio(`backing: 1.003`, "backing")
	require.NoError(t, err)
	assert.InDelta(t, 1.003, plain, 1e-9)

	withCommas, err := parseScrapedRatio(`reserves 12,345.67 tokens`, "reserves")
	require.NoError(t, err)
	assert.InDelta(t, 12345.67, withCommas, 1e-9)

	_, err = parseScrapedRatio(`nothing here`, "Collateral Ratio")
	assert.Error(t, err)

	_, err = parseScrapedRatio(`hint only, no digits`, "hint only")
	assert.Error(t, err)
}

func TestMaxRatioDeviationPct(t *testing.T) {
	token := []float64{100, 101, 99}
	underlying := []float64{100, 100, 100}
	dev, ok := maxRatioDeviationPct(token, underlying)
	require.True(t, ok)
	assert.InDelta(t, 1.0, dev, 1e-9)

	_, ok = maxRatioDeviationPct(nil, underlying)
	assert.False(t, ok)

	// Zero underlying entries are skipped.
	dev, ok = maxRatioDeviationPct([]float64{100, 100}, []float64{0, 100})
	require.True(t, ok)
	assert.InDelta(t, 0, dev, 1e-9)
}
