package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCoversClosedSet(t *testing.T) {
	names := Names()
	require.Len(t, names, 18)
	for _, name := range names {
		def, ok := Lookup(name)
		require.True(t, ok, "missing definition for %s", name)
		assert.Equal(t, name, def.Name)
		assert.NotEmpty(t, def.Unit)
	}
	_, ok := Lookup("made_up_metric")
	assert.False(t, ok)
}

func TestKindsForClass(t *testing.T) {
	tests := []struct {
		class FrequencyClass
		want  []FetcherKind
	}{
		{ClassCritical, []FetcherKind{KindReserve, KindOracle, KindMarket}},
		{ClassHigh, []FetcherKind{KindLiquidity, KindLending}},
		{ClassMedium, []FetcherKind{KindDistribution, KindLending, KindOracle}},
		{ClassDaily, []FetcherKind{KindMarket}},
	}
	for _, tt := range tests {
		assert.ElementsMatch(t, tt.want, KindsForClass(tt.class), "class %s", tt.class)
	}
}

func TestMetricsFor(t *testing.T) {
	assert.Equal(t, []string{MetricOracleFreshness}, MetricsFor(KindOracle, ClassCritical))
	assert.Equal(t, []string{MetricCrossChainOracleLag}, MetricsFor(KindOracle, ClassMedium))
	assert.ElementsMatch(t,
		[]string{MetricVolatility, MetricVaR95, MetricCVaR95, MetricPriceDeviation365d},
		MetricsFor(KindMarket, ClassDaily))
	assert.Empty(t, MetricsFor(KindReserve, ClassDaily))
}

func TestOperatorEvaluate(t *testing.T) {
	tests := []struct {
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{OpLT, 0.97, 1.0, true},
		{OpLT, 1.0, 1.0, false},
		{OpLE, 1.0, 1.0, true},
		{OpGT, 95.1, 95, true},
		{OpGT, 95, 95, false},
		{OpGE, 95, 95, true},
		{OpEQ, 3, 3, true},
		{OpEQ, 3.0001, 3, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.Evaluate(tt.value, tt.threshold),
			"%v %s %v", tt.value, tt.op, tt.threshold)
	}
	assert.False(t, Operator("~").Valid())
	assert.True(t, OpGE.Valid())
}

func TestSeedRules(t *testing.T) {
	rules := SeedRules()
	require.Len(t, rules, 19)
	for _, rule := range rules {
		assert.True(t, rule.Enabled)
		assert.Empty(t, rule.AssetSymbol, "seed rules are global")
		assert.True(t, IsKnown(rule.MetricName), "unknown metric %s", rule.MetricName)
	}
}

func TestThresholdsMatchPrecedence(t *testing.T) {
	thresholds := NewThresholds()

	global := thresholds.Match("WBTC", MetricPorRatio)
	require.Len(t, global, 2)

	// An asset-scoped rule shadows the global rules for that metric.
	rules := thresholds.All()
	rules = append(rules, Rule{
		AssetSymbol: "WBTC",
		MetricName:  MetricPorRatio,
		Operator:    OpLT,
		Threshold:   0.995,
		Severity:    SeverityWarning,
		Enabled:     true,
	})
	thresholds.Reload(rules)

	matched := thresholds.Match("WBTC", MetricPorRatio)
	require.Len(t, matched, 1)
	assert.Equal(t, "WBTC", matched[0].AssetSymbol)
	assert.Equal(t, 0.995, matched[0].Threshold)

	// Other assets still see the global rules.
	other := thresholds.Match("WETH", MetricPorRatio)
	assert.Len(t, other, 2)
}

func TestThresholdsDisabledRulesSkipped(t *testing.T) {
	thresholds := NewThresholds()
	rules := []Rule{
		{MetricName: MetricGini, Operator: OpGT, Threshold: 0.8, Severity: SeverityWarning, Enabled: false},
	}
	thresholds.Reload(rules)
	assert.Empty(t, thresholds.Match("X", MetricGini))
}

func TestSeverityLevelOrdering(t *testing.T) {
	assert.Less(t, SeverityInfo.Level(), SeverityWarning.Level())
	assert.Less(t, SeverityWarning.Level(), SeverityCritical.Level())
}
