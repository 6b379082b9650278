package fetchers

import (
	"math"
	"sort"
)

// dailyReturns converts a price series into simple day-over-day returns.
func dailyReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, prices[i]/prices[i-1]-1)
	}
	return returns
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// percentile returns the p-th percentile (0-100) by linear interpolation
// between closest ranks.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// annualizedVolatilityPct is stddev of daily returns scaled to a year,
// as a percentage.
func annualizedVolatilityPct(returns []float64) float64 {
	return stddev(returns) * math.Sqrt(365) * 100
}

// var95Pct is the 95% value-at-risk of the return series as a positive
// percentage loss.
func var95Pct(returns []float64) float64 {
	return -percentile(returns, 5) * 100
}

// cvar95Pct is the mean loss beyond the 95% VaR as a positive percentage.
func cvar95Pct(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	cut := percentile(returns, 5)
	var tail []float64
	for _, r := range returns {
		if r <= cut {
			tail = append(tail, r)
		}
	}
	if len(tail) == 0 {
		return 0
	}
	return -mean(tail) * 100
}

// herfindahl computes the HHI of a set of absolute balances, scaled 0-10000.
func herfindahl(balances []float64) float64 {
	var total float64
	for _, b := range balances {
		if b > 0 {
			total += b
		}
	}
	if total == 0 {
		return 0
	}
	var hhi float64
	for _, b := range balances {
		if b <= 0 {
			continue
		}
		share := b / total
		hhi += share * share
	}
	return hhi * 10000
}

// gini computes the Gini coefficient of a set of absolute balances.
// 0 means uniform distribution, 1 means a single holder.
func gini(balances []float64) float64 {
	var positive []float64
	for _, b := range balances {
		if b > 0 {
			positive = append(positive, b)
		}
	}
	n := len(positive)
	if n < 2 {
		return 0
	}
	sort.Float64s(positive)

	var cum, total float64
	for i, b := range positive {
		cum += float64(i+1) * b
		total += b
	}
	if total == 0 {
		return 0
	}
	return (2*cum)/(float64(n)*total) - float64(n+1)/float64(n)
}

// topNSharePct returns the share of the N largest balances, in percent.
func topNSharePct(balances []float64, n int) float64 {
	var positive []float64
	var total float64
	for _, b := range balances {
		if b > 0 {
			positive = append(positive, b)
			total += b
		}
	}
	if total == 0 || len(positive) == 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(positive)))
	if n > len(positive) {
		n = len(positive)
	}
	var top float64
	for i := 0; i < n; i++ {
		top += positive[i]
	}
	return top / total * 100
}

// estimateSlippagePct approximates the price impact of a trade against a
// constant-product pool: half the TVL sits on each side, and the executed
// price degrades as the trade consumes the quote-side depth.
func estimateSlippagePct(tradeUSD, tvlUSD float64) float64 {
	if tvlUSD <= 0 {
		return 100
	}
	side := tvlUSD / 2
	return tradeUSD / (side + tradeUSD) * 100
}
