package scoring

import (
	"time"

	"github.com/ProtocolCHecker/riskmon/store"
)

// Snapshot is an immutable capture of the latest metric samples for one
// asset. It is built once from the store and passed by value to the engine;
// scoring never reads the store again, which keeps evaluation deterministic.
type Snapshot struct {
	samples map[string][]store.Sample
	taken   time.Time
}

// NewSnapshot groups the store's latest-per-target samples by metric name.
func NewSnapshot(samples []store.Sample, taken time.Time) Snapshot {
	grouped := make(map[string][]store.Sample)
	for _, sample := range samples {
		grouped[sample.MetricName] = append(grouped[sample.MetricName], sample)
	}
	return Snapshot{samples: grouped, taken: taken}
}

// Taken is the snapshot cutoff timestamp.
func (s Snapshot) Taken() time.Time {
	return s.taken
}

// Latest returns the max-timestamp sample for a metric, across all targets.
func (s Snapshot) Latest(metric string) (store.Sample, bool) {
	group := s.samples[metric]
	if len(group) == 0 {
		return store.Sample{}, false
	}
	best := group[0]
	for _, sample := range group[1:] {
		if sample.RecordedAt.After(best.RecordedAt) {
			best = sample
		}
	}
	return best, true
}

// Value returns the latest value for a metric.
func (s Snapshot) Value(metric string) (float64, bool) {
	sample, ok := s.Latest(metric)
	if !ok {
		return 0, false
	}
	return sample.Value, true
}

// All returns every per-target sample of a metric (one per market, pool or
// feed), for aggregation across targets.
func (s Snapshot) All(metric string) []store.Sample {
	return s.samples[metric]
}

// AllVariant filters All by the sample context "variant" tag. An empty
// variant matches samples without the tag.
func (s Snapshot) AllVariant(metric, variant string) []store.Sample {
	var out []store.Sample
	for _, sample := range s.samples[metric] {
		if sample.ContextString("variant") == variant {
			out = append(out, sample)
		}
	}
	return out
}

// TVLWeighted aggregates a per-market metric into one value using each
// sample's tvl_usd context as weight. Samples without a weight count with
// weight 1 so a market missing its TVL still participates.
func (s Snapshot) TVLWeighted(metric string) (float64, bool) {
	group := s.samples[metric]
	if len(group) == 0 {
		return 0, false
	}
	var weighted, total float64
	for _, sample := range group {
		weight, ok := sample.ContextFloat("tvl_usd")
		if !ok || weight <= 0 {
			weight = 1
		}
		weighted += sample.Value * weight
		total += weight
	}
	if total == 0 {
		return 0, false
	}
	return weighted / total, true
}
