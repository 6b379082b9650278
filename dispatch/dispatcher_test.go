package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/fetchers"
	"github.com/ProtocolCHecker/riskmon/registry"
	"github.com/ProtocolCHecker/riskmon/store"
)

type fakeAssets struct {
	assets []registry.Asset
}

func (f *fakeAssets) ListEnabled(ctx context.Context) ([]registry.Asset, error) {
	return f.assets, nil
}

type fakeStore struct {
	mu      sync.Mutex
	samples []store.Sample
	fail    error
}

func (f *fakeStore) Append(ctx context.Context, sample store.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakeStore) bySymbol() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, s := range f.samples {
		counts[s.AssetSymbol]++
	}
	return counts
}

type fakeSink struct {
	mu    sync.Mutex
	seen  []store.Sample
}

func (f *fakeSink) Process(ctx context.Context, sample store.Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, sample)
}

// fakeReserveFetcher emits one por_ratio sample per call, failing for the
// configured symbols.
type fakeReserveFetcher struct {
	mu       sync.Mutex
	attempts map[string]int
	failFor  map[string]error
}

func (f *fakeReserveFetcher) Kind() catalog.FetcherKind {
	return catalog.KindReserve
}

func (f *fakeReserveFetcher) Fetch(ctx context.Context, asset registry.Asset, scope fetchers.Scope) ([]store.Sample, error) {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[asset.Symbol]++
	err := f.failFor[asset.Symbol]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return []store.Sample{{
		AssetSymbol: asset.Symbol,
		MetricName:  catalog.MetricPorRatio,
		Value:       1.0,
		RecordedAt:  time.Now().UTC(),
	}}, nil
}

func reserveAsset(symbol string) registry.Asset {
	return registry.Asset{
		Symbol: symbol,
		Config: &registry.AssetConfig{
			TokenAddresses: []registry.TokenAddress{{Chain: "ethereum", Address: "0x" + symbol}},
			ProofOfReserve: &registry.ProofOfReserve{Kind: registry.PoRChainlink, Aggregators: map[string]string{"ethereum": "0xagg"}},
		},
	}
}

func testOptions() Options {
	return Options{
		PoolSize:     4,
		UnitDeadline: func(string) time.Duration { return time.Second },
		MaxRetries:   2,
		RetryBase:    time.Millisecond,
		RetryCap:     4 * time.Millisecond,
	}
}

func TestTickIsolatesFailures(t *testing.T) {
	assets := &fakeAssets{assets: []registry.Asset{
		reserveAsset("AAA"), reserveAsset("BBB"), reserveAsset("CCC"),
	}}
	sink := &fakeSink{}
	sampleStore := &fakeStore{}
	fetcher := &fakeReserveFetcher{
		failFor: map[string]error{
			"BBB": &fetchers.FetchError{Kind: catalog.KindReserve, Retriable: true, Cause: errors.New("timeout")},
		},
	}

	d := New(assets, sampleStore, sink, []fetchers.Fetcher{fetcher}, testOptions(), zerolog.Nop())
	result, err := d.RunTick(context.Background(), catalog.ClassCritical)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Units)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, result.Incomplete)

	counts := sampleStore.bySymbol()
	assert.Equal(t, 1, counts["AAA"])
	assert.Equal(t, 1, counts["CCC"])
	assert.Zero(t, counts["BBB"])

	// Initial attempt plus two retries for the retriable failure.
	assert.Equal(t, 3, fetcher.attempts["BBB"])
	assert.Equal(t, 1, fetcher.attempts["AAA"])

	// Each persisted sample reached the alert sink.
	assert.Len(t, sink.seen, 2)
}

func TestTerminalFailureIsNotRetried(t *testing.T) {
	assets := &fakeAssets{assets: []registry.Asset{reserveAsset("AAA")}}
	fetcher := &fakeReserveFetcher{
		failFor: map[string]error{
			"AAA": &fetchers.FetchError{Kind: catalog.KindReserve, Retriable: false, Cause: errors.New("bad schema")},
		},
	}

	d := New(assets, &fakeStore{}, nil, []fetchers.Fetcher{fetcher}, testOptions(), zerolog.Nop())
	result, err := d.RunTick(context.Background(), catalog.ClassCritical)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, fetcher.attempts["AAA"])
}

func TestStorageOutageAbortsWrites(t *testing.T) {
	assets := &fakeAssets{assets: []registry.Asset{reserveAsset("AAA"), reserveAsset("BBB")}}
	sampleStore := &fakeStore{fail: store.ErrStorageUnavailable}
	fetcher := &fakeReserveFetcher{}

	d := New(assets, sampleStore, nil, []fetchers.Fetcher{fetcher}, testOptions(), zerolog.Nop())
	result, err := d.RunTick(context.Background(), catalog.ClassCritical)
	require.NoError(t, err)

	assert.True(t, result.Incomplete)
	assert.Zero(t, result.Samples)
	// Fetches themselves are not retried on storage failure.
	assert.Equal(t, 1, fetcher.attempts["AAA"])
	assert.Equal(t, 1, fetcher.attempts["BBB"])
}

func TestEmptyTickSucceeds(t *testing.T) {
	d := New(&fakeAssets{}, &fakeStore{}, nil, nil, testOptions(), zerolog.Nop())
	result, err := d.RunTick(context.Background(), catalog.ClassDaily)
	require.NoError(t, err)
	assert.Zero(t, result.Units)
	assert.False(t, result.Incomplete)
}

func TestExpandUnits(t *testing.T) {
	asset := registry.Asset{
		Symbol: "WBTC",
		Config: &registry.AssetConfig{
			TokenAddresses: []registry.TokenAddress{{Chain: "ethereum", Address: "0xwbtc"}},
			PriceFeeds: []registry.PriceFeed{
				{Chain: "ethereum", Address: "0xfeed1", Name: "BTC/USD"},
			},
			CrossChainFeeds: []registry.PriceFeed{
				{Chain: "ethereum", Address: "0xfeed2", Name: "WBTC/BTC"},
				{Chain: "base", Address: "0xfeed3", Name: "WBTC/BTC"},
			},
			ProofOfReserve: &registry.ProofOfReserve{Kind: registry.PoRChainlink, Aggregators: map[string]string{"ethereum": "0xagg"}},
			PriceRisk:      &registry.PriceRisk{TokenPriceID: "wrapped-bitcoin", UnderlyingPriceID: "bitcoin"},
			DexPools: []registry.DexPool{
				{Protocol: "uniswap_v3", Chain: "ethereum", PoolAddress: "0xpool1"},
				{Protocol: "curve", Chain: "ethereum", PoolAddress: "0xpool2"},
			},
			LendingConfigs: []registry.LendingConfig{
				{Protocol: "aave_v3", Chain: "ethereum", TokenAddress: "0xwbtc"},
			},
		},
	}

	critical := ExpandUnits(catalog.ClassCritical, asset)
	// 3 feed units + 1 reserve + 1 market.
	assert.Len(t, critical, 5)

	high := ExpandUnits(catalog.ClassHigh, asset)
	// 2 dex pools + 1 lending market.
	assert.Len(t, high, 3)

	medium := ExpandUnits(catalog.ClassMedium, asset)
	// distribution + lending + cross-chain oracle lag + 2 LP-concentration pools.
	assert.Len(t, medium, 5)

	daily := ExpandUnits(catalog.ClassDaily, asset)
	require.Len(t, daily, 1)
	assert.Equal(t, catalog.KindMarket, daily[0].Kind)

	// Sections absent -> no units.
	bare := registry.Asset{Symbol: "X", Config: &registry.AssetConfig{}}
	assert.Empty(t, ExpandUnits(catalog.ClassCritical, bare))
	assert.Empty(t, ExpandUnits(catalog.ClassHigh, bare))
}
