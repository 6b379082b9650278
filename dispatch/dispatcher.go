package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/fetchers"
	"github.com/ProtocolCHecker/riskmon/registry"
	"github.com/ProtocolCHecker/riskmon/store"
)

// outerDeadlineFactor bounds a whole tick relative to its unit deadline.
const outerDeadlineFactor = 5

// AssetSource yields the assets a tick iterates. The dispatcher captures the
// snapshot at tick start and ignores later registry changes.
type AssetSource interface {
	ListEnabled(ctx context.Context) ([]registry.Asset, error)
}

// SampleStore persists fetched samples.
type SampleStore interface {
	Append(ctx context.Context, sample store.Sample) error
}

// AlertSink receives each newly persisted sample for threshold evaluation.
type AlertSink interface {
	Process(ctx context.Context, sample store.Sample)
}

// WorkUnit is one fetch to run: a fetcher kind applied to one sub-target of
// one asset's configuration.
type WorkUnit struct {
	Asset registry.Asset
	Kind  catalog.FetcherKind
	Scope fetchers.Scope
}

// Options tunes pool size, deadlines and the retry policy.
type Options struct {
	PoolSize     int
	UnitDeadline func(class string) time.Duration
	MaxRetries   int
	RetryBase    time.Duration
	RetryCap     time.Duration
}

// TickResult summarizes one dispatcher tick.
type TickResult struct {
	Class      catalog.FrequencyClass
	Units      int
	Succeeded  int
	Failed     int
	Samples    int
	Incomplete bool
}

// Dispatcher expands frequency-class ticks into work units and runs them with
// bounded concurrency, per-unit deadlines and error isolation.
type Dispatcher struct {
	assets   AssetSource
	store    SampleStore
	alerts   AlertSink
	fetchers map[catalog.FetcherKind]fetchers.Fetcher
	opts     Options
	log      zerolog.Logger

	mu          sync.Mutex
	storageDown bool
}

// New builds a dispatcher over the given fetcher set.
func New(assets AssetSource, sampleStore SampleStore, alertSink AlertSink, fetcherList []fetchers.Fetcher, opts Options, log zerolog.Logger) *Dispatcher {
	byKind := make(map[catalog.FetcherKind]fetchers.Fetcher, len(fetcherList))
	for _, f := range fetcherList {
		byKind[f.Kind()] = f
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 16
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Dispatcher{
		assets:   assets,
		store:    sampleStore,
		alerts:   alertSink,
		fetchers: byKind,
		opts:     opts,
		log:      log,
	}
}

// RunTick executes one tick of the given frequency class.
func (d *Dispatcher) RunTick(ctx context.Context, class catalog.FrequencyClass) (TickResult, error) {
	result := TickResult{Class: class}

	unitDeadline := d.opts.UnitDeadline(string(class))
	tickCtx, cancel := context.WithTimeout(ctx, outerDeadlineFactor*unitDeadline)
	defer cancel()

	assets, err := d.assets.ListEnabled(tickCtx)
	if err != nil {
		result.Incomplete = true
		d.log.Error().Err(err).Str("class", string(class)).Msg("tick aborted: cannot snapshot registry")
		return result, err
	}

	var units []WorkUnit
	for _, asset := range assets {
		units = append(units, ExpandUnits(class, asset)...)
	}
	result.Units = len(units)
	if len(units) == 0 {
		return result, nil
	}

	// Reset the per-tick storage breaker.
	d.mu.Lock()
	d.storageDown = false
	d.mu.Unlock()

	type unitOutcome struct {
		samples int
		err     error
	}

	sem := make(chan struct{}, d.opts.PoolSize)
	outcomes := make(chan unitOutcome, len(units))
	var wg sync.WaitGroup

	for _, unit := range units {
		wg.Add(1)
		go func(u WorkUnit) {
			sem <- struct{}{}
			defer func() {
				<-sem
				if r := recover(); r != nil {
					d.log.Error().Interface("panic", r).
						Str("asset", u.Asset.Symbol).Str("kind", string(u.Kind)).
						Msg("work unit panicked")
					outcomes <- unitOutcome{err: errors.New("panic in work unit")}
				}
				wg.Done()
			}()

			n, err := d.runUnit(tickCtx, u, unitDeadline)
			outcomes <- unitOutcome{samples: n, err: err}
		}(unit)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for outcome := range outcomes {
		if outcome.err != nil {
			result.Failed++
		} else {
			result.Succeeded++
			result.Samples += outcome.samples
		}
	}

	d.mu.Lock()
	storageDown := d.storageDown
	d.mu.Unlock()

	result.Incomplete = result.Failed > 0 || storageDown || tickCtx.Err() != nil
	if result.Incomplete {
		d.log.Warn().Str("class", string(class)).
			Int("units", result.Units).Int("failed", result.Failed).
			Bool("storage_down", storageDown).
			Msg("incomplete tick")
	}

	d.log.Info().Str("class", string(class)).
		Int("units", result.Units).Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).Int("samples", result.Samples).
		Msg("tick completed")
	return result, nil
}

// runUnit runs one work unit with retries, then persists its samples.
func (d *Dispatcher) runUnit(ctx context.Context, unit WorkUnit, deadline time.Duration) (int, error) {
	fetcher, ok := d.fetchers[unit.Kind]
	if !ok {
		return 0, errors.New("no fetcher registered for kind " + string(unit.Kind))
	}

	var samples []store.Sample
	var err error
	for attempt := 0; ; attempt++ {
		unitCtx, cancel := context.WithTimeout(ctx, deadline)
		samples, err = fetcher.Fetch(unitCtx, unit.Asset, unit.Scope)
		cancel()

		if err == nil {
			break
		}
		if !fetchers.Retriable(err) || attempt >= d.opts.MaxRetries {
			d.log.Warn().Err(err).
				Str("asset", unit.Asset.Symbol).Str("kind", string(unit.Kind)).
				Int("attempts", attempt+1).
				Msg("work unit failed")
			return 0, err
		}

		select {
		case <-time.After(d.backoff(attempt)):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	// An empty sample list is a valid outcome, not an error.
	written := 0
	for _, sample := range samples {
		d.mu.Lock()
		down := d.storageDown
		d.mu.Unlock()
		if down {
			break
		}

		if err := d.store.Append(ctx, sample); err != nil {
			if errors.Is(err, store.ErrStorageUnavailable) {
				d.mu.Lock()
				d.storageDown = true
				d.mu.Unlock()
				d.log.Error().Err(err).Str("asset", unit.Asset.Symbol).
					Msg("storage unavailable, aborting remaining writes")
				break
			}
			d.log.Error().Err(err).Str("asset", unit.Asset.Symbol).
				Str("metric", sample.MetricName).Msg("failed to persist sample")
			continue
		}
		written++
		if d.alerts != nil {
			d.alerts.Process(ctx, sample)
		}
	}
	return written, nil
}

// backoff is exponential from the base, capped, with ±25% jitter.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.opts.RetryBase << uint(attempt)
	if delay > d.opts.RetryCap {
		delay = d.opts.RetryCap
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}

// ExpandUnits maps (frequency class, asset config) to the work units the
// tick must run. Sections absent from the config produce no units.
func ExpandUnits(class catalog.FrequencyClass, asset registry.Asset) []WorkUnit {
	cfg := asset.Config
	if cfg == nil {
		return nil
	}

	var units []WorkUnit
	add := func(kind catalog.FetcherKind, index int) {
		units = append(units, WorkUnit{
			Asset: asset,
			Kind:  kind,
			Scope: fetchers.Scope{Class: class, Index: index},
		})
	}

	kinds := catalog.KindsForClass(class)
	if class == catalog.ClassMedium {
		// LP-concentration variants of hhi and top10 come from the liquidity
		// fetcher even though the holder variants belong to distribution.
		kinds = append(kinds, catalog.KindLiquidity)
	}

	for _, kind := range kinds {
		switch kind {
		case catalog.KindOracle:
			if class == catalog.ClassCritical {
				total := len(cfg.PriceFeeds) + len(cfg.CrossChainFeeds)
				for i := 0; i < total; i++ {
					add(kind, i)
				}
			} else if len(cfg.CrossChainFeeds) >= 2 {
				add(kind, fetchers.AllTargets)
			}
		case catalog.KindReserve:
			if cfg.ProofOfReserve != nil {
				add(kind, fetchers.AllTargets)
			}
		case catalog.KindMarket:
			if cfg.PriceRisk != nil {
				add(kind, fetchers.AllTargets)
			}
		case catalog.KindLiquidity:
			for i := range cfg.DexPools {
				add(kind, i)
			}
		case catalog.KindLending:
			for i := range cfg.LendingConfigs {
				add(kind, i)
			}
		case catalog.KindDistribution:
			if len(cfg.TokenAddresses) > 0 {
				add(kind, fetchers.AllTargets)
			}
		}
	}
	return units
}

// Job adapts one frequency class to the periodic worker runner.
type Job struct {
	dispatcher *Dispatcher
	class      catalog.FrequencyClass
	interval   time.Duration
}

// NewJob wraps a dispatcher tick as a periodic job.
func NewJob(d *Dispatcher, class catalog.FrequencyClass, interval time.Duration) *Job {
	return &Job{dispatcher: d, class: class, interval: interval}
}

func (j *Job) Name() string {
	return "dispatch_" + string(j.class)
}

func (j *Job) Interval() time.Duration {
	return j.interval
}

func (j *Job) Run(ctx context.Context) error {
	_, err := j.dispatcher.RunTick(ctx, j.class)
	return err
}
