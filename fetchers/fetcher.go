package fetchers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/registry"
	"github.com/ProtocolCHecker/riskmon/store"
)

// Scope narrows a fetch to one sub-target of the asset's configuration:
// one price feed, one lending market, one DEX pool. Index -1 addresses
// every sub-target of the section at once.
type Scope struct {
	Class catalog.FrequencyClass
	Index int
}

// AllTargets is the scope index meaning "every sub-target".
const AllTargets = -1

// Fetcher produces metric samples for one asset. A single invocation either
// returns all its samples or none; partial emission never happens. A fetcher
// whose config section is absent returns (nil, nil).
type Fetcher interface {
	Kind() catalog.FetcherKind
	Fetch(ctx context.Context, asset registry.Asset, scope Scope) ([]store.Sample, error)
}

// FetchError classifies an upstream failure. Only retriable errors may be
// retried by the dispatcher.
type FetchError struct {
	Kind      catalog.FetcherKind
	Retriable bool
	Cause     error
}

func (e *FetchError) Error() string {
	kind := "terminal"
	if e.Retriable {
		kind = "retriable"
	}
	return fmt.Sprintf("%s fetch failed (%s): %v", e.Kind, kind, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Retriable reports whether err is a FetchError marked retriable.
func Retriable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retriable
	}
	return false
}

func retriable(kind catalog.FetcherKind, cause error) *FetchError {
	return &FetchError{Kind: kind, Retriable: true, Cause: cause}
}

func terminal(kind catalog.FetcherKind, cause error) *FetchError {
	return &FetchError{Kind: kind, Retriable: false, Cause: cause}
}

// classify wraps an upstream error, treating timeouts and cancellations as
// retriable and everything else as terminal unless stated otherwise.
func classify(kind catalog.FetcherKind, err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return retriable(kind, err)
	}
	return terminal(kind, err)
}

// classifyHTTP maps an HTTP status to retriable (5xx, 429) or terminal (4xx).
func classifyHTTP(kind catalog.FetcherKind, status int, body string) *FetchError {
	err := fmt.Errorf("status %d: %s", status, body)
	if status >= 500 || status == http.StatusTooManyRequests {
		return retriable(kind, err)
	}
	return terminal(kind, err)
}

func newSample(asset, metric string, value float64, chain string, ctx map[string]interface{}) store.Sample {
	return store.Sample{
		AssetSymbol: asset,
		MetricName:  metric,
		Value:       value,
		Chain:       chain,
		Context:     ctx,
		RecordedAt:  time.Now().UTC(),
	}
}
