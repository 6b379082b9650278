package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrStorageUnavailable wraps failures of the backing store. Callers decide
// whether to abort a tick; the store itself never retries.
var ErrStorageUnavailable = errors.New("storage unavailable")

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}

// Sample is one immutable metric observation.
type Sample struct {
	AssetSymbol string
	MetricName  string
	Value       float64
	Chain       string // empty when the metric is not chain-scoped
	Context     map[string]interface{}
	RecordedAt  time.Time
}

// ContextString returns a string field from the sample context.
func (s Sample) ContextString(key string) string {
	if s.Context == nil {
		return ""
	}
	if v, ok := s.Context[key].(string); ok {
		return v
	}
	return ""
}

// ContextFloat returns a numeric field from the sample context.
func (s Sample) ContextFloat(key string) (float64, bool) {
	if s.Context == nil {
		return 0, false
	}
	switch v := s.Context[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Store is the append-only metric time series over morpho.rm_metrics_history.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append persists one sample. Valid input only fails on storage outage.
func (s *Store) Append(ctx context.Context, sample Sample) error {
	var meta []byte
	if sample.Context != nil {
		var err error
		meta, err = json.Marshal(sample.Context)
		if err != nil {
			return fmt.Errorf("encode sample context: %w", err)
		}
	}

	chain := sql.NullString{String: sample.Chain, Valid: sample.Chain != ""}
	recordedAt := sample.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO morpho.rm_metrics_history (asset_symbol, metric_name, value, chain, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sample.AssetSymbol, sample.MetricName, sample.Value, chain, meta, recordedAt)
	if err != nil {
		return storageErr("append sample", err)
	}
	return nil
}

// Latest returns the max-timestamp sample for (asset, metric). The second
// return is false when no sample exists; absence is not an error.
func (s *Store) Latest(ctx context.Context, asset, metric string) (Sample, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT asset_symbol, metric_name, value, chain, metadata, recorded_at
		FROM morpho.rm_metrics_history
		WHERE asset_symbol = $1 AND metric_name = $2
		ORDER BY recorded_at DESC
		LIMIT 1
	`, asset, metric)

	sample, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Sample{}, false, nil
	}
	if err != nil {
		return Sample{}, false, storageErr("latest sample", err)
	}
	return sample, true, nil
}

// Range returns samples for (asset, metric) with from <= recorded_at < to,
// oldest first.
func (s *Store) Range(ctx context.Context, asset, metric string, from, to time.Time) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_symbol, metric_name, value, chain, metadata, recorded_at
		FROM morpho.rm_metrics_history
		WHERE asset_symbol = $1 AND metric_name = $2
			AND recorded_at >= $3 AND recorded_at < $4
		ORDER BY recorded_at ASC
	`, asset, metric, from, to)
	if err != nil {
		return nil, storageErr("range samples", err)
	}
	defer rows.Close()
	return collectSamples(rows)
}

// LatestAll returns the latest sample per (metric, chain, market) for an
// asset. Per-market rows are kept distinct so lending metrics can be
// TVL-weighted downstream; single-source metrics come back as one row.
func (s *Store) LatestAll(ctx context.Context, asset string) ([]Sample, error) {
	return s.LatestAllAt(ctx, asset, time.Time{})
}

// LatestAllAt is LatestAll restricted to samples recorded at or before
// cutoff. A zero cutoff means no restriction. Callers needing a consistent
// multi-metric snapshot pass the cutoff and must not mix in later reads.
func (s *Store) LatestAllAt(ctx context.Context, asset string, cutoff time.Time) ([]Sample, error) {
	const targetKey = `COALESCE(metadata->>'market', metadata->>'pool', metadata->>'feed', '')`
	query := `
		SELECT DISTINCT ON (metric_name, COALESCE(chain, ''), ` + targetKey + `)
			asset_symbol, metric_name, value, chain, metadata, recorded_at
		FROM morpho.rm_metrics_history
		WHERE asset_symbol = $1
	`
	args := []interface{}{asset}
	if !cutoff.IsZero() {
		query += ` AND recorded_at <= $2`
		args = append(args, cutoff)
	}
	query += ` ORDER BY metric_name, COALESCE(chain, ''), ` + targetKey + `, recorded_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("latest all samples", err)
	}
	defer rows.Close()
	return collectSamples(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSample(row rowScanner) (Sample, error) {
	var (
		sample Sample
		chain  sql.NullString
		meta   []byte
	)
	if err := row.Scan(&sample.AssetSymbol, &sample.MetricName, &sample.Value, &chain, &meta, &sample.RecordedAt); err != nil {
		return Sample{}, err
	}
	sample.Chain = chain.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sample.Context); err != nil {
			return Sample{}, fmt.Errorf("decode sample context: %w", err)
		}
	}
	return sample, nil
}

func collectSamples(rows *sql.Rows) ([]Sample, error) {
	var samples []Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, storageErr("scan sample", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate samples", err)
	}
	return samples, nil
}
