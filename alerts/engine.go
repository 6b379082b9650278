package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/store"
)

// Engine evaluates every applicable threshold rule against newly appended
// samples and writes alert rows to morpho.rm_alerts_log. Evaluation failures
// are logged and never block the underlying sample write.
type Engine struct {
	db         *sql.DB
	thresholds *catalog.Thresholds
	window     time.Duration
	log        zerolog.Logger
	clock      func() time.Time
}

// NewEngine builds the alert engine with the given suppression window.
func NewEngine(db *sql.DB, thresholds *catalog.Thresholds, window time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		db:         db,
		thresholds: thresholds,
		window:     window,
		log:        log,
		clock:      time.Now,
	}
}

// Process evaluates all enabled rules matching the sample. Each breached
// rule yields one alert row unless an alert for the same
// (asset, metric, operator, threshold, severity) tuple fired within the
// suppression window; suppressed firings accumulate on the last unnotified
// alert of the tuple.
func (e *Engine) Process(ctx context.Context, sample store.Sample) {
	rules := e.thresholds.Match(sample.AssetSymbol, sample.MetricName)
	for _, rule := range rules {
		if !rule.Operator.Evaluate(sample.Value, rule.Threshold) {
			continue
		}
		if err := e.fire(ctx, sample, rule); err != nil {
			e.log.Error().Err(err).
				Str("asset", sample.AssetSymbol).Str("metric", sample.MetricName).
				Msg("threshold evaluation failed")
		}
	}
}

func (e *Engine) fire(ctx context.Context, sample store.Sample, rule catalog.Rule) error {
	now := e.clock().UTC()
	windowStart := now.Add(-e.window)

	// Suppression: one notification per distinct breach per window.
	var lastID int64
	err := e.db.QueryRowContext(ctx, `
		SELECT id FROM morpho.rm_alerts_log
		WHERE asset_symbol = $1 AND metric_name = $2
			AND operator = $3 AND threshold_value = $4 AND severity = $5
			AND triggered_at > $6
		ORDER BY triggered_at DESC
		LIMIT 1
	`, sample.AssetSymbol, sample.MetricName, string(rule.Operator), rule.Threshold, string(rule.Severity), windowStart).Scan(&lastID)

	switch {
	case err == nil:
		return e.recordSuppressed(ctx, sample, rule)
	case errors.Is(err, sql.ErrNoRows):
		// No recent alert for this tuple: write a fresh row.
	default:
		return fmt.Errorf("suppression lookup: %w", err)
	}

	message := formatMessage(sample, rule)
	triggeredAt := sample.RecordedAt
	if triggeredAt.IsZero() {
		triggeredAt = now
	}
	chain := sql.NullString{String: sample.Chain, Valid: sample.Chain != ""}

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO morpho.rm_alerts_log
			(asset_symbol, metric_name, value, threshold_value, operator, severity,
			 message, chain, notified, suppressed_count, retry_count, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, 0, 0, $9)
	`, sample.AssetSymbol, sample.MetricName, sample.Value, rule.Threshold,
		string(rule.Operator), string(rule.Severity), message, chain, triggeredAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// recordSuppressed bumps the suppressed counter on the last unnotified alert
// of the tuple; if every alert of the tuple is already notified the firing
// is dropped silently (the window still guarantees one notification).
func (e *Engine) recordSuppressed(ctx context.Context, sample store.Sample, rule catalog.Rule) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE morpho.rm_alerts_log
		SET suppressed_count = suppressed_count + 1
		WHERE id = (
			SELECT id FROM morpho.rm_alerts_log
			WHERE asset_symbol = $1 AND metric_name = $2
				AND operator = $3 AND threshold_value = $4 AND severity = $5
				AND notified = false
			ORDER BY triggered_at DESC
			LIMIT 1
		)
	`, sample.AssetSymbol, sample.MetricName, string(rule.Operator), rule.Threshold, string(rule.Severity))
	if err != nil {
		return fmt.Errorf("accumulate suppressed firing: %w", err)
	}
	return nil
}

func formatMessage(sample store.Sample, rule catalog.Rule) string {
	msg := fmt.Sprintf("%s %s = %.4f breaches %s %.4f (%s)",
		sample.AssetSymbol, sample.MetricName, sample.Value,
		rule.Operator, rule.Threshold, rule.Severity)
	if sample.Chain != "" {
		msg += fmt.Sprintf(" on %s", sample.Chain)
	}
	return msg
}
