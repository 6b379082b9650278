package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Envelope is the stable message contract handed to the transport.
// Transport-specific rendering happens behind the Transport interface.
type Envelope struct {
	Severity        string
	Asset           string
	Metric          string
	Value           float64
	Threshold       float64
	Operator        string
	TriggeredAt     time.Time // rendered as ISO-8601 UTC
	Chain           string    // optional
	SuppressedCount int       // optional
}

// TransportError classifies a delivery failure. Retriable failures keep the
// alert pending; terminal ones mark it permanently failed.
type TransportError struct {
	Retriable bool
	Cause     error
}

func (e *TransportError) Error() string {
	kind := "terminal"
	if e.Retriable {
		kind = "retriable"
	}
	return fmt.Sprintf("notification transport failed (%s): %v", kind, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Transport delivers one envelope and reports the channel it used.
type Transport interface {
	Send(ctx context.Context, env Envelope) (channel string, err error)
}

// Notifier drains pending alerts and hands them to the transport. It runs as
// a periodic job at the critical-class cadence.
type Notifier struct {
	db        *sql.DB
	transport Transport
	interval  time.Duration
	retryCap  int
	log       zerolog.Logger
}

// NewNotifier builds the notifier job.
func NewNotifier(db *sql.DB, transport Transport, interval time.Duration, retryCap int, log zerolog.Logger) *Notifier {
	return &Notifier{
		db:        db,
		transport: transport,
		interval:  interval,
		retryCap:  retryCap,
		log:       log,
	}
}

func (n *Notifier) Name() string {
	return "notifier"
}

func (n *Notifier) Interval() time.Duration {
	return n.interval
}

type pendingAlert struct {
	ID              int64
	Envelope        Envelope
	RetryCount      int
}

// Run delivers every pending alert once. Retriable failures leave the alert
// pending for the next tick until the retry cap is reached; terminal
// failures mark it permanently failed at once.
func (n *Notifier) Run(ctx context.Context) error {
	pending, err := n.pending(ctx)
	if err != nil {
		return fmt.Errorf("load pending alerts: %w", err)
	}

	for _, alert := range pending {
		channel, err := n.transport.Send(ctx, alert.Envelope)
		if err == nil {
			if err := n.markNotified(ctx, alert.ID, channel); err != nil {
				n.log.Error().Err(err).Int64("alert", alert.ID).Msg("failed to mark alert notified")
			}
			continue
		}

		var te *TransportError
		retriable := errors.As(err, &te) && te.Retriable
		if retriable && alert.RetryCount+1 < n.retryCap {
			if err := n.bumpRetry(ctx, alert.ID); err != nil {
				n.log.Error().Err(err).Int64("alert", alert.ID).Msg("failed to bump retry count")
			}
			n.log.Warn().Err(err).Int64("alert", alert.ID).
				Int("retries", alert.RetryCount+1).Msg("notification failed, will retry")
			continue
		}

		reason := "transport_terminal"
		if retriable {
			reason = "retry_cap_exceeded"
		}
		if err := n.markFailed(ctx, alert.ID, reason); err != nil {
			n.log.Error().Err(err).Int64("alert", alert.ID).Msg("failed to mark alert failed")
		}
		n.log.Error().Err(err).Int64("alert", alert.ID).Str("reason", reason).
			Msg("notification permanently failed")
	}
	return nil
}

func (n *Notifier) pending(ctx context.Context) ([]pendingAlert, error) {
	rows, err := n.db.QueryContext(ctx, `
		SELECT id, asset_symbol, metric_name, value, threshold_value, operator,
			severity, chain, suppressed_count, retry_count, triggered_at
		FROM morpho.rm_alerts_log
		WHERE notified = false AND failure_reason IS NULL
		ORDER BY triggered_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []pendingAlert
	for rows.Next() {
		var (
			alert pendingAlert
			chain sql.NullString
		)
		err := rows.Scan(&alert.ID,
			&alert.Envelope.Asset, &alert.Envelope.Metric, &alert.Envelope.Value,
			&alert.Envelope.Threshold, &alert.Envelope.Operator, &alert.Envelope.Severity,
			&chain, &alert.Envelope.SuppressedCount, &alert.RetryCount, &alert.Envelope.TriggeredAt)
		if err != nil {
			return nil, err
		}
		alert.Envelope.Chain = chain.String
		pending = append(pending, alert)
	}
	return pending, rows.Err()
}

func (n *Notifier) markNotified(ctx context.Context, id int64, channel string) error {
	_, err := n.db.ExecContext(ctx, `
		UPDATE morpho.rm_alerts_log
		SET notified = true, notification_channel = $2
		WHERE id = $1
	`, id, channel)
	return err
}

func (n *Notifier) bumpRetry(ctx context.Context, id int64) error {
	_, err := n.db.ExecContext(ctx, `
		UPDATE morpho.rm_alerts_log SET retry_count = retry_count + 1 WHERE id = $1
	`, id)
	return err
}

func (n *Notifier) markFailed(ctx context.Context, id int64, reason string) error {
	_, err := n.db.ExecContext(ctx, `
		UPDATE morpho.rm_alerts_log SET failure_reason = $2 WHERE id = $1
	`, id, reason)
	return err
}
