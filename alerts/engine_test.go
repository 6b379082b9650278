package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/store"
)

func newTestEngine(t *testing.T, window time.Duration, now time.Time) (*Engine, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	engine := NewEngine(db, catalog.NewThresholds(), window, zerolog.Nop())
	engine.clock = func() time.Time { return now }
	return engine, mock, func() { db.Close() }
}

func porSample(value float64, at time.Time) store.Sample {
	return store.Sample{
		AssetSymbol: "WBTC",
		MetricName:  catalog.MetricPorRatio,
		Value:       value,
		RecordedAt:  at,
	}
}

func TestBreachWritesAlertPerRule(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	engine, mock, cleanup := newTestEngine(t, 15*time.Minute, now)
	defer cleanup()

	// 0.97 breaches both por_ratio < 1.0 and < 0.99; both rows are written.
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT id FROM morpho.rm_alerts_log").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec("INSERT INTO morpho.rm_alerts_log").
			WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
	}

	engine.Process(context.Background(), porSample(0.97, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoBreachWritesNothing(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	engine, mock, cleanup := newTestEngine(t, 15*time.Minute, now)
	defer cleanup()

	engine.Process(context.Background(), porSample(1.01, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuppressionWindowAccumulates(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	engine, mock, cleanup := newTestEngine(t, 15*time.Minute, now)
	defer cleanup()

	// A 0.995 sample breaches only por_ratio < 1.0. An alert for the tuple
	// exists inside the window, so the firing is accumulated, not re-written.
	mock.ExpectQuery("SELECT id FROM morpho.rm_alerts_log").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(41))
	mock.ExpectExec("UPDATE morpho.rm_alerts_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	engine.Process(context.Background(), porSample(0.995, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBreachAfterWindowWritesFreshAlert(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 20, 0, 0, time.UTC)
	engine, mock, cleanup := newTestEngine(t, 15*time.Minute, now)
	defer cleanup()

	// The window query finds nothing (the earlier alert is 20 minutes old),
	// so a fresh row is inserted.
	mock.ExpectQuery("SELECT id FROM morpho.rm_alerts_log").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO morpho.rm_alerts_log").
		WillReturnResult(sqlmock.NewResult(2, 1))

	engine.Process(context.Background(), porSample(0.995, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluationErrorDoesNotPropagate(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	engine, mock, cleanup := newTestEngine(t, 15*time.Minute, now)
	defer cleanup()

	mock.ExpectQuery("SELECT id FROM morpho.rm_alerts_log").
		WillReturnError(assert.AnError)
	mock.ExpectQuery("SELECT id FROM morpho.rm_alerts_log").
		WillReturnError(assert.AnError)

	// Process neither panics nor returns an error; the sample write already
	// happened upstream.
	engine.Process(context.Background(), porSample(0.97, now))
}

func TestFormatMessage(t *testing.T) {
	sample := store.Sample{
		AssetSymbol: "WBTC",
		MetricName:  catalog.MetricUtilizationRate,
		Value:       96.5,
		Chain:       "ethereum",
	}
	rule := catalog.Rule{
		MetricName: catalog.MetricUtilizationRate,
		Operator:   catalog.OpGT,
		Threshold:  95,
		Severity:   catalog.SeverityCritical,
	}
	msg := formatMessage(sample, rule)
	assert.Contains(t, msg, "WBTC")
	assert.Contains(t, msg, "utilization_rate")
	assert.Contains(t, msg, "> 95")
	assert.Contains(t, msg, "critical")
	assert.Contains(t, msg, "on ethereum")
}
