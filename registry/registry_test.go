package registry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertValidatesBeforeWriting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := New(db)
	cfg := validConfig()
	cfg.LendingConfigs[0].Chain = "polygon" // not in token_addresses

	err = reg.Upsert(context.Background(), Asset{
		Symbol: "WBTC", Name: "Wrapped Bitcoin", Type: TypeWrapped, Config: cfg, Enabled: true,
	})
	require.Error(t, err)
	var ci *ConfigInvalid
	require.ErrorAs(t, err, &ci)

	// No SQL ran: validation rejected the document first.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWritesNormalizedConfig(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO morpho.rm_asset_registry").
		WithArgs("WBTC", "Wrapped Bitcoin", "wrapped", "BTC", 8, sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	reg := New(db)
	err = reg.Upsert(context.Background(), Asset{
		Symbol:     "wbtc", // upper-cased on write
		Name:       "Wrapped Bitcoin",
		Type:       TypeWrapped,
		Underlying: "BTC",
		Decimals:   8,
		Config:     validConfig(),
		Enabled:    true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequiresConfig(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = New(db).Upsert(context.Background(), Asset{Symbol: "WBTC"})
	var ci *ConfigInvalid
	require.ErrorAs(t, err, &ci)
}

func TestGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT symbol, name, asset_type").
		WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"symbol"}))

	_, err = New(db).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEnabledDecodesConfig(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	raw, err := validConfig().Encode()
	require.NoError(t, err)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"symbol", "name", "asset_type", "underlying_symbol", "decimals",
		"config", "enabled", "created_at", "updated_at",
	}).AddRow("WBTC", "Wrapped Bitcoin", "wrapped", "BTC", 8, raw, true, now, now)

	mock.ExpectQuery("SELECT symbol, name, asset_type").WillReturnRows(rows)

	assets, err := New(db).ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "WBTC", assets[0].Symbol)
	assert.Equal(t, TypeWrapped, assets[0].Type)
	require.NotNil(t, assets[0].Config)
	assert.Len(t, assets[0].Config.TokenAddresses, 2)
}

func TestDisableUnknownSymbol(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE morpho.rm_asset_registry SET enabled = false").
		WithArgs("GONE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = New(db).Disable(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}
