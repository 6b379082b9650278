package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when an asset symbol is not registered.
var ErrNotFound = errors.New("asset not found")

// Asset is one registered asset and its collection configuration.
type Asset struct {
	Symbol     string
	Name       string
	Type       AssetType
	Underlying string
	Decimals   int
	Enabled    bool
	Config     *AssetConfig
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Registry stores assets in postgres (morpho.rm_asset_registry). Concurrent
// upserts for the same symbol are serialized in-process; readers get copies.
type Registry struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New opens a registry over an existing database handle.
func New(db *sql.DB) *Registry {
	return &Registry{db: db, locks: make(map[string]*sync.Mutex)}
}

func (r *Registry) symbolLock(symbol string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		r.locks[symbol] = l
	}
	return l
}

// Upsert validates and stores an asset. On validation failure the document is
// rejected with *ConfigInvalid and nothing is written.
func (r *Registry) Upsert(ctx context.Context, asset Asset) error {
	symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
	if symbol == "" {
		return invalid("symbol", "symbol is required")
	}
	if asset.Config == nil {
		return invalid("$", "configuration document is required")
	}
	asset.Config.normalize()
	if err := asset.Config.Validate(); err != nil {
		return err
	}

	raw, err := asset.Config.Encode()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	l := r.symbolLock(symbol)
	l.Lock()
	defer l.Unlock()

	query := `
		INSERT INTO morpho.rm_asset_registry
			(symbol, name, asset_type, underlying_symbol, decimals, config, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			name = EXCLUDED.name,
			asset_type = EXCLUDED.asset_type,
			underlying_symbol = EXCLUDED.underlying_symbol,
			decimals = EXCLUDED.decimals,
			config = EXCLUDED.config,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query,
		symbol, asset.Name, string(asset.Type), asset.Underlying, asset.Decimals, raw, asset.Enabled,
	); err != nil {
		return fmt.Errorf("upsert %s: %w", symbol, err)
	}
	return nil
}

// Get returns one asset by symbol.
func (r *Registry) Get(ctx context.Context, symbol string) (*Asset, error) {
	query := `
		SELECT symbol, name, asset_type, underlying_symbol, decimals, config, enabled, created_at, updated_at
		FROM morpho.rm_asset_registry
		WHERE symbol = $1
	`
	row := r.db.QueryRowContext(ctx, query, strings.ToUpper(symbol))
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return asset, err
}

// ListEnabled returns every enabled asset, ordered by symbol. The returned
// slice is a snapshot; later config changes do not affect it.
func (r *Registry) ListEnabled(ctx context.Context) ([]Asset, error) {
	query := `
		SELECT symbol, name, asset_type, underlying_symbol, decimals, config, enabled, created_at, updated_at
		FROM morpho.rm_asset_registry
		WHERE enabled = true
		ORDER BY symbol
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list enabled assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, rows.Err()
}

// Disable turns off collection for an asset without deleting it.
func (r *Registry) Disable(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(symbol)
	l := r.symbolLock(symbol)
	l.Lock()
	defer l.Unlock()

	res, err := r.db.ExecContext(ctx,
		`UPDATE morpho.rm_asset_registry SET enabled = false, updated_at = NOW() WHERE symbol = $1`, symbol)
	if err != nil {
		return fmt.Errorf("disable %s: %w", symbol, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(row rowScanner) (*Asset, error) {
	var (
		asset Asset
		typ   string
		raw   []byte
	)
	err := row.Scan(&asset.Symbol, &asset.Name, &typ, &asset.Underlying, &asset.Decimals,
		&raw, &asset.Enabled, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return nil, err
	}
	asset.Type = AssetType(typ)

	var cfg AssetConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config for %s: %w", asset.Symbol, err)
	}
	asset.Config = &cfg
	return &asset, nil
}
