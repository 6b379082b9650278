package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *AssetConfig {
	return &AssetConfig{
		TokenAddresses: []TokenAddress{
			{Chain: "ethereum", Address: "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599"},
			{Chain: "base", Address: "0xcbb7c0000ab88b473b1f5afd9ef808440eed33bf"},
		},
		LendingConfigs: []LendingConfig{
			{Protocol: "aave_v3", Chain: "ethereum", TokenAddress: "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599", Pool: "0x87870bca", MarketName: "aave-eth"},
		},
		DexPools: []DexPool{
			{Protocol: "uniswap_v3", Chain: "ethereum", PoolAddress: "0xcbcdf9626bc03e24f779434178a73a0b4bad62ed", PoolName: "WBTC/WETH"},
		},
		PriceFeeds: []PriceFeed{
			{Chain: "ethereum", Address: "0xf4030086522a5beea4988f8ca5b36dbc97bee88c", Name: "BTC/USD"},
		},
		ProofOfReserve: &ProofOfReserve{
			Kind:        PoRChainlink,
			Aggregators: map[string]string{"ethereum": "0xa81fe04086865e63e12dd3776978e49deea4f4b0"},
		},
		PriceRisk: &PriceRisk{TokenPriceID: "wrapped-bitcoin", UnderlyingPriceID: "bitcoin"},
		Governance: &Governance{
			Roles: []GovernanceRole{
				{RoleName: "owner", AuthorityKind: AuthorityMultisig, Threshold: 4, SignerCount: 7},
			},
			HasTimelock:   true,
			TimelockHours: 72,
			CustodyModel:  CustodyRegulatedInsured,
		},
		AuditData: &AuditData{
			Audits:         []Audit{{Auditor: "Trail of Bits", Date: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)}},
			DeploymentDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	cfg := validConfig()
	cfg.normalize()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsWithPath(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AssetConfig)
		path   string
	}{
		{
			name:   "unknown chain",
			mutate: func(c *AssetConfig) { c.TokenAddresses[0].Chain = "dogechain" },
			path:   "token_addresses[0].chain",
		},
		{
			name:   "lending chain not in token addresses",
			mutate: func(c *AssetConfig) { c.LendingConfigs[0].Chain = "arbitrum" },
			path:   "lending_configs[0].chain",
		},
		{
			name:   "dex pool chain not in token addresses",
			mutate: func(c *AssetConfig) { c.DexPools[0].Chain = "polygon" },
			path:   "dex_pools[0].chain",
		},
		{
			name:   "unknown lending protocol",
			mutate: func(c *AssetConfig) { c.LendingConfigs[0].Protocol = "maker" },
			path:   "lending_configs[0].protocol",
		},
		{
			name:   "missing pool address",
			mutate: func(c *AssetConfig) { c.DexPools[0].PoolAddress = "" },
			path:   "dex_pools[0].pool_address",
		},
		{
			name:   "chainlink por without aggregators",
			mutate: func(c *AssetConfig) { c.ProofOfReserve.Aggregators = nil },
			path:   "proof_of_reserve.aggregators",
		},
		{
			name:   "unknown por kind",
			mutate: func(c *AssetConfig) { c.ProofOfReserve.Kind = "trust_me" },
			path:   "proof_of_reserve.kind",
		},
		{
			name:   "multisig threshold above signer count",
			mutate: func(c *AssetConfig) { c.Governance.Roles[0].Threshold = 9 },
			path:   "governance.roles[0].threshold",
		},
		{
			name: "bad authority kind",
			mutate: func(c *AssetConfig) {
				c.Governance.Roles[0] = GovernanceRole{RoleName: "owner", AuthorityKind: "robot"}
			},
			path: "governance.roles[0].authority_kind",
		},
		{
			name:   "bad custody model",
			mutate: func(c *AssetConfig) { c.Governance.CustodyModel = "offshore" },
			path:   "governance.custody_model",
		},
		{
			name:   "audit without auditor",
			mutate: func(c *AssetConfig) { c.AuditData.Audits[0].Auditor = "" },
			path:   "audit_data.audits[0].auditor",
		},
		{
			name:   "price risk without underlying",
			mutate: func(c *AssetConfig) { c.PriceRisk.UnderlyingPriceID = "" },
			path:   "price_risk.underlying_price_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.normalize()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var ci *ConfigInvalid
			require.ErrorAs(t, err, &ci)
			assert.Equal(t, tt.path, ci.Path)
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := &AssetConfig{
		Governance: &Governance{
			Roles: []GovernanceRole{{RoleName: "pauser", AuthorityKind: AuthorityEOA}},
		},
	}
	cfg.normalize()
	assert.Equal(t, 3, cfg.Governance.Roles[0].RoleWeight)
	assert.Equal(t, CustodyUnknown, cfg.Governance.CustodyModel)
	assert.Equal(t, BlacklistNone, cfg.Governance.BlacklistControl)
}

func TestParseConfigRoundTrip(t *testing.T) {
	raw, err := validConfig().Encode()
	require.NoError(t, err)

	parsed, err := ParseConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, "aave-eth", parsed.LendingConfigs[0].MarketName)
	assert.Equal(t, 3, parsed.Governance.Roles[0].RoleWeight, "normalized default persists")

	again, err := parsed.Encode()
	require.NoError(t, err)

	reparsed, err := ParseConfig(again)
	require.NoError(t, err)
	assert.Equal(t, parsed, reparsed, "normalization is idempotent")
}

func TestAbsentSectionsAreValid(t *testing.T) {
	cfg := &AssetConfig{
		TokenAddresses: []TokenAddress{{Chain: "ethereum", Address: "0xabc"}},
	}
	assert.NoError(t, cfg.Validate())
}
