package registry

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConfigInvalid is returned when an asset configuration document fails
// structural validation. Path names the offending location.
type ConfigInvalid struct {
	Path   string
	Reason string
}

func (e *ConfigInvalid) Error() string {
	return fmt.Sprintf("config invalid at %s: %s", e.Path, e.Reason)
}

func invalid(path, format string, args ...interface{}) *ConfigInvalid {
	return &ConfigInvalid{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// AssetType tags what kind of asset a registry entry is.
type AssetType string

const (
	TypeWrapped       AssetType = "wrapped"
	TypeLiquidStaking AssetType = "liquid_staking"
	TypeStablecoin    AssetType = "stablecoin"
	TypeOther         AssetType = "other"
)

var knownChains = map[string]bool{
	"ethereum": true,
	"base":     true,
	"arbitrum": true,
	"optimism": true,
	"polygon":  true,
	"solana":   true,
}

var knownLendingProtocols = map[string]bool{
	"aave_v3":    true,
	"compound_v3": true,
	"fluid":      true,
}

var knownDexProtocols = map[string]bool{
	"uniswap_v3":     true,
	"curve":          true,
	"pancakeswap_v3": true,
}

// TokenAddress is one (chain, address) deployment of the asset.
type TokenAddress struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

// LendingConfig describes one lending market the asset is listed on.
type LendingConfig struct {
	Protocol     string `json:"protocol"`
	Chain        string `json:"chain"`
	TokenAddress string `json:"token_address"`
	// Protocol-specific anchors; only the relevant ones are set.
	Pool         string `json:"pool,omitempty"`
	DataProvider string `json:"data_provider,omitempty"`
	Comet        string `json:"comet,omitempty"`
	MarketName   string `json:"market_name,omitempty"`
}

// DexPool describes one DEX pool holding the asset.
type DexPool struct {
	Protocol    string            `json:"protocol"`
	Chain       string            `json:"chain"`
	PoolAddress string            `json:"pool_address"`
	PoolName    string            `json:"pool_name,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// PriceFeed is an oracle endpoint for the asset or its underlying.
type PriceFeed struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Proof-of-reserve kinds.
const (
	PoRChainlink     = "chainlink_por"
	PoRLiquidStaking = "liquid_staking"
	PoRFractional    = "fractional"
	PoRNavBased      = "nav_based"
	PoRScraper       = "scraper"
)

// ProofOfReserve configures how backing is verified for the asset.
type ProofOfReserve struct {
	Kind string `json:"kind"`
	// chainlink_por
	Aggregators    map[string]string `json:"aggregators,omitempty"`     // chain -> PoR aggregator
	TokenAddresses map[string]string `json:"token_addresses,omitempty"` // chain -> token for supply reads
	// liquid_staking
	StakedToken string `json:"staked_token,omitempty"`
	// fractional
	BackingSource string `json:"backing_source,omitempty"`
	// nav_based
	NavOracle string `json:"nav_oracle,omitempty"`
	// scraper
	URL        string `json:"url,omitempty"`
	ParserHint string `json:"parser_hint,omitempty"`
}

// PriceRisk names the off-chain quote ids used for peg and return series.
type PriceRisk struct {
	TokenPriceID      string `json:"token_price_id"`
	UnderlyingPriceID string `json:"underlying_price_id"`
}

// Authority kinds for governance roles.
const (
	AuthorityEOA             = "eoa"
	AuthorityMultisig        = "multisig"
	AuthorityDAOVoting       = "dao_voting"
	AuthorityContractUnknown = "contract_unknown"
)

// DAOSafeguards captures governance protections of a dao_voting role.
type DAOSafeguards struct {
	HasVetoPower      bool    `json:"has_veto_power"`
	HasDualGovernance bool    `json:"has_dual_governance"`
	QuorumPct         float64 `json:"quorum_pct"`
}

// GovernanceRole is one privileged role over the asset's contracts.
type GovernanceRole struct {
	RoleName      string         `json:"role_name"`
	AuthorityKind string         `json:"authority_kind"`
	RoleWeight    int            `json:"role_weight"`
	Address       string         `json:"address,omitempty"`
	Threshold     int            `json:"threshold,omitempty"`
	SignerCount   int            `json:"signer_count,omitempty"`
	DAOSafeguards *DAOSafeguards `json:"dao_safeguards,omitempty"`
}

// Custody models, best to worst.
const (
	CustodyDecentralized    = "decentralized"
	CustodyRegulatedInsured = "regulated_insured"
	CustodyRegulated        = "regulated"
	CustodyUnregulated      = "unregulated"
	CustodyUnknown          = "unknown"
)

// Blacklist control models.
const (
	BlacklistNone         = "none"
	BlacklistGovernance   = "governance"
	BlacklistMultisig     = "multisig"
	BlacklistSingleEntity = "single_entity"
)

// Governance is the static control-structure section of the config.
type Governance struct {
	Roles            []GovernanceRole `json:"roles"`
	HasTimelock      bool             `json:"has_timelock"`
	TimelockHours    float64          `json:"timelock_hours,omitempty"`
	CustodyModel     string           `json:"custody_model"`
	HasBlacklist     bool             `json:"has_blacklist"`
	BlacklistControl string           `json:"blacklist_control,omitempty"`
}

// Audit records one completed security audit.
type Audit struct {
	Auditor                  string    `json:"auditor"`
	Date                     time.Time `json:"date"`
	CriticalIssuesUnresolved int       `json:"critical_issues_unresolved"`
	HighIssuesUnresolved     int       `json:"high_issues_unresolved"`
}

// Incident records one security incident.
type Incident struct {
	Date              time.Time  `json:"date"`
	FundsLostUSD      float64    `json:"funds_lost_usd"`
	FundsLostPctOfTVL float64    `json:"funds_lost_pct_of_tvl"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

// AuditData is the audit/incident history section of the config.
type AuditData struct {
	Audits         []Audit    `json:"audits"`
	DeploymentDate time.Time  `json:"deployment_date"`
	Incidents      []Incident `json:"incidents,omitempty"`
}

// AssetConfig is the normalized per-asset configuration document. Absent
// sections are nil; presence of a section activates the corresponding
// collection and scoring components.
type AssetConfig struct {
	TokenAddresses  []TokenAddress  `json:"token_addresses,omitempty"`
	LendingConfigs  []LendingConfig `json:"lending_configs,omitempty"`
	DexPools        []DexPool       `json:"dex_pools,omitempty"`
	PriceFeeds      []PriceFeed     `json:"price_feeds,omitempty"`
	CrossChainFeeds []PriceFeed     `json:"cross_chain_feeds,omitempty"`
	ProofOfReserve  *ProofOfReserve `json:"proof_of_reserve,omitempty"`
	PriceRisk       *PriceRisk      `json:"price_risk,omitempty"`
	Governance      *Governance     `json:"governance,omitempty"`
	AuditData       *AuditData      `json:"audit_data,omitempty"`
}

// ParseConfig decodes and validates a raw configuration document.
func ParseConfig(raw []byte) (*AssetConfig, error) {
	var cfg AssetConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, invalid("$", "not a valid document: %v", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize fills defaulted fields so the persisted shape is canonical.
func (c *AssetConfig) normalize() {
	if c.Governance != nil {
		for i := range c.Governance.Roles {
			if c.Governance.Roles[i].RoleWeight == 0 {
				c.Governance.Roles[i].RoleWeight = 3
			}
		}
		if c.Governance.CustodyModel == "" {
			c.Governance.CustodyModel = CustodyUnknown
		}
		if c.Governance.BlacklistControl == "" {
			c.Governance.BlacklistControl = BlacklistNone
		}
	}
}

// Validate checks the document against the recognized schema. The first
// violation is reported with its path.
func (c *AssetConfig) Validate() error {
	chains := make(map[string]bool)
	for i, ta := range c.TokenAddresses {
		path := fmt.Sprintf("token_addresses[%d]", i)
		if !knownChains[ta.Chain] {
			return invalid(path+".chain", "unknown chain %q", ta.Chain)
		}
		if ta.Address == "" {
			return invalid(path+".address", "address is required")
		}
		chains[ta.Chain] = true
	}

	for i, lc := range c.LendingConfigs {
		path := fmt.Sprintf("lending_configs[%d]", i)
		if !knownLendingProtocols[lc.Protocol] {
			return invalid(path+".protocol", "unknown protocol %q", lc.Protocol)
		}
		if !knownChains[lc.Chain] {
			return invalid(path+".chain", "unknown chain %q", lc.Chain)
		}
		if !chains[lc.Chain] {
			return invalid(path+".chain", "chain %q has no entry in token_addresses", lc.Chain)
		}
		if lc.TokenAddress == "" {
			return invalid(path+".token_address", "token_address is required")
		}
	}

	for i, dp := range c.DexPools {
		path := fmt.Sprintf("dex_pools[%d]", i)
		if !knownDexProtocols[dp.Protocol] {
			return invalid(path+".protocol", "unknown protocol %q", dp.Protocol)
		}
		if !knownChains[dp.Chain] {
			return invalid(path+".chain", "unknown chain %q", dp.Chain)
		}
		if !chains[dp.Chain] {
			return invalid(path+".chain", "chain %q has no entry in token_addresses", dp.Chain)
		}
		if dp.PoolAddress == "" {
			return invalid(path+".pool_address", "pool_address is required")
		}
	}

	for i, pf := range c.PriceFeeds {
		if err := validateFeed(fmt.Sprintf("price_feeds[%d]", i), pf); err != nil {
			return err
		}
	}
	for i, pf := range c.CrossChainFeeds {
		if err := validateFeed(fmt.Sprintf("cross_chain_feeds[%d]", i), pf); err != nil {
			return err
		}
	}

	if por := c.ProofOfReserve; por != nil {
		path := "proof_of_reserve"
		switch por.Kind {
		case PoRChainlink:
			if len(por.Aggregators) == 0 {
				return invalid(path+".aggregators", "chainlink_por requires per-chain aggregators")
			}
			for chain := range por.Aggregators {
				if !knownChains[chain] {
					return invalid(path+".aggregators", "unknown chain %q", chain)
				}
			}
		case PoRLiquidStaking:
			if por.StakedToken == "" {
				return invalid(path+".staked_token", "liquid_staking requires staked_token")
			}
		case PoRFractional:
			if por.BackingSource == "" {
				return invalid(path+".backing_source", "fractional requires backing_source")
			}
		case PoRNavBased:
			if por.NavOracle == "" {
				return invalid(path+".nav_oracle", "nav_based requires nav_oracle")
			}
		case PoRScraper:
			if por.URL == "" {
				return invalid(path+".url", "scraper requires url")
			}
		default:
			return invalid(path+".kind", "unknown kind %q", por.Kind)
		}
	}

	if pr := c.PriceRisk; pr != nil {
		if pr.TokenPriceID == "" {
			return invalid("price_risk.token_price_id", "token_price_id is required")
		}
		if pr.UnderlyingPriceID == "" {
			return invalid("price_risk.underlying_price_id", "underlying_price_id is required")
		}
	}

	if gov := c.Governance; gov != nil {
		for i, role := range gov.Roles {
			path := fmt.Sprintf("governance.roles[%d]", i)
			if role.RoleName == "" {
				return invalid(path+".role_name", "role_name is required")
			}
			switch role.AuthorityKind {
			case AuthorityEOA, AuthorityContractUnknown:
			case AuthorityMultisig:
				if role.SignerCount <= 0 {
					return invalid(path+".signer_count", "multisig requires signer_count > 0")
				}
				if role.Threshold <= 0 || role.Threshold > role.SignerCount {
					return invalid(path+".threshold", "threshold must be in [1, signer_count]")
				}
			case AuthorityDAOVoting:
			default:
				return invalid(path+".authority_kind", "unknown authority kind %q", role.AuthorityKind)
			}
			if role.RoleWeight < 1 || role.RoleWeight > 5 {
				return invalid(path+".role_weight", "role_weight must be in [1,5], got %d", role.RoleWeight)
			}
		}
		switch gov.CustodyModel {
		case CustodyDecentralized, CustodyRegulatedInsured, CustodyRegulated, CustodyUnregulated, CustodyUnknown:
		default:
			return invalid("governance.custody_model", "unknown custody model %q", gov.CustodyModel)
		}
		switch gov.BlacklistControl {
		case BlacklistNone, BlacklistGovernance, BlacklistMultisig, BlacklistSingleEntity:
		default:
			return invalid("governance.blacklist_control", "unknown blacklist control %q", gov.BlacklistControl)
		}
	}

	if ad := c.AuditData; ad != nil {
		for i, audit := range ad.Audits {
			path := fmt.Sprintf("audit_data.audits[%d]", i)
			if audit.Auditor == "" {
				return invalid(path+".auditor", "auditor is required")
			}
			if audit.Date.IsZero() {
				return invalid(path+".date", "date is required")
			}
		}
		for i, inc := range ad.Incidents {
			path := fmt.Sprintf("audit_data.incidents[%d]", i)
			if inc.Date.IsZero() {
				return invalid(path+".date", "date is required")
			}
		}
	}

	return nil
}

func validateFeed(path string, pf PriceFeed) error {
	if !knownChains[pf.Chain] {
		return invalid(path+".chain", "unknown chain %q", pf.Chain)
	}
	if pf.Address == "" {
		return invalid(path+".address", "address is required")
	}
	return nil
}

// Encode serializes the normalized document for persistence.
func (c *AssetConfig) Encode() ([]byte, error) {
	return json.Marshal(c)
}
