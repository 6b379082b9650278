package fetchers

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Minimal hand-rolled contract callers for the handful of view functions the
// fetchers need. Each caller wraps one ABI fragment around a BoundContract.

// AggregatorCaller reads a Chainlink-compatible aggregator.
type AggregatorCaller struct {
	contract *bind.BoundContract
}

// RoundData is the subset of latestRoundData the fetchers consume.
type RoundData struct {
	Answer    *big.Int
	UpdatedAt *big.Int
}

func NewAggregatorCaller(address common.Address, client *ethclient.Client) (*AggregatorCaller, error) {
	parsed, err := aggregatorMetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(address, *parsed, client, client, client)
	return &AggregatorCaller{contract: contract}, nil
}

func (a *AggregatorCaller) LatestRoundData(opts *bind.CallOpts) (RoundData, error) {
	var out []interface{}
	if err := a.contract.Call(opts, &out, "latestRoundData"); err != nil {
		return RoundData{}, err
	}
	return RoundData{
		Answer:    out[1].(*big.Int),
		UpdatedAt: out[3].(*big.Int),
	}, nil
}

func (a *AggregatorCaller) Decimals(opts *bind.CallOpts) (uint8, error) {
	var out []interface{}
	if err := a.contract.Call(opts, &out, "decimals"); err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

var aggregatorMetaData = &bind.MetaData{
	ABI: `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`,
}

// ERC20Caller reads supply and balances of a token contract.
type ERC20Caller struct {
	contract *bind.BoundContract
}

func NewERC20Caller(address common.Address, client *ethclient.Client) (*ERC20Caller, error) {
	parsed, err := erc20MetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(address, *parsed, client, client, client)
	return &ERC20Caller{contract: contract}, nil
}

func (e *ERC20Caller) TotalSupply(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := e.contract.Call(opts, &out, "totalSupply"); err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (e *ERC20Caller) Decimals(opts *bind.CallOpts) (uint8, error) {
	var out []interface{}
	if err := e.contract.Call(opts, &out, "decimals"); err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

func (e *ERC20Caller) BalanceOf(opts *bind.CallOpts, owner common.Address) (*big.Int, error) {
	var out []interface{}
	if err := e.contract.Call(opts, &out, "balanceOf", owner); err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

var erc20MetaData = &bind.MetaData{
	ABI: `[{"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`,
}

// VaultCaller reads ERC-4626 style share accounting, used to compare a
// liquid-staking vault's assets to the wrapped token supply.
type VaultCaller struct {
	contract *bind.BoundContract
}

func NewVaultCaller(address common.Address, client *ethclient.Client) (*VaultCaller, error) {
	parsed, err := vaultMetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(address, *parsed, client, client, client)
	return &VaultCaller{contract: contract}, nil
}

func (v *VaultCaller) TotalAssets(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := v.contract.Call(opts, &out, "totalAssets"); err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

var vaultMetaData = &bind.MetaData{
	ABI: `[{"inputs":[],"name":"totalAssets","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`,
}
