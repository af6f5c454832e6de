package config

import (
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/vm"
)

// TestChainConfig represents the chain configuration.
type TestChainConfig struct {
	// CodeSizeCheckDisabled indicates whether code size checks should be disabled in the EVM. This allows for code
	// size to be disabled without disabling the entire EIP it was introduced.
	CodeSizeCheckDisabled bool `json:"codeSizeCheckDisabled"`

	// CheatCodeConfig indicates the configuration for EVM cheat codes to use.
	CheatCodeConfig CheatCodeConfig `json:"cheatCodes"`

	// SkipAccountChecks indicates whether the nonce and EOA checks of a call's sender are skipped, so calls may be
	// sent from contracts and pranked addresses.
	SkipAccountChecks bool `json:"skipAccountChecks"`

	// CallGasLimit describes the gas limit of every call submitted to the chain.
	CallGasLimit uint64 `json:"callGasLimit"`

	// InitialBlockNumber describes the block number calls are executed at, until changed by a cheat code.
	InitialBlockNumber uint64 `json:"initialBlockNumber"`

	// InitialBlockTimestamp describes the block timestamp calls are executed at, until changed by a cheat code.
	InitialBlockTimestamp uint64 `json:"initialBlockTimestamp"`

	// ContractAddressOverrides describes contracts that are going to be deployed at deterministic addresses
	ContractAddressOverrides map[common.Hash]common.Address `json:"contractAddressOverrides,omitempty"`
}

// CheatCodeConfig describes any configuration options related to the use of vm extensions (a.k.a. cheat codes)
type CheatCodeConfig struct {
	// CheatCodesEnabled indicates whether cheat code pre-compiles should be enabled in the chain.
	CheatCodesEnabled bool `json:"cheatCodesEnabled"`
}

// GetVMConfigExtensions derives a vm.ConfigExtensions from the provided TestChainConfig. Each call returns a new
// object, so additional precompiles can be registered on it without affecting other executions.
func (t *TestChainConfig) GetVMConfigExtensions() *vm.ConfigExtensions {
	// Create a copy of the contract address overrides that can be ephemerally updated by medusa-geth
	contractAddressOverrides := make(map[common.Hash]common.Address)
	for hash, addr := range t.ContractAddressOverrides {
		contractAddressOverrides[hash] = addr
	}

	return &vm.ConfigExtensions{
		OverrideCodeSizeCheck:    t.CodeSizeCheckDisabled,
		AdditionalPrecompiles:    make(map[common.Address]vm.PrecompiledContract),
		ContractAddressOverrides: contractAddressOverrides,
	}
}
