package contracts

import (
	"bytes"
	"sort"

	"github.com/crytic/medusa-geth/accounts/abi"
	"golang.org/x/exp/slices"
)

// Contracts describes an array of contracts
type Contracts []*Contract

// MatchBytecode takes runtime bytecode and attempts to match it to a contract definition in the current list of
// contracts. It returns the contract definition if found. Otherwise, it returns nil.
func (c Contracts) MatchBytecode(runtimeBytecode []byte) *Contract {
	// Loop through all our contract definitions to find a match.
	for i := 0; i < len(c); i++ {
		if c[i].IsMatch(runtimeBytecode) {
			return c[i]
		}
	}

	// If we found no definition, return nil.
	return nil
}

// FindByName returns the contract with the provided name, which may be qualified with its source path
// ("src/Counter.sol:Counter"). Returns nil if no contract matches.
func (c Contracts) FindByName(name string) *Contract {
	for _, contract := range c {
		if contract.name == name || contract.QualifiedName() == name {
			return contract
		}
	}
	return nil
}

// Contract describes a compiled smart contract.
type Contract struct {
	// name represents the name of the contract.
	name string

	// sourcePath represents the path of the source file the contract was compiled from.
	sourcePath string

	// abi describes the contract's application binary interface.
	abi abi.ABI

	// initBytecode describes the bytecode used to deploy the contract.
	initBytecode []byte

	// runtimeBytecode describes the bytecode expected once the contract was deployed. This may differ at runtime
	// based on constructor arguments, immutables, etc.
	runtimeBytecode []byte
}

// NewContract returns a new Contract instance with the provided information.
func NewContract(name string, sourcePath string, contractAbi abi.ABI, initBytecode []byte, runtimeBytecode []byte) *Contract {
	return &Contract{
		name:            name,
		sourcePath:      sourcePath,
		abi:             contractAbi,
		initBytecode:    slices.Clone(initBytecode),
		runtimeBytecode: slices.Clone(runtimeBytecode),
	}
}

// Name returns the name of the contract.
func (c *Contract) Name() string {
	return c.name
}

// SourcePath returns the path of the source file containing the contract.
func (c *Contract) SourcePath() string {
	return c.sourcePath
}

// QualifiedName returns the name of the contract qualified with its source path, e.g. "src/Counter.sol:Counter".
func (c *Contract) QualifiedName() string {
	if c.sourcePath == "" {
		return c.name
	}
	return c.sourcePath + ":" + c.name
}

// Abi returns the contract's application binary interface.
func (c *Contract) Abi() *abi.ABI {
	return &c.abi
}

// InitBytecode returns the bytecode used to deploy the contract.
func (c *Contract) InitBytecode() []byte {
	return c.initBytecode
}

// RuntimeBytecode returns the bytecode expected once the contract was deployed.
func (c *Contract) RuntimeBytecode() []byte {
	return c.runtimeBytecode
}

// Methods returns every method of the contract, sorted by signature.
func (c *Contract) Methods() []abi.Method {
	methods := make([]abi.Method, 0, len(c.abi.Methods))
	for _, method := range c.abi.Methods {
		methods = append(methods, method)
	}
	sort.Slice(methods, func(i, j int) bool {
		return methods[i].Sig < methods[j].Sig
	})
	return methods
}

// StateChangingMethods returns the methods of the contract which are neither view nor pure, sorted by signature.
func (c *Contract) StateChangingMethods() []abi.Method {
	methods := make([]abi.Method, 0)
	for _, method := range c.Methods() {
		if !method.IsConstant() {
			methods = append(methods, method)
		}
	}
	return methods
}

// IsMatch returns a boolean indicating whether provided runtime bytecode is a match to this contract definition.
func (c *Contract) IsMatch(runtimeBytecode []byte) bool {
	if len(runtimeBytecode) == 0 || len(c.runtimeBytecode) == 0 {
		return false
	}

	// First we try to match contracts with contract metadata embedded within the smart contract.
	deploymentMetadata := ExtractContractMetadata(runtimeBytecode)
	definitionMetadata := ExtractContractMetadata(c.runtimeBytecode)
	if deploymentMetadata != nil && definitionMetadata != nil {
		deploymentBytecodeHash := deploymentMetadata.ExtractBytecodeHash()
		definitionBytecodeHash := definitionMetadata.ExtractBytecodeHash()
		if deploymentBytecodeHash != nil && definitionBytecodeHash != nil {
			return bytes.Equal(deploymentBytecodeHash, definitionBytecodeHash)
		}
	}

	// Otherwise compare the bytecode without metadata. Immutables change the deployed code, so this is a last resort.
	return bytes.Equal(RemoveContractMetadata(runtimeBytecode), RemoveContractMetadata(c.runtimeBytecode))
}

// GetDeploymentMessageData is a helper method used create contract deployment message data for the given contract.
// This data can be set in transaction/message structs "data" field to indicate the packed init bytecode and constructor
// argument data to use.
func (c *Contract) GetDeploymentMessageData(args []any) ([]byte, error) {
	// ABI encode constructor arguments and append them to the end of the bytecode
	initBytecodeWithArgs := slices.Clone(c.initBytecode)
	if len(c.abi.Constructor.Inputs) > 0 {
		data, err := c.abi.Pack("", args...)
		if err != nil {
			return nil, err
		}
		initBytecodeWithArgs = append(initBytecodeWithArgs, data...)
	}
	return initBytecodeWithArgs, nil
}

// HasMethod indicates whether the contract ABI declares a method with the provided name.
func (c *Contract) HasMethod(name string) bool {
	_, ok := c.abi.Methods[name]
	return ok
}

