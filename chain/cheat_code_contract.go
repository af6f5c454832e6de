package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/vm"
)

// cheatCodeMethodHandler describes a function which handles callback for a given contract method. It takes the
// TestChain for execution context, as well as unpacked input values.
// Returns unpacked output values, or raw return data (e.g. a revert) which replaces the packed output values.
type cheatCodeMethodHandler func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData)

// cheatCodeRawReturnData describes the raw return data and error of a cheat code method, which replace the packed
// output values when a handler needs to revert.
type cheatCodeRawReturnData struct {
	// ReturnData describes the raw data returned by the cheat code.
	ReturnData []byte

	// Err describes the error returned by the cheat code. vm.ErrExecutionReverted reverts the calling frame.
	Err error
}

// cheatCodeRevertData creates cheatCodeRawReturnData which reverts with the provided raw data.
func cheatCodeRevertData(returnData []byte) *cheatCodeRawReturnData {
	return &cheatCodeRawReturnData{
		ReturnData: returnData,
		Err:        vm.ErrExecutionReverted,
	}
}

// cheatCodeRevertString creates cheatCodeRawReturnData which reverts with an Error(string) payload, so the revert
// reason can be decoded by the caller.
func cheatCodeRevertString(reason string) *cheatCodeRawReturnData {
	return cheatCodeRevertData(encodeRevertString(reason))
}

// cheatCodeContract defines a struct which represents a pre-compiled contract with various methods that is
// meant to act as a contract.
type cheatCodeContract struct {
	// address defines the address the cheat code contract should be installed at.
	address common.Address

	// name describes the name of the contract, used in errors.
	name string

	// chain represents the TestChain the cheat codes operate on.
	chain *TestChain

	// methodInfo describes a table of methodId (function selectors) to cheat code methods. This acts as a switch table
	// for different methods in the contract.
	methodInfo map[uint32]*cheatCodeMethod
}

// cheatCodeMethod defines the method information for a given precompiledContract.
type cheatCodeMethod struct {
	// method is the ABI method definition used to pack and unpack both input and output arguments.
	method abi.Method

	// handler represents the method handler to call with the unpacked input arguments
	handler cheatCodeMethodHandler
}

// newCheatCodeContract returns a new precompiledContract which operates on the provided TestChain.
func newCheatCodeContract(chain *TestChain, address common.Address, name string) *cheatCodeContract {
	return &cheatCodeContract{
		address:    address,
		name:       name,
		chain:      chain,
		methodInfo: make(map[uint32]*cheatCodeMethod),
	}
}

// Address returns the address the cheat code contract is installed at.
func (c *cheatCodeContract) Address() common.Address {
	return c.address
}

// addMethod adds a new method to the precompiled contract.
func (c *cheatCodeContract) addMethod(name string, inputs abi.Arguments, outputs abi.Arguments, handler cheatCodeMethodHandler) {
	// Verify a method name was provided
	if name == "" {
		panic("could not add method to precompiled cheatcode contract, empty method name provided")
	}

	// Verify a method handler was provided
	if handler == nil {
		panic("could not add method to precompiled cheatcode contract, nil method handler provided")
	}

	// Set the method information in our method lookup
	method := abi.NewMethod(name, name, abi.Function, "external", false, false, inputs, outputs)
	methodId := binary.LittleEndian.Uint32(method.ID)
	if _, exists := c.methodInfo[methodId]; exists {
		panic(fmt.Sprintf("could not add method to precompiled cheatcode contract, duplicate method %v", method.Sig))
	}
	c.methodInfo[methodId] = &cheatCodeMethod{
		method:  method,
		handler: handler,
	}
}

// RequiredGas determines the amount of gas necessary to execute the pre-compile with the given input data.
// Returns the gas cost.
func (c *cheatCodeContract) RequiredGas(input []byte) uint64 {
	return 0
}

// Run executes the given pre-compile with the provided input data.
// Returns the output data from execution, or an error if one occurred.
func (c *cheatCodeContract) Run(input []byte) ([]byte, error) {
	// Calling any method should require at least a signature. Anything we do not recognize is a harness fault rather
	// than a contract failure, so it is raised on the chain and the frame is aborted.
	if len(input) < 4 {
		c.chain.raiseFault(fmt.Errorf("%w: %v received calldata 0x%x without a selector", ErrUnknownCheatCode, c.name, input))
		return nil, vm.ErrExecutionReverted
	}

	// Obtain the method identifier as a uint32
	methodId := binary.LittleEndian.Uint32(input[:4])

	// Ensure we have a method definition that matches our selector.
	methodInfo, methodInfoExists := c.methodInfo[methodId]
	if !methodInfoExists {
		c.chain.raiseFault(fmt.Errorf("%w: %v has no method with selector 0x%x", ErrUnknownCheatCode, c.name, input[:4]))
		return nil, vm.ErrExecutionReverted
	}

	// This call is targeting a valid method, unpack its arguments
	inputValues, err := methodInfo.method.Inputs.Unpack(input[4:])
	if err != nil {
		return encodeRevertString(fmt.Sprintf("%v: malformed arguments", methodInfo.method.Name)), vm.ErrExecutionReverted
	}

	// Call the registered method handler.
	outputValues, rawReturnData := methodInfo.handler(c.chain, inputValues)
	if rawReturnData != nil {
		return rawReturnData.ReturnData, rawReturnData.Err
	}

	// Return our packed output data.
	return methodInfo.method.Outputs.Pack(outputValues...)
}
