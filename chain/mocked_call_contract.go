package chain

import (
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/vm"
)

// mockedCallContract is a pre-compiled contract which replaces the execution of an address with mocked calls
// registered through mockCall.
type mockedCallContract struct {
	// address describes the mocked address.
	address common.Address

	// hasCode indicates whether the mocked address had code when the call started.
	hasCode bool

	// chain represents the TestChain which holds the mocked calls.
	chain *TestChain
}

// RequiredGas determines the amount of gas necessary to execute the pre-compile with the given input data.
func (m *mockedCallContract) RequiredGas(input []byte) uint64 {
	return 0
}

// Run returns the mocked return data for the input. Calldata without a matching mock returns empty data for
// addresses without code, and reverts otherwise since the real code cannot be executed in place of the mock.
func (m *mockedCallContract) Run(input []byte) ([]byte, error) {
	if returnData, ok := m.chain.directives.findMock(m.address, input); ok {
		return returnData, nil
	}
	if !m.hasCode {
		return []byte{}, nil
	}
	return encodeRevertString("mockCall: calldata does not match a mocked call"), vm.ErrExecutionReverted
}
