package chain

import (
	"bytes"
	"math/big"

	"github.com/crytic/invfuzz/utils"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/tracing"
	"github.com/holiman/uint256"
)

// StandardCheatcodeContractAddress is the address for the standard cheatcode contract
var StandardCheatcodeContractAddress = common.HexToAddress("0x7109709ECfa91a80626fF3989D68f67F5b1DD12D")

// MaxUint64 holds the max value an uint64 can take
var _, MaxUint64 = utils.GetIntegerConstraints(false, 64)

// assumeRevertData is the revert payload produced by assume(false). Calls which revert with it are rejected rather
// than reported as failures.
var assumeRevertData = []byte("FOUNDRY::ASSUME")

// getStandardCheatCodeContract obtains a cheatCodeContract which implements common cheat codes.
// Returns the precompiled contract, or an error if one occurs.
func getStandardCheatCodeContract(chain *TestChain) (*cheatCodeContract, error) {
	// Create a new precompile to add methods to.
	contract := newCheatCodeContract(chain, StandardCheatcodeContractAddress, "StdCheats")

	// Define some basic ABI argument types
	typeAddress, err := abi.NewType("address", "", nil)
	if err != nil {
		return nil, err
	}
	typeBytes, err := abi.NewType("bytes", "", nil)
	if err != nil {
		return nil, err
	}
	typeBytes4, err := abi.NewType("bytes4", "", nil)
	if err != nil {
		return nil, err
	}
	typeBytes32, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		return nil, err
	}
	typeBytes32Slice, err := abi.NewType("bytes32[]", "", nil)
	if err != nil {
		return nil, err
	}
	typeUint64, err := abi.NewType("uint64", "", nil)
	if err != nil {
		return nil, err
	}
	typeUint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return nil, err
	}
	typeString, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, err
	}
	typeBool, err := abi.NewType("bool", "", nil)
	if err != nil {
		return nil, err
	}

	// Warp: Sets VM timestamp
	contract.addMethod(
		"warp", abi.Arguments{{Type: typeUint256}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			// Retrieve new timestamp and make sure it is LEQ max value of an uint64
			newTime := inputs[0].(*big.Int)
			if newTime.Cmp(MaxUint64) > 0 {
				return nil, cheatCodeRevertString("warp: timestamp exceeds max value of type(uint64).max")
			}

			// The change persists unless the invoking frame reverts.
			original := chain.blockEnv.time
			env := chain.blockEnv.clone()
			env.time = newTime.Uint64()
			chain.setBlockEnvironment(env)
			onCheatCodeRevert(chain, func() {
				env := chain.blockEnv.clone()
				env.time = original
				chain.setBlockEnvironment(env)
			})
			return nil, nil
		},
	)

	// Roll: Sets VM block number
	contract.addMethod(
		"roll", abi.Arguments{{Type: typeUint256}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			newNumber := inputs[0].(*big.Int)
			if newNumber.Cmp(MaxUint64) > 0 {
				return nil, cheatCodeRevertString("roll: block number exceeds max value of type(uint64).max")
			}
			original := chain.blockEnv.number
			env := chain.blockEnv.clone()
			env.number = newNumber.Uint64()
			chain.setBlockEnvironment(env)
			onCheatCodeRevert(chain, func() {
				env := chain.blockEnv.clone()
				env.number = original
				chain.setBlockEnvironment(env)
			})
			return nil, nil
		},
	)

	// Store: Sets a storage slot value in a given account.
	contract.addMethod(
		"store", abi.Arguments{{Type: typeAddress}, {Type: typeBytes32}, {Type: typeBytes32}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			account := inputs[0].(common.Address)
			slot := common.Hash(inputs[1].([32]byte))
			value := common.Hash(inputs[2].([32]byte))
			chain.tracer.noteStorageWrite(account, slot)
			chain.state.SetState(account, slot, value)
			return nil, nil
		},
	)

	// Load: Loads a storage slot value from a given account.
	contract.addMethod(
		"load", abi.Arguments{{Type: typeAddress}, {Type: typeBytes32}}, abi.Arguments{{Type: typeBytes32}},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			account := inputs[0].(common.Address)
			slot := common.Hash(inputs[1].([32]byte))
			value := chain.state.GetState(account, slot)
			return []any{[32]byte(value)}, nil
		},
	)

	// Etch: Sets the code for a given account.
	contract.addMethod(
		"etch", abi.Arguments{{Type: typeAddress}, {Type: typeBytes}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			account := inputs[0].(common.Address)
			code := inputs[1].([]byte)
			chain.state.SetCode(account, code)
			return nil, nil
		},
	)

	// Deal: Sets the balance for a given account.
	contract.addMethod(
		"deal", abi.Arguments{{Type: typeAddress}, {Type: typeUint256}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			account := inputs[0].(common.Address)
			newBalance := inputs[1].(*big.Int)
			newBalanceUint256 := new(uint256.Int)
			newBalanceUint256.SetFromBig(newBalance)
			chain.state.SetBalance(account, newBalanceUint256, tracing.BalanceChangeUnspecified)
			return nil, nil
		},
	)

	// GetNonce: Gets the nonce for a given account.
	contract.addMethod(
		"getNonce", abi.Arguments{{Type: typeAddress}}, abi.Arguments{{Type: typeUint64}},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			account := inputs[0].(common.Address)
			nonce := chain.state.GetNonce(account)
			return []any{nonce}, nil
		},
	)

	// Prank: Sets the msg.sender within the next EVM call scope created by the caller.
	contract.addMethod(
		"prank", abi.Arguments{{Type: typeAddress}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			sender := inputs[0].(common.Address)
			cheatCodeCallerFrame := chain.cheatCodeTracer.PreviousCallFrame()
			if cheatCodeCallerFrame == nil {
				chain.Prank(sender, false)
				return nil, nil
			}

			// The hook is moved to the next frame the caller enters, and patches its caller once its scope exists.
			cheatCodeCallerFrame.onNextFrameEnterHooks.Push(func() {
				chain.cheatCodeTracer.prankCurrentFrame(sender)
			})
			return nil, nil
		},
	)

	// StartPrank: Sets the msg.sender within every EVM call scope created by the caller, until stopPrank is called or
	// the caller exits.
	contract.addMethod(
		"startPrank", abi.Arguments{{Type: typeAddress}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			sender := inputs[0].(common.Address)
			cheatCodeCallerFrame := chain.cheatCodeTracer.PreviousCallFrame()
			if cheatCodeCallerFrame == nil {
				chain.Prank(sender, true)
				return nil, nil
			}
			cheatCodeCallerFrame.prank = &sender
			return nil, nil
		},
	)

	// StopPrank: Clears the prank started by the caller.
	contract.addMethod(
		"stopPrank", abi.Arguments{}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			cheatCodeCallerFrame := chain.cheatCodeTracer.PreviousCallFrame()
			if cheatCodeCallerFrame == nil {
				chain.StopPrank()
				return nil, nil
			}
			cheatCodeCallerFrame.prank = nil
			return nil, nil
		},
	)

	// snapshot: Takes a snapshot of the current state of the evm and returns the id associated with the snapshot
	contract.addMethod(
		"snapshot", abi.Arguments{}, abi.Arguments{{Type: typeUint256}},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			snapshotID := chain.takeSnapshot()
			return []any{big.NewInt(int64(snapshotID))}, nil
		},
	)

	// revertTo(uint256): Revert the state of the evm, the block environment and labels to a previous snapshot. Takes
	// the snapshot id to revert to. Returns false if the snapshot id is not valid.
	contract.addMethod(
		"revertTo", abi.Arguments{{Type: typeUint256}}, abi.Arguments{{Type: typeBool}},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			snapshotID := inputs[0].(*big.Int)
			if !snapshotID.IsInt64() {
				return []any{false}, nil
			}
			return []any{chain.revertToSnapshot(int(snapshotID.Int64()))}, nil
		},
	)

	// expectRevert(): The next call made by the caller must revert. An expected revert is reported to the caller as a
	// success.
	contract.addMethod(
		"expectRevert", abi.Arguments{}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			armExpectRevert(chain, &RevertMatcher{})
			return nil, nil
		},
	)

	// expectRevert(bytes): The next call made by the caller must revert with the provided data or reason.
	contract.addMethod(
		"expectRevert", abi.Arguments{{Type: typeBytes}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			armExpectRevert(chain, &RevertMatcher{Data: inputs[0].([]byte)})
			return nil, nil
		},
	)

	// expectRevert(bytes4): The next call made by the caller must revert with data starting with the provided selector.
	contract.addMethod(
		"expectRevert", abi.Arguments{{Type: typeBytes4}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			selector := inputs[0].([4]byte)
			armExpectRevert(chain, &RevertMatcher{Data: selector[:], Partial: true})
			return nil, nil
		},
	)

	// expectEmit(): The next log emitted by the caller is the template the next call it makes must emit, comparing
	// every topic and the data.
	contract.addMethod(
		"expectEmit", abi.Arguments{}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			armExpectEmit(chain, &EmitMatcher{
				CheckTopics: [3]bool{true, true, true},
				CheckData:   true,
			})
			return nil, nil
		},
	)

	// expectEmit(bool,bool,bool,bool): As expectEmit(), comparing only the selected topics and data.
	contract.addMethod(
		"expectEmit", abi.Arguments{{Type: typeBool}, {Type: typeBool}, {Type: typeBool}, {Type: typeBool}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			armExpectEmit(chain, &EmitMatcher{
				CheckTopics: [3]bool{inputs[0].(bool), inputs[1].(bool), inputs[2].(bool)},
				CheckData:   inputs[3].(bool),
			})
			return nil, nil
		},
	)

	// mockCall: Calls to the address with calldata starting with the provided data return the provided data.
	contract.addMethod(
		"mockCall", abi.Arguments{{Type: typeAddress}, {Type: typeBytes}, {Type: typeBytes}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			target := inputs[0].(common.Address)
			if target == contract.address {
				return nil, cheatCodeRevertString("mockCall: cannot mock the cheat code contract")
			}
			chain.MockCall(target, inputs[1].([]byte), inputs[2].([]byte))
			return nil, nil
		},
	)

	// clearMockedCalls: Removes every mocked call.
	contract.addMethod(
		"clearMockedCalls", abi.Arguments{}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			chain.ClearMockedCalls()
			return nil, nil
		},
	)

	// expectCall: The next call made by the caller must, itself or through its descendants, call the address with
	// calldata starting with the provided data.
	contract.addMethod(
		"expectCall", abi.Arguments{{Type: typeAddress}, {Type: typeBytes}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			target := inputs[0].(common.Address)
			calldataPrefix := inputs[1].([]byte)
			cheatCodeCallerFrame := chain.cheatCodeTracer.PreviousCallFrame()
			if cheatCodeCallerFrame == nil {
				chain.ExpectCall(target, calldataPrefix)
				return nil, nil
			}
			expectations := cheatCodeCallerFrame.armExpectations()
			expectations.calls = append(expectations.calls, &CallMatcher{
				Target:         target,
				CalldataPrefix: bytes.Clone(calldataPrefix),
			})
			return nil, nil
		},
	)

	// assume: Rejects the current call if the condition does not hold.
	contract.addMethod(
		"assume", abi.Arguments{{Type: typeBool}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			if inputs[0].(bool) {
				return nil, nil
			}
			chain.assumeRejected = true
			return nil, cheatCodeRevertData(assumeRevertData)
		},
	)

	// record: Starts recording storage reads and writes, clearing previously recorded accesses.
	contract.addMethod(
		"record", abi.Arguments{}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			chain.RecordStorageAccesses(true)
			return nil, nil
		},
	)

	// accesses: Returns the storage slots read and written by an account since recording started.
	contract.addMethod(
		"accesses", abi.Arguments{{Type: typeAddress}}, abi.Arguments{{Type: typeBytes32Slice}, {Type: typeBytes32Slice}},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			accesses := chain.StorageAccesses()[inputs[0].(common.Address)]
			reads := make([][32]byte, 0)
			writes := make([][32]byte, 0)
			if accesses != nil {
				for _, slot := range accesses.Reads {
					reads = append(reads, slot)
				}
				for _, slot := range accesses.Writes {
					writes = append(writes, slot)
				}
			}
			return []any{reads, writes}, nil
		},
	)

	// label: Sets a human-readable name for an address, used when displaying call sequences.
	contract.addMethod(
		"label", abi.Arguments{{Type: typeAddress}, {Type: typeString}}, abi.Arguments{},
		func(chain *TestChain, inputs []any) ([]any, *cheatCodeRawReturnData) {
			account := inputs[0].(common.Address)
			previous, labeled := chain.labels[account]
			chain.labels[account] = inputs[1].(string)
			onCheatCodeRevert(chain, func() {
				if labeled {
					chain.labels[account] = previous
				} else {
					delete(chain.labels, account)
				}
			})
			return nil, nil
		},
	)

	return contract, nil
}

// onCheatCodeRevert registers a hook which undoes a change made by the cheat code in progress if the frame which
// invoked it, or any of its parents, reverts. Reverts of the top-level call are undone by the TestChain itself.
func onCheatCodeRevert(chain *TestChain, hook func()) {
	if cheatCodeFrame := chain.cheatCodeTracer.CurrentCallFrame(); cheatCodeFrame != nil {
		cheatCodeFrame.onChainRevertRestoreHooks.Push(hook)
	}
}

// armExpectRevert arms an expected revert for the next call made by the frame which invoked the cheat code, or for the
// next top-level call if a top-level call invoked the cheat code directly.
func armExpectRevert(chain *TestChain, matcher *RevertMatcher) {
	cheatCodeCallerFrame := chain.cheatCodeTracer.PreviousCallFrame()
	if cheatCodeCallerFrame == nil {
		chain.ExpectRevert(matcher)
		return
	}
	cheatCodeCallerFrame.armExpectations().revert = matcher
}

// armExpectEmit awaits the next log emitted by the frame which invoked the cheat code, which becomes the template the
// frame's next call must emit. If a top-level call invoked the cheat code directly, the next log emitted by any frame
// becomes the template for the following top-level call.
func armExpectEmit(chain *TestChain, matcher *EmitMatcher) {
	cheatCodeCallerFrame := chain.cheatCodeTracer.PreviousCallFrame()
	if cheatCodeCallerFrame == nil {
		chain.directives.capturingEmit = matcher
		return
	}
	cheatCodeCallerFrame.capturingEmit = matcher
}

