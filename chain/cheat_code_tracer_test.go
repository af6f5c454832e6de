package chain

import (
	"math/big"
	"testing"

	"github.com/crytic/invfuzz/fuzzing/calls"
	"github.com/crytic/invfuzz/utils/testutils"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alice is the address pranked in these tests.
var alice = common.HexToAddress("0xA11CE")

// appendCallTo appends code which calls the target with the provided calldata and copies a single return word to
// memory at retOffset, jumping to the "bubble" label if the call fails.
func appendCallTo(a *testutils.Assembler, target common.Address, dataLabel string, data []byte, retOffset int64) *testutils.Assembler {
	a.Data(dataLabel, data)
	a.PushInt(int64(len(data))).PushLabel(dataLabel).PushInt(0).Op(vm.CODECOPY)
	a.PushInt(32).PushInt(retOffset).PushInt(int64(len(data))).PushInt(0).PushInt(0).PushAddress(target).Op(vm.GAS, vm.CALL)
	return a.Op(vm.ISZERO).PushLabel("bubble").Op(vm.JUMPI)
}

// appendCallIgnoringFailure appends code which calls the target with the provided calldata, discarding its status.
func appendCallIgnoringFailure(a *testutils.Assembler, target common.Address, dataLabel string, data []byte) *testutils.Assembler {
	a.Data(dataLabel, data)
	a.PushInt(int64(len(data))).PushLabel(dataLabel).PushInt(0).Op(vm.CODECOPY)
	a.PushInt(0).PushInt(0).PushInt(int64(len(data))).PushInt(0).PushInt(0).PushAddress(target).Op(vm.GAS, vm.CALL)
	return a.Op(vm.POP)
}

// appendTemplateLog appends code which emits a log with topic 0x42 and the provided data word, as counterRuntime's
// emitEvent() does.
func appendTemplateLog(a *testutils.Assembler, data int64) *testutils.Assembler {
	a.PushInt(data).PushInt(0x300).Op(vm.MSTORE)
	return a.PushInt(0x42).PushInt(32).PushInt(0x300).Op(vm.LOG1)
}

// handlerRuntime returns the runtime bytecode of a handler contract which arms cheat codes before calling the counter,
// and calls into the cheats contract.
func handlerRuntime(t *testing.T, counter common.Address, cheatsContract common.Address) []byte {
	cheats := StandardCheatcodeContractAddress
	a := testutils.NewAssembler().Dispatch(
		"prankThenCall()", "prankWithoutCall()", "startPrankThenCall()", "expectRevertThenFail()",
		"expectRevertThenSucceed()", "expectRevertWithoutCall()", "expectEmitThenCall()", "expectEmitMismatch()",
		"expectCallThenCall()", "expectCallMismatch()", "callFailingCheats()", "snapshotThenRevertTo()",
	)
	prankData := encodeCall(t, "prank(address)", []string{"address"}, alice)
	callerData := testutils.Selector("caller()")

	appendCall(a.Label("prankThenCall()"), cheats, "prank", prankData)
	appendCallTo(a, counter, "prankedCaller", callerData, 0x200)
	a.PushInt(0x200).Op(vm.MLOAD).ReturnWord()

	appendCall(a.Label("prankWithoutCall()"), cheats, "unusedPrank", prankData)
	a.Op(vm.STOP)

	// Returns the caller observed by two calls made during startPrank, then by one made after stopPrank.
	appendCall(a.Label("startPrankThenCall()"), cheats, "startPrank", encodeCall(t, "startPrank(address)", []string{"address"}, alice))
	appendCallTo(a, counter, "startedCaller1", callerData, 0x200)
	appendCallTo(a, counter, "startedCaller2", callerData, 0x220)
	appendCall(a, cheats, "stopPrank", encodeCall(t, "stopPrank()", nil))
	appendCallTo(a, counter, "stoppedCaller", callerData, 0x240)
	a.PushInt(96).PushInt(0x200).Op(vm.RETURN)

	expectRevertData := encodeCall(t, "expectRevert()", nil)
	appendCall(a.Label("expectRevertThenFail()"), cheats, "expectRevert1", expectRevertData)
	appendCallTo(a, counter, "expectedFail", testutils.Selector("fail()"), 0x200)
	a.PushInt(1).ReturnWord()

	appendCall(a.Label("expectRevertThenSucceed()"), cheats, "expectRevert2", expectRevertData)
	appendCallTo(a, counter, "unexpectedSuccess", testutils.Selector("increment()"), 0x200)
	a.Op(vm.STOP)

	appendCall(a.Label("expectRevertWithoutCall()"), cheats, "expectRevert3", expectRevertData)
	a.Op(vm.STOP)

	expectEmitData := encodeCall(t, "expectEmit()", nil)
	appendCall(a.Label("expectEmitThenCall()"), cheats, "expectEmit1", expectEmitData)
	appendTemplateLog(a, 7)
	appendCallTo(a, counter, "expectedEmit", testutils.Selector("emitEvent()"), 0x200)
	a.Op(vm.STOP)

	appendCall(a.Label("expectEmitMismatch()"), cheats, "expectEmit2", expectEmitData)
	appendTemplateLog(a, 8)
	appendCallTo(a, counter, "mismatchedEmit", testutils.Selector("emitEvent()"), 0x200)
	a.Op(vm.STOP)

	expectCallData := encodeCall(t, "expectCall(address,bytes)", []string{"address", "bytes"}, counter, testutils.Selector("count()"))
	appendCall(a.Label("expectCallThenCall()"), cheats, "expectCall1", expectCallData)
	appendCallTo(a, counter, "expectedCall", testutils.Selector("count()"), 0x200)
	a.Op(vm.STOP)

	appendCall(a.Label("expectCallMismatch()"), cheats, "expectCall2", expectCallData)
	appendCallTo(a, counter, "mismatchedCall", testutils.Selector("increment()"), 0x200)
	a.Op(vm.STOP)

	// Calls which warp and label before reverting, then returns the timestamp.
	appendCallIgnoringFailure(a.Label("callFailingCheats()"), cheatsContract, "warpThenFail", testutils.Selector("doWarpThenFail()"))
	appendCallIgnoringFailure(a, cheatsContract, "labelThenFail", testutils.Selector("doLabelThenFail()"))
	a.Op(vm.TIMESTAMP).ReturnWord()

	// Takes a snapshot, warps and labels, then reverts to the snapshot and returns the timestamp.
	appendCallTo(a.Label("snapshotThenRevertTo()"), cheats, "snapshot", encodeCall(t, "snapshot()", nil), 0x200)
	appendCall(a, cheats, "warp", encodeCall(t, "warp(uint256)", []string{"uint256"}, big.NewInt(300)))
	appendCall(a, cheats, "label", encodeCall(t, "label(address,string)", []string{"address", "string"}, testAccount, "acct"))
	a.PushSelector("revertTo(uint256)").PushInt(0xe0).Op(vm.SHL).PushInt(0x100).Op(vm.MSTORE)
	a.PushInt(0x200).Op(vm.MLOAD).PushInt(0x104).Op(vm.MSTORE)
	a.PushInt(32).PushInt(0x220).PushInt(36).PushInt(0x100).PushInt(0).PushAddress(cheats).Op(vm.GAS, vm.CALL)
	a.Op(vm.ISZERO).PushLabel("bubble").Op(vm.JUMPI)
	a.Op(vm.TIMESTAMP).ReturnWord()

	return appendBubble(a).Bytes()
}

// deployHandler deploys a counter, the cheats contract and a handler which calls them.
// Returns the addresses of the counter, the cheats contract and the handler.
func deployHandler(t *testing.T, chain *TestChain) (common.Address, common.Address, common.Address) {
	counter := deployRuntime(t, chain, counterRuntime())
	cheats := deployRuntime(t, chain, cheatsRuntime(t))
	handler := deployRuntime(t, chain, handlerRuntime(t, counter, cheats))
	return counter, cheats, handler
}

// TestCheatCodePrankScopedToCallerFrame ensures a prank applies to the next call made by the frame which armed it,
// and never to a later top-level call.
func TestCheatCodePrankScopedToCallerFrame(t *testing.T) {
	chain := createChain(t)
	counter, _, handler := deployHandler(t, chain)

	outcome := callMethod(t, chain, testSender, handler, "prankThenCall()")
	require.Equal(t, CallStatusCompleted, outcome.Status, outcome.FailureString())
	assert.EqualValues(t, alice.Big(), word(outcome.ReturnData))

	outcome = callMethod(t, chain, testSender, counter, "caller()")
	assert.EqualValues(t, testSender.Big(), word(outcome.ReturnData))

	// A prank armed by a frame which makes no call expires with the frame.
	outcome = callMethod(t, chain, testSender, handler, "prankWithoutCall()")
	require.Equal(t, CallStatusCompleted, outcome.Status)
	outcome = callMethod(t, chain, testSender, counter, "caller()")
	assert.EqualValues(t, testSender.Big(), word(outcome.ReturnData))

	// startPrank applies to every call the frame makes until stopPrank.
	outcome = callMethod(t, chain, testSender, handler, "startPrankThenCall()")
	require.Equal(t, CallStatusCompleted, outcome.Status, outcome.FailureString())
	require.Len(t, outcome.ReturnData, 96)
	assert.EqualValues(t, alice.Big(), word(outcome.ReturnData[:32]))
	assert.EqualValues(t, alice.Big(), word(outcome.ReturnData[32:64]))
	assert.EqualValues(t, handler.Big(), word(outcome.ReturnData[64:]))
	outcome = callMethod(t, chain, testSender, counter, "caller()")
	assert.EqualValues(t, testSender.Big(), word(outcome.ReturnData))
}

// TestCheatCodePrankFromTopLevelCall ensures a prank armed by calling the cheat code contract directly applies to the
// next top-level call.
func TestCheatCodePrankFromTopLevelCall(t *testing.T) {
	chain := createChain(t)
	counter := deployRuntime(t, chain, counterRuntime())

	data := encodeCall(t, "prank(address)", []string{"address"}, alice)
	var selector [4]byte
	copy(selector[:], data[:4])
	outcome, err := chain.Call(calls.NewCallStep(testSender, StandardCheatcodeContractAddress, selector, data[4:], nil))
	require.NoError(t, err)
	require.Equal(t, CallStatusCompleted, outcome.Status)

	assert.EqualValues(t, alice.Big(), word(callMethod(t, chain, testSender, counter, "caller()").ReturnData))
	assert.EqualValues(t, testSender.Big(), word(callMethod(t, chain, testSender, counter, "caller()").ReturnData))
}

// TestCheatCodeExpectationsScopedToCallerFrame ensures expectations armed by a frame are checked against the next
// call it makes, and are reported through the outcome of the top-level call.
func TestCheatCodeExpectationsScopedToCallerFrame(t *testing.T) {
	chain := createChain(t)
	_, _, handler := deployHandler(t, chain)

	tests := []struct {
		method  string
		failure string
	}{
		{method: "expectRevertThenFail()"},
		{method: "expectRevertThenSucceed()", failure: "call did not revert as expected"},
		{method: "expectRevertWithoutCall()", failure: "expected revert was not observed"},
		{method: "expectEmitThenCall()"},
		{method: "expectEmitMismatch()", failure: "expected emit was not observed"},
		{method: "expectCallThenCall()"},
		{method: "expectCallMismatch()", failure: "expected call to"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			outcome := callMethod(t, chain, testSender, handler, tt.method)
			require.Equal(t, CallStatusCompleted, outcome.Status, outcome.FailureString())
			if tt.failure == "" {
				assert.Empty(t, outcome.ExpectationFailure)
			} else {
				assert.Contains(t, outcome.ExpectationFailure, tt.failure)
			}

			// Nothing armed within the handler outlives it.
			assert.Empty(t, chain.CheckPendingExpectations())
		})
	}

	// The expected revert is reported to the handler as a success.
	outcome := callMethod(t, chain, testSender, handler, "expectRevertThenFail()")
	assert.EqualValues(t, 1, word(outcome.ReturnData).Uint64())
}

// TestCheatCodeChangesRevertWithFrame ensures block environment and label changes made by a frame which reverts are
// undone, even when its caller completes.
func TestCheatCodeChangesRevertWithFrame(t *testing.T) {
	chain := createChain(t)
	_, cheats, handler := deployHandler(t, chain)

	outcome := callMethod(t, chain, testSender, handler, "callFailingCheats()")
	require.Equal(t, CallStatusCompleted, outcome.Status, outcome.FailureString())
	assert.EqualValues(t, 1, word(outcome.ReturnData).Uint64())
	assert.EqualValues(t, 1, chain.BlockTimestamp())
	assert.Empty(t, chain.Labels())

	// Labels set by a completed call persist, and are captured by checkpoints.
	checkpoint := chain.Checkpoint()
	outcome = callMethod(t, chain, testSender, cheats, "doLabel()")
	require.Equal(t, CallStatusCompleted, outcome.Status)
	assert.Equal(t, "acct", chain.Labels()[testAccount])
	require.NoError(t, chain.RevertTo(checkpoint))
	assert.Empty(t, chain.Labels())

	outcome = callMethod(t, chain, testSender, cheats, "doLabelThenFail()")
	assert.Equal(t, CallStatusReverted, outcome.Status)
	assert.Empty(t, chain.Labels())
}

// TestCheatCodeSnapshotRevertTo ensures revertTo restores the block environment and labels along with the state.
func TestCheatCodeSnapshotRevertTo(t *testing.T) {
	chain := createChain(t)
	_, _, handler := deployHandler(t, chain)

	outcome := callMethod(t, chain, testSender, handler, "snapshotThenRevertTo()")
	require.Equal(t, CallStatusCompleted, outcome.Status, outcome.FailureString())
	assert.EqualValues(t, 1, word(outcome.ReturnData).Uint64())
	assert.EqualValues(t, 1, chain.BlockTimestamp())
	assert.Empty(t, chain.Labels())
}
