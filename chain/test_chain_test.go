package chain

import (
	"math/big"
	"testing"

	"github.com/crytic/invfuzz/chain/config"
	"github.com/crytic/invfuzz/fuzzing/calls"
	"github.com/crytic/invfuzz/utils/testutils"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/types"
	"github.com/crytic/medusa-geth/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSender is the funded account used to submit calls in these tests.
var testSender = common.HexToAddress("0x10000")

// testAccount is an account cheat codes operate on in these tests.
var testAccount = common.HexToAddress("0xBEEF")

// createChain creates a TestChain used for unit testing purposes, with testSender funded at genesis.
func createChain(t *testing.T) *TestChain {
	genesisAlloc := make(types.GenesisAlloc)
	genesisAlloc[testSender] = types.Account{
		Balance: new(big.Int).Lsh(big.NewInt(1), 96),
	}
	chain, err := NewTestChain(genesisAlloc, nil)
	require.NoError(t, err)
	return chain
}

// deployRuntime deploys the provided runtime bytecode from testSender and returns its address.
func deployRuntime(t *testing.T, chain *TestChain, runtime []byte) common.Address {
	address, outcome, err := chain.Deploy(testSender, testutils.DeploymentBytecode(runtime), nil)
	require.NoError(t, err)
	require.Equal(t, CallStatusCompleted, outcome.Status)
	require.NotEqual(t, common.Address{}, address)
	return address
}

// callMethod calls a method without arguments on the target from the provided sender.
func callMethod(t *testing.T, chain *TestChain, from common.Address, to common.Address, signature string) *CallOutcome {
	var selector [4]byte
	copy(selector[:], testutils.Selector(signature))
	outcome, err := chain.Call(calls.NewCallStep(from, to, selector, nil, nil))
	require.NoError(t, err)
	return outcome
}

// word decodes a single 32-byte return word.
func word(data []byte) *big.Int {
	return new(big.Int).SetBytes(data)
}

// encodeCall encodes a call to the provided signature with arguments of the provided types.
func encodeCall(t *testing.T, signature string, typeNames []string, values ...any) []byte {
	packed, err := mustArguments(typeNames...).Pack(values...)
	require.NoError(t, err)
	return append(testutils.Selector(signature), packed...)
}

// appendCall appends code which calls the target with the provided calldata, jumping to the "bubble" label (see
// appendBubble) if the call fails.
func appendCall(a *testutils.Assembler, target common.Address, dataLabel string, data []byte) *testutils.Assembler {
	a.Data(dataLabel, data)
	a.PushInt(int64(len(data))).PushLabel(dataLabel).PushInt(0).Op(vm.CODECOPY)
	a.PushInt(0).PushInt(0).PushInt(int64(len(data))).PushInt(0).PushInt(0).PushAddress(target).Op(vm.GAS, vm.CALL)
	return a.Op(vm.ISZERO).PushLabel("bubble").Op(vm.JUMPI)
}

// appendBubble appends the "bubble" label, which reverts with the return data of the last call.
func appendBubble(a *testutils.Assembler) *testutils.Assembler {
	a.Label("bubble").Op(vm.RETURNDATASIZE).PushInt(0).PushInt(0).Op(vm.RETURNDATACOPY)
	return a.Op(vm.RETURNDATASIZE).PushInt(0).Op(vm.REVERT)
}

// counterRuntime returns the runtime bytecode of a counter contract with a few helper methods.
func counterRuntime() []byte {
	a := testutils.NewAssembler().Dispatch("increment()", "count()", "fail()", "halt()", "caller()", "emitEvent()")
	a.Label("increment()").PushInt(0).Op(vm.SLOAD).PushInt(1).Op(vm.ADD).PushInt(0).Op(vm.SSTORE).Op(vm.STOP)
	a.Label("count()").PushInt(0).Op(vm.SLOAD).ReturnWord()
	a.Label("fail()").Revert()
	a.Label("halt()").Op(vm.INVALID)
	a.Label("caller()").Op(vm.CALLER).ReturnWord()
	a.Label("emitEvent()").PushInt(7).PushInt(0).Op(vm.MSTORE).PushInt(0x42).PushInt(32).PushInt(0).Op(vm.LOG1).Op(vm.STOP)
	return a.Bytes()
}

// cheatsRuntime returns the runtime bytecode of a contract whose methods invoke cheat codes.
func cheatsRuntime(t *testing.T) []byte {
	cheats := StandardCheatcodeContractAddress
	a := testutils.NewAssembler().Dispatch(
		"doWarp()", "doWarpThenFail()", "doRoll()", "doAssume()", "doUnknown()", "doStore()", "doDeal()",
		"doEtch()", "doRecord()", "doExpectEmit()", "doLoad()", "doLabel()", "doLabelThenFail()",
	)
	appendCall(a.Label("doWarp()"), cheats, "warp", encodeCall(t, "warp(uint256)", []string{"uint256"}, big.NewInt(100)))
	a.Op(vm.TIMESTAMP).ReturnWord()

	appendCall(a.Label("doWarpThenFail()"), cheats, "warp200", encodeCall(t, "warp(uint256)", []string{"uint256"}, big.NewInt(200)))
	a.Revert()

	appendCall(a.Label("doRoll()"), cheats, "roll", encodeCall(t, "roll(uint256)", []string{"uint256"}, big.NewInt(77)))
	a.Op(vm.NUMBER).ReturnWord()

	appendCall(a.Label("doAssume()"), cheats, "assume", encodeCall(t, "assume(bool)", []string{"bool"}, false))
	a.Op(vm.STOP)

	appendCall(a.Label("doUnknown()"), cheats, "unknown", []byte{0xde, 0xad, 0xbe, 0xef})
	a.Op(vm.STOP)

	storeData := encodeCall(t, "store(address,bytes32,bytes32)", []string{"address", "bytes32", "bytes32"},
		testAccount, [32]byte(common.BigToHash(big.NewInt(1))), [32]byte(common.BigToHash(big.NewInt(42))))
	appendCall(a.Label("doStore()"), cheats, "store", storeData)
	a.Op(vm.STOP)

	appendCall(a.Label("doDeal()"), cheats, "deal", encodeCall(t, "deal(address,uint256)", []string{"address", "uint256"}, testAccount, big.NewInt(1000)))
	a.Op(vm.STOP)

	appendCall(a.Label("doEtch()"), cheats, "etch", encodeCall(t, "etch(address,bytes)", []string{"address", "bytes"}, testAccount, []byte{0x60, 0x00}))
	a.Op(vm.STOP)

	appendCall(a.Label("doRecord()"), cheats, "record", encodeCall(t, "record()", nil))
	a.PushInt(3).Op(vm.SLOAD, vm.POP).PushInt(5).PushInt(4).Op(vm.SSTORE, vm.STOP)

	appendCall(a.Label("doExpectEmit()"), cheats, "expectEmit", encodeCall(t, "expectEmit()", nil))
	a.PushInt(7).PushInt(0).Op(vm.MSTORE).PushInt(0x42).PushInt(32).PushInt(0).Op(vm.LOG1).Op(vm.STOP)

	labelData := encodeCall(t, "label(address,string)", []string{"address", "string"}, testAccount, "acct")
	appendCall(a.Label("doLabel()"), cheats, "label", labelData)
	a.Op(vm.STOP)

	appendCall(a.Label("doLabelThenFail()"), cheats, "labelThenFail", labelData)
	a.Revert()

	// load returns the stored word, which we forward.
	loadData := encodeCall(t, "load(address,bytes32)", []string{"address", "bytes32"},
		testAccount, [32]byte(common.BigToHash(big.NewInt(1))))
	a.Label("doLoad()").Data("load", loadData)
	a.PushInt(int64(len(loadData))).PushLabel("load").PushInt(0).Op(vm.CODECOPY)
	a.PushInt(32).PushInt(0).PushInt(int64(len(loadData))).PushInt(0).PushInt(0).PushAddress(cheats).Op(vm.GAS, vm.CALL)
	a.Op(vm.POP).PushInt(32).PushInt(0).Op(vm.RETURN)

	return appendBubble(a).Bytes()
}

// TestChainCallOutcomes ensures each way a call can conclude is reported through its outcome.
func TestChainCallOutcomes(t *testing.T) {
	chain := createChain(t)
	counter := deployRuntime(t, chain, counterRuntime())
	assert.Equal(t, counterRuntime(), chain.CodeAt(counter))

	// A completed call keeps its changes and reports them in its storage diff.
	outcome := callMethod(t, chain, testSender, counter, "increment()")
	assert.Equal(t, CallStatusCompleted, outcome.Status)
	assert.False(t, outcome.Failed())
	slotDiff := outcome.StorageDiff[counter][common.Hash{}]
	assert.EqualValues(t, common.Hash{}, slotDiff.Before)
	assert.EqualValues(t, common.BigToHash(big.NewInt(1)), slotDiff.After)

	outcome = callMethod(t, chain, testSender, counter, "count()")
	assert.EqualValues(t, 1, word(outcome.ReturnData).Uint64())
	assert.Empty(t, outcome.StorageDiff)

	// Reverts and halts are outcomes, not errors.
	outcome = callMethod(t, chain, testSender, counter, "fail()")
	assert.Equal(t, CallStatusReverted, outcome.Status)
	assert.True(t, outcome.Failed())

	outcome = callMethod(t, chain, testSender, counter, "halt()")
	assert.Equal(t, CallStatusHalted, outcome.Status)
	assert.NotEmpty(t, outcome.RevertReason)

	// Logs are reported for completed calls.
	outcome = callMethod(t, chain, testSender, counter, "emitEvent()")
	require.Len(t, outcome.Logs, 1)
	assert.Equal(t, counter, outcome.Logs[0].Address)
	assert.EqualValues(t, 7, word(outcome.Logs[0].Data).Uint64())
}

// TestChainContractSenders ensures calls may be sent from, or pranked as, addresses with code, and that the sender
// checks apply when account checks are enabled.
func TestChainContractSenders(t *testing.T) {
	chain := createChain(t)
	counter := deployRuntime(t, chain, counterRuntime())
	other := deployRuntime(t, chain, counterRuntime())

	chain.Prank(other, false)
	outcome := callMethod(t, chain, testSender, counter, "caller()")
	require.Equal(t, CallStatusCompleted, outcome.Status, outcome.FailureString())
	assert.EqualValues(t, other.Big(), word(outcome.ReturnData))

	outcome = callMethod(t, chain, other, counter, "caller()")
	require.Equal(t, CallStatusCompleted, outcome.Status, outcome.FailureString())
	assert.EqualValues(t, other.Big(), word(outcome.ReturnData))

	// With account checks enabled, a contract sender cannot dispatch a call.
	chainConfig := config.DefaultTestChainConfig()
	chainConfig.SkipAccountChecks = false
	strictChain, err := NewTestChain(chain.GenesisDefinition().Alloc, chainConfig)
	require.NoError(t, err)
	counter = deployRuntime(t, strictChain, counterRuntime())
	other = deployRuntime(t, strictChain, counterRuntime())
	outcome = callMethod(t, strictChain, other, counter, "caller()")
	assert.Equal(t, CallStatusReverted, outcome.Status)
	assert.Contains(t, outcome.RevertReason, "sender not an eoa")
}

// TestChainDispatchFailure ensures a call the sender cannot afford is reported as a revert rather than a fault.
func TestChainDispatchFailure(t *testing.T) {
	chain := createChain(t)
	counter := deployRuntime(t, chain, counterRuntime())

	var selector [4]byte
	copy(selector[:], testutils.Selector("increment()"))
	pauper := common.HexToAddress("0x9999")
	outcome, err := chain.Call(calls.NewCallStep(pauper, counter, selector, nil, big.NewInt(1)))
	require.NoError(t, err)
	assert.Equal(t, CallStatusReverted, outcome.Status)
	assert.NotEmpty(t, outcome.RevertReason)
}

// TestChainCheckpointRevert ensures reverting to a checkpoint restores state, and that an unchanged chain is
// unaffected by a revert.
func TestChainCheckpointRevert(t *testing.T) {
	chain := createChain(t)
	counter := deployRuntime(t, chain, counterRuntime())
	callMethod(t, chain, testSender, counter, "increment()")

	// Reverting with no changes in between is a no-op.
	checkpoint := chain.Checkpoint()
	require.NoError(t, chain.RevertTo(checkpoint))
	assert.EqualValues(t, 1, word(callMethod(t, chain, testSender, counter, "count()").ReturnData).Uint64())

	// Changes are discarded, and the checkpoint can be reverted to repeatedly.
	for i := 0; i < 3; i++ {
		callMethod(t, chain, testSender, counter, "increment()")
		callMethod(t, chain, testSender, counter, "increment()")
		require.NoError(t, chain.RevertTo(checkpoint))
		assert.EqualValues(t, common.BigToHash(big.NewInt(1)), chain.StorageAt(counter, common.Hash{}))
	}
}

// TestChainStaleCheckpoint ensures checkpoints invalidated by reverting to an earlier checkpoint are rejected.
func TestChainStaleCheckpoint(t *testing.T) {
	chain := createChain(t)
	counter := deployRuntime(t, chain, counterRuntime())

	first := chain.Checkpoint()
	callMethod(t, chain, testSender, counter, "increment()")
	second := chain.Checkpoint()
	callMethod(t, chain, testSender, counter, "increment()")

	require.NoError(t, chain.RevertTo(second))
	assert.EqualValues(t, common.BigToHash(big.NewInt(1)), chain.StorageAt(counter, common.Hash{}))
	require.NoError(t, chain.RevertTo(first))
	assert.EqualValues(t, common.Hash{}, chain.StorageAt(counter, common.Hash{}))

	assert.ErrorIs(t, chain.RevertTo(second), ErrStaleCheckpoint)
	assert.ErrorIs(t, chain.RevertTo(Checkpoint{}), ErrStaleCheckpoint)

	// A new checkpoint at the stale position gets a different identity.
	third := chain.Checkpoint()
	assert.ErrorIs(t, chain.RevertTo(second), ErrStaleCheckpoint)
	assert.NoError(t, chain.RevertTo(third))
}

// TestChainCallInProgress ensures calls cannot be submitted while another call is executing.
func TestChainCallInProgress(t *testing.T) {
	chain := createChain(t)
	counter := deployRuntime(t, chain, counterRuntime())
	checkpoint := chain.Checkpoint()

	chain.callInProgress = true
	var selector [4]byte
	_, err := chain.Call(calls.NewCallStep(testSender, counter, selector, nil, nil))
	assert.ErrorIs(t, err, ErrCallInProgress)
	_, err = chain.StaticCall(testSender, counter, nil)
	assert.ErrorIs(t, err, ErrCallInProgress)
	assert.ErrorIs(t, chain.RevertTo(checkpoint), ErrCallInProgress)
	chain.callInProgress = false
}

// TestChainStaticCall ensures static calls discard their changes.
func TestChainStaticCall(t *testing.T) {
	chain := createChain(t)
	counter := deployRuntime(t, chain, counterRuntime())

	outcome, err := chain.StaticCall(testSender, counter, testutils.Selector("increment()"))
	require.NoError(t, err)
	assert.Equal(t, CallStatusCompleted, outcome.Status)
	assert.NotEmpty(t, outcome.StorageDiff)
	assert.EqualValues(t, common.Hash{}, chain.StorageAt(counter, common.Hash{}))

	// Armed pranks are not consumed by static calls.
	other := common.HexToAddress("0x2222")
	chain.Prank(other, false)
	outcome, err = chain.StaticCall(testSender, counter, testutils.Selector("caller()"))
	require.NoError(t, err)
	assert.EqualValues(t, testSender.Big(), word(outcome.ReturnData))
	outcome = callMethod(t, chain, testSender, counter, "caller()")
	assert.EqualValues(t, other.Big(), word(outcome.ReturnData))
}

// TestChainPrank ensures single-shot and persistent pranks override the sender of top-level calls.
func TestChainPrank(t *testing.T) {
	chain := createChain(t)
	counter := deployRuntime(t, chain, counterRuntime())
	other := common.HexToAddress("0x2222")

	chain.Prank(other, false)
	assert.EqualValues(t, other.Big(), word(callMethod(t, chain, testSender, counter, "caller()").ReturnData))
	assert.EqualValues(t, testSender.Big(), word(callMethod(t, chain, testSender, counter, "caller()").ReturnData))

	chain.Prank(other, true)
	assert.EqualValues(t, other.Big(), word(callMethod(t, chain, testSender, counter, "caller()").ReturnData))
	assert.EqualValues(t, other.Big(), word(callMethod(t, chain, testSender, counter, "caller()").ReturnData))
	chain.StopPrank()
	assert.EqualValues(t, testSender.Big(), word(callMethod(t, chain, testSender, counter, "caller()").ReturnData))
}

// TestChainExpectations ensures expectations apply to exactly the next top-level call.
func TestChainExpectations(t *testing.T) {
	chain := createChain(t)
	counter := deployRuntime(t, chain, counterRuntime())

	// A satisfied expectRevert.
	chain.ExpectRevert(&RevertMatcher{})
	outcome := callMethod(t, chain, testSender, counter, "fail()")
	assert.Equal(t, CallStatusReverted, outcome.Status)
	assert.True(t, outcome.ExpectedRevert)
	assert.Empty(t, outcome.ExpectationFailure)

	// An unsatisfied expectRevert is consumed by the call it failed on.
	chain.ExpectRevert(&RevertMatcher{})
	outcome = callMethod(t, chain, testSender, counter, "increment()")
	assert.Equal(t, CallStatusCompleted, outcome.Status)
	assert.NotEmpty(t, outcome.ExpectationFailure)
	outcome = callMethod(t, chain, testSender, counter, "increment()")
	assert.Empty(t, outcome.ExpectationFailure)

	// Revert data is matched exactly, or by prefix for selectors.
	chain.ExpectRevert(&RevertMatcher{Data: []byte{0x01}})
	outcome = callMethod(t, chain, testSender, counter, "fail()")
	assert.False(t, outcome.ExpectedRevert)
	assert.NotEmpty(t, outcome.ExpectationFailure)

	// Emits compare the topics and the data.
	topic := common.BigToHash(big.NewInt(0x42))
	chain.ExpectEmit(&EmitMatcher{Topics: []common.Hash{topic}, Data: common.BigToHash(big.NewInt(7)).Bytes(), CheckData: true})
	outcome = callMethod(t, chain, testSender, counter, "emitEvent()")
	assert.Empty(t, outcome.ExpectationFailure)
	chain.ExpectEmit(&EmitMatcher{Topics: []common.Hash{topic}, Data: common.BigToHash(big.NewInt(8)).Bytes(), CheckData: true})
	outcome = callMethod(t, chain, testSender, counter, "emitEvent()")
	assert.NotEmpty(t, outcome.ExpectationFailure)

	// Calls are observed by target and calldata prefix.
	chain.ExpectCall(counter, testutils.Selector("count()"))
	outcome = callMethod(t, chain, testSender, counter, "count()")
	assert.Empty(t, outcome.ExpectationFailure)

	// Expectations never applied to a call are reported as pending.
	assert.Empty(t, chain.CheckPendingExpectations())
	chain.ExpectCall(counter, testutils.Selector("count()"))
	assert.Len(t, chain.CheckPendingExpectations(), 1)
}

// TestChainMockCall ensures mocked calls replace execution of the mocked address.
func TestChainMockCall(t *testing.T) {
	chain := createChain(t)
	counter := deployRuntime(t, chain, counterRuntime())
	mocked := common.HexToAddress("0x1234")
	mockedReturn := common.BigToHash(big.NewInt(99)).Bytes()

	// Addresses without code return the mocked data for matching calldata, and empty data otherwise.
	chain.MockCall(mocked, testutils.Selector("count()"), mockedReturn)
	outcome := callMethod(t, chain, testSender, mocked, "count()")
	assert.Equal(t, CallStatusCompleted, outcome.Status)
	assert.Equal(t, mockedReturn, outcome.ReturnData)
	outcome = callMethod(t, chain, testSender, mocked, "increment()")
	assert.Equal(t, CallStatusCompleted, outcome.Status)
	assert.Empty(t, outcome.ReturnData)

	// Addresses with code revert for calldata which does not match a mock.
	chain.MockCall(counter, testutils.Selector("count()"), mockedReturn)
	outcome = callMethod(t, chain, testSender, counter, "count()")
	assert.Equal(t, mockedReturn, outcome.ReturnData)
	outcome = callMethod(t, chain, testSender, counter, "increment()")
	assert.Equal(t, CallStatusReverted, outcome.Status)
	assert.Equal(t, "mockCall: calldata does not match a mocked call", outcome.RevertReason)

	// Clearing mocks restores execution.
	chain.ClearMockedCalls()
	outcome = callMethod(t, chain, testSender, counter, "count()")
	assert.EqualValues(t, 0, word(outcome.ReturnData).Uint64())
}

// TestChainBlockCheatCodes ensures warp and roll change the block environment unless the call reverts.
func TestChainBlockCheatCodes(t *testing.T) {
	chain := createChain(t)
	cheats := deployRuntime(t, chain, cheatsRuntime(t))
	assert.EqualValues(t, 1, chain.BlockTimestamp())

	outcome := callMethod(t, chain, testSender, cheats, "doWarp()")
	require.Equal(t, CallStatusCompleted, outcome.Status)
	assert.EqualValues(t, 100, word(outcome.ReturnData).Uint64())
	assert.EqualValues(t, 100, chain.BlockTimestamp())

	outcome = callMethod(t, chain, testSender, cheats, "doWarpThenFail()")
	assert.Equal(t, CallStatusReverted, outcome.Status)
	assert.EqualValues(t, 100, chain.BlockTimestamp())

	outcome = callMethod(t, chain, testSender, cheats, "doRoll()")
	require.Equal(t, CallStatusCompleted, outcome.Status)
	assert.EqualValues(t, 77, word(outcome.ReturnData).Uint64())
	assert.EqualValues(t, 77, chain.BlockNumber())

	// The block environment is part of a checkpoint.
	checkpoint := chain.Checkpoint()
	chain.blockEnv.time = 500
	require.NoError(t, chain.RevertTo(checkpoint))
	assert.EqualValues(t, 100, chain.BlockTimestamp())
}

// TestChainStateCheatCodes ensures the store, load, deal and etch cheat codes operate on the chain state.
func TestChainStateCheatCodes(t *testing.T) {
	chain := createChain(t)
	cheats := deployRuntime(t, chain, cheatsRuntime(t))
	slot := common.BigToHash(big.NewInt(1))

	outcome := callMethod(t, chain, testSender, cheats, "doStore()")
	require.Equal(t, CallStatusCompleted, outcome.Status)
	assert.EqualValues(t, common.BigToHash(big.NewInt(42)), chain.StorageAt(testAccount, slot))
	assert.EqualValues(t, common.BigToHash(big.NewInt(42)), outcome.StorageDiff[testAccount][slot].After)

	outcome = callMethod(t, chain, testSender, cheats, "doLoad()")
	assert.EqualValues(t, 42, word(outcome.ReturnData).Uint64())

	callMethod(t, chain, testSender, cheats, "doDeal()")
	assert.EqualValues(t, 1000, chain.BalanceAt(testAccount).Uint64())

	callMethod(t, chain, testSender, cheats, "doEtch()")
	assert.Equal(t, []byte{0x60, 0x00}, chain.CodeAt(testAccount))
}

// TestChainAssume ensures a failed assume rejects the call and discards its effects.
func TestChainAssume(t *testing.T) {
	chain := createChain(t)
	cheats := deployRuntime(t, chain, cheatsRuntime(t))

	chain.ExpectCall(cheats, nil)
	outcome := callMethod(t, chain, testSender, cheats, "doAssume()")
	assert.Equal(t, CallStatusRejected, outcome.Status)

	// Rejected calls do not consume directives.
	assert.Len(t, chain.CheckPendingExpectations(), 1)
}

// TestChainUnknownCheatCode ensures calling an unimplemented cheat code is a harness fault.
func TestChainUnknownCheatCode(t *testing.T) {
	chain := createChain(t)
	cheats := deployRuntime(t, chain, cheatsRuntime(t))

	var selector [4]byte
	copy(selector[:], testutils.Selector("doUnknown()"))
	outcome, err := chain.Call(calls.NewCallStep(testSender, cheats, selector, nil, nil))
	assert.ErrorIs(t, err, ErrUnknownCheatCode)
	assert.Nil(t, outcome)

	// The chain remains usable.
	outcome = callMethod(t, chain, testSender, cheats, "doWarp()")
	assert.Equal(t, CallStatusCompleted, outcome.Status)
}

// TestChainRecordAndExpectEmit ensures storage accesses are recorded once enabled, and that an expectEmit armed by a
// frame which never makes a call is unmet.
func TestChainRecordAndExpectEmit(t *testing.T) {
	chain := createChain(t)
	cheats := deployRuntime(t, chain, cheatsRuntime(t))

	callMethod(t, chain, testSender, cheats, "doRecord()")
	accesses := chain.StorageAccesses()[cheats]
	require.NotNil(t, accesses)
	assert.Contains(t, accesses.Reads, common.BigToHash(big.NewInt(3)))
	assert.Contains(t, accesses.Reads, common.BigToHash(big.NewInt(4)))
	assert.Equal(t, []common.Hash{common.BigToHash(big.NewInt(4))}, accesses.Writes)

	outcome := callMethod(t, chain, testSender, cheats, "doExpectEmit()")
	require.Equal(t, CallStatusCompleted, outcome.Status)
	assert.Equal(t, "expected emit was not observed", outcome.ExpectationFailure)
	assert.Empty(t, chain.CheckPendingExpectations())
}

// TestChainDeploymentEvents ensures contract deployments are published to subscribers.
func TestChainDeploymentEvents(t *testing.T) {
	chain := createChain(t)
	deployed := make([]common.Address, 0)
	chain.Events.ContractDeploymentsAdded.Subscribe(func(event ContractDeploymentsAddedEvent) error {
		assert.Equal(t, testSender, event.Deployer)
		deployed = append(deployed, event.Addresses...)
		return nil
	})

	address := deployRuntime(t, chain, counterRuntime())
	assert.Equal(t, []common.Address{address}, deployed)
}
