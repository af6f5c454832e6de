package chain

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/crytic/invfuzz/chain/config"
	"github.com/crytic/invfuzz/chain/types"
	"github.com/crytic/invfuzz/fuzzing/calls"
	"github.com/crytic/invfuzz/utils"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core"
	"github.com/crytic/medusa-geth/core/rawdb"
	gethState "github.com/crytic/medusa-geth/core/state"
	gethTypes "github.com/crytic/medusa-geth/core/types"
	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/medusa-geth/crypto"
	"github.com/crytic/medusa-geth/params"
	"github.com/crytic/medusa-geth/triedb"
	"github.com/crytic/medusa-geth/triedb/hashdb"
	"golang.org/x/exp/maps"
)

var (
	// ErrCallInProgress is returned when a call is submitted (or the chain is reverted) while another call is being
	// executed, e.g. from within a cheat code.
	ErrCallInProgress = errors.New("a call is already in progress on the test chain")

	// ErrStaleCheckpoint is returned when reverting to a checkpoint which was invalidated by an earlier revert.
	ErrStaleCheckpoint = errors.New("the checkpoint is no longer valid")

	// ErrUnknownCheatCode is returned when a call reaches the cheat code contract with a selector it does not
	// implement.
	ErrUnknownCheatCode = errors.New("unknown cheat code")
)

// TestChain represents a simulated Ethereum execution environment used for testing. Rather than maintaining blocks,
// it executes calls directly over a single state database whose journal backs cheap checkpoints, and it tracks the
// directives armed through cheat codes which affect upcoming calls.
type TestChain struct {
	// testChainConfig describes the configuration options used to create the chain.
	testChainConfig *config.TestChainConfig

	// chainConfig describes the go-ethereum chain (fork) configuration calls are executed with.
	chainConfig *params.ChainConfig

	// genesisDefinition represents the Genesis information used to generate the chain's initial state.
	genesisDefinition *core.Genesis

	// state represents the state database every call is executed over.
	state *gethState.StateDB

	// blockEnv describes the block environment calls are executed in.
	blockEnv *blockEnvironment

	// directives describes the directives armed for upcoming calls.
	directives *directiveState

	// checkpoints describes the stack of valid checkpoints.
	checkpoints []*checkpointEntry

	// checkpointCounter is used to assign unique identifiers to checkpoints.
	checkpointCounter uint64

	// callInProgress indicates whether a call is being executed.
	callInProgress bool

	// callSnapshot describes the journal revision taken before the call in progress was executed.
	callSnapshot int

	// currentEVM describes the EVM executing the call in progress. Cheat codes use it to change what the interpreter
	// observes mid-call.
	currentEVM *vm.EVM

	// tracer describes the tracer collecting observations for the call in progress.
	tracer *executionTracer

	// cheatCodeTracer describes the tracer scoping cheat code directives to the call frames of the call in progress.
	cheatCodeTracer *cheatCodeTracer

	// tracerForwarder forwards the EVM's tracing hooks to tracer and cheatCodeTracer.
	tracerForwarder *types.TracerForwarder

	// cheatSnapshots describes the block environment and labels captured by each snapshot cheat code taken during the
	// call in progress, by snapshot id.
	cheatSnapshots map[int]*cheatSnapshot

	// cheatCodeContract describes the cheat code precompile, or nil if cheat codes are disabled.
	cheatCodeContract *cheatCodeContract

	// fault describes a harness fault raised during the call in progress.
	fault error

	// assumeRejected indicates whether an assume cheat code failed during the call in progress.
	assumeRejected bool

	// messageCount counts the messages executed, used to derive a unique hash for each message's logs.
	messageCount uint64

	// labels describes human-readable names for addresses, set through the label cheat code.
	labels map[common.Address]string

	// Events defines the event system for the TestChain.
	Events TestChainEvents
}

// NewTestChain creates a simulated Ethereum backend used for testing, with the provided accounts allocated at
// genesis. If the config is nil, the default configuration is used.
// Returns the test chain, or an error if one occurred.
func NewTestChain(genesisAlloc gethTypes.GenesisAlloc, testChainConfig *config.TestChainConfig) (*TestChain, error) {
	if testChainConfig == nil {
		testChainConfig = config.DefaultTestChainConfig()
	}

	// Copy our chain config, so it is not shared across chains.
	chainConfig, err := utils.CopyChainConfig(params.TestChainConfig)
	if err != nil {
		return nil, err
	}

	// go-ethereum's test config does not activate the latest forks at genesis, so we do it here.
	forkTime := uint64(0)
	chainConfig.ShanghaiTime = &forkTime
	chainConfig.CancunTime = &forkTime
	chainConfig.PragueTime = &forkTime
	chainConfig.BlobScheduleConfig = params.DefaultBlobSchedule

	// Create our genesis definition with our default chain config.
	alloc := maps.Clone(genesisAlloc)
	if alloc == nil {
		alloc = make(gethTypes.GenesisAlloc)
	}
	genesisDefinition := &core.Genesis{
		Config:     chainConfig,
		Difficulty: common.Big0,
		Alloc:      alloc,
		BaseFee:    big.NewInt(0),
	}

	// Cheat codes are implemented as pre-compiles, but we still want code to exist at their address, because smart
	// contracts compiled with newer solidity versions perform code size checks prior to external calls.
	if testChainConfig.CheatCodeConfig.CheatCodesEnabled {
		genesisDefinition.Alloc[StandardCheatcodeContractAddress] = gethTypes.Account{
			Balance: big.NewInt(0),
			Code:    []byte{0xFF},
		}
	}

	// Create an in-memory database and commit our genesis definition to it.
	db := rawdb.NewMemoryDatabase()
	trieDB := triedb.NewDatabase(db, &triedb.Config{HashDB: hashdb.Defaults})
	genesisBlock := genesisDefinition.MustCommit(db, trieDB)

	// Create our state database over-top our database.
	stateDB, err := gethState.New(genesisBlock.Root(), gethState.NewDatabase(trieDB, nil))
	if err != nil {
		return nil, err
	}

	chain := &TestChain{
		testChainConfig:   testChainConfig,
		chainConfig:       chainConfig,
		genesisDefinition: genesisDefinition,
		state:             stateDB,
		blockEnv: &blockEnvironment{
			number:   testChainConfig.InitialBlockNumber,
			time:     testChainConfig.InitialBlockTimestamp,
			baseFee:  big.NewInt(0),
			gasLimit: testChainConfig.CallGasLimit,
		},
		directives:     newDirectiveState(),
		checkpoints:    make([]*checkpointEntry, 0),
		labels:         make(map[common.Address]string),
		cheatSnapshots: make(map[int]*cheatSnapshot),
	}
	chain.tracer = newExecutionTracer(chain)
	chain.cheatCodeTracer = newCheatCodeTracer(chain)
	chain.tracerForwarder = types.NewTracerForwarder(chain.tracer.hooks(), chain.cheatCodeTracer.hooks())

	if testChainConfig.CheatCodeConfig.CheatCodesEnabled {
		chain.cheatCodeContract, err = getStandardCheatCodeContract(chain)
		if err != nil {
			return nil, err
		}
	}
	return chain, nil
}

// Config returns the configuration the chain was created with.
func (t *TestChain) Config() *config.TestChainConfig {
	return t.testChainConfig
}

// GenesisDefinition returns the core.Genesis definition used to initialize the chain.
func (t *TestChain) GenesisDefinition() *core.Genesis {
	return t.genesisDefinition
}

// State returns the state database calls are executed over.
func (t *TestChain) State() *gethState.StateDB {
	return t.state
}

// BlockNumber returns the block number calls are currently executed at.
func (t *TestChain) BlockNumber() uint64 {
	return t.blockEnv.number
}

// BlockTimestamp returns the block timestamp calls are currently executed at.
func (t *TestChain) BlockTimestamp() uint64 {
	return t.blockEnv.time
}

// CodeAt returns the code deployed at the provided address.
func (t *TestChain) CodeAt(address common.Address) []byte {
	return t.state.GetCode(address)
}

// BalanceAt returns the balance of the provided address.
func (t *TestChain) BalanceAt(address common.Address) *big.Int {
	return t.state.GetBalance(address).ToBig()
}

// StorageAt returns the value of a storage slot of the provided address.
func (t *TestChain) StorageAt(address common.Address, slot common.Hash) common.Hash {
	return t.state.GetState(address, slot)
}

// Labels returns a copy of the human-readable names assigned to addresses.
func (t *TestChain) Labels() map[common.Address]string {
	return maps.Clone(t.labels)
}

// IsInfrastructureAddress indicates whether an address hosts harness infrastructure (a cheat code contract) rather
// than user code.
func (t *TestChain) IsInfrastructureAddress(address common.Address) bool {
	return t.cheatCodeContract != nil && address == t.cheatCodeContract.address
}

// Deploy executes a contract creation with the provided init code and value.
// Returns the address of the deployed contract (zero if the deployment did not complete), the outcome of the
// deployment, or an error if a harness fault occurred.
func (t *TestChain) Deploy(from common.Address, initCode []byte, value *big.Int) (common.Address, *CallOutcome, error) {
	outcome, err := t.execute(from, nil, initCode, value, true)
	if err != nil {
		return common.Address{}, nil, err
	}
	if outcome.Status != CallStatusCompleted || len(outcome.CreatedContracts) == 0 {
		return common.Address{}, outcome, nil
	}
	return outcome.CreatedContracts[0], outcome, nil
}

// Call executes the provided call step, keeping its state changes if it completes.
// Returns the outcome of the call. Contract-level failures (reverts, halts) are reported through the outcome, while
// the error is reserved for harness faults.
func (t *TestChain) Call(step *calls.CallStep) (*CallOutcome, error) {
	to := step.To()
	return t.execute(step.From(), &to, step.Data(), step.Value(), true)
}

// StaticCall executes a call and discards every change it made, including to the block environment and directives.
// Armed pranks and expectations are neither applied nor consumed.
// Returns the outcome of the call, or an error if a harness fault occurred.
func (t *TestChain) StaticCall(from common.Address, to common.Address, data []byte) (*CallOutcome, error) {
	if t.callInProgress {
		return nil, ErrCallInProgress
	}
	snapshot := t.state.Snapshot()
	blockEnv := t.blockEnv.clone()
	directives := t.directives.clone()
	labels := maps.Clone(t.labels)

	outcome, err := t.execute(from, &to, data, nil, false)

	if revertErr := t.revertStateTo(snapshot); revertErr != nil && err == nil {
		err = revertErr
	}
	t.blockEnv = blockEnv
	t.directives = directives
	t.labels = labels
	return outcome, err
}

// raiseFault records a harness fault for the call in progress. Only the first fault is kept.
func (t *TestChain) raiseFault(err error) {
	if t.fault == nil {
		t.fault = err
	}
}

// execute runs a message over the chain state. If applyDirectives is set, the prank armed for top-level calls is
// applied and the expectations armed for top-level calls are consumed and evaluated. Directives armed by cheat codes
// within the message are scoped to its call frames by the cheatCodeTracer. Contract creations are executed when to is
// nil.
func (t *TestChain) execute(from common.Address, to *common.Address, data []byte, value *big.Int, applyDirectives bool) (*CallOutcome, error) {
	if t.callInProgress {
		return nil, ErrCallInProgress
	}
	t.callInProgress = true
	defer func() {
		t.callInProgress = false
		t.currentEVM = nil
	}()

	if value == nil {
		value = big.NewInt(0)
	}

	// Rejected calls leave no trace, not even on the directives they would consume.
	directivesBeforeCall := t.directives.clone()

	// Consume the directives which apply to this call. Pranks and expectations are consumed even if the call fails.
	sender := from
	expectations := &pendingExpectations{}
	if applyDirectives {
		if prank := t.directives.prank; prank != nil {
			sender = prank.sender
			if !prank.persistent {
				t.directives.prank = nil
			}
		}
		expectations = t.directives.takeExpectations()
	}
	directivesBeforeExecution := t.directives.clone()
	blockEnvBeforeExecution := t.blockEnv.clone()
	labelsBeforeExecution := maps.Clone(t.labels)

	t.callSnapshot = t.state.Snapshot()
	t.cheatSnapshots = make(map[int]*cheatSnapshot)
	t.tracer.reset()
	t.cheatCodeTracer.reset()
	t.fault = nil
	t.assumeRejected = false

	// Logs are recorded per message hash, so give each message a unique one.
	t.messageCount++
	messageHash := crypto.Keccak256Hash(new(big.Int).SetUint64(t.messageCount).Bytes())
	t.state.SetTxContext(messageHash, 0)

	// Register our precompiles for this call: the cheat code contract and any mocked addresses.
	vmConfigExtensions := t.testChainConfig.GetVMConfigExtensions()
	if t.cheatCodeContract != nil {
		vmConfigExtensions.AdditionalPrecompiles[t.cheatCodeContract.address] = t.cheatCodeContract
	}
	for _, address := range t.directives.mockedAddresses() {
		vmConfigExtensions.AdditionalPrecompiles[address] = &mockedCallContract{
			address: address,
			hasCode: t.state.GetCodeSize(address) > 0,
			chain:   t,
		}
	}

	// Create our EVM instance. The state is wrapped so logs reach our tracers as they are emitted.
	hooks := t.tracerForwarder.Hooks()
	blockContext := newTestChainBlockContext(t.blockEnv)
	t.currentEVM = vm.NewEVM(blockContext, gethState.NewHookedState(t.state, hooks), t.chainConfig, vm.Config{
		Tracer:           hooks,
		NoBaseFee:        true,
		ConfigExtensions: vmConfigExtensions,
	})

	// Senders may have code when they are contracts or pranked addresses, so account checks are skipped by default.
	msg := &core.Message{
		To:               to,
		From:             sender,
		Nonce:            t.state.GetNonce(sender),
		Value:            value,
		GasLimit:         t.testChainConfig.CallGasLimit,
		GasPrice:         big.NewInt(0),
		GasFeeCap:        big.NewInt(0),
		GasTipCap:        big.NewInt(0),
		Data:             data,
		SkipNonceChecks:  t.testChainConfig.SkipAccountChecks,
		SkipFromEOACheck: t.testChainConfig.SkipAccountChecks,
	}
	result, err := t.applyMessage(msg)
	if err == nil && t.fault != nil {
		err = t.fault
	}

	// restore discards every effect of the call.
	restore := func(directives *directiveState) error {
		t.blockEnv = blockEnvBeforeExecution
		t.directives = directives
		t.labels = labelsBeforeExecution
		return t.revertStateTo(t.callSnapshot)
	}

	// Messages which could not be dispatched (e.g. the sender cannot afford the value) are contract-level failures,
	// anything else is a harness fault.
	if err != nil {
		if !isDispatchError(err) {
			_ = restore(directivesBeforeExecution)
			return nil, err
		}
		if restoreErr := restore(directivesBeforeExecution); restoreErr != nil {
			return nil, restoreErr
		}
		outcome := &CallOutcome{
			Status:       CallStatusReverted,
			RevertReason: err.Error(),
		}
		if applyDirectives && !expectations.empty() {
			outcome.ExpectedRevert, outcome.ExpectationFailure = expectations.evaluate(true, nil, nil, t.tracer.observedCalls)
		}
		return outcome, nil
	}

	outcome := &CallOutcome{
		ReturnData:       result.ReturnData,
		GasUsed:          result.UsedGas,
		Logs:             make([]*gethTypes.Log, 0),
		StorageDiff:      make(StorageDiff),
		CreatedContracts: make([]common.Address, 0),
	}
	switch {
	case result.Err == nil:
		outcome.Status = CallStatusCompleted
		outcome.Logs = t.state.GetLogs(messageHash, t.blockEnv.number, common.Hash{})
		outcome.StorageDiff = t.tracer.storageDiff()
		outcome.CreatedContracts = t.tracer.createdContracts
	case errors.Is(result.Err, vm.ErrExecutionReverted):
		outcome.Status = CallStatusReverted
		outcome.ReturnData = result.Revert()
		outcome.RevertReason, outcome.PanicCode = decodeRevertData(outcome.ReturnData)
		if t.assumeRejected || bytes.Equal(outcome.ReturnData, assumeRevertData) {
			outcome.Status = CallStatusRejected
		}
	default:
		outcome.Status = CallStatusHalted
		outcome.RevertReason = result.Err.Error()
	}

	switch outcome.Status {
	case CallStatusRejected:
		if err := restore(directivesBeforeCall); err != nil {
			return nil, err
		}
		return outcome, nil
	case CallStatusReverted, CallStatusHalted:
		if err := restore(directivesBeforeExecution); err != nil {
			return nil, err
		}
	}

	if applyDirectives && !expectations.empty() {
		outcome.ExpectedRevert, outcome.ExpectationFailure = expectations.evaluate(
			outcome.Status != CallStatusCompleted, outcome.ReturnData, outcome.Logs, t.tracer.observedCalls,
		)
	}
	if failure := t.cheatCodeTracer.failure(); failure != "" {
		if outcome.ExpectationFailure != "" {
			outcome.ExpectationFailure += "; "
		}
		outcome.ExpectationFailure += failure
	}

	// Announce any contracts this call deployed.
	if applyDirectives && len(outcome.CreatedContracts) > 0 {
		err = t.Events.ContractDeploymentsAdded.Publish(ContractDeploymentsAddedEvent{
			Chain:     t,
			Deployer:  sender,
			Addresses: outcome.CreatedContracts,
		})
		if err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

// applyMessage applies the message with the current EVM, converting panics raised by the state database into harness
// faults.
func (t *TestChain) applyMessage(msg *core.Message) (result *core.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			if strings.Contains(fmt.Sprint(r), "revision") {
				err = fmt.Errorf("%w: %v", ErrStaleCheckpoint, r)
			} else {
				err = fmt.Errorf("execution panicked: %v", r)
			}
		}
	}()

	// Fund the gas pool, so it can execute endlessly (no block gas limit).
	gasPool := new(core.GasPool).AddGas(MaxUint64.Uint64())
	return core.ApplyMessage(t.currentEVM, msg, gasPool)
}

// isDispatchError indicates whether an error returned by core.ApplyMessage describes a message which could not be
// executed for reasons the caller controls, rather than a fault of the harness.
func isDispatchError(err error) bool {
	return errors.Is(err, core.ErrInsufficientFunds) ||
		errors.Is(err, core.ErrInsufficientFundsForTransfer) ||
		errors.Is(err, core.ErrSenderNoEOA)
}

// Prank sets the sender of the next top-level call, or of every following top-level call if persistent is set. Pranks
// armed through cheat codes apply to the calls made by the invoking frame instead.
func (t *TestChain) Prank(sender common.Address, persistent bool) {
	t.directives.prank = &prankDirective{sender: sender, persistent: persistent}
}

// StopPrank clears any armed prank.
func (t *TestChain) StopPrank() {
	t.directives.prank = nil
}

// ExpectRevert arms an expectation that the next top-level call reverts as described by the matcher.
func (t *TestChain) ExpectRevert(matcher *RevertMatcher) {
	t.directives.expectedRevert = matcher
}

// ExpectEmit arms an expectation that the next top-level call emits a log described by the matcher.
func (t *TestChain) ExpectEmit(matcher *EmitMatcher) {
	t.directives.expectedEmits = append(t.directives.expectedEmits, matcher)
}

// ExpectCall arms an expectation that the next top-level call calls the target with calldata starting with the
// provided prefix.
func (t *TestChain) ExpectCall(target common.Address, calldataPrefix []byte) {
	t.directives.expectedCalls = append(t.directives.expectedCalls, &CallMatcher{
		Target:         target,
		CalldataPrefix: bytes.Clone(calldataPrefix),
	})
}

// MockCall makes calls to the target with calldata starting with the provided prefix return the provided data
// instead of executing. Mocks take effect from the next top-level call.
func (t *TestChain) MockCall(target common.Address, calldataPrefix []byte, returnData []byte) {
	t.directives.addMock(target, calldataPrefix, returnData)
}

// ClearMockedCalls removes every mocked call.
func (t *TestChain) ClearMockedCalls() {
	t.directives.mocks = make(map[common.Address][]mockedCall)
}

// RecordStorageAccesses enables or disables recording of storage reads and writes. Enabling recording clears any
// previously recorded accesses.
func (t *TestChain) RecordStorageAccesses(enabled bool) {
	t.directives.recording = enabled
	if enabled {
		t.directives.accesses = make(map[common.Address]*StorageAccesses)
	}
}

// StorageAccesses returns a copy of the recorded storage accesses, by account.
func (t *TestChain) StorageAccesses() map[common.Address]*StorageAccesses {
	return t.directives.clone().accesses
}

// CheckPendingExpectations describes the expectations which are still armed and were never applied to a call.
// Returns an empty slice if there are none.
func (t *TestChain) CheckPendingExpectations() []string {
	pending := &pendingExpectations{
		revert: t.directives.expectedRevert,
		emits:  t.directives.expectedEmits,
		calls:  t.directives.expectedCalls,
	}
	descriptions := pending.describe()
	if t.directives.capturingEmit != nil {
		descriptions = append(descriptions, "expectEmit was armed but no template log was emitted")
	}
	return descriptions
}
