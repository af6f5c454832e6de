package fuzzing

import (
	"math/big"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/crytic/invfuzz/chain"
	"github.com/crytic/invfuzz/fuzzing/calls"
	"github.com/crytic/invfuzz/fuzzing/contracts"
	"github.com/crytic/invfuzz/fuzzing/corpus"
	"github.com/crytic/invfuzz/fuzzing/targets"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/stretchr/testify/require"
)

var (
	fakeTargetAddress = common.HexToAddress("0x1000")
	fakeTestAddress   = common.HexToAddress("0x2000")
	fakeDeployer      = common.HexToAddress("0x30000")
	fakeSenders       = []common.Address{
		common.HexToAddress("0x10000"),
		common.HexToAddress("0x20000"),
		common.HexToAddress("0x30000"),
	}
)

// fakeCounterAbi describes the target of the fake adapter. Its methods behave as follows:
// increment/decrement change the counter by one, add(x) adds x but reverts for x > 1000, guarded(x) is rejected
// unless x is a multiple of ten, never() is always rejected and fail() always reverts.
const fakeCounterAbi = `[
	{"type":"function","name":"increment","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"decrement","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"add","inputs":[{"name":"x","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"guarded","inputs":[{"name":"x","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"never","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"fail","inputs":[],"outputs":[],"stateMutability":"nonpayable"}
]`

// fakeTestAbi describes the test contract of the fake adapter.
const fakeTestAbi = `[
	{"type":"function","name":"invariant_nonNegative","inputs":[],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
	{"type":"function","name":"invariant_belowThree","inputs":[],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
	{"type":"function","name":"afterInvariant","inputs":[],"outputs":[],"stateMutability":"nonpayable"}
]`

// fakeCounterMaxAdd describes the largest argument add(uint256) accepts.
var fakeCounterMaxAdd = big.NewInt(1000)

func mustParseABI(t *testing.T, definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	require.NoError(t, err)
	return parsed
}

// fakeModel describes a counter contract simulated without an EVM, so the driver and shrinker can be tested in
// isolation.
type fakeModel struct {
	counterAbi abi.ABI
	testAbi    abi.ABI
	setup      *TestSetup

	// afterInvariantLimit makes afterInvariant revert once the counter reaches it. Nil if afterInvariant is not
	// declared.
	afterInvariantLimit *big.Int

	// spawns counts the adapters spawned by the factory.
	spawns atomic.Int64
}

// newFakeModel creates a fakeModel whose target exposes only the named counter methods.
func newFakeModel(t *testing.T, methods ...string) *fakeModel {
	m := &fakeModel{
		counterAbi: mustParseABI(t, fakeCounterAbi),
		testAbi:    mustParseABI(t, fakeTestAbi),
	}

	targetAbi := m.counterAbi
	targetAbi.Methods = make(map[string]abi.Method)
	for _, name := range methods {
		method, ok := m.counterAbi.Methods[name]
		require.True(t, ok, "unknown fake method %v", name)
		targetAbi.Methods[name] = method
	}
	counter := contracts.NewContract("Counter", "src/Counter.sol", targetAbi, []byte{0x60, 0x00}, []byte{0x60, 0x01})
	testContract := contracts.NewContract("CounterTest", "test/Counter.t.sol", m.testAbi, []byte{0x60, 0x00}, []byte{0x60, 0x02})

	invariants := findInvariants(testContract, []string{"invariant"})
	selectors := make([][4]byte, len(invariants))
	for i, invariant := range invariants {
		selectors[i] = invariant.Selector
	}
	universe := targets.Resolve(&targets.TargetHooks{}, []targets.Deployment{
		{Address: fakeTestAddress, RuntimeCode: testContract.RuntimeBytecode(), Artifact: testContract},
		{Address: fakeTargetAddress, RuntimeCode: counter.RuntimeBytecode(), Artifact: counter},
	}, targets.ResolveOptions{
		TestAddress:        fakeTestAddress,
		Artifacts:          contracts.Contracts{counter, testContract},
		DefaultSenders:     fakeSenders,
		InterfaceMode:      targets.InterfaceSelectorsReplace,
		InvariantSelectors: selectors,
	})
	m.setup = &TestSetup{
		TestContract: "CounterTest",
		TestAddress:  fakeTestAddress,
		Caller:       fakeDeployer,
		Universe:     universe,
		Invariants:   invariants,
		Artifacts:    contracts.Contracts{counter, testContract},
	}
	return m
}

// withAfterInvariant declares afterInvariant, which reverts once the counter reaches the limit.
func (m *fakeModel) withAfterInvariant(limit int64) *fakeModel {
	m.afterInvariantLimit = big.NewInt(limit)
	method := m.testAbi.Methods["afterInvariant"]
	m.setup.AfterInvariant = &Invariant{Name: method.RawName, Selector: [4]byte(method.ID)}
	return m
}

// testID returns the identity of the named invariant.
func (m *fakeModel) testID(invariant string) corpus.TestID {
	return corpus.TestID{Contract: m.setup.TestContract, Invariant: invariant}
}

// factory returns an AdapterFactory spawning fresh fake adapters with a zero counter.
func (m *fakeModel) factory() AdapterFactory {
	return func() (Adapter, *TestSetup, error) {
		m.spawns.Add(1)
		return &fakeAdapter{model: m, count: new(big.Int)}, m.setup, nil
	}
}

// step creates a call to a counter method from the first sender.
func (m *fakeModel) step(t *testing.T, name string, args ...any) *calls.CallStep {
	method := m.counterAbi.Methods[name]
	step, err := calls.NewCallStepWithAbiValues(fakeSenders[0], fakeTargetAddress, nil, calls.NewCallStepAbiValues(&method, args))
	require.NoError(t, err)
	return step
}

// sequence creates a call sequence of argument-less counter method calls.
func (m *fakeModel) sequence(t *testing.T, names ...string) *calls.CallSequence {
	sequence := calls.NewCallSequence(0)
	for _, name := range names {
		sequence.Append(m.step(t, name))
	}
	return sequence
}

// fakeAdapter simulates the counter contract and its test contract.
type fakeAdapter struct {
	model *fakeModel
	count *big.Int
	saved *big.Int
}

func (f *fakeAdapter) Call(step *calls.CallStep) (*chain.CallOutcome, error) {
	if step.To() == fakeTestAddress {
		limit := f.model.afterInvariantLimit
		if limit != nil && f.count.Cmp(limit) >= 0 {
			return &chain.CallOutcome{Status: chain.CallStatusReverted, RevertReason: "counter reached the limit"}, nil
		}
		return &chain.CallOutcome{Status: chain.CallStatusCompleted}, nil
	}

	method, err := f.model.counterAbi.MethodById(step.Data())
	if err != nil || step.To() != fakeTargetAddress {
		return &chain.CallOutcome{Status: chain.CallStatusReverted}, nil
	}
	var args []any
	if len(method.Inputs) > 0 {
		if args, err = method.Inputs.Unpack(step.Args()); err != nil {
			return &chain.CallOutcome{Status: chain.CallStatusReverted}, nil
		}
	}

	before := new(big.Int).Set(f.count)
	switch method.RawName {
	case "increment":
		f.count.Add(f.count, big.NewInt(1))
	case "decrement":
		f.count.Sub(f.count, big.NewInt(1))
	case "add":
		x := args[0].(*big.Int)
		if x.Cmp(fakeCounterMaxAdd) > 0 {
			return &chain.CallOutcome{Status: chain.CallStatusReverted, RevertReason: "too large"}, nil
		}
		f.count.Add(f.count, x)
	case "guarded":
		if new(big.Int).Mod(args[0].(*big.Int), big.NewInt(10)).Sign() != 0 {
			return &chain.CallOutcome{Status: chain.CallStatusRejected}, nil
		}
	case "never":
		return &chain.CallOutcome{Status: chain.CallStatusRejected}, nil
	case "fail":
		return &chain.CallOutcome{Status: chain.CallStatusReverted, RevertReason: "always fails"}, nil
	}

	diff := chain.StorageDiff{}
	if before.Cmp(f.count) != 0 {
		diff[fakeTargetAddress] = map[common.Hash]chain.StorageSlotDiff{
			{}: {Before: common.BigToHash(before), After: common.BigToHash(f.count)},
		}
	}
	return &chain.CallOutcome{Status: chain.CallStatusCompleted, StorageDiff: diff}, nil
}

func (f *fakeAdapter) StaticCall(from common.Address, to common.Address, data []byte) (*chain.CallOutcome, error) {
	method, err := f.model.testAbi.MethodById(data)
	if err != nil || to != fakeTestAddress {
		return &chain.CallOutcome{Status: chain.CallStatusReverted}, nil
	}
	var holds bool
	switch method.RawName {
	case "invariant_nonNegative":
		holds = f.count.Sign() >= 0
	case "invariant_belowThree":
		holds = f.count.Cmp(big.NewInt(3)) < 0
	default:
		return &chain.CallOutcome{Status: chain.CallStatusReverted}, nil
	}
	result := common.Hash{}
	if holds {
		result[common.HashLength-1] = 1
	}
	return &chain.CallOutcome{Status: chain.CallStatusCompleted, ReturnData: result.Bytes()}, nil
}

func (f *fakeAdapter) Checkpoint() chain.Checkpoint {
	f.saved = new(big.Int).Set(f.count)
	return chain.Checkpoint{}
}

func (f *fakeAdapter) RevertTo(chain.Checkpoint) error {
	f.count = new(big.Int).Set(f.saved)
	return nil
}

func (f *fakeAdapter) CodeAt(address common.Address) []byte {
	switch address {
	case fakeTargetAddress:
		return []byte{0x60, 0x01}
	case fakeTestAddress:
		return []byte{0x60, 0x02}
	}
	return nil
}

func (f *fakeAdapter) CheckPendingExpectations() []string {
	return nil
}
