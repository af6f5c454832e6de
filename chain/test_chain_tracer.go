package chain

import (
	"math/big"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/tracing"
	coreTypes "github.com/crytic/medusa-geth/core/types"
	"github.com/crytic/medusa-geth/core/vm"
	"golang.org/x/exp/slices"
)

// observedCall describes a call frame entered during execution.
type observedCall struct {
	target common.Address
	input  []byte
}

// executionTracerFrame describes a call frame tracked by the executionTracer.
type executionTracerFrame struct {
	// createdContracts describes the contracts created by this frame and its successful descendants.
	createdContracts []common.Address
}

// executionTracer collects the per-call observations used to build a CallOutcome: storage diffs, created contracts,
// entered call frames and storage accesses. It also fills expectEmit templates from logs.
type executionTracer struct {
	// chain describes the TestChain the tracer is attached to.
	chain *TestChain

	// frames describes the stack of call frames currently entered.
	frames []*executionTracerFrame

	// createdContracts describes the contracts created by the current top-level call, once its frames succeed.
	createdContracts []common.Address

	// storageBefore describes the value of every storage slot written by the current call, before it was first
	// written.
	storageBefore map[common.Address]map[common.Hash]common.Hash

	// observedCalls describes every call frame entered by the current call.
	observedCalls []observedCall
}

// newExecutionTracer creates a new executionTracer for the provided chain.
func newExecutionTracer(chain *TestChain) *executionTracer {
	t := &executionTracer{chain: chain}
	t.reset()
	return t
}

// reset clears the observations of the previous call.
func (t *executionTracer) reset() {
	t.frames = make([]*executionTracerFrame, 0)
	t.createdContracts = make([]common.Address, 0)
	t.storageBefore = make(map[common.Address]map[common.Hash]common.Hash)
	t.observedCalls = make([]observedCall, 0)
}

// hooks returns the tracing hooks to attach to the EVM.
func (t *executionTracer) hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter:  t.OnEnter,
		OnExit:   t.OnExit,
		OnOpcode: t.OnOpcode,
		OnLog:    t.OnLog,
	}
}

// OnEnter is called upon entering of the call frame, as defined by tracers.Tracer.
func (t *executionTracer) OnEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	frame := &executionTracerFrame{createdContracts: make([]common.Address, 0)}
	opType := vm.OpCode(typ)
	if opType == vm.CREATE || opType == vm.CREATE2 {
		frame.createdContracts = append(frame.createdContracts, to)
	} else {
		t.observedCalls = append(t.observedCalls, observedCall{target: to, input: slices.Clone(input)})
	}
	t.frames = append(t.frames, frame)
}

// OnExit is called after a call to finalize tracing completes for the top of a call frame, as defined by
// tracers.Tracer.
func (t *executionTracer) OnExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if len(t.frames) == 0 {
		return
	}
	frame := t.frames[len(t.frames)-1]
	t.frames = t.frames[:len(t.frames)-1]

	// Contracts created by a failed frame were rolled back with it.
	if err != nil || reverted {
		return
	}
	if len(t.frames) > 0 {
		parent := t.frames[len(t.frames)-1]
		parent.createdContracts = append(parent.createdContracts, frame.createdContracts...)
	} else {
		t.createdContracts = append(t.createdContracts, frame.createdContracts...)
	}
}

// OnOpcode records storage reads and writes, as defined by tracers.Tracer.
func (t *executionTracer) OnOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	opCode := vm.OpCode(op)
	if opCode != vm.SLOAD && opCode != vm.SSTORE {
		return
	}
	stack := scope.StackData()
	if len(stack) == 0 {
		return
	}
	slot := common.Hash(stack[len(stack)-1].Bytes32())
	address := scope.Address()

	if opCode == vm.SSTORE {
		t.noteStorageWrite(address, slot)
	}
	t.chain.directives.recordAccess(address, slot, opCode == vm.SSTORE)
}

// OnLog fills a pending expectEmit template with the first log emitted after it was armed, as defined by
// tracers.Tracer.
func (t *executionTracer) OnLog(log *coreTypes.Log) {
	directives := t.chain.directives
	if directives.capturingEmit == nil {
		return
	}
	matcher := directives.capturingEmit
	matcher.Topics = slices.Clone(log.Topics)
	matcher.Data = slices.Clone(log.Data)
	directives.capturingEmit = nil
	directives.expectedEmits = append(directives.expectedEmits, matcher)
}

// noteStorageWrite records the value of a storage slot before the current call first writes it.
func (t *executionTracer) noteStorageWrite(address common.Address, slot common.Hash) {
	slots, ok := t.storageBefore[address]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		t.storageBefore[address] = slots
	}
	if _, seen := slots[slot]; !seen {
		slots[slot] = t.chain.state.GetState(address, slot)
	}
}

// storageDiff compares the recorded storage values against the current state, omitting slots which ended up
// unchanged.
func (t *executionTracer) storageDiff() StorageDiff {
	diff := make(StorageDiff)
	for address, slots := range t.storageBefore {
		for slot, before := range slots {
			after := t.chain.state.GetState(address, slot)
			if after == before {
				continue
			}
			if _, ok := diff[address]; !ok {
				diff[address] = make(map[common.Hash]StorageSlotDiff)
			}
			diff[address][slot] = StorageSlotDiff{Before: before, After: after}
		}
	}
	return diff
}
