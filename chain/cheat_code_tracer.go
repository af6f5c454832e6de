package chain

import (
	"math/big"
	"strings"

	"github.com/crytic/invfuzz/chain/types"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/tracing"
	coreTypes "github.com/crytic/medusa-geth/core/types"
	"github.com/crytic/medusa-geth/core/vm"
	"golang.org/x/exp/slices"
)

// cheatCodeTracer tracks the call frames of the call in progress, so cheat codes can scope their effects to the frame
// which invoked them. Pranks and expectations armed by a frame bind to the next call that frame makes, and changes to
// the block environment are undone with the frame which made them.
type cheatCodeTracer struct {
	// chain refers to the TestChain which this tracer is bound to.
	chain *TestChain

	// callFrames represents the per-call-frame data of the frames currently entered.
	callFrames []*cheatCodeTracerCallFrame

	// expectationFailures describes the expectations armed within the call in progress which were not met.
	expectationFailures []string
}

// cheatCodeTracerCallFrame represents per-call-frame data traced by a cheatCodeTracer.
type cheatCodeTracerCallFrame struct {
	// callType describes the instruction which entered the frame.
	callType vm.OpCode

	// onNextFrameEnterHooks describes hooks which are moved to the next call frame this frame enters, and executed
	// once it executes its first instruction.
	// The hooks are executed as a queue.
	onNextFrameEnterHooks types.GenericHookFuncs

	// onFrameEnterHooks describes hooks executed when this frame executes its first instruction, as its scope is only
	// known then.
	// The hooks are executed as a queue.
	onFrameEnterHooks types.GenericHookFuncs

	// onNextInstructionHooks describes hooks executed before this frame executes its next instruction, such as the
	// first instruction after a call it made returned.
	// The hooks are executed as a queue.
	onNextInstructionHooks types.GenericHookFuncs

	// onFrameExitRestoreHooks describes hooks which are executed when this call frame is exited.
	// The hooks are executed as a stack.
	onFrameExitRestoreHooks types.GenericHookFuncs

	// onChainRevertRestoreHooks describes hooks which undo changes made within this frame. They are executed if this
	// frame, or a parent frame, reverts. Otherwise, they are propagated to the parent frame when this frame exits.
	// The hooks are executed as a stack.
	onChainRevertRestoreHooks types.GenericHookFuncs

	// started indicates whether the frame has executed an instruction.
	started bool

	// vmScope describes the frame's scope context, set once it executes its first instruction.
	vmScope *vm.ScopeContext

	// prank describes the persistent sender override of calls made by this frame, set by startPrank.
	prank *common.Address

	// armedExpectations describes the expectations which bind to the next call this frame makes.
	armedExpectations *pendingExpectations

	// capturingEmit describes an expectEmit armed by this frame which awaits its template log, or nil.
	capturingEmit *EmitMatcher

	// expectations describes the expectations this frame, along with its descendants, must satisfy.
	expectations *pendingExpectations

	// logs describes the logs emitted by this frame and its descendants which did not revert.
	logs []*coreTypes.Log

	// calls describes this frame's call, along with every call made by its descendants.
	calls []observedCall
}

// newCheatCodeTracer creates a cheatCodeTracer for the provided chain.
func newCheatCodeTracer(chain *TestChain) *cheatCodeTracer {
	t := &cheatCodeTracer{chain: chain}
	t.reset()
	return t
}

// reset clears the frames and failures of the previous call.
func (t *cheatCodeTracer) reset() {
	t.callFrames = make([]*cheatCodeTracerCallFrame, 0)
	t.expectationFailures = make([]string, 0)
}

// hooks returns the tracing hooks to attach to the EVM.
func (t *cheatCodeTracer) hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter:  t.OnEnter,
		OnExit:   t.OnExit,
		OnOpcode: t.OnOpcode,
		OnLog:    t.OnLog,
	}
}

// PreviousCallFrame returns the parent of the current call frame, or nil if there is none. While a cheat code
// executes, this is the frame which called it.
func (t *cheatCodeTracer) PreviousCallFrame() *cheatCodeTracerCallFrame {
	if len(t.callFrames) < 2 {
		return nil
	}
	return t.callFrames[len(t.callFrames)-2]
}

// CurrentCallFrame returns the current call frame of the EVM execution, or nil if there is none.
func (t *cheatCodeTracer) CurrentCallFrame() *cheatCodeTracerCallFrame {
	if len(t.callFrames) == 0 {
		return nil
	}
	return t.callFrames[len(t.callFrames)-1]
}

// OnEnter is called upon entering of the call frame, as defined by tracing.Hooks.
func (t *cheatCodeTracer) OnEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	callFrame := &cheatCodeTracerCallFrame{
		callType: vm.OpCode(typ),
		logs:     make([]*coreTypes.Log, 0),
		calls:    []observedCall{{target: to, input: slices.Clone(input)}},
	}

	// Calls to the cheat code contract are how directives are armed, so they never consume them.
	parentCallFrame := t.CurrentCallFrame()
	if parentCallFrame != nil && !t.chain.IsInfrastructureAddress(to) {
		if parentCallFrame.prank != nil {
			sender := *parentCallFrame.prank
			callFrame.onFrameEnterHooks.Push(func() {
				t.prankCurrentFrame(sender)
			})
		}
		callFrame.onFrameEnterHooks = append(callFrame.onFrameEnterHooks, parentCallFrame.onNextFrameEnterHooks...)
		parentCallFrame.onNextFrameEnterHooks = nil

		callFrame.expectations = parentCallFrame.armedExpectations
		parentCallFrame.armedExpectations = nil
	}
	t.callFrames = append(t.callFrames, callFrame)
}

// OnExit is called after a call to finalize tracing completes for the top of a call frame, as defined by
// tracing.Hooks.
func (t *cheatCodeTracer) OnExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if len(t.callFrames) == 0 {
		return
	}
	exitingCallFrame := t.callFrames[len(t.callFrames)-1]
	t.callFrames = t.callFrames[:len(t.callFrames)-1]
	parentCallFrame := t.CurrentCallFrame()

	exitingCallFrame.onFrameExitRestoreHooks.Execute(false, true)
	failed := err != nil || reverted

	// Directives armed by a frame which never made a call are unmet once it returns.
	if !failed {
		unused := exitingCallFrame.armedExpectations
		if unused != nil && !unused.empty() {
			t.expectationFailures = append(t.expectationFailures, unused.describe()...)
		}
		if exitingCallFrame.capturingEmit != nil {
			t.expectationFailures = append(t.expectationFailures, "expectEmit was armed but no template log was emitted")
		}
	}

	// Evaluate the expectations bound to this frame. An expected revert is reported to the caller as a success.
	if expectations := exitingCallFrame.expectations; expectations != nil && !expectations.empty() {
		expectedRevert, failure := expectations.evaluate(failed, output, exitingCallFrame.logs, exitingCallFrame.calls)
		if failure != "" {
			t.expectationFailures = append(t.expectationFailures, failure)
		}
		if expectedRevert && parentCallFrame != nil && isCallOpCode(exitingCallFrame.callType) {
			parentCallFrame.onNextInstructionHooks.Push(func() {
				t.setCallSucceeded(parentCallFrame)
			})
		}
	}

	if parentCallFrame == nil {
		return
	}
	parentCallFrame.calls = append(parentCallFrame.calls, exitingCallFrame.calls...)
	if failed {
		exitingCallFrame.onChainRevertRestoreHooks.Execute(false, true)
		return
	}
	parentCallFrame.logs = append(parentCallFrame.logs, exitingCallFrame.logs...)
	parentCallFrame.onChainRevertRestoreHooks = append(parentCallFrame.onChainRevertRestoreHooks, exitingCallFrame.onChainRevertRestoreHooks...)
}

// OnOpcode executes the hooks awaiting the current frame's next instruction, as defined by tracing.Hooks.
func (t *cheatCodeTracer) OnOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	currentCallFrame := t.CurrentCallFrame()
	if currentCallFrame == nil {
		return
	}
	if !currentCallFrame.started {
		currentCallFrame.started = true
		// The interpreter passes its scope context to tracers.
		currentCallFrame.vmScope, _ = scope.(*vm.ScopeContext)
		currentCallFrame.onFrameEnterHooks.Execute(true, true)
	}
	if len(currentCallFrame.onNextInstructionHooks) > 0 {
		currentCallFrame.onNextInstructionHooks.Execute(true, true)
	}
}

// OnLog records a log with the frame which emitted it, and fills a pending expectEmit template of that frame, as
// defined by tracing.Hooks.
func (t *cheatCodeTracer) OnLog(log *coreTypes.Log) {
	currentCallFrame := t.CurrentCallFrame()
	if currentCallFrame == nil {
		return
	}
	if matcher := currentCallFrame.capturingEmit; matcher != nil {
		matcher.Topics = slices.Clone(log.Topics)
		matcher.Data = slices.Clone(log.Data)
		currentCallFrame.capturingEmit = nil
		currentCallFrame.armExpectations().emits = append(currentCallFrame.armedExpectations.emits, matcher)
		return
	}
	currentCallFrame.logs = append(currentCallFrame.logs, log)
}

// prankCurrentFrame sets the caller observed by the current frame, restoring it when the frame exits.
func (t *cheatCodeTracer) prankCurrentFrame(sender common.Address) {
	callFrame := t.CurrentCallFrame()
	if callFrame == nil || callFrame.vmScope == nil {
		return
	}
	contract := callFrame.vmScope.Contract
	original := contract.Caller()
	contract.SetCaller(sender)
	callFrame.onFrameExitRestoreHooks.Push(func() {
		contract.SetCaller(original)
	})
}

// setCallSucceeded replaces the status a call instruction of the frame pushed with success. It is executed before the
// frame's first instruction after the call returned, when the status is on top of the stack.
func (t *cheatCodeTracer) setCallSucceeded(callFrame *cheatCodeTracerCallFrame) {
	if callFrame.vmScope == nil {
		return
	}
	stack := callFrame.vmScope.StackData()
	if len(stack) > 0 {
		stack[len(stack)-1].SetOne()
	}
}

// armExpectations returns the expectations the frame's next call must satisfy, creating them if none are armed.
func (f *cheatCodeTracerCallFrame) armExpectations() *pendingExpectations {
	if f.armedExpectations == nil {
		f.armedExpectations = &pendingExpectations{}
	}
	return f.armedExpectations
}

// failure describes the expectations which were not met within the call in progress, or an empty string.
func (t *cheatCodeTracer) failure() string {
	return strings.Join(t.expectationFailures, "; ")
}

// isCallOpCode indicates whether the opcode enters a message call rather than a contract creation.
func isCallOpCode(op vm.OpCode) bool {
	return op == vm.CALL || op == vm.CALLCODE || op == vm.DELEGATECALL || op == vm.STATICCALL
}
