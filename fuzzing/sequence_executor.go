package fuzzing

import (
	"fmt"
	"strings"

	"github.com/crytic/invfuzz/chain"
	"github.com/crytic/invfuzz/fuzzing/calls"
	"github.com/crytic/invfuzz/fuzzing/contracts"
	"github.com/crytic/invfuzz/fuzzing/corpus"
	"github.com/crytic/medusa-geth/common"
)

// invariantReturnedFalse is the failure reason of an invariant which returned false.
const invariantReturnedFalse = "invariant returned false"

// sequenceExecutor submits calls to an Adapter and checks the invariant under test after each of them.
type sequenceExecutor struct {
	adapter      Adapter
	setup        *TestSetup
	testID       corpus.TestID
	invariant    Invariant
	failOnRevert bool
}

// newSequenceExecutor creates a sequenceExecutor for the invariant named by the test ID.
// Returns an error if the test contract does not declare the invariant.
func newSequenceExecutor(adapter Adapter, setup *TestSetup, testID corpus.TestID, failOnRevert bool) (*sequenceExecutor, error) {
	invariant, ok := setup.Invariant(testID.Invariant)
	if !ok {
		return nil, fmt.Errorf("%v does not declare invariant %v", setup.TestContract, testID.Invariant)
	}
	return &sequenceExecutor{
		adapter:      adapter,
		setup:        setup,
		testID:       testID,
		invariant:    invariant,
		failOnRevert: failOnRevert,
	}, nil
}

// violation creates an InvariantViolation for the sequence.
func (e *sequenceExecutor) violation(sequence *calls.CallSequence, kind ViolationKind, reason string, diff chain.StorageDiff) *InvariantViolation {
	return &InvariantViolation{
		TestID:      e.testID,
		Sequence:    sequence,
		Invariant:   e.invariant.Name,
		Kind:        kind,
		Reason:      reason,
		StorageDiff: diff,
	}
}

// failureString describes why a call to the address did not complete. Custom errors are resolved against the ABI of
// the test contract or of the target at the address.
func (e *sequenceExecutor) failureString(address common.Address, outcome *chain.CallOutcome) string {
	if outcome.Status == chain.CallStatusReverted && outcome.RevertReason == "" && outcome.PanicCode == nil {
		var artifact *contracts.Contract
		if address == e.setup.TestAddress {
			artifact = e.setup.Artifacts.FindByName(e.setup.TestContract)
		} else if e.setup.Universe != nil {
			if target := e.setup.Universe.Target(address); target != nil {
				artifact = target.Artifact
			}
		}
		if artifact != nil {
			if abiError, args := artifact.DecodeCustomError(outcome.ReturnData); abiError != nil {
				return contracts.FormatCustomError(abiError, args)
			}
		}
	}
	return outcome.FailureString()
}

// executeStep submits the step and, unless it was rejected, checks it for failures.
// Returns the outcome of the call, the kind and reason of the failure it caused (kind is empty if none), or an error
// if a harness fault occurred.
func (e *sequenceExecutor) executeStep(step *calls.CallStep) (*chain.CallOutcome, ViolationKind, string, error) {
	outcome, err := e.adapter.Call(step)
	if err != nil {
		return nil, "", "", err
	}
	if outcome.Status == chain.CallStatusRejected {
		return outcome, "", "", nil
	}
	if outcome.ExpectationFailure != "" {
		return outcome, ViolationKindExpectation, outcome.ExpectationFailure, nil
	}
	if e.failOnRevert && outcome.Failed() && !outcome.ExpectedRevert {
		return outcome, ViolationKindRevert, fmt.Sprintf("%v reverted: %v", step.MethodString(), e.failureString(step.To(), outcome)), nil
	}
	failed, reason, err := e.checkInvariant()
	if err != nil || !failed {
		return outcome, "", "", err
	}
	return outcome, ViolationKindInvariant, reason, nil
}

// checkInvariant calls the invariant function without keeping its changes. The invariant fails if the call does not
// complete or returns false.
// Returns whether the invariant failed and why, or an error if a harness fault occurred.
func (e *sequenceExecutor) checkInvariant() (bool, string, error) {
	outcome, err := e.adapter.StaticCall(e.setup.Caller, e.setup.TestAddress, e.invariant.Selector[:])
	if err != nil {
		return false, "", err
	}
	if outcome.Failed() {
		return true, e.failureString(e.setup.TestAddress, outcome), nil
	}
	if len(outcome.ReturnData) >= common.HashLength && common.BytesToHash(outcome.ReturnData[:common.HashLength]) == (common.Hash{}) {
		return true, invariantReturnedFalse, nil
	}
	return false, "", nil
}

// finishRun calls afterInvariant if the test contract declares it and checks for expectations which were armed but
// never applied.
// Returns the kind and reason of the failure (kind is empty if none), or an error if a harness fault occurred.
func (e *sequenceExecutor) finishRun() (ViolationKind, string, error) {
	if after := e.setup.AfterInvariant; after != nil {
		outcome, err := e.adapter.Call(calls.NewCallStep(e.setup.Caller, e.setup.TestAddress, after.Selector, nil, nil))
		if err != nil {
			return "", "", err
		}
		if outcome.Failed() && outcome.Status != chain.CallStatusRejected {
			return ViolationKindInvariant, fmt.Sprintf("%v failed: %v", after.Name, e.failureString(e.setup.TestAddress, outcome)), nil
		}
	}
	if pending := e.adapter.CheckPendingExpectations(); len(pending) > 0 {
		return ViolationKindExpectation, strings.Join(pending, "; "), nil
	}
	return "", "", nil
}

// replay executes the sequence from the adapter's current state, stopping at the first failure. Rejected steps are
// skipped over.
// Returns the violation, truncated to the step which caused it, nil if the sequence does not fail, or an error if a
// harness fault occurred.
func (e *sequenceExecutor) replay(sequence *calls.CallSequence) (*InvariantViolation, error) {
	for i, step := range sequence.Steps {
		outcome, kind, reason, err := e.executeStep(step)
		if err != nil {
			return nil, err
		}
		if kind != "" {
			return e.violation(sequence.Without(i+1, sequence.Len()), kind, reason, outcome.StorageDiff), nil
		}
	}
	kind, reason, err := e.finishRun()
	if err != nil || kind == "" {
		return nil, err
	}
	return e.violation(sequence.Clone(), kind, reason, nil), nil
}
