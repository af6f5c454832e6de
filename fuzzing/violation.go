package fuzzing

import (
	"fmt"
	"strings"

	"github.com/crytic/invfuzz/chain"
	"github.com/crytic/invfuzz/fuzzing/calls"
	"github.com/crytic/invfuzz/fuzzing/corpus"
	"github.com/google/uuid"
)

// ViolationKind describes what about a call sequence failed.
type ViolationKind string

const (
	// ViolationKindInvariant indicates an invariant function (or afterInvariant) reverted or returned false.
	ViolationKindInvariant ViolationKind = "invariant"
	// ViolationKindRevert indicates a target call reverted while reverts are treated as failures.
	ViolationKindRevert ViolationKind = "revert"
	// ViolationKindExpectation indicates an expectRevert, expectEmit or expectCall directive armed by the tested code
	// was not satisfied.
	ViolationKindExpectation ViolationKind = "expectation"
)

// InvariantViolation describes a call sequence which fails an invariant test.
type InvariantViolation struct {
	// TestID describes the invariant test which failed.
	TestID corpus.TestID

	// Sequence describes the calls which lead to the failure. The failure is observed after the last call, or at the
	// end of the run for afterInvariant and unmet expectation failures.
	Sequence *calls.CallSequence

	// Invariant describes the name of the invariant function under test.
	Invariant string

	// Kind describes what failed.
	Kind ViolationKind

	// Reason describes the failure: a revert reason, a panic code or "invariant returned false".
	Reason string

	// StorageDiff describes the storage changed by the last call of the sequence.
	StorageDiff chain.StorageDiff
}

// reproduces indicates whether the other violation describes the same failure of the same test. Reasons may differ,
// as simplified arguments can change a revert message.
func (v *InvariantViolation) reproduces(other *InvariantViolation) bool {
	return other != nil && v.TestID == other.TestID && v.Kind == other.Kind
}

// CorpusEntry creates the corpus entry persisting this violation.
func (v *InvariantViolation) CorpusEntry(fingerprint string, runID uuid.UUID) *corpus.CorpusEntry {
	return corpus.NewCorpusEntry(v.TestID, fingerprint, v.Sequence, string(v.Kind), v.Reason, runID)
}

// String returns the reproducer of the violation: one line per call followed by the failure reason.
func (v *InvariantViolation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): %s\n", v.TestID, v.Kind, v.Reason)
	for i, step := range v.Sequence.Steps {
		fmt.Fprintf(&b, "  [%d] %s\n", i+1, step.String())
	}
	return b.String()
}

// HarnessFault describes a failure of the execution harness rather than of the tested contracts: use of a stale
// checkpoint, an unknown cheat code, a malformed corpus entry. Faults end the campaign and are never persisted.
type HarnessFault struct {
	// TestID describes the invariant test whose campaign the fault ended.
	TestID corpus.TestID

	// Err describes the underlying error.
	Err error
}

// Error returns the error message of the fault.
func (f *HarnessFault) Error() string {
	return fmt.Sprintf("harness fault while testing %s: %v", f.TestID, f.Err)
}

// Unwrap returns the underlying error.
func (f *HarnessFault) Unwrap() error {
	return f.Err
}
