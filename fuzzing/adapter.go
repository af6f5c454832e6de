package fuzzing

import (
	"github.com/crytic/invfuzz/chain"
	"github.com/crytic/invfuzz/fuzzing/calls"
	"github.com/crytic/invfuzz/fuzzing/contracts"
	"github.com/crytic/invfuzz/fuzzing/targets"
	"github.com/crytic/medusa-geth/common"
)

// Adapter describes the execution capability the Driver and Shrinker submit calls to. An Adapter wraps a single
// mutable state and is never shared between goroutines.
type Adapter interface {
	// Call executes a call step, keeping its state changes if it completes. Contract-level failures are reported
	// through the outcome, while the error is reserved for harness faults.
	Call(step *calls.CallStep) (*chain.CallOutcome, error)

	// StaticCall executes a call and discards every change it made.
	StaticCall(from common.Address, to common.Address, data []byte) (*chain.CallOutcome, error)

	// Checkpoint records the current state so it can later be restored with RevertTo.
	Checkpoint() chain.Checkpoint

	// RevertTo restores the state recorded by a checkpoint, invalidating every checkpoint taken after it.
	RevertTo(checkpoint chain.Checkpoint) error

	// CodeAt returns the code deployed at an address.
	CodeAt(address common.Address) []byte

	// CheckPendingExpectations describes expectations which were armed but never applied to a call.
	CheckPendingExpectations() []string
}

// The TestChain is the Adapter used outside of unit tests.
var _ Adapter = (*chain.TestChain)(nil)

// Invariant describes an invariant function declared by a test contract.
type Invariant struct {
	// Name describes the name of the invariant function.
	Name string

	// Selector describes the function selector the invariant is called with.
	Selector [4]byte
}

// TestSetup describes the state an AdapterFactory leaves a new Adapter in: the deployed test contract, the universe
// resolved from its hooks and the invariants it declares.
type TestSetup struct {
	// TestContract describes the name of the test contract.
	TestContract string

	// TestAddress describes the address the test contract was deployed at.
	TestAddress common.Address

	// Caller describes the account invariant and afterInvariant calls are sent from.
	Caller common.Address

	// Universe describes the targets and senders resolved after setUp. The Driver clones it per run, so it is never
	// modified.
	Universe *targets.TargetUniverse

	// Invariants describes the invariant functions declared by the test contract, sorted by name.
	Invariants []Invariant

	// AfterInvariant describes the afterInvariant function called at the end of every run, or nil if the test
	// contract does not declare one.
	AfterInvariant *Invariant

	// Artifacts describes the known contract artifacts, used to identify contracts deployed mid-sequence. If empty,
	// mid-sequence deployments are never targeted.
	Artifacts contracts.Contracts
}

// Invariant looks up an invariant by name.
// Returns the invariant and a boolean indicating whether it was found.
func (s *TestSetup) Invariant(name string) (Invariant, bool) {
	for _, invariant := range s.Invariants {
		if invariant.Name == name {
			return invariant, true
		}
	}
	return Invariant{}, false
}

// AdapterFactory spawns a fresh Adapter in the post-setUp state, along with a description of that state. Every
// Adapter a factory spawns starts from an identical state.
type AdapterFactory func() (Adapter, *TestSetup, error)
