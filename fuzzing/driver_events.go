package fuzzing

import (
	"github.com/crytic/invfuzz/events"
	"github.com/crytic/invfuzz/fuzzing/corpus"
)

// DriverEvents defines event emitters for a Driver.
type DriverEvents struct {
	// RunFinished emits events when the Driver finishes a run of a campaign.
	RunFinished events.EventEmitter[RunFinishedEvent]
}

// RunFinishedEvent describes an event where a Driver finished a run of a campaign.
type RunFinishedEvent struct {
	// TestID describes the invariant test the campaign runs against.
	TestID corpus.TestID

	// Run describes the index of the run.
	Run int

	// Calls describes the amount of target calls the run executed, excluding rejected ones.
	Calls int

	// Rejections describes the amount of target calls the run had rejected.
	Rejections int

	// Inconclusive indicates the run ended early because too many consecutive calls were rejected.
	Inconclusive bool

	// Violation describes the violation the run found, or nil if it found none.
	Violation *InvariantViolation
}
