package fuzzing

import (
	"fmt"
	"time"

	"github.com/crytic/invfuzz/fuzzing/corpus"
	"github.com/crytic/invfuzz/fuzzing/valuegeneration"
	"github.com/shopspring/decimal"
)

// CampaignResult describes the results of a campaign against a single invariant test.
type CampaignResult struct {
	// TestID describes the invariant test the campaign ran against.
	TestID corpus.TestID

	// Fingerprint describes the fingerprint of the universe the campaign ran against.
	Fingerprint string

	// Seed describes the seed every run's seed was derived from.
	Seed int64

	// Violations describes the failures found, shrunk.
	Violations []*InvariantViolation

	// Replayed indicates the violation was found by replaying the persisted corpus entry of the test.
	Replayed bool

	// Interrupted indicates the campaign was cancelled or timed out before executing every run.
	Interrupted bool

	// Runs describes the amount of runs executed, including inconclusive ones.
	Runs int

	// Calls describes the amount of target calls executed, excluding rejected ones.
	Calls int

	// Rejections describes the amount of target calls rejected by the assume cheat code.
	Rejections int

	// InconclusiveRuns describes the amount of runs which ended early because too many consecutive calls were
	// rejected.
	InconclusiveRuns int

	// ExpectationFailures describes the amount of failures caused by unmet expectations.
	ExpectationFailures int

	// FinalDictionary describes the value dictionary accumulated over every run.
	FinalDictionary *valuegeneration.ValueSet

	// Elapsed describes how long the campaign took.
	Elapsed time.Duration
}

// Failed indicates whether the campaign found a violation.
func (r *CampaignResult) Failed() bool {
	return len(r.Violations) > 0
}

// Inconclusive indicates whether the campaign executed runs but every one of them was inconclusive, so the invariant
// was never meaningfully exercised.
func (r *CampaignResult) Inconclusive() bool {
	return !r.Failed() && r.Runs > 0 && r.InconclusiveRuns == r.Runs
}

// DictionarySize returns the amount of values in the final dictionary.
func (r *CampaignResult) DictionarySize() int {
	if r.FinalDictionary == nil {
		return 0
	}
	return r.FinalDictionary.Len()
}

// RejectionRate returns the fraction of target calls which were rejected.
func (r *CampaignResult) RejectionRate() decimal.Decimal {
	total := r.Calls + r.Rejections
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(r.Rejections)).Div(decimal.NewFromInt(int64(total)))
}

// CallsPerSecond returns the rate at which target calls were executed.
func (r *CampaignResult) CallsPerSecond() decimal.Decimal {
	seconds := decimal.NewFromFloat(r.Elapsed.Seconds())
	if seconds.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(r.Calls)).Div(seconds)
}

// Summary returns a one-line summary of the campaign statistics.
func (r *CampaignResult) Summary() string {
	return fmt.Sprintf("runs: %d (%d inconclusive), calls: %d (%s/sec), rejected: %s%%, dictionary: %d",
		r.Runs,
		r.InconclusiveRuns,
		r.Calls,
		r.CallsPerSecond().StringFixed(0),
		r.RejectionRate().Mul(decimal.NewFromInt(100)).StringFixed(2),
		r.DictionarySize(),
	)
}
