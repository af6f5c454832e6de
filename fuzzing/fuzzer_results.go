package fuzzing

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/crytic/invfuzz/fuzzing/corpus"
)

// TestStatus describes the outcome of an invariant test.
type TestStatus string

const (
	// TestStatusPassed describes a test whose campaign found no violation.
	TestStatusPassed TestStatus = "PASSED"
	// TestStatusFailed describes a test whose campaign found a violation.
	TestStatusFailed TestStatus = "FAILED"
	// TestStatusInconclusive describes a test whose every run was abandoned because too many calls were rejected.
	TestStatusInconclusive TestStatus = "INCONCLUSIVE"
	// TestStatusError describes a test whose campaign could not run to completion: setup failed or a harness fault
	// occurred.
	TestStatusError TestStatus = "ERROR"
	// TestStatusCancelled describes a test whose campaign was stopped before executing any run.
	TestStatusCancelled TestStatus = "CANCELLED"
)

// TestResult describes the result of the campaign against an invariant test.
type TestResult struct {
	// TestID describes the invariant test. The invariant is empty if the test contract itself could not be set up.
	TestID corpus.TestID

	// Status describes the outcome of the test.
	Status TestStatus

	// Campaign describes the campaign results, or nil if the campaign did not complete.
	Campaign *CampaignResult

	// Violation describes the shrunk violation found, or nil if the test did not fail.
	Violation *InvariantViolation

	// Err describes the error which ended the campaign, if any.
	Err error
}

// newTestResult derives a TestResult from the outcome of a campaign.
func newTestResult(testID corpus.TestID, campaign *CampaignResult, err error) *TestResult {
	result := &TestResult{
		TestID:   testID,
		Campaign: campaign,
		Err:      err,
	}
	switch {
	case err != nil:
		result.Status = TestStatusError
	case campaign.Failed():
		result.Status = TestStatusFailed
		result.Violation = campaign.Violations[0]
	case campaign.Interrupted && campaign.Runs == 0:
		result.Status = TestStatusCancelled
	case campaign.Inconclusive():
		result.Status = TestStatusInconclusive
	default:
		result.Status = TestStatusPassed
	}
	return result
}

// Message obtains a text-based printable message which describes the test result.
func (r *TestResult) Message() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.Violation != nil:
		return strings.TrimSpace(r.Violation.String())
	case r.Campaign != nil:
		return r.Campaign.Summary()
	default:
		return ""
	}
}

// FuzzerResults tracks the results of the tests run by a Fuzzer.
type FuzzerResults struct {
	// results describes the recorded test results.
	results []*TestResult

	// resultsLock provides thread synchronization to results.
	resultsLock sync.Mutex
}

// newFuzzerResults returns a new FuzzerResults struct to track results of a Fuzzer run.
func newFuzzerResults() *FuzzerResults {
	return &FuzzerResults{
		results: make([]*TestResult, 0),
	}
}

// add records a test result.
func (r *FuzzerResults) add(result *TestResult) {
	r.resultsLock.Lock()
	defer r.resultsLock.Unlock()
	r.results = append(r.results, result)
}

// Results returns the recorded test results, sorted by test ID.
func (r *FuzzerResults) Results() []*TestResult {
	r.resultsLock.Lock()
	defer r.resultsLock.Unlock()
	results := append([]*TestResult{}, r.results...)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TestID.String() < results[j].TestID.String()
	})
	return results
}

// count returns the amount of results with the provided status.
func (r *FuzzerResults) count(status TestStatus) int {
	r.resultsLock.Lock()
	defer r.resultsLock.Unlock()
	count := 0
	for _, result := range r.results {
		if result.Status == status {
			count++
		}
	}
	return count
}

// Failed returns the amount of failed tests.
func (r *FuzzerResults) Failed() int {
	return r.count(TestStatusFailed)
}

// Errored returns the amount of tests which could not be run to completion.
func (r *FuzzerResults) Errored() int {
	return r.count(TestStatusError)
}

// Summary returns a one-line summary of the results by status.
func (r *FuzzerResults) Summary() string {
	return fmt.Sprintf("%d passed, %d failed, %d inconclusive, %d errored, %d cancelled",
		r.count(TestStatusPassed),
		r.count(TestStatusFailed),
		r.count(TestStatusInconclusive),
		r.count(TestStatusError),
		r.count(TestStatusCancelled),
	)
}
