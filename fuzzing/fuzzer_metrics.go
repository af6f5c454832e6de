package fuzzing

import "sync/atomic"

// FuzzerMetrics represents a struct tracking metrics for a Fuzzer run.
type FuzzerMetrics struct {
	// workerMetrics describes the metrics for each individual worker, indexed like Fuzzer.workers.
	workerMetrics []fuzzerWorkerMetrics

	// campaignCount describes the amount of campaigns the Fuzzer scheduled.
	campaignCount int
}

// fuzzerWorkerMetrics represents metrics for a single FuzzerWorker instance. Counters are updated by the worker and
// read concurrently by the metrics loop.
type fuzzerWorkerMetrics struct {
	// campaignsFinished describes the amount of campaigns the worker finished.
	campaignsFinished atomic.Uint64

	// runsTested describes the amount of runs the worker executed.
	runsTested atomic.Uint64

	// callsTested describes the amount of target calls the worker executed, excluding rejected ones.
	callsTested atomic.Uint64

	// callsRejected describes the amount of target calls the worker had rejected.
	callsRejected atomic.Uint64
}

// newFuzzerMetrics obtains a new FuzzerMetrics struct for a given number of workers and campaigns.
func newFuzzerMetrics(workerCount int, campaignCount int) *FuzzerMetrics {
	return &FuzzerMetrics{
		workerMetrics: make([]fuzzerWorkerMetrics, workerCount),
		campaignCount: campaignCount,
	}
}

// CampaignCount returns the amount of campaigns the Fuzzer scheduled.
func (m *FuzzerMetrics) CampaignCount() int {
	return m.campaignCount
}

// CampaignsFinished returns the amount of campaigns finished across all workers.
func (m *FuzzerMetrics) CampaignsFinished() uint64 {
	total := uint64(0)
	for i := range m.workerMetrics {
		total += m.workerMetrics[i].campaignsFinished.Load()
	}
	return total
}

// RunsTested returns the amount of runs executed across all workers.
func (m *FuzzerMetrics) RunsTested() uint64 {
	total := uint64(0)
	for i := range m.workerMetrics {
		total += m.workerMetrics[i].runsTested.Load()
	}
	return total
}

// CallsTested returns the amount of target calls executed across all workers, excluding rejected ones.
func (m *FuzzerMetrics) CallsTested() uint64 {
	total := uint64(0)
	for i := range m.workerMetrics {
		total += m.workerMetrics[i].callsTested.Load()
	}
	return total
}

// CallsRejected returns the amount of target calls rejected across all workers.
func (m *FuzzerMetrics) CallsRejected() uint64 {
	total := uint64(0)
	for i := range m.workerMetrics {
		total += m.workerMetrics[i].callsRejected.Load()
	}
	return total
}
