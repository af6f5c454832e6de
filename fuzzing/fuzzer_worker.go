package fuzzing

import (
	"encoding/binary"

	"github.com/crytic/invfuzz/fuzzing/corpus"
	"github.com/crytic/invfuzz/fuzzing/valuegeneration"
	"github.com/crytic/invfuzz/logging"
	"github.com/crytic/invfuzz/logging/colors"
	"github.com/crytic/invfuzz/utils"
	"github.com/crytic/invfuzz/utils/randomutils"
	"github.com/crytic/medusa-geth/crypto"
)

// Campaign describes a unit of work for a FuzzerWorker: fuzzing a single invariant of a test contract.
type Campaign struct {
	// TestID describes the invariant test to fuzz.
	TestID corpus.TestID

	// Factory describes the factory which spawns adapters for the test contract.
	Factory AdapterFactory
}

// FuzzerWorker describes a single thread worker utilizing its own adapters to run campaigns pulled from the Fuzzer's
// campaign queue.
type FuzzerWorker struct {
	// workerIndex describes the index of the worker spun up by the fuzzer.
	workerIndex int

	// fuzzer describes the Fuzzer instance which this worker belongs to.
	fuzzer *Fuzzer
}

// newFuzzerWorker creates a new FuzzerWorker for the provided Fuzzer.
func newFuzzerWorker(fuzzer *Fuzzer, workerIndex int) *FuzzerWorker {
	return &FuzzerWorker{
		workerIndex: workerIndex,
		fuzzer:      fuzzer,
	}
}

// WorkerIndex returns the index of this FuzzerWorker in relation to its parent Fuzzer.
func (fw *FuzzerWorker) WorkerIndex() int {
	return fw.workerIndex
}

// Fuzzer returns the parent Fuzzer which spawned this FuzzerWorker.
func (fw *FuzzerWorker) Fuzzer() *Fuzzer {
	return fw.fuzzer
}

// workerMetrics returns the fuzzerWorkerMetrics for this specific worker.
func (fw *FuzzerWorker) workerMetrics() *fuzzerWorkerMetrics {
	return &fw.fuzzer.metrics.workerMetrics[fw.workerIndex]
}

// run takes campaigns from the queue and runs them until the queue is drained. Once the Fuzzer's context is done,
// the remaining campaigns are recorded as cancelled instead.
// Returns a boolean indicating whether the Fuzzer's context was done, or an error if one occurred.
func (fw *FuzzerWorker) run(campaigns <-chan *Campaign) (bool, error) {
	for campaign := range campaigns {
		if utils.CheckContextDone(fw.fuzzer.ctx) {
			fw.fuzzer.results.add(&TestResult{TestID: campaign.TestID, Status: TestStatusCancelled})
			continue
		}

		err := fw.fuzzer.Events.CampaignStarting.Publish(CampaignStartingEvent{Worker: fw, Campaign: campaign})
		if err != nil {
			return false, err
		}

		result, err := fw.runCampaign(campaign)
		if err != nil {
			return false, err
		}

		err = fw.fuzzer.Events.CampaignFinished.Publish(CampaignFinishedEvent{Worker: fw, Result: result})
		if err != nil {
			return false, err
		}
		fw.workerMetrics().campaignsFinished.Add(1)

		if result.Status == TestStatusFailed && fw.fuzzer.config.Fuzzing.StopOnFailedTest {
			fw.fuzzer.logger.Info("Stopping after the first failed test")
			fw.fuzzer.Stop()
		}
	}
	return utils.CheckContextDone(fw.fuzzer.ctx), nil
}

// campaignSeed derives the seed of a campaign from the Fuzzer's seed and the test identity, so every test is fuzzed
// with a distinct but reproducible sequence of runs.
func campaignSeed(seed int64, testID corpus.TestID) int64 {
	hash := crypto.Keccak256([]byte(testID.String()))
	return randomutils.DeriveSeed(seed, binary.BigEndian.Uint64(hash[:8]))
}

// runCampaign runs a single campaign and records its result.
// Returns the recorded result, or an error if the result could not be persisted.
func (fw *FuzzerWorker) runCampaign(campaign *Campaign) (*TestResult, error) {
	fuzzingConfig := fw.fuzzer.config.Fuzzing

	// Start from the dictionary the previous campaign against this test persisted.
	var initialDictionary *valuegeneration.ValueSet
	if fw.fuzzer.dictionaries != nil {
		if dictionary, ok := fw.fuzzer.dictionaries.Load(campaign.TestID); ok {
			initialDictionary = dictionary
		}
	}

	driver := NewDriver(campaign.Factory, DriverConfig{
		Strategy: valuegeneration.StrategyConfig{
			BoundaryBias:     fuzzingConfig.Dictionary.BoundaryBias,
			DictionaryBias:   fuzzingConfig.Dictionary.DictionaryBias,
			MaxDynamicLength: fuzzingConfig.Dictionary.MaxDynamicLength,
			MaxArrayLength:   fuzzingConfig.Dictionary.MaxArrayLength,
		},
		DictionaryMaxSize: fuzzingConfig.Dictionary.MaxSize,
		IncludePushBytes:  fuzzingConfig.Dictionary.IncludePushBytes,
		IncludeStorage:    fuzzingConfig.Dictionary.IncludeStorage,
		InitialDictionary: initialDictionary,
		Corpus:            fw.fuzzer.corpus,
	})
	driver.Events.RunFinished.Subscribe(func(event RunFinishedEvent) error {
		metrics := fw.workerMetrics()
		metrics.runsTested.Add(1)
		metrics.callsTested.Add(uint64(event.Calls))
		metrics.callsRejected.Add(uint64(event.Rejections))
		return nil
	})

	campaignResult, err := driver.RunCampaign(fw.fuzzer.ctx, campaign.TestID, CampaignConfig{
		Runs:               fuzzingConfig.Runs,
		Depth:              fuzzingConfig.Depth,
		MaxRejects:         fuzzingConfig.MaxRejects,
		Seed:               campaignSeed(fw.fuzzer.seed, campaign.TestID),
		FailOnRevert:       fuzzingConfig.FailOnRevert,
		StopOnFirstFailure: true,
		ShrinkLimit:        fuzzingConfig.ShrinkLimit,
	})
	return fw.recordResult(campaign.TestID, campaignResult, err)
}

// recordResult records the result of a campaign with the Fuzzer, persisting new failures and the final dictionary.
// Returns the recorded result, or an error if persisting failed.
func (fw *FuzzerWorker) recordResult(testID corpus.TestID, campaignResult *CampaignResult, campaignErr error) (*TestResult, error) {
	result := newTestResult(testID, campaignResult, campaignErr)
	logInfo := logging.StructuredLogInfo{logging.TEST_ID: testID.String(), logging.RUN_ID: fw.fuzzer.runID.String()}
	logger := fw.fuzzer.logger

	switch result.Status {
	case TestStatusError:
		logger.Error("Campaign for ", testID.String(), " could not complete", campaignErr, logInfo)
	case TestStatusFailed:
		violation := result.Violation
		if fw.fuzzer.corpus != nil && !campaignResult.Replayed && violation.Sequence.Len() > 0 {
			entry := violation.CorpusEntry(campaignResult.Fingerprint, fw.fuzzer.runID)
			if _, err := fw.fuzzer.corpus.Save(testID, entry); err != nil {
				return nil, err
			}
		}
		logger.Info("[", colors.RedBold(result.Status), "] ", colors.Bold(testID.String()), " (", violation.Sequence.Len(), " calls): ", violation.Reason, logInfo)
	case TestStatusCancelled:
		logger.Info("[", colors.Yellow(result.Status), "] ", colors.Bold(testID.String()), logInfo)
	case TestStatusInconclusive:
		logger.Warn("[", colors.YellowBold(result.Status), "] ", colors.Bold(testID.String()), ": ", campaignResult.Summary(), logInfo)
	default:
		logger.Info("[", colors.GreenBold(result.Status), "] ", colors.Bold(testID.String()), ": ", campaignResult.Summary(), logInfo)
	}

	// Only dictionaries of campaigns which ran to completion without a failure are persisted.
	if fw.fuzzer.dictionaries != nil && result.Status == TestStatusPassed && !campaignResult.Interrupted && fw.fuzzer.config.Fuzzing.Dictionary.Persist {
		if err := fw.fuzzer.dictionaries.Save(testID, campaignResult.FinalDictionary); err != nil {
			logger.Warn("Could not persist the dictionary of ", testID.String(), err, logInfo)
		}
	}

	fw.fuzzer.results.add(result)
	return result, nil
}
