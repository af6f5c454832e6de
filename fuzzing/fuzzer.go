package fuzzing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crytic/invfuzz/fuzzing/config"
	"github.com/crytic/invfuzz/fuzzing/contracts"
	"github.com/crytic/invfuzz/fuzzing/corpus"
	"github.com/crytic/invfuzz/logging"
	"github.com/crytic/invfuzz/logging/colors"
	"github.com/crytic/invfuzz/utils"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Fuzzer runs invariant campaigns against every invariant of the configured test contracts, spreading the campaigns
// over a pool of workers.
type Fuzzer struct {
	// ctx describes the context for the fuzzing run, used to cancel running operations.
	ctx context.Context
	// ctxCancelFunc describes a function which can be used to cancel the fuzzing operations ctx tracks.
	ctxCancelFunc context.CancelFunc

	// config describes the project configuration which the fuzzing is targeting.
	config config.ProjectConfig
	// artifacts describes the compiled contracts test contracts and dynamically deployed targets are resolved from.
	artifacts contracts.Contracts

	// seed describes the seed every campaign seed is derived from.
	seed int64
	// runID identifies this fuzzer run in logs and persisted corpus entries.
	runID uuid.UUID

	// corpus describes the store failures are persisted to and replayed from. Nil if persistence is disabled.
	corpus *corpus.Store
	// dictionaries describes the store dictionaries are persisted to and loaded from. Nil if persistence is disabled.
	dictionaries *corpus.DictionaryStore

	// workers represents the work threads created by this Fuzzer when Start invokes a fuzz operation.
	workers []*FuzzerWorker
	// metrics represents the metrics for the fuzzing run.
	metrics *FuzzerMetrics
	// results tracks the result of every campaign.
	results *FuzzerResults

	// logger describes the Fuzzer's log object that can be used to log important events
	logger *logging.Logger

	// Events describes the event system for the Fuzzer.
	Events FuzzerEvents

	// Hooks describes the replaceable functions used by the Fuzzer.
	Hooks FuzzerHooks
}

// NewFuzzer returns an instance of a new Fuzzer provided a project configuration, or an error if one is encountered
// while initializing the code.
func NewFuzzer(config config.ProjectConfig) (*Fuzzer, error) {
	logger := logging.GlobalLogger.NewSubLogger("module", logging.FUZZING_SERVICE)

	// Validate our provided config
	err := config.Validate()
	if err != nil {
		logger.Error("Invalid configuration", err)
		return nil, err
	}

	// Load the build artifacts of the project
	artifacts, err := contracts.LoadArtifacts(config.ArtifactsDirectory)
	if err != nil {
		logger.Error("Failed to load artifacts", err)
		return nil, err
	}

	fuzzer := &Fuzzer{
		config:    config,
		artifacts: artifacts,
		results:   newFuzzerResults(),
		logger:    logger,
		Hooks: FuzzerHooks{
			NewAdapterFactoryFunc: chainAdapterFactoryFunc,
		},
	}
	return fuzzer, nil
}

// Config exposes the underlying project configuration provided to the Fuzzer.
func (f *Fuzzer) Config() config.ProjectConfig {
	return f.config
}

// Artifacts exposes the contracts loaded by the Fuzzer.
func (f *Fuzzer) Artifacts() contracts.Contracts {
	return f.artifacts
}

// AddArtifacts adds contracts to the Fuzzer, in addition to the ones loaded from the artifacts directory. Must be
// called before Start.
func (f *Fuzzer) AddArtifacts(artifacts ...*contracts.Contract) {
	f.artifacts = append(f.artifacts, artifacts...)
}

// RunID returns the identifier of the last fuzzer run.
func (f *Fuzzer) RunID() uuid.UUID {
	return f.runID
}

// Seed returns the seed of the last fuzzer run.
func (f *Fuzzer) Seed() int64 {
	return f.seed
}

// Metrics returns the metrics of the last fuzzer run, or nil if the Fuzzer was never started.
func (f *Fuzzer) Metrics() *FuzzerMetrics {
	return f.metrics
}

// Results returns the results of the last fuzzer run.
func (f *Fuzzer) Results() *FuzzerResults {
	return f.results
}

// TestContracts returns the names of the contracts whose invariants are fuzzed: the configured target contracts, or
// if none are configured, every deployable artifact declaring at least one invariant.
func (f *Fuzzer) TestContracts() []string {
	if len(f.config.Fuzzing.TargetContracts) > 0 {
		return slices.Clone(f.config.Fuzzing.TargetContracts)
	}

	names := make([]string, 0)
	for _, contract := range f.artifacts {
		if len(contract.InitBytecode()) == 0 || len(findInvariants(contract, f.config.Fuzzing.InvariantPrefixes)) == 0 {
			continue
		}
		// Prefer the short name, unless it is ambiguous.
		name := contract.Name()
		if f.artifacts.FindByName(name) != contract {
			name = contract.QualifiedName()
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// createCampaigns creates a campaign for every invariant of every test contract. Test contracts which cannot be set up
// are recorded as errored, and skipped.
func (f *Fuzzer) createCampaigns() []*Campaign {
	campaigns := make([]*Campaign, 0)
	for _, testContract := range f.TestContracts() {
		factory, err := f.Hooks.NewAdapterFactoryFunc(f, testContract)
		if err == nil {
			// Spawn once to discover the invariants.
			var setup *TestSetup
			if _, setup, err = factory(); err == nil {
				if len(setup.Invariants) == 0 {
					f.logger.Warn("Test contract ", colors.Bold(testContract), " declares no invariants")
				}
				for _, invariant := range setup.Invariants {
					campaigns = append(campaigns, &Campaign{
						TestID:  corpus.TestID{Contract: testContract, Invariant: invariant.Name},
						Factory: factory,
					})
				}
				continue
			}
		}
		f.logger.Error("Failed to set up test contract ", colors.Bold(testContract), err)
		f.results.add(newTestResult(corpus.TestID{Contract: testContract}, nil, err))
	}
	return campaigns
}

// spawnWorkersLoop runs the campaigns on up to the configured amount of workers, and blocks until every worker
// exited.
// Returns an error if one occurred.
func (f *Fuzzer) spawnWorkersLoop(campaigns []*Campaign) error {
	// Queue every campaign up front, workers exit once the queue is drained.
	queue := make(chan *Campaign, len(campaigns))
	for _, campaign := range campaigns {
		queue <- campaign
	}
	close(queue)

	workerCount := min(f.config.Fuzzing.Workers, len(campaigns))
	f.workers = make([]*FuzzerWorker, workerCount)

	f.logger.Info("Running ", len(campaigns), " campaign(s) on ", workerCount, " worker(s)")
	var (
		err     error
		errLock sync.Mutex
		wg      sync.WaitGroup
	)
	setErr := func(e error) {
		errLock.Lock()
		defer errLock.Unlock()
		if err == nil && e != nil {
			err = e
		}
	}
	for workerIndex := 0; workerIndex < workerCount; workerIndex++ {
		worker := newFuzzerWorker(f, workerIndex)
		f.workers[workerIndex] = worker

		wg.Add(1)
		go func() {
			defer wg.Done()

			// Publish an event indicating we created a worker.
			if workerErr := f.Events.WorkerCreated.Publish(FuzzerWorkerCreatedEvent{Worker: worker}); workerErr != nil {
				setErr(workerErr)
				f.Stop()
			}

			// A failing worker stops every other worker.
			if _, workerErr := worker.run(queue); workerErr != nil {
				setErr(workerErr)
				f.Stop()
			}

			// Publish an event indicating we destroyed a worker.
			setErr(f.Events.WorkerDestroyed.Publish(FuzzerWorkerDestroyedEvent{Worker: worker}))
		}()
	}
	wg.Wait()
	return err
}

// Start begins a fuzzing operation on the provided project configuration. This operation will not return until an
// error is encountered, every campaign finished, or the operation was cancelled with Stop.
// Returns an error if one is encountered.
func (f *Fuzzer) Start() error {
	var err error

	// Create our running context (allows us to cancel across threads)
	f.ctx, f.ctxCancelFunc = context.WithCancel(context.Background())

	// If we set a timeout, create the timeout context now, as we're about to begin fuzzing.
	if f.config.Fuzzing.Timeout > 0 {
		f.logger.Info("Running with a timeout of ", colors.Bold(f.config.Fuzzing.Timeout), " seconds")
		f.ctx, f.ctxCancelFunc = context.WithTimeout(f.ctx, time.Duration(f.config.Fuzzing.Timeout)*time.Second)
	}
	defer f.ctxCancelFunc()

	// Pick the seed and identify the run
	if f.config.Fuzzing.Seed != nil {
		f.seed = *f.config.Fuzzing.Seed
	} else {
		f.seed = time.Now().UnixNano()
	}
	f.runID = uuid.New()
	f.results = newFuzzerResults()
	f.logger.Info("Fuzzing with seed ", colors.Bold(f.seed), logging.StructuredLogInfo{logging.RUN_ID: f.runID.String()})

	// Set up the corpus
	if f.config.Fuzzing.CorpusDirectory != "" {
		f.corpus, err = corpus.NewStore(f.config.Fuzzing.CorpusDirectory)
		if err != nil {
			f.logger.Error("Failed to create the corpus", err)
			return err
		}
		f.dictionaries, err = corpus.OpenDictionaryStore(f.config.Fuzzing.CorpusDirectory)
		if err != nil {
			f.logger.Error("Failed to open the dictionary store", err)
			return err
		}
		defer func() {
			if closeErr := f.dictionaries.Close(); closeErr != nil {
				f.logger.Warn("Failed to close the dictionary store", closeErr)
			}
		}()
	}

	// Set up a campaign for every invariant
	campaigns := f.createCampaigns()
	f.metrics = newFuzzerMetrics(min(f.config.Fuzzing.Workers, len(campaigns)), len(campaigns))

	// Publish a fuzzer starting event.
	err = f.Events.FuzzerStarting.Publish(FuzzerStartingEvent{Fuzzer: f})
	if err != nil {
		f.logger.Error("FuzzerStarting event subscriber returned an error", err)
		return err
	}

	// Start our printing loop now that we're about to begin fuzzing.
	printLoopDone := make(chan struct{})
	printLoopCtx, printLoopCancel := context.WithCancel(f.ctx)
	go func() {
		f.printMetricsLoop(printLoopCtx)
		close(printLoopDone)
	}()

	// Run the main worker loop
	if len(campaigns) > 0 {
		err = f.spawnWorkersLoop(campaigns)
	}
	printLoopCancel()
	<-printLoopDone

	// NOTE: After this point, we capture errors but do not return immediately, as we want to exit gracefully.

	// Publish a fuzzer stopping event.
	fuzzerStoppingErr := f.Events.FuzzerStopping.Publish(FuzzerStoppingEvent{Fuzzer: f, Err: err})
	if err == nil && fuzzerStoppingErr != nil {
		err = fuzzerStoppingErr
	}

	f.printResults()
	if err != nil {
		f.logger.Error("Fuzzer stopped with an error", err)
	}
	return err
}

// Stop stops a running operation invoked by the Start method. This method may return before complete operation
// teardown occurs.
func (f *Fuzzer) Stop() {
	// Call the cancel function on our running context to stop all working goroutines
	if f.ctxCancelFunc != nil {
		f.ctxCancelFunc()
	}
}

// printMetricsLoop prints metrics to the console in a loop until ctx signals a stopped operation. It also stops the
// fuzzer once the configured test limit is reached.
func (f *Fuzzer) printMetricsLoop(ctx context.Context) {
	startTime := time.Now()

	// Define cached variables for our metrics to calculate deltas.
	var lastCallsTested, lastRunsTested uint64
	lastPrintedTime := time.Time{}
	for !utils.CheckContextDone(ctx) {
		callsTested := f.metrics.CallsTested()
		runsTested := f.metrics.RunsTested()
		secondsSinceLastUpdate := time.Since(lastPrintedTime).Seconds()

		f.logger.Info(
			"elapsed: ", time.Since(startTime).Round(time.Second),
			", campaigns: ", f.metrics.CampaignsFinished(), "/", f.metrics.CampaignCount(),
			", runs: ", runsTested, " (", uint64(float64(runsTested-lastRunsTested)/secondsSinceLastUpdate), "/sec)",
			", calls: ", callsTested, " (", uint64(float64(callsTested-lastCallsTested)/secondsSinceLastUpdate), "/sec)",
			", rejected: ", f.metrics.CallsRejected(),
		)

		lastPrintedTime = time.Now()
		lastCallsTested = callsTested
		lastRunsTested = runsTested

		// If we reached our call threshold, halt
		testLimit := f.config.Fuzzing.TestLimit
		if testLimit > 0 && callsTested >= testLimit {
			f.logger.Info("Call test limit reached, halting now...")
			f.Stop()
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(3 * time.Second):
		}
	}
}

// printResults logs the result of every test.
func (f *Fuzzer) printResults() {
	var buffer strings.Builder
	buffer.WriteString("Fuzzer stopped, test results follow below ...\n")
	for _, result := range f.results.Results() {
		var status string
		switch result.Status {
		case TestStatusPassed:
			status = colors.GreenBold(result.Status)
		case TestStatusFailed, TestStatusError:
			status = colors.RedBold(result.Status)
		default:
			status = colors.YellowBold(result.Status)
		}
		buffer.WriteString(fmt.Sprintf("[%s] %s\n", status, colors.Bold(result.TestID.String())))
		if message := result.Message(); message != "" && result.Status != TestStatusPassed {
			buffer.WriteString(message + "\n")
		}
	}
	buffer.WriteString(f.results.Summary())
	f.logger.Info(buffer.String())
}
