package fuzzing

import (
	"context"
	"time"

	"github.com/crytic/invfuzz/chain"
	"github.com/crytic/invfuzz/fuzzing/calls"
	"github.com/crytic/invfuzz/fuzzing/corpus"
	"github.com/crytic/invfuzz/fuzzing/targets"
	"github.com/crytic/invfuzz/fuzzing/valuegeneration"
	"github.com/crytic/invfuzz/logging"
	"github.com/crytic/invfuzz/utils"
	"github.com/crytic/invfuzz/utils/randomutils"
	"github.com/crytic/medusa-geth/common"
	"github.com/pkg/errors"
)

// DriverConfig describes the parameters shared by every campaign a Driver runs.
type DriverConfig struct {
	// Strategy describes the argument generation parameters.
	Strategy valuegeneration.StrategyConfig

	// DictionaryMaxSize describes the maximum amount of values a dictionary holds. Zero means unbounded.
	DictionaryMaxSize int

	// IncludePushBytes indicates whether the dictionary is seeded with the constants pushed by target bytecode.
	IncludePushBytes bool

	// IncludeStorage indicates whether storage slots and values written by calls are added to the dictionary.
	IncludeStorage bool

	// InitialDictionary describes values the dictionary of every campaign starts with, e.g. the persisted dictionary
	// of a previous campaign. May be nil.
	InitialDictionary *valuegeneration.ValueSet

	// Corpus describes the store persisted failures are replayed from before fuzzing. May be nil.
	Corpus *corpus.Store
}

// CampaignConfig describes the parameters of a single campaign.
type CampaignConfig struct {
	// Runs describes the amount of call sequences to generate.
	Runs int

	// Depth describes the amount of calls in each sequence.
	Depth int

	// MaxRejects describes how many consecutive calls may be rejected before a run is abandoned as inconclusive.
	MaxRejects int

	// Seed describes the seed every run's seed is derived from.
	Seed int64

	// FailOnRevert indicates whether a reverting target call is a violation.
	FailOnRevert bool

	// StopOnFirstFailure indicates whether the campaign ends at the first violation.
	StopOnFirstFailure bool

	// ShrinkLimit describes the maximum amount of replays spent shrinking a violation.
	ShrinkLimit int

	// Timeout describes how long the campaign may run for. Zero means no timeout.
	Timeout time.Duration
}

// Driver generates call sequences against the targets of a test setup and checks an invariant after every call.
type Driver struct {
	// factory spawns the adapters campaigns execute against.
	factory AdapterFactory

	// config describes the parameters shared by every campaign.
	config DriverConfig

	// logger describes the Driver's logger.
	logger *logging.Logger

	// Events describes the event system for the Driver.
	Events DriverEvents
}

// NewDriver creates a Driver which executes campaigns against adapters spawned by the factory.
func NewDriver(factory AdapterFactory, config DriverConfig) *Driver {
	return &Driver{
		factory: factory,
		config:  config,
		logger:  logging.GlobalLogger.NewSubLogger("module", "driver"),
	}
}

// runSummary describes the results of a single run.
type runSummary struct {
	calls        int
	rejections   int
	inconclusive bool
	interrupted  bool
	violation    *InvariantViolation
	dictionary   *valuegeneration.ValueSet
}

// executionObservation exposes the values of a call outcome the dictionary collects, leaving out storage if
// configured to.
type executionObservation struct {
	*chain.CallOutcome
	includeStorage bool
}

// ObservedStorageWords returns the storage slots written by the call and their new values, or nothing if storage is
// not collected.
func (o executionObservation) ObservedStorageWords() []common.Hash {
	if !o.includeStorage {
		return nil
	}
	return o.CallOutcome.ObservedStorageWords()
}

// harnessFault wraps an error raised by the harness during a campaign.
func harnessFault(testID corpus.TestID, err error) error {
	return errors.WithStack(&HarnessFault{TestID: testID, Err: err})
}

// RunCampaign executes a campaign against the invariant named by the test ID. A persisted failure of the test is
// replayed first, and if it still reproduces it is reported without fuzzing. Otherwise, every run derives its seed from
// the campaign seed, starts from the post-setUp state and generates calls until it reaches the configured depth, a
// violation is found, or too many consecutive calls are rejected. Violations are shrunk before being returned.
// Returns the results of the campaign, or an error if setup failed or a harness fault occurred (as a HarnessFault).
// A cancelled context or elapsed timeout ends the campaign early without an error.
func (d *Driver) RunCampaign(ctx context.Context, testID corpus.TestID, config CampaignConfig) (*CampaignResult, error) {
	startTime := time.Now()
	ctx, cancel := utils.WithOptionalTimeout(ctx, config.Timeout)
	defer cancel()

	adapter, setup, err := d.factory()
	if err != nil {
		return nil, err
	}
	executor, err := newSequenceExecutor(adapter, setup, testID, config.FailOnRevert)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(setup.Universe.Targets()) == 0 {
		return nil, errors.Errorf("no target contracts to call for %v", testID)
	}
	if len(setup.Universe.Senders()) == 0 {
		return nil, errors.Errorf("no senders to call targets from for %v", testID)
	}

	initial := adapter.Checkpoint()
	dictionary := d.initialDictionary(adapter, setup)
	result := &CampaignResult{
		TestID:          testID,
		Fingerprint:     setup.Universe.Fingerprint(),
		Seed:            config.Seed,
		Violations:      make([]*InvariantViolation, 0),
		FinalDictionary: dictionary.Clone(),
	}

	// An invariant which does not hold after setUp fails without any calls.
	failed, reason, err := executor.checkInvariant()
	if err != nil {
		return nil, harnessFault(testID, err)
	}
	if failed {
		violation := executor.violation(calls.NewCallSequence(config.Seed), ViolationKindInvariant, reason, nil)
		result.Violations = append(result.Violations, violation)
		result.Elapsed = time.Since(startTime)
		return result, nil
	}

	// A persisted failure takes precedence over fuzzing.
	if d.config.Corpus != nil {
		violation, err := d.replayCorpusEntry(executor, result.Fingerprint)
		if err != nil {
			return nil, err
		}
		if violation != nil {
			d.logger.Info("Persisted failure of ", testID.String(), " reproduced")
			result.Violations = append(result.Violations, violation)
			result.Replayed = true
			if err = d.shrinkViolations(ctx, result, config); err != nil {
				return nil, err
			}
			result.Elapsed = time.Since(startTime)
			return result, nil
		}
		if err = adapter.RevertTo(initial); err != nil {
			return nil, harnessFault(testID, err)
		}
	}

	strategy := valuegeneration.NewStrategy(d.config.Strategy, setup.Universe.Addresses())
	for run := 0; run < config.Runs; run++ {
		if utils.CheckContextDone(ctx) {
			result.Interrupted = true
			break
		}

		summary, err := d.executeRun(ctx, executor, strategy, dictionary, randomutils.DeriveSeed(config.Seed, uint64(run)), config)
		if err != nil {
			return nil, harnessFault(testID, err)
		}
		if err = adapter.RevertTo(initial); err != nil {
			return nil, harnessFault(testID, err)
		}

		result.Calls += summary.calls
		result.Rejections += summary.rejections
		if summary.interrupted {
			result.Interrupted = true
			break
		}
		result.Runs++
		if summary.inconclusive {
			result.InconclusiveRuns++
		}
		result.FinalDictionary.Merge(summary.dictionary)

		err = d.Events.RunFinished.Publish(RunFinishedEvent{
			TestID:       testID,
			Run:          run,
			Calls:        summary.calls,
			Rejections:   summary.rejections,
			Inconclusive: summary.inconclusive,
			Violation:    summary.violation,
		})
		if err != nil {
			return nil, err
		}

		if summary.violation != nil {
			d.logger.Info("Invariant ", testID.String(), " failed after ", summary.violation.Sequence.Len(), " calls: ", summary.violation.Reason)
			result.Violations = append(result.Violations, summary.violation)
			if config.StopOnFirstFailure {
				break
			}
		}
	}

	if err = d.shrinkViolations(ctx, result, config); err != nil {
		return nil, err
	}
	result.Elapsed = time.Since(startTime)
	return result, nil
}

// shrinkViolations shrinks every violation of the result in place, spending at most the configured shrink limit on
// each, and counts the expectation failures among them.
func (d *Driver) shrinkViolations(ctx context.Context, result *CampaignResult, config CampaignConfig) error {
	shrinker := NewShrinker(d.factory, config.ShrinkLimit, config.FailOnRevert, result.FinalDictionary)
	for i, violation := range result.Violations {
		shrunk, err := shrinker.Shrink(ctx, violation)
		if err != nil {
			return err
		}
		result.Violations[i] = shrunk
	}
	result.ExpectationFailures = countExpectationFailures(result.Violations)
	return nil
}

// countExpectationFailures counts the violations caused by unmet expectations.
func countExpectationFailures(violations []*InvariantViolation) int {
	count := 0
	for _, violation := range violations {
		if violation.Kind == ViolationKindExpectation {
			count++
		}
	}
	return count
}

// initialDictionary creates the dictionary every run starts from: the universe addresses, the constants pushed by
// target bytecode and the configured initial dictionary.
func (d *Driver) initialDictionary(adapter Adapter, setup *TestSetup) *valuegeneration.ValueSet {
	dictionary := valuegeneration.NewValueSet()
	if d.config.DictionaryMaxSize > 0 {
		dictionary.SetMaxSize(d.config.DictionaryMaxSize)
	}
	for _, address := range setup.Universe.Addresses() {
		dictionary.AddAddress(address)
	}
	if d.config.IncludePushBytes {
		for _, target := range setup.Universe.Targets() {
			dictionary.SeedFromBytecode(adapter.CodeAt(target.Address))
		}
	}
	if d.config.InitialDictionary != nil {
		dictionary.Merge(d.config.InitialDictionary)
	}
	return dictionary
}

// replayCorpusEntry replays the persisted failure of the executor's test. Entries recorded against a different
// universe, and entries which no longer reproduce, are deleted.
// Returns the reproduced violation, nil if there is none, or an error if one occurred.
func (d *Driver) replayCorpusEntry(executor *sequenceExecutor, fingerprint string) (*InvariantViolation, error) {
	testID := executor.testID
	entry, ok := d.config.Corpus.Load(testID)
	if !ok {
		return nil, nil
	}
	if entry.Fingerprint != fingerprint {
		d.logger.Info("Discarding persisted failure of ", testID.String(), ", the targets it was recorded against changed")
		return nil, d.config.Corpus.Delete(testID)
	}

	resolveSequenceAbiValues(executor.setup.Universe, entry.Sequence)
	violation, err := executor.replay(entry.Sequence)
	if err != nil {
		return nil, harnessFault(testID, err)
	}
	if violation == nil {
		d.logger.Info("Persisted failure of ", testID.String(), " no longer reproduces, discarding it")
		return nil, d.config.Corpus.Delete(testID)
	}
	return violation, nil
}

// resolveSequenceAbiValues decodes the arguments of persisted steps whose target is known, for reporting and
// shrinking.
func resolveSequenceAbiValues(universe *targets.TargetUniverse, sequence *calls.CallSequence) {
	for _, step := range sequence.Steps {
		if target := universe.Target(step.To()); target != nil && target.Artifact != nil {
			_ = step.ResolveAbiValues(target.Artifact.Abi())
		}
	}
}

// executeRun generates and executes a single call sequence, starting from the adapter's current state. The run
// works on its own copy of the dictionary and universe, so it depends only on the seed and the campaign's initial
// state.
// Returns a summary of the run, or an error if a harness fault occurred.
func (d *Driver) executeRun(ctx context.Context, executor *sequenceExecutor, strategy *valuegeneration.Strategy, dictionary *valuegeneration.ValueSet, seed int64, config CampaignConfig) (*runSummary, error) {
	summary := &runSummary{dictionary: dictionary.Clone()}
	universe := executor.setup.Universe.Clone()
	rng := randomutils.NewRandomState(seed)
	sequence := calls.NewCallSequence(seed)

	for sequence.Len() < config.Depth {
		if utils.CheckContextDone(ctx) {
			summary.interrupted = true
			return summary, nil
		}

		var (
			step    *calls.CallStep
			outcome *chain.CallOutcome
			kind    ViolationKind
			reason  string
			err     error
		)
		for rejects := 0; ; {
			step, rng, err = drawStep(strategy, universe, rng, summary.dictionary)
			if err != nil {
				return nil, err
			}
			outcome, kind, reason, err = executor.executeStep(step)
			if err != nil {
				return nil, err
			}
			if outcome.Status != chain.CallStatusRejected {
				break
			}
			rejects++
			summary.rejections++
			if rejects > config.MaxRejects {
				summary.inconclusive = true
				return summary, nil
			}
		}
		sequence.Append(step)
		summary.calls++

		d.addDynamicTargets(executor, universe, outcome)
		if !outcome.Failed() {
			summary.dictionary.CollectFromOutcome(executionObservation{CallOutcome: outcome, includeStorage: d.config.IncludeStorage})
		}
		if kind != "" {
			summary.violation = executor.violation(sequence, kind, reason, outcome.StorageDiff)
			return summary, nil
		}
	}

	kind, reason, err := executor.finishRun()
	if err != nil {
		return nil, err
	}
	if kind != "" {
		summary.violation = executor.violation(sequence, kind, reason, nil)
	}
	return summary, nil
}

// addDynamicTargets adds the contracts a call deployed to the universe, if their artifact is known and the target
// hooks do not exclude them.
func (d *Driver) addDynamicTargets(executor *sequenceExecutor, universe *targets.TargetUniverse, outcome *chain.CallOutcome) {
	if len(executor.setup.Artifacts) == 0 {
		return
	}
	for _, address := range outcome.CreatedContracts {
		artifact := executor.setup.Artifacts.MatchBytecode(executor.adapter.CodeAt(address))
		if universe.AddDynamic(address, artifact) {
			d.logger.Debug("Targeting ", artifact.Name(), " deployed at ", address.String())
		}
	}
}

// drawStep draws a target, one of its methods, a sender and arguments for the method.
// Returns the call step, the advanced random state, or an error if the arguments could not be encoded.
func drawStep(strategy *valuegeneration.Strategy, universe *targets.TargetUniverse, rng randomutils.RandomState, dictionary *valuegeneration.ValueSet) (*calls.CallStep, randomutils.RandomState, error) {
	var i int
	targetList := universe.Targets()
	i, rng = rng.Intn(len(targetList))
	target := targetList[i]

	i, rng = rng.Intn(len(target.Methods))
	method := &target.Methods[i]

	// Senders are shared by every target.
	senders := universe.Senders()
	i, rng = rng.Intn(len(senders))
	sender := senders[i]

	var args []any
	args, rng = strategy.GenerateArguments(method.Inputs, rng, dictionary)
	step, err := calls.NewCallStepWithAbiValues(sender, target.Address, nil, calls.NewCallStepAbiValues(method, args))
	if err != nil {
		return nil, rng, errors.Wrapf(err, "could not encode arguments of %v", method.Sig)
	}
	return step, rng, nil
}
