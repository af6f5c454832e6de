package fuzzing

import (
	"github.com/crytic/invfuzz/fuzzing/corpus"
	"github.com/crytic/invfuzz/logging"
	"github.com/crytic/invfuzz/logging/colors"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// ReplayResult describes the outcome of replaying a persisted failure.
type ReplayResult struct {
	// Entry describes the replayed corpus entry.
	Entry *corpus.CorpusEntry

	// Violation describes the violation the entry still causes, or nil if it no longer reproduces.
	Violation *InvariantViolation

	// Stale indicates the entry was recorded against different targets than the test contract resolves today, so it
	// was not replayed.
	Stale bool

	// Err describes the error which prevented the replay, if any.
	Err error
}

// Reproduced indicates whether the entry still causes a violation.
func (r *ReplayResult) Reproduced() bool {
	return r.Violation != nil
}

// ReplayCorpus replays the persisted failures of the provided tests, or of every test if none are provided, against
// freshly set up test contracts. Nothing is generated, and the corpus is left untouched.
// Returns a result per replayed entry sorted by test ID, or an error if the corpus could not be read.
func (f *Fuzzer) ReplayCorpus(testIDs ...corpus.TestID) ([]*ReplayResult, error) {
	store, err := corpus.NewStore(f.config.Fuzzing.CorpusDirectory)
	if err != nil {
		return nil, err
	}
	entries, err := store.Entries()
	if err != nil {
		return nil, err
	}
	f.logger.Debug("Replaying ", len(entries), " persisted failure(s) from ", store.Directory())

	factories := make(map[string]AdapterFactory)
	results := make([]*ReplayResult, 0, len(entries))
	for _, entry := range entries {
		if len(testIDs) > 0 && !slices.Contains(testIDs, entry.TestID) {
			continue
		}

		factory, ok := factories[entry.TestID.Contract]
		if !ok {
			factory, err = f.Hooks.NewAdapterFactoryFunc(f, entry.TestID.Contract)
			if err != nil {
				results = append(results, &ReplayResult{Entry: entry, Err: err})
				continue
			}
			factories[entry.TestID.Contract] = factory
		}

		result := f.replayEntry(factory, entry)
		logInfo := logging.StructuredLogInfo{logging.TEST_ID: entry.TestID.String()}
		switch {
		case result.Err != nil:
			f.logger.Error("Could not replay ", colors.Bold(entry.TestID.String()), result.Err, logInfo)
		case result.Stale:
			f.logger.Warn("[", colors.Yellow("STALE"), "] ", colors.Bold(entry.TestID.String()), ": the targets changed since the failure was recorded", logInfo)
		case result.Reproduced():
			f.logger.Info("[", colors.RedBold("REPRODUCED"), "] ", colors.Bold(entry.TestID.String()), "\n", result.Violation.String(), logInfo)
		default:
			f.logger.Info("[", colors.GreenBold("FIXED"), "] ", colors.Bold(entry.TestID.String()), ": the failure no longer reproduces", logInfo)
		}
		results = append(results, result)
	}
	return results, nil
}

// replayEntry replays a single entry on a fresh adapter spawned by the factory.
func (f *Fuzzer) replayEntry(factory AdapterFactory, entry *corpus.CorpusEntry) *ReplayResult {
	result := &ReplayResult{Entry: entry}
	adapter, setup, err := factory()
	if err != nil {
		result.Err = err
		return result
	}
	if setup.Universe.Fingerprint() != entry.Fingerprint {
		result.Stale = true
		return result
	}

	executor, err := newSequenceExecutor(adapter, setup, entry.TestID, f.config.Fuzzing.FailOnRevert)
	if err != nil {
		result.Err = err
		return result
	}
	resolveSequenceAbiValues(setup.Universe, entry.Sequence)
	result.Violation, err = executor.replay(entry.Sequence)
	if err != nil {
		result.Err = errors.Wrapf(err, "harness fault while replaying %v", entry.TestID)
	}
	return result
}
