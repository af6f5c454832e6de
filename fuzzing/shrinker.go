package fuzzing

import (
	"context"

	"github.com/crytic/invfuzz/fuzzing/calls"
	"github.com/crytic/invfuzz/fuzzing/valuegeneration"
	"github.com/crytic/invfuzz/logging"
	"github.com/crytic/invfuzz/utils"
)

// Shrinker reduces a violating call sequence to a smaller one which still causes the same failure. Every candidate
// is replayed on a fresh adapter from the factory.
type Shrinker struct {
	// factory spawns the adapters candidates are replayed on.
	factory AdapterFactory

	// limit describes the maximum amount of candidate replays per Shrink call. Zero disables shrinking.
	limit int

	// failOnRevert indicates whether reverting calls are failures, as in the campaign which found the violation.
	failOnRevert bool

	// dictionary describes the values arguments may be simplified towards. May be nil.
	dictionary *valuegeneration.ValueSet

	// replays describes the amount of candidates replayed by the current Shrink call.
	replays int

	// logger describes the Shrinker's logger.
	logger *logging.Logger
}

// NewShrinker creates a Shrinker which replays candidates on adapters spawned by the factory, spending at most limit
// replays per violation.
func NewShrinker(factory AdapterFactory, limit int, failOnRevert bool, dictionary *valuegeneration.ValueSet) *Shrinker {
	return &Shrinker{
		factory:      factory,
		limit:        limit,
		failOnRevert: failOnRevert,
		dictionary:   dictionary,
		logger:       logging.GlobalLogger.NewSubLogger("module", "shrinker"),
	}
}

// Replays returns the amount of candidates replayed by the last Shrink call.
func (s *Shrinker) Replays() int {
	return s.replays
}

// exhausted indicates whether the replay limit was reached.
func (s *Shrinker) exhausted() bool {
	return s.replays >= s.limit
}

// Shrink reduces the violation's sequence. Chunks of calls are removed from the front and back with halving chunk
// sizes, then single calls are removed, then each argument is simplified toward zero, smaller magnitudes and
// dictionary values. Passes repeat until one makes no progress, the replay limit is reached or the context is done.
// The result is verified once more before it is returned. Shrinking the result again yields the same sequence.
// Returns the shrunk violation (the original if it could not be reduced or did not reproduce), or an error if a
// harness fault occurred.
func (s *Shrinker) Shrink(ctx context.Context, violation *InvariantViolation) (*InvariantViolation, error) {
	s.replays = 0
	if violation.Sequence.Len() == 0 {
		return violation, nil
	}
	best, err := s.reproduce(violation, violation.Sequence)
	if err != nil {
		return nil, err
	}
	if best == nil {
		s.logger.Warn("Failure of ", violation.TestID.String(), " did not reproduce on a fresh chain, it will not be shrunk")
		return violation, nil
	}
	initial := best

	for progress := true; progress && !s.exhausted() && !utils.CheckContextDone(ctx); {
		progress = false
		for _, pass := range []func(context.Context, *InvariantViolation) (*InvariantViolation, bool, error){
			s.removeChunks,
			s.removeSteps,
			s.simplifyArguments,
		} {
			var passProgress bool
			best, passProgress, err = pass(ctx, best)
			if err != nil {
				return nil, err
			}
			progress = progress || passProgress
		}
	}

	// Verify the result on a fresh adapter, regardless of the remaining budget.
	verified, err := s.reproduce(violation, best.Sequence)
	if err != nil {
		return nil, err
	}
	if verified == nil {
		s.logger.Warn("Shrunk failure of ", violation.TestID.String(), " did not reproduce, keeping the unshrunk sequence")
		return initial, nil
	}
	s.logger.Debug("Shrunk ", violation.TestID.String(), " from ", violation.Sequence.Len(), " to ",
		verified.Sequence.Len(), " calls in ", s.replays, " replays")
	return verified, nil
}

// try replays a candidate sequence if the replay budget allows it.
// Returns the violation it causes if it is the same failure, nil otherwise, or an error if a harness fault occurred.
func (s *Shrinker) try(ctx context.Context, original *InvariantViolation, candidate *calls.CallSequence) (*InvariantViolation, error) {
	if s.exhausted() || utils.CheckContextDone(ctx) {
		return nil, nil
	}
	return s.reproduce(original, candidate)
}

// reproduce replays the sequence on a fresh adapter.
// Returns the violation it causes if it is the same failure as the original, nil otherwise, or an error if a harness
// fault occurred.
func (s *Shrinker) reproduce(original *InvariantViolation, sequence *calls.CallSequence) (*InvariantViolation, error) {
	s.replays++
	adapter, setup, err := s.factory()
	if err != nil {
		return nil, err
	}
	executor, err := newSequenceExecutor(adapter, setup, original.TestID, s.failOnRevert)
	if err != nil {
		return nil, err
	}
	replayed, err := executor.replay(sequence)
	if err != nil {
		return nil, harnessFault(original.TestID, err)
	}
	if !original.reproduces(replayed) {
		return nil, nil
	}
	return replayed, nil
}

// removeChunks removes chunks of calls from the front and back of the sequence, starting with half of the sequence
// and halving the chunk size down to a single call.
func (s *Shrinker) removeChunks(ctx context.Context, best *InvariantViolation) (*InvariantViolation, bool, error) {
	progress := false
	for chunk := best.Sequence.Len() / 2; chunk >= 1; chunk /= 2 {
		for chunk < best.Sequence.Len() {
			length := best.Sequence.Len()
			reduced, err := s.try(ctx, best, best.Sequence.Without(0, chunk))
			if err != nil {
				return nil, false, err
			}
			if reduced == nil {
				reduced, err = s.try(ctx, best, best.Sequence.Without(length-chunk, length))
				if err != nil {
					return nil, false, err
				}
			}
			if reduced == nil {
				break
			}
			best, progress = reduced, true
		}
	}
	return best, progress, nil
}

// removeSteps removes single calls, starting from the end of the sequence.
func (s *Shrinker) removeSteps(ctx context.Context, best *InvariantViolation) (*InvariantViolation, bool, error) {
	progress := false
	for i := best.Sequence.Len() - 1; i >= 0 && best.Sequence.Len() > 1; i-- {
		if i >= best.Sequence.Len() {
			continue
		}
		reduced, err := s.try(ctx, best, best.Sequence.Without(i, i+1))
		if err != nil {
			return nil, false, err
		}
		if reduced != nil {
			best, progress = reduced, true
		}
	}
	return best, progress, nil
}

// simplifyArguments replaces each argument of each call with the simplest candidate value which still causes the
// failure.
func (s *Shrinker) simplifyArguments(ctx context.Context, best *InvariantViolation) (*InvariantViolation, bool, error) {
	progress := false
	for i := 0; i < best.Sequence.Len(); i++ {
		abiValues := best.Sequence.Steps[i].AbiValues()
		if abiValues == nil || abiValues.Method == nil {
			continue
		}
		for j := range abiValues.Method.Inputs {
			if i >= best.Sequence.Len() {
				break
			}
			reduced, err := s.simplifyArgument(ctx, best, i, j)
			if err != nil {
				return nil, false, err
			}
			if reduced != nil {
				best, progress = reduced, true
			}
		}
	}
	return best, progress, nil
}

// simplifyArgument tries the simplification candidates of argument j of call i, simplest first.
// Returns the violation caused by the first candidate which still fails, nil if none does, or an error if a harness
// fault occurred.
func (s *Shrinker) simplifyArgument(ctx context.Context, best *InvariantViolation, i int, j int) (*InvariantViolation, error) {
	step := best.Sequence.Steps[i]
	abiValues := step.AbiValues()
	if j >= len(abiValues.InputValues) {
		return nil, nil
	}
	for _, candidate := range valuegeneration.SimplifyCandidates(&abiValues.Method.Inputs[j].Type, abiValues.InputValues[j], s.dictionary) {
		simplified, err := abiValues.Clone()
		if err != nil {
			return nil, nil
		}
		simplified.InputValues[j] = candidate
		simplifiedStep, err := step.WithAbiValues(simplified)
		if err != nil || simplifiedStep.Equals(step) {
			continue
		}
		reduced, err := s.try(ctx, best, best.Sequence.WithStep(i, simplifiedStep))
		if err != nil || reduced != nil {
			return reduced, err
		}
	}
	return nil, nil
}
