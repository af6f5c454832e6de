package fuzzing

import (
	"context"
	"math/big"
	"testing"

	"github.com/crytic/invfuzz/fuzzing/calls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replayViolation replays a sequence on a fresh adapter of the model and returns the violation it causes.
func replayViolation(t *testing.T, model *fakeModel, invariant string, sequence *calls.CallSequence) *InvariantViolation {
	adapter, setup, err := model.factory()()
	require.NoError(t, err)
	executor, err := newSequenceExecutor(adapter, setup, model.testID(invariant), false)
	require.NoError(t, err)
	violation, err := executor.replay(sequence)
	require.NoError(t, err)
	return violation
}

func TestShrinkRemovesSteps(t *testing.T) {
	model := newFakeModel(t, "increment", "decrement")
	sequence := model.sequence(t, "increment", "decrement", "increment", "increment", "decrement", "increment", "increment")
	violation := replayViolation(t, model, "invariant_belowThree", sequence)
	require.NotNil(t, violation)
	require.Equal(t, 7, violation.Sequence.Len())

	shrinker := NewShrinker(model.factory(), 1000, false, nil)
	shrunk, err := shrinker.Shrink(context.Background(), violation)
	require.NoError(t, err)

	assert.True(t, model.sequence(t, "increment", "increment", "increment").Equals(shrunk.Sequence))
	assert.Equal(t, ViolationKindInvariant, shrunk.Kind)
	assert.Equal(t, invariantReturnedFalse, shrunk.Reason)
	assert.Positive(t, shrinker.Replays())
}

func TestShrinkSimplifiesArguments(t *testing.T) {
	model := newFakeModel(t, "add")
	sequence := calls.NewCallSequence(0, model.step(t, "add", big.NewInt(500)))
	violation := replayViolation(t, model, "invariant_belowThree", sequence)
	require.NotNil(t, violation)

	shrunk, err := NewShrinker(model.factory(), 1000, false, nil).Shrink(context.Background(), violation)
	require.NoError(t, err)

	// 500 is halved until halving again would no longer break the invariant.
	require.Equal(t, 1, shrunk.Sequence.Len())
	arg := shrunk.Sequence.Steps[0].AbiValues().InputValues[0].(*big.Int)
	assert.Zero(t, arg.Cmp(big.NewInt(3)), "shrunk to add(%v)", arg)
}

// TestShrinkIdempotent verifies that shrinking is sound (the shrunk sequence still fails the same way on a fresh
// adapter) and idempotent (shrinking it again changes nothing).
func TestShrinkIdempotent(t *testing.T) {
	model := newFakeModel(t, "increment", "decrement", "add")
	driver := NewDriver(model.factory(), testDriverConfig())
	result, err := driver.RunCampaign(context.Background(), model.testID("invariant_belowThree"), CampaignConfig{
		Runs:        20,
		Depth:       20,
		MaxRejects:  10,
		Seed:        42,
		ShrinkLimit: 0,
	})
	require.NoError(t, err)
	require.True(t, result.Failed())

	for _, violation := range result.Violations {
		shrinker := NewShrinker(model.factory(), 5000, false, result.FinalDictionary)
		shrunk, err := shrinker.Shrink(context.Background(), violation)
		require.NoError(t, err)
		assert.LessOrEqual(t, shrunk.Sequence.Len(), violation.Sequence.Len())

		// Soundness
		replayed := replayViolation(t, model, "invariant_belowThree", shrunk.Sequence)
		require.NotNil(t, replayed)
		assert.Equal(t, violation.Kind, replayed.Kind)
		assert.True(t, shrunk.Sequence.Equals(replayed.Sequence))

		// Idempotence
		again, err := shrinker.Shrink(context.Background(), shrunk)
		require.NoError(t, err)
		assert.True(t, shrunk.Sequence.Equals(again.Sequence))
	}
}

func TestShrinkLimit(t *testing.T) {
	model := newFakeModel(t, "increment", "decrement")
	sequence := model.sequence(t, "decrement", "increment", "increment", "increment", "increment", "increment")
	violation := replayViolation(t, model, "invariant_belowThree", sequence)
	require.NotNil(t, violation)

	// Without a budget, the sequence is only reproduced and verified.
	shrinker := NewShrinker(model.factory(), 0, false, nil)
	shrunk, err := shrinker.Shrink(context.Background(), violation)
	require.NoError(t, err)
	assert.True(t, violation.Sequence.Equals(shrunk.Sequence))
	assert.Equal(t, 2, shrinker.Replays())
}

func TestShrinkNonReproducing(t *testing.T) {
	model := newFakeModel(t, "increment", "decrement")
	violation := &InvariantViolation{
		TestID:   model.testID("invariant_belowThree"),
		Sequence: model.sequence(t, "decrement"),
		Kind:     ViolationKindInvariant,
		Reason:   invariantReturnedFalse,
	}

	shrunk, err := NewShrinker(model.factory(), 1000, false, nil).Shrink(context.Background(), violation)
	require.NoError(t, err)
	assert.Same(t, violation, shrunk)
}

func TestShrinkEmptySequence(t *testing.T) {
	model := newFakeModel(t, "increment")
	violation := &InvariantViolation{
		TestID:   model.testID("invariant_belowThree"),
		Sequence: calls.NewCallSequence(0),
		Kind:     ViolationKindInvariant,
	}
	shrinker := NewShrinker(model.factory(), 1000, false, nil)
	shrunk, err := shrinker.Shrink(context.Background(), violation)
	require.NoError(t, err)
	assert.Same(t, violation, shrunk)
	assert.Zero(t, shrinker.Replays())
}
