package chain

import (
	"fmt"

	"github.com/crytic/medusa-geth/common"
	"golang.org/x/exp/maps"
)

// Checkpoint is an opaque handle to a point in the TestChain's history which can be reverted to. A checkpoint is
// invalidated when the chain reverts to an earlier checkpoint.
type Checkpoint struct {
	// index describes the position of the checkpoint in the chain's checkpoint stack.
	index int

	// id describes the unique identifier of the checkpoint, so a handle to a discarded checkpoint is never confused
	// with a newer one at the same position.
	id uint64
}

// checkpointEntry describes what a Checkpoint restores.
type checkpointEntry struct {
	// id describes the identifier handed out with the checkpoint.
	id uint64

	// snapshot describes the StateDB journal revision of the checkpoint.
	snapshot int

	// blockEnv describes the block environment at the checkpoint.
	blockEnv *blockEnvironment

	// directives describes the directive state at the checkpoint.
	directives *directiveState

	// labels describes the address labels at the checkpoint.
	labels map[common.Address]string
}

// cheatSnapshot describes what the snapshot cheat code captures alongside the StateDB journal revision.
type cheatSnapshot struct {
	blockEnv *blockEnvironment
	labels   map[common.Address]string
}

// Checkpoint records the current state, block environment and directives, returning a handle which RevertTo accepts.
// Only the journal of changes made after the checkpoint is retained, so taking a checkpoint is cheap.
func (t *TestChain) Checkpoint() Checkpoint {
	t.checkpointCounter++
	entry := &checkpointEntry{
		id:         t.checkpointCounter,
		snapshot:   t.state.Snapshot(),
		blockEnv:   t.blockEnv.clone(),
		directives: t.directives.clone(),
		labels:     maps.Clone(t.labels),
	}
	t.checkpoints = append(t.checkpoints, entry)
	return Checkpoint{index: len(t.checkpoints) - 1, id: entry.id}
}

// RevertTo restores the chain to the provided checkpoint. Every checkpoint taken after it is invalidated, while the
// provided checkpoint remains valid and can be reverted to again.
// Returns ErrStaleCheckpoint if the checkpoint was invalidated.
func (t *TestChain) RevertTo(checkpoint Checkpoint) error {
	if t.callInProgress {
		return ErrCallInProgress
	}
	if checkpoint.index < 0 || checkpoint.index >= len(t.checkpoints) || t.checkpoints[checkpoint.index].id != checkpoint.id {
		return ErrStaleCheckpoint
	}
	entry := t.checkpoints[checkpoint.index]
	if err := t.revertStateTo(entry.snapshot); err != nil {
		return err
	}

	// Reverting consumes the journal revision, so take a new one in its place.
	entry.snapshot = t.state.Snapshot()
	t.blockEnv = entry.blockEnv.clone()
	t.directives = entry.directives.clone()
	t.labels = maps.Clone(entry.labels)
	t.checkpoints = t.checkpoints[:checkpoint.index+1]
	return nil
}

// revertStateTo reverts the StateDB to a journal revision, converting the panic raised for unknown revisions into
// ErrStaleCheckpoint.
func (t *TestChain) revertStateTo(snapshot int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStaleCheckpoint, r)
		}
	}()
	t.state.RevertToSnapshot(snapshot)
	return nil
}

// takeSnapshot takes a StateDB journal revision for the snapshot cheat code, capturing the block environment and
// labels with it.
// Returns the snapshot id.
func (t *TestChain) takeSnapshot() int {
	snapshot := t.state.Snapshot()
	t.cheatSnapshots[snapshot] = &cheatSnapshot{
		blockEnv: t.blockEnv.clone(),
		labels:   maps.Clone(t.labels),
	}
	return snapshot
}

// revertToSnapshot reverts the StateDB, block environment and labels to a snapshot taken by the snapshot cheat code.
// Revisions taken before the current call started cannot be reverted to, as that would discard the chain's
// checkpoints.
// Returns true if the chain was reverted.
func (t *TestChain) revertToSnapshot(snapshot int) bool {
	captured, ok := t.cheatSnapshots[snapshot]
	if !t.callInProgress || snapshot <= t.callSnapshot || !ok {
		return false
	}
	if t.revertStateTo(snapshot) != nil {
		return false
	}

	// The revision and every later one are consumed by the revert.
	for id := range t.cheatSnapshots {
		if id >= snapshot {
			delete(t.cheatSnapshots, id)
		}
	}
	t.setBlockEnvironment(captured.blockEnv.clone())
	t.labels = maps.Clone(captured.labels)
	return true
}
