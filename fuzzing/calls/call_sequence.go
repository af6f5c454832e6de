package calls

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/crytic/medusa-geth/common"
	"golang.org/x/crypto/sha3"
)

// CallSequence describes an ordered sequence of top-level calls, along with the seed of the run which generated it.
type CallSequence struct {
	// Steps describes the calls of the sequence, in execution order.
	Steps []*CallStep `json:"steps"`

	// Seed describes the seed of the run which generated the sequence.
	Seed int64 `json:"seed"`
}

// NewCallSequence creates a CallSequence from the provided steps and seed.
func NewCallSequence(seed int64, steps ...*CallStep) *CallSequence {
	return &CallSequence{
		Steps: append([]*CallStep{}, steps...),
		Seed:  seed,
	}
}

// Len returns the amount of steps in the sequence.
func (cs *CallSequence) Len() int {
	return len(cs.Steps)
}

// Depth returns the amount of steps in the sequence.
func (cs *CallSequence) Depth() int {
	return len(cs.Steps)
}

// Append adds a step to the end of the sequence.
func (cs *CallSequence) Append(step *CallStep) {
	cs.Steps = append(cs.Steps, step)
}

// Clone creates a copy of the sequence. Steps are immutable and are shared between copies.
func (cs *CallSequence) Clone() *CallSequence {
	return NewCallSequence(cs.Seed, cs.Steps...)
}

// Without returns a copy of the sequence with the steps in [start, end) removed.
func (cs *CallSequence) Without(start int, end int) *CallSequence {
	steps := make([]*CallStep, 0, len(cs.Steps)-(end-start))
	steps = append(steps, cs.Steps[:start]...)
	steps = append(steps, cs.Steps[end:]...)
	return &CallSequence{Steps: steps, Seed: cs.Seed}
}

// WithStep returns a copy of the sequence with the step at index i replaced.
func (cs *CallSequence) WithStep(i int, step *CallStep) *CallSequence {
	clone := cs.Clone()
	clone.Steps[i] = step
	return clone
}

// Equals indicates whether both sequences contain equal steps in the same order. The seed is not compared.
func (cs *CallSequence) Equals(other *CallSequence) bool {
	if len(cs.Steps) != len(other.Steps) {
		return false
	}
	for i := range cs.Steps {
		if !cs.Steps[i].Equals(other.Steps[i]) {
			return false
		}
	}
	return true
}

// Hash calculates a keccak256 hash over a canonical encoding of every step (sender, target, value and call data).
// The seed is not hashed, so equal sequences found by different runs hash equally.
func (cs *CallSequence) Hash() common.Hash {
	hashProvider := sha3.NewLegacyKeccak256()
	var lengthData [8]byte
	for _, step := range cs.Steps {
		hashProvider.Write(step.from.Bytes())
		hashProvider.Write(step.to.Bytes())
		hashProvider.Write(common.BigToHash(step.value).Bytes())

		data := step.Data()
		binary.BigEndian.PutUint64(lengthData[:], uint64(len(data)))
		hashProvider.Write(lengthData[:])
		hashProvider.Write(data)
	}
	return common.BytesToHash(hashProvider.Sum(nil))
}

// String returns the numbered reproducer lines of the sequence, one per step.
func (cs *CallSequence) String() string {
	if len(cs.Steps) == 0 {
		return "<none>"
	}
	lines := make([]string, len(cs.Steps))
	for i, step := range cs.Steps {
		lines[i] = fmt.Sprintf("%d) %s", i+1, step.String())
	}
	return strings.Join(lines, "\n")
}
