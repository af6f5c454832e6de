package corpus

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	"github.com/crytic/invfuzz/fuzzing/calls"
	"github.com/google/uuid"
)

// FormatVersion describes the version of the corpus entry format written by this package. Entries with a different
// major version are not read.
const FormatVersion = "1.0.0"

// formatVersion is the parsed FormatVersion.
var formatVersion = semver.MustParse(FormatVersion)

// TestID identifies an invariant of a test contract.
type TestID struct {
	// Contract describes the (optionally qualified) name of the test contract.
	Contract string `json:"contract"`

	// Invariant describes the name of the invariant function.
	Invariant string `json:"invariant"`
}

// String returns the test identity as "Contract.invariant".
func (id TestID) String() string {
	return id.Contract + "." + id.Invariant
}

// ParseTestID parses a test identity of the form "Contract.invariant". The contract name may be qualified with its
// source path.
func ParseTestID(s string) (TestID, error) {
	separator := strings.LastIndex(s, ".")
	if separator <= 0 || separator == len(s)-1 {
		return TestID{}, fmt.Errorf("invalid test identity %q, expected Contract.invariant", s)
	}
	return TestID{Contract: s[:separator], Invariant: s[separator+1:]}, nil
}

// unsafePathCharacters matches characters which are replaced when a test identity is used as a path component.
var unsafePathCharacters = regexp.MustCompile(`[^A-Za-z0-9_\-.]`)

// pathComponents returns the directory and file name components used to store an entry for the test identity. A
// qualified contract name "path:Name" is stored as "Name-path", so contracts sharing a name in different source files
// do not share entries.
func (id TestID) pathComponents() (string, string) {
	contract := id.Contract
	if i := strings.LastIndex(contract, ":"); i >= 0 {
		contract = contract[i+1:] + "-" + contract[:i]
	}
	return unsafePathCharacters.ReplaceAllString(contract, "_"), unsafePathCharacters.ReplaceAllString(id.Invariant, "_")
}

// CorpusEntry describes a persisted failing call sequence for a test identity.
type CorpusEntry struct {
	// FormatVersion describes the version of the format the entry was written with.
	FormatVersion string `json:"formatVersion"`

	// TestID describes the test identity the entry reproduces a failure for.
	TestID TestID `json:"testId"`

	// Fingerprint describes the fingerprint of the target universe the failure was found in. The entry is only replayed
	// against a universe with the same fingerprint.
	Fingerprint string `json:"fingerprint"`

	// Sequence describes the minimal call sequence reproducing the failure.
	Sequence *calls.CallSequence `json:"sequence"`

	// Seed describes the seed of the run which found the failure.
	Seed int64 `json:"seed"`

	// InvariantName describes the name of the violated invariant.
	InvariantName string `json:"invariantName"`

	// Kind describes the kind of violation recorded.
	Kind string `json:"kind"`

	// Reason describes why the invariant was violated.
	Reason string `json:"reason"`

	// CreatedAt describes when the entry was written.
	CreatedAt time.Time `json:"createdAt"`

	// RunID describes the campaign run which found the failure.
	RunID uuid.UUID `json:"runId"`
}

// NewCorpusEntry creates a CorpusEntry at the current format version.
func NewCorpusEntry(testID TestID, fingerprint string, sequence *calls.CallSequence, kind string, reason string, runID uuid.UUID) *CorpusEntry {
	return &CorpusEntry{
		FormatVersion: FormatVersion,
		TestID:        testID,
		Fingerprint:   fingerprint,
		Sequence:      sequence,
		Seed:          sequence.Seed,
		InvariantName: testID.Invariant,
		Kind:          kind,
		Reason:        reason,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		RunID:         runID,
	}
}

// isCompatible indicates whether the entry was written with a format version this package can read.
func (e *CorpusEntry) isCompatible() error {
	version, err := semver.NewVersion(e.FormatVersion)
	if err != nil {
		return fmt.Errorf("invalid format version %q: %v", e.FormatVersion, err)
	}
	if version.Major() != formatVersion.Major() {
		return fmt.Errorf("incompatible format version %v, expected %v.x", version, formatVersion.Major())
	}
	if e.Sequence == nil || e.Sequence.Len() == 0 {
		return fmt.Errorf("entry holds no call sequence")
	}
	return nil
}
