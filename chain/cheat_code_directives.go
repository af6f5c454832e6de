package chain

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/crytic/medusa-geth/common"
	coreTypes "github.com/crytic/medusa-geth/core/types"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// RevertMatcher describes the revert an expectRevert directive anticipates.
type RevertMatcher struct {
	// Data describes the expected revert data. A nil value matches any revert.
	Data []byte

	// Partial indicates Data only needs to prefix the revert data (e.g. a custom error selector).
	Partial bool
}

// matches indicates whether the revert data satisfies the matcher. Data also matches a reverted Error(string) whose
// reason equals it.
func (m *RevertMatcher) matches(revertData []byte) bool {
	if m.Data == nil {
		return true
	}
	if m.Partial {
		return bytes.HasPrefix(revertData, m.Data)
	}
	if bytes.Equal(revertData, m.Data) {
		return true
	}
	reason, _ := decodeRevertData(revertData)
	return reason != "" && reason == string(m.Data)
}

// EmitMatcher describes a log an expectEmit directive anticipates.
type EmitMatcher struct {
	// Emitter optionally restricts the address which must emit the log.
	Emitter *common.Address

	// Topics describes the expected log topics. The first topic (event signature) is always compared.
	Topics []common.Hash

	// CheckTopics indicates which of the indexed topics (1 through 3) are compared.
	CheckTopics [3]bool

	// Data describes the expected non-indexed log data.
	Data []byte

	// CheckData indicates whether Data is compared.
	CheckData bool
}

// matches indicates whether the log satisfies the matcher.
func (m *EmitMatcher) matches(log *coreTypes.Log) bool {
	if m.Emitter != nil && *m.Emitter != log.Address {
		return false
	}
	if len(m.Topics) != len(log.Topics) {
		return false
	}
	for i := range m.Topics {
		if i > 0 && !m.CheckTopics[i-1] {
			continue
		}
		if m.Topics[i] != log.Topics[i] {
			return false
		}
	}
	return !m.CheckData || bytes.Equal(m.Data, log.Data)
}

// CallMatcher describes a call an expectCall directive anticipates.
type CallMatcher struct {
	// Target describes the address which must be called.
	Target common.Address

	// CalldataPrefix describes data the call input must start with.
	CalldataPrefix []byte
}

// mockedCall describes return data which replaces the execution of calls to a mocked address.
type mockedCall struct {
	calldataPrefix []byte
	returnData     []byte
}

// prankDirective describes a sender override for top-level calls.
type prankDirective struct {
	sender     common.Address
	persistent bool
}

// StorageAccesses describes the storage slots read and written by an account while access recording is enabled.
type StorageAccesses struct {
	Reads  []common.Hash
	Writes []common.Hash
}

// directiveState holds the directives armed through the TestChain API or cheat codes. It is captured by checkpoints.
type directiveState struct {
	// prank describes the sender override for upcoming top-level calls, or nil if none is armed.
	prank *prankDirective

	// expectedRevert describes the revert the next top-level call must produce, or nil.
	expectedRevert *RevertMatcher

	// expectedEmits describes logs the next top-level call must emit.
	expectedEmits []*EmitMatcher

	// capturingEmit describes an expectEmit cheat code which awaits its template log, or nil.
	capturingEmit *EmitMatcher

	// expectedCalls describes calls the next top-level call must make.
	expectedCalls []*CallMatcher

	// mocks describes mocked calls by target address.
	mocks map[common.Address][]mockedCall

	// recording indicates whether storage accesses are recorded.
	recording bool

	// accesses describes the storage accesses recorded per account.
	accesses map[common.Address]*StorageAccesses
}

// newDirectiveState creates an empty directiveState.
func newDirectiveState() *directiveState {
	return &directiveState{
		mocks:    make(map[common.Address][]mockedCall),
		accesses: make(map[common.Address]*StorageAccesses),
	}
}

// clone creates a deep copy of the directive state.
func (d *directiveState) clone() *directiveState {
	clone := &directiveState{
		expectedRevert: d.expectedRevert,
		expectedEmits:  slices.Clone(d.expectedEmits),
		capturingEmit:  d.capturingEmit,
		expectedCalls:  slices.Clone(d.expectedCalls),
		mocks:          make(map[common.Address][]mockedCall, len(d.mocks)),
		recording:      d.recording,
		accesses:       make(map[common.Address]*StorageAccesses, len(d.accesses)),
	}
	if d.prank != nil {
		prank := *d.prank
		clone.prank = &prank
	}
	for address, mocks := range d.mocks {
		clone.mocks[address] = slices.Clone(mocks)
	}
	for address, accesses := range d.accesses {
		clone.accesses[address] = &StorageAccesses{
			Reads:  slices.Clone(accesses.Reads),
			Writes: slices.Clone(accesses.Writes),
		}
	}
	return clone
}

// pendingExpectations describes the expectations armed for a single top-level call.
type pendingExpectations struct {
	revert *RevertMatcher
	emits  []*EmitMatcher
	calls  []*CallMatcher
}

// empty indicates whether no expectation is armed.
func (p *pendingExpectations) empty() bool {
	return p.revert == nil && len(p.emits) == 0 && len(p.calls) == 0
}

// takeExpectations removes the armed expectations from the directive state and returns them, so they apply to exactly
// one top-level call.
func (d *directiveState) takeExpectations() *pendingExpectations {
	pending := &pendingExpectations{
		revert: d.expectedRevert,
		emits:  d.expectedEmits,
		calls:  d.expectedCalls,
	}
	d.expectedRevert = nil
	d.expectedEmits = nil
	d.expectedCalls = nil
	return pending
}

// describe returns a description of each armed expectation.
func (p *pendingExpectations) describe() []string {
	descriptions := make([]string, 0)
	if p.revert != nil {
		descriptions = append(descriptions, "expected revert was not observed")
	}
	for range p.emits {
		descriptions = append(descriptions, "expected emit was not observed")
	}
	for _, call := range p.calls {
		descriptions = append(descriptions, fmt.Sprintf("expected call to %s with data 0x%x was not observed", call.Target.String(), call.CalldataPrefix))
	}
	return descriptions
}

// evaluate checks the expectations against the results of a call. Returns whether the call's revert was expected, and
// a description of the unmet expectations (empty if all were met).
func (p *pendingExpectations) evaluate(reverted bool, revertData []byte, logs []*coreTypes.Log, calls []observedCall) (bool, string) {
	failures := make([]string, 0)
	expectedRevert := false

	if p.revert != nil {
		if !reverted {
			failures = append(failures, "call did not revert as expected")
		} else if !p.revert.matches(revertData) {
			failures = append(failures, fmt.Sprintf("call reverted with unexpected data 0x%x (expected 0x%x)", revertData, p.revert.Data))
		} else {
			expectedRevert = true
		}
	}

	for _, emit := range p.emits {
		if !slices.ContainsFunc(logs, emit.matches) {
			failures = append(failures, "expected emit was not observed")
		}
	}

	for _, expected := range p.calls {
		found := slices.ContainsFunc(calls, func(call observedCall) bool {
			return call.target == expected.Target && bytes.HasPrefix(call.input, expected.CalldataPrefix)
		})
		if !found {
			failures = append(failures, fmt.Sprintf("expected call to %s with data 0x%x was not observed", expected.Target.String(), expected.CalldataPrefix))
		}
	}
	return expectedRevert, strings.Join(failures, "; ")
}

// findMock returns the mocked return data for a call to the provided address with the provided input. An exact
// calldata match is preferred, then the longest matching prefix.
func (d *directiveState) findMock(address common.Address, input []byte) ([]byte, bool) {
	var best *mockedCall
	for i, mock := range d.mocks[address] {
		if !bytes.HasPrefix(input, mock.calldataPrefix) {
			continue
		}
		if len(mock.calldataPrefix) == len(input) {
			return mock.returnData, true
		}
		if best == nil || len(mock.calldataPrefix) > len(best.calldataPrefix) {
			best = &d.mocks[address][i]
		}
	}
	if best == nil {
		return nil, false
	}
	return best.returnData, true
}

// addMock registers a mocked call, replacing an existing mock with the same calldata prefix.
func (d *directiveState) addMock(address common.Address, calldataPrefix []byte, returnData []byte) {
	mocks := slices.DeleteFunc(d.mocks[address], func(mock mockedCall) bool {
		return bytes.Equal(mock.calldataPrefix, calldataPrefix)
	})
	d.mocks[address] = append(mocks, mockedCall{
		calldataPrefix: slices.Clone(calldataPrefix),
		returnData:     slices.Clone(returnData),
	})
}

// mockedAddresses returns every address with mocked calls.
func (d *directiveState) mockedAddresses() []common.Address {
	return maps.Keys(d.mocks)
}

// recordAccess records a storage access while recording is enabled.
func (d *directiveState) recordAccess(address common.Address, slot common.Hash, write bool) {
	if !d.recording {
		return
	}
	accesses, ok := d.accesses[address]
	if !ok {
		accesses = &StorageAccesses{}
		d.accesses[address] = accesses
	}
	accesses.Reads = append(accesses.Reads, slot)
	if write {
		accesses.Writes = append(accesses.Writes, slot)
	}
}
