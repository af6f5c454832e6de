package valuegeneration

import (
	"math/big"

	"github.com/crytic/medusa-geth/common"
	"golang.org/x/exp/slices"
)

// ValueSet represents a dictionary of values of significance observed in target bytecode or during execution, which
// argument generation is biased towards. Iteration order is insertion order, so generation over a ValueSet is
// deterministic.
type ValueSet struct {
	// addresses represents a set of common.Address, in insertion order.
	addresses []common.Address
	// addressIndex is used to avoid duplicate addresses.
	addressIndex map[common.Address]struct{}

	// integers represents a set of integers, in insertion order.
	integers []*big.Int
	// integerIndex is used to avoid duplicate integers, keyed by their decimal string.
	integerIndex map[string]struct{}

	// strings represents a set of strings, in insertion order.
	strings []string
	// stringIndex is used to avoid duplicate strings.
	stringIndex map[string]struct{}

	// bytes represents a set of byte sequences, in insertion order.
	bytes [][]byte
	// bytesIndex is used to avoid duplicate byte sequences.
	bytesIndex map[string]struct{}

	// maxSize is the maximum amount of values held across all kinds. Once reached, new values are dropped. A value of
	// zero indicates no limit.
	maxSize int
}

// NewValueSet initializes a new, unbounded ValueSet.
func NewValueSet() *ValueSet {
	return &ValueSet{
		addresses:    make([]common.Address, 0),
		addressIndex: make(map[common.Address]struct{}),
		integers:     make([]*big.Int, 0),
		integerIndex: make(map[string]struct{}),
		strings:      make([]string, 0),
		stringIndex:  make(map[string]struct{}),
		bytes:        make([][]byte, 0),
		bytesIndex:   make(map[string]struct{}),
	}
}

// Clone creates a copy of the current ValueSet, including its size limit.
func (vs *ValueSet) Clone() *ValueSet {
	clone := NewValueSet()
	clone.maxSize = vs.maxSize
	clone.Merge(vs)
	return clone
}

// Merge adds every value of another ValueSet to this one, in the other set's order.
func (vs *ValueSet) Merge(other *ValueSet) {
	for _, a := range other.addresses {
		vs.AddAddress(a)
	}
	for _, i := range other.integers {
		vs.AddInteger(i)
	}
	for _, s := range other.strings {
		vs.AddString(s)
	}
	for _, b := range other.bytes {
		vs.AddBytes(b)
	}
}

// MaxSize returns the maximum amount of values the set will hold, or zero if it is unbounded.
func (vs *ValueSet) MaxSize() int {
	return vs.maxSize
}

// SetMaxSize sets the maximum amount of values the set will hold. Values already held are kept.
func (vs *ValueSet) SetMaxSize(maxSize int) {
	vs.maxSize = maxSize
}

// Len returns the total amount of values across all kinds.
func (vs *ValueSet) Len() int {
	return len(vs.addresses) + len(vs.integers) + len(vs.strings) + len(vs.bytes)
}

// full indicates whether the set reached its size limit.
func (vs *ValueSet) full() bool {
	return vs.maxSize > 0 && vs.Len() >= vs.maxSize
}

// Addresses returns a list of addresses contained within the set.
func (vs *ValueSet) Addresses() []common.Address {
	return slices.Clone(vs.addresses)
}

// AddAddress adds an address item to the ValueSet. Returns true if the value was added.
func (vs *ValueSet) AddAddress(a common.Address) bool {
	if _, exists := vs.addressIndex[a]; exists || vs.full() {
		return false
	}
	vs.addressIndex[a] = struct{}{}
	vs.addresses = append(vs.addresses, a)
	return true
}

// ContainsAddress indicates whether the address exists in the set.
func (vs *ValueSet) ContainsAddress(a common.Address) bool {
	_, exists := vs.addressIndex[a]
	return exists
}

// Integers returns a list of integers contained within the set.
func (vs *ValueSet) Integers() []*big.Int {
	res := make([]*big.Int, len(vs.integers))
	for i, v := range vs.integers {
		res[i] = new(big.Int).Set(v)
	}
	return res
}

// AddInteger adds an integer item to the ValueSet. Returns true if the value was added.
func (vs *ValueSet) AddInteger(b *big.Int) bool {
	key := b.String()
	if _, exists := vs.integerIndex[key]; exists || vs.full() {
		return false
	}
	vs.integerIndex[key] = struct{}{}
	vs.integers = append(vs.integers, new(big.Int).Set(b))
	return true
}

// ContainsInteger indicates whether the integer exists in the set.
func (vs *ValueSet) ContainsInteger(b *big.Int) bool {
	_, exists := vs.integerIndex[b.String()]
	return exists
}

// Strings returns a list of strings contained within the set.
func (vs *ValueSet) Strings() []string {
	return slices.Clone(vs.strings)
}

// AddString adds a string item to the ValueSet. Returns true if the value was added.
func (vs *ValueSet) AddString(s string) bool {
	if _, exists := vs.stringIndex[s]; exists || vs.full() {
		return false
	}
	vs.stringIndex[s] = struct{}{}
	vs.strings = append(vs.strings, s)
	return true
}

// ContainsString indicates whether the string exists in the set.
func (vs *ValueSet) ContainsString(s string) bool {
	_, exists := vs.stringIndex[s]
	return exists
}

// Bytes returns a list of byte sequences contained within the set.
func (vs *ValueSet) Bytes() [][]byte {
	res := make([][]byte, len(vs.bytes))
	for i, b := range vs.bytes {
		res[i] = slices.Clone(b)
	}
	return res
}

// AddBytes adds a byte sequence to the ValueSet. Returns true if the value was added.
func (vs *ValueSet) AddBytes(b []byte) bool {
	key := string(b)
	if _, exists := vs.bytesIndex[key]; exists || vs.full() {
		return false
	}
	vs.bytesIndex[key] = struct{}{}
	vs.bytes = append(vs.bytes, slices.Clone(b))
	return true
}

// ContainsBytes indicates whether the byte sequence exists in the set.
func (vs *ValueSet) ContainsBytes(b []byte) bool {
	_, exists := vs.bytesIndex[string(b)]
	return exists
}
