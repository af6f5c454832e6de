package valuegeneration

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/crytic/invfuzz/utils"
	"github.com/crytic/invfuzz/utils/randomutils"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
)

// biasPrecision is the denominator used when converting a bias probability into a random draw.
const biasPrecision = 10000

// StrategyConfig defines the probabilities and size limits used by a Strategy.
type StrategyConfig struct {
	// BoundaryBias is the probability an integer is chosen from the boundary values of its type.
	BoundaryBias float64 `json:"boundaryBias"`

	// DictionaryBias is the probability a value is chosen from the dictionary, when it holds values of the kind
	// being generated.
	DictionaryBias float64 `json:"dictionaryBias"`

	// MaxDynamicLength is the maximum length of randomly generated bytes and strings.
	MaxDynamicLength int `json:"maxDynamicLength"`

	// MaxArrayLength is the maximum length of randomly generated dynamic arrays.
	MaxArrayLength int `json:"maxArrayLength"`
}

// DefaultStrategyConfig returns the default StrategyConfig.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		BoundaryBias:     0.25,
		DictionaryBias:   0.40,
		MaxDynamicLength: 64,
		MaxArrayLength:   8,
	}
}

// Strategy generates ABI values for function arguments. It holds no mutable state: the random state is threaded in
// and out of every generation call, so identical inputs always produce identical values.
type Strategy struct {
	// config describes the probabilities and limits to generate with.
	config StrategyConfig

	// universeAddresses describes the addresses of the target universe, which address generation prefers over
	// dictionary addresses.
	universeAddresses []common.Address
}

// NewStrategy creates a Strategy with the provided config, biasing address generation towards the provided
// universe addresses.
func NewStrategy(config StrategyConfig, universeAddresses []common.Address) *Strategy {
	return &Strategy{
		config:            config,
		universeAddresses: append([]common.Address{}, universeAddresses...),
	}
}

// Config returns the configuration the strategy generates with.
func (s *Strategy) Config() StrategyConfig {
	return s.config
}

// chance draws a boolean which is true with the provided probability.
func chance(rng randomutils.RandomState, probability float64) (bool, randomutils.RandomState) {
	return rng.Chance(int(probability*biasPrecision), biasPrecision)
}

// GenerateArguments generates a value for every provided argument. Returns the values and the successor random state.
func (s *Strategy) GenerateArguments(args abi.Arguments, rng randomutils.RandomState, dict *ValueSet) ([]any, randomutils.RandomState) {
	values := make([]any, len(args))
	for i := range args {
		values[i], rng = s.Generate(&args[i].Type, rng, dict)
	}
	return values, rng
}

// Generate generates a value of the provided abi.Type, in the Go representation the ABI encoder expects. Returns the
// value and the successor random state.
func (s *Strategy) Generate(t *abi.Type, rng randomutils.RandomState, dict *ValueSet) (any, randomutils.RandomState) {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		var v *big.Int
		v, rng = s.generateInteger(t.T == abi.IntTy, t.Size, rng, dict)
		return IntegerToAbiValue(t, v), rng
	case abi.AddressTy:
		return s.generateAddress(rng, dict)
	case abi.BoolTy:
		return rng.Bool()
	case abi.StringTy:
		return s.generateString(rng, dict)
	case abi.BytesTy:
		return s.generateBytes(rng, dict)
	case abi.FixedBytesTy:
		var b []byte
		b, rng = s.generateFixedBytes(t.Size, rng, dict)
		return toFixedBytesValue(t, b), rng
	case abi.ArrayTy:
		// Fixed size arrays must be created through reflection, as their length is part of their type.
		array := reflect.Indirect(reflect.New(t.GetType()))
		for i := 0; i < array.Len(); i++ {
			var elem any
			elem, rng = s.Generate(t.Elem, rng, dict)
			array.Index(i).Set(reflect.ValueOf(elem))
		}
		return array.Interface(), rng
	case abi.SliceTy:
		var length int
		length, rng = rng.Intn(s.config.MaxArrayLength + 1)
		slice := reflect.MakeSlice(t.GetType(), length, length)
		for i := 0; i < length; i++ {
			var elem any
			elem, rng = s.Generate(t.Elem, rng, dict)
			slice.Index(i).Set(reflect.ValueOf(elem))
		}
		return slice.Interface(), rng
	case abi.TupleTy:
		// Tuples are represented by structs the ABI encoder derives, so we populate them through reflection.
		st := reflect.Indirect(reflect.New(t.GetType()))
		for i := 0; i < len(t.TupleElems); i++ {
			var elem any
			elem, rng = s.Generate(t.TupleElems[i], rng, dict)
			st.Field(i).Set(reflect.ValueOf(elem))
		}
		return st.Interface(), rng
	}

	// Mappings can't be function arguments and fixed point types are unsupported by the ABI encoder.
	panic(fmt.Sprintf("attempt to generate function argument of unsupported type: '%s'", t.String()))
}

// generateInteger generates an integer within the bounds of the provided type.
func (s *Strategy) generateInteger(signed bool, bitLength int, rng randomutils.RandomState, dict *ValueSet) (*big.Int, randomutils.RandomState) {
	min, max := utils.GetIntegerConstraints(signed, bitLength)

	var useBoundary bool
	useBoundary, rng = chance(rng, s.config.BoundaryBias)
	if useBoundary {
		boundaries := boundaryIntegers(min, max)
		var idx int
		idx, rng = rng.Intn(len(boundaries))
		return boundaries[idx], rng
	}

	if dict != nil && len(dict.integers) > 0 {
		var useDictionary bool
		useDictionary, rng = chance(rng, s.config.DictionaryBias)
		if useDictionary {
			var idx, offset int
			idx, rng = rng.Intn(len(dict.integers))
			offset, rng = rng.Intn(3)
			v := new(big.Int).Add(dict.integers[idx], big.NewInt(int64(offset-1)))
			return utils.ConstrainIntegerToBounds(v, min, max), rng
		}
	}

	return rng.BigIntInRange(min, max)
}

// boundaryIntegers returns the boundary values of an integer range: zero, one, the bounds and their inner neighbours.
func boundaryIntegers(min *big.Int, max *big.Int) []*big.Int {
	return []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		new(big.Int).Set(min),
		new(big.Int).Set(max),
		new(big.Int).Add(min, big.NewInt(1)),
		new(big.Int).Sub(max, big.NewInt(1)),
	}
}

// generateAddress generates an address, preferring universe addresses then dictionary addresses.
func (s *Strategy) generateAddress(rng randomutils.RandomState, dict *ValueSet) (common.Address, randomutils.RandomState) {
	dictionaryCount := 0
	if dict != nil {
		dictionaryCount = len(dict.addresses)
	}
	if candidates := len(s.universeAddresses) + dictionaryCount; candidates > 0 {
		var useDictionary bool
		useDictionary, rng = chance(rng, s.config.DictionaryBias)
		if useDictionary {
			var idx int
			idx, rng = rng.Intn(candidates)
			if idx < len(s.universeAddresses) {
				return s.universeAddresses[idx], rng
			}
			return dict.addresses[idx-len(s.universeAddresses)], rng
		}
	}

	var b []byte
	b, rng = rng.Bytes(common.AddressLength)
	return common.BytesToAddress(b), rng
}

// generateBytes generates a dynamic byte slice.
func (s *Strategy) generateBytes(rng randomutils.RandomState, dict *ValueSet) ([]byte, randomutils.RandomState) {
	if dict != nil && len(dict.bytes) > 0 {
		var useDictionary bool
		useDictionary, rng = chance(rng, s.config.DictionaryBias)
		if useDictionary {
			var idx int
			idx, rng = rng.Intn(len(dict.bytes))
			return append([]byte{}, dict.bytes[idx]...), rng
		}
	}

	var length int
	length, rng = rng.Intn(s.config.MaxDynamicLength + 1)
	return rng.Bytes(length)
}

// generateString generates a string of printable ASCII characters.
func (s *Strategy) generateString(rng randomutils.RandomState, dict *ValueSet) (string, randomutils.RandomState) {
	if dict != nil && len(dict.strings) > 0 {
		var useDictionary bool
		useDictionary, rng = chance(rng, s.config.DictionaryBias)
		if useDictionary {
			var idx int
			idx, rng = rng.Intn(len(dict.strings))
			return dict.strings[idx], rng
		}
	}

	var length int
	length, rng = rng.Intn(s.config.MaxDynamicLength + 1)
	b, rng := rng.Bytes(length)
	for i := range b {
		b[i] = ' ' + b[i]%95
	}
	return string(b), rng
}

// generateFixedBytes generates size bytes. Dictionary byte sequences are truncated or right padded to size, and
// 32-byte values additionally draw from dictionary integers.
func (s *Strategy) generateFixedBytes(size int, rng randomutils.RandomState, dict *ValueSet) ([]byte, randomutils.RandomState) {
	if dict != nil {
		candidates := len(dict.bytes)
		if size == common.HashLength {
			candidates += len(dict.integers)
		}
		if candidates > 0 {
			var useDictionary bool
			useDictionary, rng = chance(rng, s.config.DictionaryBias)
			if useDictionary {
				var idx int
				idx, rng = rng.Intn(candidates)
				var source []byte
				if idx < len(dict.bytes) {
					source = dict.bytes[idx]
				} else {
					source = common.BigToHash(dict.integers[idx-len(dict.bytes)]).Bytes()
				}
				b := make([]byte, size)
				copy(b, source)
				return b, rng
			}
		}
	}
	return rng.Bytes(size)
}

// toFixedBytesValue converts a byte slice into the [N]byte array type the ABI encoder expects for the provided type.
func toFixedBytesValue(t *abi.Type, b []byte) any {
	array := reflect.Indirect(reflect.New(t.GetType()))
	for i := 0; i < array.Len() && i < len(b); i++ {
		array.Index(i).Set(reflect.ValueOf(b[i]))
	}
	return array.Interface()
}

// IntegerToAbiValue converts a big integer into the Go type the ABI encoder expects for the provided integer type.
// Integers of 8, 16, 32 and 64 bits are represented by native Go integers, all others by *big.Int.
func IntegerToAbiValue(t *abi.Type, v *big.Int) any {
	if t.T == abi.UintTy {
		switch t.Size {
		case 8:
			return uint8(v.Uint64())
		case 16:
			return uint16(v.Uint64())
		case 32:
			return uint32(v.Uint64())
		case 64:
			return v.Uint64()
		}
	} else {
		switch t.Size {
		case 8:
			return int8(v.Int64())
		case 16:
			return int16(v.Int64())
		case 32:
			return int32(v.Int64())
		case 64:
			return v.Int64()
		}
	}
	return new(big.Int).Set(v)
}

// AbiValueToInteger converts an ABI integer value (native Go integer or *big.Int) into a big integer.
// Returns nil if the value is not an integer.
func AbiValueToInteger(value any) *big.Int {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v)
	case uint8:
		return new(big.Int).SetUint64(uint64(v))
	case uint16:
		return new(big.Int).SetUint64(uint64(v))
	case uint32:
		return new(big.Int).SetUint64(uint64(v))
	case uint64:
		return new(big.Int).SetUint64(v)
	case int8:
		return big.NewInt(int64(v))
	case int16:
		return big.NewInt(int64(v))
	case int32:
		return big.NewInt(int64(v))
	case int64:
		return big.NewInt(v)
	}
	return nil
}
