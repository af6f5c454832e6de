package valuegeneration

import (
	"math/big"
	"testing"

	"github.com/crytic/invfuzz/utils"
	"github.com/crytic/invfuzz/utils/randomutils"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTestABIArguments obtains ABI arguments of various types for use in testing ABI value related methods.
func getTestABIArguments(t *testing.T) abi.Arguments {
	typeNames := []string{
		"uint8", "uint64", "uint96", "uint256", "int8", "int32", "int256",
		"address", "bool", "string", "bytes", "bytes4", "bytes32",
		"uint256[3]", "address[]", "string[2][]",
	}
	args := make(abi.Arguments, 0, len(typeNames)+1)
	for _, typeName := range typeNames {
		typ, err := abi.NewType(typeName, "", nil)
		require.NoError(t, err)
		args = append(args, abi.Argument{Name: "", Type: typ})
	}

	tupleType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "amount", Type: "uint256"},
		{Name: "recipient", Type: "address"},
		{Name: "tags", Type: "bytes32[]"},
	})
	require.NoError(t, err)
	return append(args, abi.Argument{Name: "", Type: tupleType})
}

// TestGenerateArgumentsPackable ensures every generated value is accepted by the ABI encoder for its type, across many
// random states.
func TestGenerateArgumentsPackable(t *testing.T) {
	args := getTestABIArguments(t)
	dict := NewValueSet()
	dict.AddInteger(big.NewInt(1337))
	dict.AddAddress(common.HexToAddress("0x1234"))
	dict.AddBytes([]byte("dictionary"))
	dict.AddString("dictionary")
	strategy := NewStrategy(DefaultStrategyConfig(), []common.Address{common.HexToAddress("0x10000")})

	rng := randomutils.NewRandomState(7)
	for i := 0; i < 200; i++ {
		var values []any
		values, rng = strategy.GenerateArguments(args, rng, dict)
		_, err := args.Pack(values...)
		require.NoError(t, err)
	}
}

// TestGenerateDeterministic ensures generation is a pure function of the random state and dictionary.
func TestGenerateDeterministic(t *testing.T) {
	args := getTestABIArguments(t)
	strategy := NewStrategy(DefaultStrategyConfig(), nil)
	dict := NewValueSet()
	dict.AddInteger(big.NewInt(42))

	valuesA, nextA := strategy.GenerateArguments(args, randomutils.NewRandomState(99), dict)
	valuesB, nextB := strategy.GenerateArguments(args, randomutils.NewRandomState(99), dict)
	assert.EqualValues(t, valuesA, valuesB)
	assert.Equal(t, nextA, nextB)

	packedA, err := args.Pack(valuesA...)
	require.NoError(t, err)
	packedB, err := args.Pack(valuesB...)
	require.NoError(t, err)
	assert.Equal(t, packedA, packedB)
}

// TestGenerateIntegerBounds ensures generated integers always fall within the bounds of their type.
func TestGenerateIntegerBounds(t *testing.T) {
	strategy := NewStrategy(DefaultStrategyConfig(), nil)
	dict := NewValueSet()
	dict.AddInteger(new(big.Int).Lsh(big.NewInt(1), 200))
	dict.AddInteger(big.NewInt(-1))

	for _, typeName := range []string{"uint8", "int8", "uint24", "int24", "uint256", "int256"} {
		typ, err := abi.NewType(typeName, "", nil)
		require.NoError(t, err)
		min, max := utils.GetIntegerConstraints(typ.T == abi.IntTy, typ.Size)

		rng := randomutils.NewRandomState(1)
		for i := 0; i < 500; i++ {
			var value any
			value, rng = strategy.Generate(&typ, rng, dict)
			v := AbiValueToInteger(value)
			require.NotNil(t, v)
			assert.True(t, v.Cmp(min) >= 0 && v.Cmp(max) <= 0, "%v out of bounds for %v", v, typeName)
		}
	}
}

// TestGenerateBoundaryBias ensures a boundary bias of one only yields boundary values.
func TestGenerateBoundaryBias(t *testing.T) {
	config := DefaultStrategyConfig()
	config.BoundaryBias = 1
	strategy := NewStrategy(config, nil)

	typ, err := abi.NewType("int16", "", nil)
	require.NoError(t, err)
	expected := map[int64]bool{0: true, 1: true, -32768: true, 32767: true, -32767: true, 32766: true}

	rng := randomutils.NewRandomState(3)
	for i := 0; i < 200; i++ {
		var value any
		value, rng = strategy.Generate(&typ, rng, nil)
		assert.True(t, expected[int64(value.(int16))], "unexpected boundary value %v", value)
	}
}

// TestGenerateDictionaryBias ensures a dictionary bias of one only yields dictionary values or their neighbours.
func TestGenerateDictionaryBias(t *testing.T) {
	config := DefaultStrategyConfig()
	config.BoundaryBias = 0
	config.DictionaryBias = 1
	universe := []common.Address{common.HexToAddress("0xAAAA")}
	strategy := NewStrategy(config, universe)

	dict := NewValueSet()
	dict.AddInteger(big.NewInt(1000))
	dict.AddAddress(common.HexToAddress("0xBBBB"))

	uintType, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	addressType, err := abi.NewType("address", "", nil)
	require.NoError(t, err)

	seenUniverse, seenDictionary := false, false
	rng := randomutils.NewRandomState(5)
	for i := 0; i < 200; i++ {
		var value any
		value, rng = strategy.Generate(&uintType, rng, dict)
		v := value.(*big.Int).Int64()
		assert.True(t, v >= 999 && v <= 1001, "unexpected dictionary neighbour %v", v)

		value, rng = strategy.Generate(&addressType, rng, dict)
		switch value.(common.Address) {
		case universe[0]:
			seenUniverse = true
		case common.HexToAddress("0xBBBB"):
			seenDictionary = true
		default:
			t.Fatalf("unexpected address %v", value)
		}
	}
	assert.True(t, seenUniverse)
	assert.True(t, seenDictionary)
}

// TestGenerateDynamicLengthLimits ensures random dynamic values respect the configured maximum lengths.
func TestGenerateDynamicLengthLimits(t *testing.T) {
	config := DefaultStrategyConfig()
	config.MaxDynamicLength = 5
	config.MaxArrayLength = 2
	strategy := NewStrategy(config, nil)

	bytesType, err := abi.NewType("bytes", "", nil)
	require.NoError(t, err)
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	sliceType, err := abi.NewType("uint8[]", "", nil)
	require.NoError(t, err)

	rng := randomutils.NewRandomState(11)
	for i := 0; i < 100; i++ {
		var value any
		value, rng = strategy.Generate(&bytesType, rng, nil)
		assert.LessOrEqual(t, len(value.([]byte)), 5)
		value, rng = strategy.Generate(&stringType, rng, nil)
		assert.LessOrEqual(t, len(value.(string)), 5)
		value, rng = strategy.Generate(&sliceType, rng, nil)
		assert.LessOrEqual(t, len(value.([]uint8)), 2)
	}
}
