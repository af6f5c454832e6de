package valuegeneration

import (
	"math/big"
	"testing"

	"github.com/crytic/invfuzz/utils/randomutils"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeABIArgumentsToString ensures values are rendered in the reproducer format.
func TestEncodeABIArgumentsToString(t *testing.T) {
	uintType, _ := abi.NewType("uint256", "", nil)
	addressType, _ := abi.NewType("address", "", nil)
	stringType, _ := abi.NewType("string", "", nil)
	bytesType, _ := abi.NewType("bytes4", "", nil)
	sliceType, _ := abi.NewType("int8[]", "", nil)
	args := abi.Arguments{{Type: uintType}, {Type: addressType}, {Type: stringType}, {Type: bytesType}, {Type: sliceType}}

	s, err := EncodeABIArgumentsToString(args, []any{
		big.NewInt(12),
		common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		"hi",
		[4]byte{0xde, 0xad, 0xbe, 0xef},
		[]int8{-1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `12, 0x000000000000000000000000000000000000dEaD, "hi", 0xdeadbeef, [-1, 2]`, s)

	_, err = EncodeABIArgumentsToString(args, []any{big.NewInt(1)})
	assert.Error(t, err)
}

// TestEncodeGeneratedArgumentsToString ensures every generated value can be rendered.
func TestEncodeGeneratedArgumentsToString(t *testing.T) {
	args := getTestABIArguments(t)
	strategy := NewStrategy(DefaultStrategyConfig(), nil)
	rng := randomutils.NewRandomState(21)
	for i := 0; i < 50; i++ {
		var values []any
		values, rng = strategy.GenerateArguments(args, rng, nil)
		_, err := EncodeABIArgumentsToString(args, values)
		assert.NoError(t, err)
	}
}
