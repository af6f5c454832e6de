package valuegeneration

import (
	"math/big"
	"testing"

	"github.com/crytic/medusa-geth/common"
	coreTypes "github.com/crytic/medusa-geth/core/types"
	"github.com/crytic/medusa-geth/core/vm"
	"github.com/stretchr/testify/assert"
)

// TestValueSetInsertionOrder ensures values are deduplicated and iterated in insertion order.
func TestValueSetInsertionOrder(t *testing.T) {
	vs := NewValueSet()
	assert.True(t, vs.AddInteger(big.NewInt(3)))
	assert.True(t, vs.AddInteger(big.NewInt(1)))
	assert.False(t, vs.AddInteger(big.NewInt(3)))
	assert.True(t, vs.AddInteger(big.NewInt(2)))
	assert.EqualValues(t, []*big.Int{big.NewInt(3), big.NewInt(1), big.NewInt(2)}, vs.Integers())

	assert.True(t, vs.AddBytes([]byte{1, 2}))
	assert.False(t, vs.AddBytes([]byte{1, 2}))
	assert.True(t, vs.ContainsBytes([]byte{1, 2}))
	assert.True(t, vs.AddString("a"))
	assert.True(t, vs.AddAddress(common.HexToAddress("0x1")))
	assert.Equal(t, 6, vs.Len())

	// Returned values must not alias the set's storage.
	vs.Integers()[0].SetInt64(100)
	assert.True(t, vs.ContainsInteger(big.NewInt(3)))
	assert.False(t, vs.ContainsInteger(big.NewInt(100)))
}

// TestValueSetMaxSize ensures values are dropped once a bounded set is full, and that clones keep the bound.
func TestValueSetMaxSize(t *testing.T) {
	vs := NewValueSet()
	vs.SetMaxSize(2)
	assert.True(t, vs.AddInteger(big.NewInt(1)))
	assert.True(t, vs.AddString("x"))
	assert.False(t, vs.AddInteger(big.NewInt(2)))
	assert.Equal(t, 2, vs.Len())

	clone := vs.Clone()
	assert.Equal(t, 2, clone.MaxSize())
	assert.False(t, clone.AddAddress(common.HexToAddress("0x1")))
	assert.True(t, clone.ContainsString("x"))
}

// TestSeedFromBytecode ensures PUSH immediates are harvested, and twenty byte immediates are also added as addresses.
func TestSeedFromBytecode(t *testing.T) {
	address := common.HexToAddress("0x00000000000000000000000000000000DeaDBeef")
	code := []byte{byte(vm.PUSH1), 0x2a, byte(vm.PUSH2), 0x01, 0x00, byte(vm.PUSH20)}
	code = append(code, address.Bytes()...)
	code = append(code, byte(vm.ADD), byte(vm.PUSH32), 0xff) // truncated push

	vs := NewValueSet()
	vs.SeedFromBytecode(code)
	assert.True(t, vs.ContainsInteger(big.NewInt(42)))
	assert.True(t, vs.ContainsInteger(big.NewInt(256)))
	assert.True(t, vs.ContainsAddress(address))
	assert.False(t, vs.ContainsInteger(big.NewInt(0xff)))
}

// testObservation is a static ExecutionObservation.
type testObservation struct {
	returnData []byte
	logs       []*coreTypes.Log
	storage    []common.Hash
}

func (o testObservation) ObservedReturnData() []byte          { return o.returnData }
func (o testObservation) ObservedLogs() []*coreTypes.Log      { return o.logs }
func (o testObservation) ObservedStorageWords() []common.Hash { return o.storage }

// TestCollectFromOutcome ensures storage words, return data words and log words are harvested, excluding event
// signature topics.
func TestCollectFromOutcome(t *testing.T) {
	signature := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	recipient := common.HexToAddress("0xC0FFEE")
	vs := NewValueSet()
	vs.CollectFromOutcome(testObservation{
		returnData: common.BigToHash(big.NewInt(77)).Bytes(),
		logs: []*coreTypes.Log{{
			Topics: []common.Hash{signature, common.BytesToHash(recipient.Bytes())},
			Data:   common.BigToHash(big.NewInt(500)).Bytes(),
		}},
		storage: []common.Hash{common.BigToHash(big.NewInt(9))},
	})

	assert.True(t, vs.ContainsInteger(big.NewInt(77)))
	assert.True(t, vs.ContainsInteger(big.NewInt(500)))
	assert.True(t, vs.ContainsInteger(big.NewInt(9)))
	assert.True(t, vs.ContainsAddress(recipient))
	assert.False(t, vs.ContainsInteger(new(big.Int).SetBytes(signature.Bytes())))
}
