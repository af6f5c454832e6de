package chain

import (
	"encoding/binary"
	"math/big"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core"
	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/medusa-geth/crypto"
)

// blockEnvironment describes the block-level values observed by calls on the TestChain. There are no real blocks:
// the environment only changes through the warp and roll cheat codes, and is captured by checkpoints.
type blockEnvironment struct {
	// number describes the block number (block.number).
	number uint64

	// time describes the block timestamp (block.timestamp).
	time uint64

	// coinbase describes the block coinbase (block.coinbase).
	coinbase common.Address

	// baseFee describes the block base fee (block.basefee).
	baseFee *big.Int

	// gasLimit describes the block gas limit (block.gaslimit).
	gasLimit uint64
}

// clone returns a copy of the block environment.
func (b *blockEnvironment) clone() *blockEnvironment {
	return &blockEnvironment{
		number:   b.number,
		time:     b.time,
		coinbase: b.coinbase,
		baseFee:  new(big.Int).Set(b.baseFee),
		gasLimit: b.gasLimit,
	}
}

// setBlockEnvironment replaces the block environment, updating the EVM executing the call in progress so the change
// is observed immediately.
func (t *TestChain) setBlockEnvironment(env *blockEnvironment) {
	t.blockEnv = env
	if t.currentEVM != nil {
		t.currentEVM.Context.Time = env.time
		t.currentEVM.Context.BlockNumber = new(big.Int).SetUint64(env.number)
	}
}

// blockHashFromNumber returns a deterministic stand-in hash for a block number.
func blockHashFromNumber(n uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return crypto.Keccak256Hash(buf[:])
}

// newTestChainBlockContext obtains a new vm.BlockContext which provides data from the provided block environment.
func newTestChainBlockContext(env *blockEnvironment) vm.BlockContext {
	// A non-nil random value marks the context as post-merge.
	random := blockHashFromNumber(env.number)
	return vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     blockHashFromNumber,
		Coinbase:    env.coinbase,
		BlockNumber: new(big.Int).SetUint64(env.number),
		Time:        env.time,
		Difficulty:  big.NewInt(0),
		BaseFee:     new(big.Int).Set(env.baseFee),
		BlobBaseFee: big.NewInt(1),
		GasLimit:    env.gasLimit,
		Random:      &random,
	}
}
