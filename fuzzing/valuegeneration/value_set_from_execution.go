package valuegeneration

import (
	"math/big"

	"github.com/crytic/medusa-geth/common"
	coreTypes "github.com/crytic/medusa-geth/core/types"
	"github.com/crytic/medusa-geth/core/vm"
)

// maxHarvestedWords bounds the amount of 32-byte words harvested from a single return data or log data buffer.
const maxHarvestedWords = 16

// ExecutionObservation describes the results of an executed call which values can be harvested from.
type ExecutionObservation interface {
	// ObservedReturnData returns the data returned by the call.
	ObservedReturnData() []byte
	// ObservedLogs returns the logs emitted by the call.
	ObservedLogs() []*coreTypes.Log
	// ObservedStorageWords returns the storage slots written by the call, along with their new values.
	ObservedStorageWords() []common.Hash
}

// CollectFromOutcome adds values of interest from an executed call to the set: storage slots and values written,
// return data words, and log topics and data words. Values are dropped once the set is full.
func (vs *ValueSet) CollectFromOutcome(observation ExecutionObservation) {
	for _, word := range observation.ObservedStorageWords() {
		vs.AddWord(word)
	}
	vs.addWordsFromData(observation.ObservedReturnData())
	for _, log := range observation.ObservedLogs() {
		// The first topic is the event signature hash, which is of no interest as an argument.
		for i := 1; i < len(log.Topics); i++ {
			vs.AddWord(log.Topics[i])
		}
		vs.addWordsFromData(log.Data)
	}
}

// addWordsFromData splits the data into 32-byte words and adds each of them, up to maxHarvestedWords.
func (vs *ValueSet) addWordsFromData(data []byte) {
	for i := 0; i < maxHarvestedWords && i*common.HashLength < len(data); i++ {
		end := (i + 1) * common.HashLength
		if end > len(data) {
			end = len(data)
		}
		vs.AddWord(common.BytesToHash(common.RightPadBytes(data[i*common.HashLength:end], common.HashLength)))
	}
}

// AddWord adds a 32-byte EVM word to the set as an integer, and additionally as an address if it is shaped like
// one (upper 12 bytes clear and a non-zero lower part).
func (vs *ValueSet) AddWord(word common.Hash) {
	vs.AddInteger(new(big.Int).SetBytes(word.Bytes()))
	if isAddressShaped(word) {
		vs.AddAddress(common.BytesToAddress(word.Bytes()))
	}
}

// isAddressShaped indicates whether a word holds a left-padded 160-bit value which is not zero.
func isAddressShaped(word common.Hash) bool {
	for i := 0; i < common.HashLength-common.AddressLength; i++ {
		if word[i] != 0 {
			return false
		}
	}
	return word != (common.Hash{})
}

// SeedFromBytecode adds the immediate values of every PUSH instruction in the provided bytecode to the set. Twenty
// byte immediates are additionally added as addresses.
func (vs *ValueSet) SeedFromBytecode(code []byte) {
	for pc := 0; pc < len(code); pc++ {
		op := vm.OpCode(code[pc])
		if op < vm.PUSH1 || op > vm.PUSH32 {
			continue
		}

		size := int(op-vm.PUSH1) + 1
		end := pc + 1 + size
		if end > len(code) {
			// Truncated push at the end of the code (typically the metadata trailer).
			return
		}
		immediate := code[pc+1 : end]
		vs.AddInteger(new(big.Int).SetBytes(immediate))
		if size == common.AddressLength {
			vs.AddAddress(common.BytesToAddress(immediate))
		}
		pc = end - 1
	}
}
