package chain

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	coreTypes "github.com/crytic/medusa-geth/core/types"
)

// CallStatus describes how a call submitted to the TestChain concluded.
type CallStatus int

const (
	// CallStatusCompleted indicates the call returned successfully and its state changes were kept.
	CallStatusCompleted CallStatus = iota
	// CallStatusReverted indicates the call reverted, discarding its state changes.
	CallStatusReverted
	// CallStatusHalted indicates the call failed exceptionally (out of gas, invalid opcode, stack errors, etc).
	CallStatusHalted
	// CallStatusRejected indicates the call was rejected by the assume cheat code. Rejected calls are not executions
	// of interest and are discarded by the fuzzer.
	CallStatusRejected
)

// String returns a string representation of the call status.
func (s CallStatus) String() string {
	switch s {
	case CallStatusCompleted:
		return "completed"
	case CallStatusReverted:
		return "reverted"
	case CallStatusHalted:
		return "halted"
	case CallStatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StorageSlotDiff describes the value of a storage slot before and after a call.
type StorageSlotDiff struct {
	Before common.Hash `json:"before"`
	After  common.Hash `json:"after"`
}

// StorageDiff maps accounts to the storage slots a call changed.
type StorageDiff map[common.Address]map[common.Hash]StorageSlotDiff

// Addresses returns the accounts in the diff, sorted.
func (d StorageDiff) Addresses() []common.Address {
	addresses := make([]common.Address, 0, len(d))
	for address := range d {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool {
		return bytes.Compare(addresses[i][:], addresses[j][:]) < 0
	})
	return addresses
}

// Slots returns the changed slots of an account, sorted.
func (d StorageDiff) Slots(address common.Address) []common.Hash {
	slots := make([]common.Hash, 0, len(d[address]))
	for slot := range d[address] {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		return bytes.Compare(slots[i][:], slots[j][:]) < 0
	})
	return slots
}

// String returns a human-readable representation of the diff, one changed slot per line.
func (d StorageDiff) String() string {
	var buf bytes.Buffer
	for _, address := range d.Addresses() {
		for _, slot := range d.Slots(address) {
			diff := d[address][slot]
			fmt.Fprintf(&buf, "%s[%s]: %s -> %s\n", address.String(), slot.Hex(), diff.Before.Hex(), diff.After.Hex())
		}
	}
	return buf.String()
}

// CallOutcome describes the results of a call submitted to the TestChain.
type CallOutcome struct {
	// Status describes how the call concluded.
	Status CallStatus

	// ReturnData describes the data returned by the call, or the revert data if it reverted.
	ReturnData []byte

	// Logs describes the logs emitted by the call. Empty if the call did not complete.
	Logs []*coreTypes.Log

	// StorageDiff describes the storage slots changed by the call. Empty if the call did not complete.
	StorageDiff StorageDiff

	// RevertReason describes the decoded Error(string) revert reason, the error which halted execution, or the
	// dispatch error message if the call could not be dispatched. Empty otherwise.
	RevertReason string

	// PanicCode describes the decoded Panic(uint256) code, or nil if the call did not revert with a panic.
	PanicCode *big.Int

	// CreatedContracts describes the addresses of contracts created by the call, in creation order.
	CreatedContracts []common.Address

	// GasUsed describes the gas used by the call.
	GasUsed uint64

	// ExpectedRevert indicates the call reverted in a way an armed expectRevert directive anticipated.
	ExpectedRevert bool

	// ExpectationFailure describes the directives (expectRevert, expectEmit, expectCall) the call did not satisfy.
	// Empty if every expectation armed for the call was satisfied.
	ExpectationFailure string
}

// Failed indicates whether the call did not complete.
func (o *CallOutcome) Failed() bool {
	return o.Status != CallStatusCompleted
}

// FailureString returns a description of why the call did not complete: the revert reason, the panic code, or the
// status itself.
func (o *CallOutcome) FailureString() string {
	if o.RevertReason != "" {
		return o.RevertReason
	}
	if o.PanicCode != nil {
		return fmt.Sprintf("panic: %s (0x%x)", panicCodeDescription(o.PanicCode), o.PanicCode)
	}
	if o.Status == CallStatusReverted && len(o.ReturnData) > 0 {
		return fmt.Sprintf("reverted with data 0x%x", o.ReturnData)
	}
	return o.Status.String()
}

// ObservedReturnData returns the data returned by the call.
func (o *CallOutcome) ObservedReturnData() []byte {
	return o.ReturnData
}

// ObservedLogs returns the logs emitted by the call.
func (o *CallOutcome) ObservedLogs() []*coreTypes.Log {
	return o.Logs
}

// ObservedStorageWords returns the changed storage slots and their new values, in a deterministic order.
func (o *CallOutcome) ObservedStorageWords() []common.Hash {
	words := make([]common.Hash, 0)
	for _, address := range o.StorageDiff.Addresses() {
		for _, slot := range o.StorageDiff.Slots(address) {
			words = append(words, slot, o.StorageDiff[address][slot].After)
		}
	}
	return words
}

var (
	// errorSelector is the selector of the Error(string) revert payload.
	errorSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

	// panicSelector is the selector of the Panic(uint256) revert payload.
	panicSelector = []byte{0x4e, 0x48, 0x7b, 0x71}

	// revertStringArgs describes the arguments of Error(string).
	revertStringArgs = mustArguments("string")

	// revertPanicArgs describes the arguments of Panic(uint256).
	revertPanicArgs = mustArguments("uint256")
)

// mustArguments creates abi.Arguments of the provided types, panicking on invalid type names.
func mustArguments(typeNames ...string) abi.Arguments {
	args := make(abi.Arguments, len(typeNames))
	for i, typeName := range typeNames {
		typ, err := abi.NewType(typeName, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

// decodeRevertData decodes an Error(string) reason or a Panic(uint256) code from revert data. Returns an empty reason
// and nil code when the data is neither.
func decodeRevertData(data []byte) (string, *big.Int) {
	if len(data) < 4 {
		return "", nil
	}
	if bytes.Equal(data[:4], errorSelector) {
		values, err := revertStringArgs.Unpack(data[4:])
		if err == nil {
			return values[0].(string), nil
		}
	} else if bytes.Equal(data[:4], panicSelector) {
		values, err := revertPanicArgs.Unpack(data[4:])
		if err == nil {
			return "", values[0].(*big.Int)
		}
	}
	return "", nil
}

// encodeRevertString encodes a revert reason as an Error(string) payload.
func encodeRevertString(reason string) []byte {
	data, err := revertStringArgs.Pack(reason)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, errorSelector...), data...)
}

// panicCodeDescription describes a Solidity panic code.
func panicCodeDescription(code *big.Int) string {
	if !code.IsUint64() {
		return "unknown panic"
	}
	switch code.Uint64() {
	case 0x00:
		return "generic compiler panic"
	case 0x01:
		return "assertion failed"
	case 0x11:
		return "arithmetic underflow or overflow"
	case 0x12:
		return "division or modulo by zero"
	case 0x21:
		return "enum conversion out of bounds"
	case 0x22:
		return "incorrectly encoded storage byte array"
	case 0x31:
		return "pop on empty array"
	case 0x32:
		return "array index out of bounds"
	case 0x41:
		return "memory allocation overflow"
	case 0x51:
		return "call to zero-initialized internal function"
	default:
		return "unknown panic"
	}
}
