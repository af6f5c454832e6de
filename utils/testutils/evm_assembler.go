package testutils

import (
	"fmt"
	"math/big"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/medusa-geth/crypto"
)

// Assembler builds small EVM programs for unit tests. Jump targets and data segments are referenced by label and
// resolved when Bytes is called. Every label reference is encoded as a PUSH2.
type Assembler struct {
	code   []byte
	labels map[string]int
	fixups map[int]string
	data   []dataSegment
}

// dataSegment is a constant blob appended after the code, addressable through its label.
type dataSegment struct {
	label string
	data  []byte
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		code:   make([]byte, 0),
		labels: make(map[string]int),
		fixups: make(map[int]string),
	}
}

// Op appends raw opcodes.
func (a *Assembler) Op(ops ...vm.OpCode) *Assembler {
	for _, op := range ops {
		a.code = append(a.code, byte(op))
	}
	return a
}

// Push appends the smallest PUSHn instruction which holds the provided big-endian bytes. At least one byte is pushed.
func (a *Assembler) Push(value []byte) *Assembler {
	// Trim leading zeros, but always push at least one byte.
	start := 0
	for start < len(value)-1 && value[start] == 0 {
		start++
	}
	value = value[start:]
	if len(value) == 0 {
		value = []byte{0}
	}
	if len(value) > 32 {
		panic(fmt.Sprintf("cannot push %d bytes", len(value)))
	}
	a.code = append(a.code, byte(vm.PUSH1)+byte(len(value)-1))
	a.code = append(a.code, value...)
	return a
}

// PushInt appends a PUSH of a small non-negative integer.
func (a *Assembler) PushInt(v int64) *Assembler {
	return a.Push(big.NewInt(v).Bytes())
}

// PushAddress appends a PUSH20 of the provided address.
func (a *Assembler) PushAddress(address common.Address) *Assembler {
	a.code = append(a.code, byte(vm.PUSH20))
	a.code = append(a.code, address.Bytes()...)
	return a
}

// PushSelector appends a PUSH4 of the function selector for the provided signature, e.g. "increment()".
func (a *Assembler) PushSelector(signature string) *Assembler {
	a.code = append(a.code, byte(vm.PUSH4))
	a.code = append(a.code, Selector(signature)...)
	return a
}

// PushLabel appends a PUSH2 of a label's offset, resolved when Bytes is called.
func (a *Assembler) PushLabel(label string) *Assembler {
	a.code = append(a.code, byte(vm.PUSH2))
	a.fixups[len(a.code)] = label
	a.code = append(a.code, 0, 0)
	return a
}

// Label defines a jump destination at the current position and emits a JUMPDEST.
func (a *Assembler) Label(label string) *Assembler {
	if _, exists := a.labels[label]; exists {
		panic("duplicate label " + label)
	}
	a.labels[label] = len(a.code)
	return a.Op(vm.JUMPDEST)
}

// Data registers a constant data segment addressable by label. Segments are placed after the code.
func (a *Assembler) Data(label string, data []byte) *Assembler {
	a.data = append(a.data, dataSegment{label: label, data: data})
	return a
}

// Dispatch appends a selector dispatcher which jumps to the label named after each signature when the call data
// selector matches, or reverts with empty data otherwise.
func (a *Assembler) Dispatch(signatures ...string) *Assembler {
	a.PushInt(0).Op(vm.CALLDATALOAD).PushInt(0xe0).Op(vm.SHR)
	for _, signature := range signatures {
		a.Op(vm.DUP1).PushSelector(signature).Op(vm.EQ).PushLabel(signature).Op(vm.JUMPI)
	}
	return a.Revert()
}

// Revert appends a revert with empty return data.
func (a *Assembler) Revert() *Assembler {
	return a.PushInt(0).Op(vm.DUP1, vm.REVERT)
}

// ReturnWord appends code which returns the value on top of the stack as a single 32-byte word.
func (a *Assembler) ReturnWord() *Assembler {
	return a.PushInt(0).Op(vm.MSTORE).PushInt(32).PushInt(0).Op(vm.RETURN)
}

// ReturnData appends code which returns the data segment with the given label.
func (a *Assembler) ReturnData(label string, length int) *Assembler {
	a.PushInt(int64(length)).PushLabel(label).PushInt(0).Op(vm.CODECOPY)
	return a.PushInt(int64(length)).PushInt(0).Op(vm.RETURN)
}

// Bytes resolves label references and returns the assembled runtime bytecode.
func (a *Assembler) Bytes() []byte {
	code := append([]byte{}, a.code...)
	labels := make(map[string]int, len(a.labels)+len(a.data))
	for label, offset := range a.labels {
		labels[label] = offset
	}
	for _, segment := range a.data {
		labels[segment.label] = len(code)
		code = append(code, segment.data...)
	}
	for position, label := range a.fixups {
		offset, ok := labels[label]
		if !ok {
			panic("undefined label " + label)
		}
		code[position] = byte(offset >> 8)
		code[position+1] = byte(offset)
	}
	return code
}

// Selector returns the 4-byte function selector for a signature.
func Selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// DeploymentBytecode wraps runtime bytecode in init code which copies it to memory and returns it.
func DeploymentBytecode(runtime []byte) []byte {
	const initCodeLength = 13
	init := []byte{
		byte(vm.PUSH2), byte(len(runtime) >> 8), byte(len(runtime)),
		byte(vm.DUP1),
		byte(vm.PUSH2), 0, initCodeLength,
		byte(vm.PUSH1), 0,
		byte(vm.CODECOPY),
		byte(vm.PUSH1), 0,
		byte(vm.RETURN),
	}
	return append(init, runtime...)
}

// EncodeAddressArray ABI-encodes an address[] return value.
func EncodeAddressArray(addresses ...common.Address) []byte {
	out := make([]byte, 0, 64+32*len(addresses))
	out = append(out, common.LeftPadBytes(big.NewInt(32).Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(big.NewInt(int64(len(addresses))).Bytes(), 32)...)
	for _, address := range addresses {
		out = append(out, common.LeftPadBytes(address.Bytes(), 32)...)
	}
	return out
}
