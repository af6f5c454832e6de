package calls

import (
	"fmt"

	"github.com/crytic/invfuzz/fuzzing/valuegeneration"
	"github.com/crytic/medusa-geth/accounts/abi"
)

// CallStepAbiValues describes the call data of a CallStep as an ABI method and its input values. It is used for
// reporting and argument simplification, the encoded call data of the step remains authoritative.
type CallStepAbiValues struct {
	// Method defines the ABI method definition used to pack input argument values.
	Method *abi.Method

	// InputValues represents the ABI packable input argument values to use alongside the Method to produce the call
	// data.
	InputValues []any
}

// NewCallStepAbiValues creates CallStepAbiValues from a method and its input values.
func NewCallStepAbiValues(method *abi.Method, inputValues []any) *CallStepAbiValues {
	return &CallStepAbiValues{
		Method:      method,
		InputValues: inputValues,
	}
}

// Clone creates a copy of the ABI values. Input values are copied by packing and unpacking them.
// Returns the copy, or an error if one occurs.
func (v *CallStepAbiValues) Clone() (*CallStepAbiValues, error) {
	data, err := v.Method.Inputs.Pack(v.InputValues...)
	if err != nil {
		return nil, err
	}
	inputValues, err := v.Method.Inputs.Unpack(data)
	if err != nil {
		return nil, err
	}
	return NewCallStepAbiValues(v.Method, inputValues), nil
}

// PackArgs packs the input values into encoded argument data, excluding the method selector.
// Returns the argument data, or an error if the values do not match the method inputs.
func (v *CallStepAbiValues) PackArgs() ([]byte, error) {
	if v.Method == nil {
		return nil, fmt.Errorf("ABI call data packing failed, method definition was not set")
	}
	if len(v.Method.Inputs) != len(v.InputValues) {
		return nil, fmt.Errorf("ABI call data packing failed, method definition describes %d input arguments, but %d were provided", len(v.Method.Inputs), len(v.InputValues))
	}

	argData, err := v.Method.Inputs.Pack(v.InputValues...)
	if err != nil {
		return nil, fmt.Errorf("ABI call data packing encountered error: %v", err)
	}
	return argData, nil
}

// String returns a string representation of the method call, e.g. "transfer(0x..., 5)".
func (v *CallStepAbiValues) String() string {
	args, err := valuegeneration.EncodeABIArgumentsToString(v.Method.Inputs, v.InputValues)
	if err != nil {
		args = "<unresolved arguments>"
	}
	return fmt.Sprintf("%s(%s)", v.Method.Name, args)
}
