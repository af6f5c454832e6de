package calls

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/crytic/invfuzz/logging/colors"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
)

// CallStep describes a single top-level call submitted to an execution adapter. A CallStep is immutable: accessors
// return copies and modifications produce new steps.
type CallStep struct {
	// from is the sender of the call.
	from common.Address

	// to is the target of the call.
	to common.Address

	// selector is the 4-byte function selector of the call.
	selector [4]byte

	// args is the ABI encoded argument data which follows the selector.
	args []byte

	// value is the amount of wei sent with the call.
	value *big.Int

	// abiValues optionally describes the decoded method and arguments of the call.
	abiValues *CallStepAbiValues
}

// NewCallStep creates a CallStep from raw call data components. A nil value is treated as zero.
func NewCallStep(from common.Address, to common.Address, selector [4]byte, args []byte, value *big.Int) *CallStep {
	if value == nil {
		value = big.NewInt(0)
	}
	return &CallStep{
		from:     from,
		to:       to,
		selector: selector,
		args:     append([]byte{}, args...),
		value:    new(big.Int).Set(value),
	}
}

// NewCallStepWithAbiValues creates a CallStep whose call data is packed from the provided ABI values.
// Returns the step, or an error if the values could not be packed.
func NewCallStepWithAbiValues(from common.Address, to common.Address, value *big.Int, abiValues *CallStepAbiValues) (*CallStep, error) {
	args, err := abiValues.PackArgs()
	if err != nil {
		return nil, err
	}
	var selector [4]byte
	copy(selector[:], abiValues.Method.ID)

	step := NewCallStep(from, to, selector, args, value)
	step.abiValues = abiValues
	return step, nil
}

// From returns the sender of the call.
func (s *CallStep) From() common.Address {
	return s.from
}

// To returns the target of the call.
func (s *CallStep) To() common.Address {
	return s.to
}

// Selector returns the function selector of the call.
func (s *CallStep) Selector() [4]byte {
	return s.selector
}

// Args returns a copy of the encoded argument data.
func (s *CallStep) Args() []byte {
	return append([]byte{}, s.args...)
}

// Data returns the full call data: the selector followed by the encoded arguments.
func (s *CallStep) Data() []byte {
	return append(append(make([]byte, 0, 4+len(s.args)), s.selector[:]...), s.args...)
}

// Value returns a copy of the wei value sent with the call.
func (s *CallStep) Value() *big.Int {
	return new(big.Int).Set(s.value)
}

// AbiValues returns the decoded method and arguments of the call, or nil if they are unknown.
func (s *CallStep) AbiValues() *CallStepAbiValues {
	return s.abiValues
}

// WithFrom returns a copy of the step with a different sender.
func (s *CallStep) WithFrom(from common.Address) *CallStep {
	clone := *s
	clone.from = from
	return &clone
}

// WithValue returns a copy of the step with a different wei value.
func (s *CallStep) WithValue(value *big.Int) *CallStep {
	clone := *s
	clone.value = new(big.Int).Set(value)
	return &clone
}

// WithArgs returns a copy of the step with different encoded argument data. The decoded ABI values are dropped, as
// they no longer describe the call.
func (s *CallStep) WithArgs(args []byte) *CallStep {
	clone := *s
	clone.args = append([]byte{}, args...)
	clone.abiValues = nil
	return &clone
}

// WithAbiValues returns a copy of the step whose argument data is packed from the provided ABI values. The values
// must describe the same method as the step's selector.
// Returns the new step, or an error if one occurs.
func (s *CallStep) WithAbiValues(abiValues *CallStepAbiValues) (*CallStep, error) {
	if abiValues.Method == nil || [4]byte(abiValues.Method.ID) != s.selector {
		return nil, fmt.Errorf("ABI values do not describe the method targeted by the call")
	}
	args, err := abiValues.PackArgs()
	if err != nil {
		return nil, err
	}
	clone := *s
	clone.args = args
	clone.abiValues = abiValues
	return &clone, nil
}

// ResolveAbiValues decodes the step's call data using the provided contract ABI, so it can be reported and simplified.
// Returns an error if the selector is not in the ABI or the arguments do not decode.
func (s *CallStep) ResolveAbiValues(contractAbi *abi.ABI) error {
	method, err := contractAbi.MethodById(s.selector[:])
	if err != nil {
		return err
	}
	inputValues, err := method.Inputs.Unpack(s.args)
	if err != nil {
		return fmt.Errorf("could not decode arguments for method '%v': %v", method.Sig, err)
	}
	s.abiValues = NewCallStepAbiValues(method, inputValues)
	return nil
}

// Equals indicates whether two steps describe the same call (sender, target, call data and value).
func (s *CallStep) Equals(other *CallStep) bool {
	return s.from == other.from && s.to == other.to && s.selector == other.selector &&
		string(s.args) == string(other.args) && s.value.Cmp(other.value) == 0
}

// MethodString returns the call in the form "method(args)", falling back to the raw call data when the ABI values are
// unknown.
func (s *CallStep) MethodString() string {
	if s.abiValues != nil {
		return s.abiValues.String()
	}
	return fmt.Sprintf("%s(%s)", hexutil.Encode(s.selector[:]), hexutil.Encode(s.args))
}

// String returns the reproducer representation of the step: "sender → target.method(args)", followed by the value
// if one is sent.
func (s *CallStep) String() string {
	str := fmt.Sprintf("%s %s %s.%s", s.from.String(), colors.RIGHT_ARROW, s.to.String(), s.MethodString())
	if s.value.Sign() != 0 {
		str += fmt.Sprintf(" (value: %s)", s.value.String())
	}
	return str
}

// callStepMarshal is used as an internal struct to represent JSON serialized data for CallStep.
type callStepMarshal struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Data   hexutil.Bytes  `json:"data"`
	Value  *hexutil.Big   `json:"value"`
	Method string         `json:"method,omitempty"`
}

// MarshalJSON provides custom JSON marshalling for the struct.
// Returns the JSON marshalled data, or an error if one occurs.
func (s *CallStep) MarshalJSON() ([]byte, error) {
	marshalData := callStepMarshal{
		From:  s.from,
		To:    s.to,
		Data:  s.Data(),
		Value: (*hexutil.Big)(s.Value()),
	}
	if s.abiValues != nil {
		marshalData.Method = s.abiValues.Method.Sig
	}
	return json.Marshal(marshalData)
}

// UnmarshalJSON provides custom JSON unmarshalling for the struct. Decoded ABI values are not restored, they can be
// resolved afterwards with ResolveAbiValues.
// Returns an error if one occurs.
func (s *CallStep) UnmarshalJSON(b []byte) error {
	var marshalData callStepMarshal
	err := json.Unmarshal(b, &marshalData)
	if err != nil {
		return err
	}
	if len(marshalData.Data) < 4 {
		return fmt.Errorf("call step data must contain a 4-byte selector, got %d bytes", len(marshalData.Data))
	}

	var value *big.Int
	if marshalData.Value != nil {
		value = marshalData.Value.ToInt()
	}
	*s = *NewCallStep(marshalData.From, marshalData.To, [4]byte(marshalData.Data[:4]), marshalData.Data[4:], value)
	return nil
}
