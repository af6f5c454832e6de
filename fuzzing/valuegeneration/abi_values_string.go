package valuegeneration

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
)

// EncodeABIArgumentsToString encodes ABI packable input values of the provided arguments to a comma separated,
// human readable string, as used in call sequence reproducers.
// Returns the string, or an error if a value does not match its argument type.
func EncodeABIArgumentsToString(inputs abi.Arguments, values []any) (string, error) {
	if len(inputs) != len(values) {
		return "", fmt.Errorf("ABI value string encoding failed, %d arguments were described but %d values were provided", len(inputs), len(values))
	}

	encoded := make([]string, len(inputs))
	for i := range inputs {
		s, err := encodeABIArgumentToString(&inputs[i].Type, values[i])
		if err != nil {
			return "", err
		}
		encoded[i] = s
	}
	return strings.Join(encoded, ", "), nil
}

// encodeABIArgumentToString encodes a single ABI packable value of the provided type to a human readable string.
func encodeABIArgumentToString(inputType *abi.Type, value any) (string, error) {
	switch inputType.T {
	case abi.AddressTy:
		addr, ok := value.(common.Address)
		if !ok {
			return "", fmt.Errorf("could not encode address input as the value provided is not an address type")
		}
		return addr.String(), nil
	case abi.UintTy, abi.IntTy:
		v := AbiValueToInteger(value)
		if v == nil {
			return "", fmt.Errorf("could not encode integer input as the value provided is not an integer type")
		}
		return v.String(), nil
	case abi.BoolTy:
		b, ok := value.(bool)
		if !ok {
			return "", fmt.Errorf("could not encode bool input as the value provided is not a bool type")
		}
		return strconv.FormatBool(b), nil
	case abi.StringTy:
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("could not encode string input as the value provided is not a string type")
		}
		return strconv.Quote(s), nil
	case abi.BytesTy:
		b, ok := value.([]byte)
		if !ok {
			return "", fmt.Errorf("could not encode dynamic-sized bytes input as the value provided is not a byte slice")
		}
		return hexutil.Encode(b), nil
	case abi.FixedBytesTy:
		array := reflect.ValueOf(value)
		if array.Kind() != reflect.Array {
			return "", fmt.Errorf("could not encode fixed-sized bytes input as the value provided is not a byte array")
		}
		b := make([]byte, array.Len())
		for i := range b {
			b[i] = byte(array.Index(i).Uint())
		}
		return hexutil.Encode(b), nil
	case abi.ArrayTy, abi.SliceTy:
		list := reflect.ValueOf(value)
		if list.Kind() != reflect.Array && list.Kind() != reflect.Slice {
			return "", fmt.Errorf("could not encode array input as the value provided is not an array or slice")
		}
		elements := make([]string, list.Len())
		for i := 0; i < list.Len(); i++ {
			s, err := encodeABIArgumentToString(inputType.Elem, list.Index(i).Interface())
			if err != nil {
				return "", err
			}
			elements[i] = s
		}
		return "[" + strings.Join(elements, ", ") + "]", nil
	case abi.TupleTy:
		st := reflect.ValueOf(value)
		if st.Kind() != reflect.Struct || st.NumField() != len(inputType.TupleElems) {
			return "", fmt.Errorf("could not encode tuple input as the value provided is not a matching struct")
		}
		fields := make([]string, st.NumField())
		for i := 0; i < st.NumField(); i++ {
			s, err := encodeABIArgumentToString(inputType.TupleElems[i], st.Field(i).Interface())
			if err != nil {
				return "", err
			}
			fields[i] = s
		}
		return "{" + strings.Join(fields, ", ") + "}", nil
	}
	return "", fmt.Errorf("could not encode argument of unsupported type '%s'", inputType.String())
}
