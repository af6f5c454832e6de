package valuegeneration

import (
	"math/big"
	"reflect"

	"github.com/crytic/invfuzz/utils"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
)

// SimplifyCandidates returns values of the provided type which are simpler than the provided value, ordered from
// simplest to least simple: the zero value first, then the value halved towards zero, then the nearest dictionary
// value of smaller magnitude. Composite values are simplified one element at a time. The order is deterministic.
// Returns an empty list if the value cannot be simplified further.
func SimplifyCandidates(t *abi.Type, value any, dict *ValueSet) []any {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		v := AbiValueToInteger(value)
		if v == nil {
			return nil
		}
		candidates := simplifyInteger(t, v, dict)
		res := make([]any, len(candidates))
		for i, c := range candidates {
			res[i] = IntegerToAbiValue(t, c)
		}
		return res
	case abi.BoolTy:
		if b, ok := value.(bool); ok && b {
			return []any{false}
		}
		return nil
	case abi.AddressTy:
		if a, ok := value.(common.Address); ok && a != (common.Address{}) {
			return []any{common.Address{}}
		}
		return nil
	case abi.StringTy:
		s, ok := value.(string)
		if !ok || len(s) == 0 {
			return nil
		}
		res := []any{""}
		if len(s) > 1 {
			res = append(res, s[:len(s)/2])
		}
		return res
	case abi.BytesTy:
		b, ok := value.([]byte)
		if !ok || len(b) == 0 {
			return nil
		}
		res := []any{[]byte{}}
		if len(b) > 1 {
			res = append(res, append([]byte{}, b[:len(b)/2]...))
		}
		return res
	case abi.FixedBytesTy:
		zero := reflect.Zero(t.GetType()).Interface()
		if reflect.DeepEqual(value, zero) {
			return nil
		}
		return []any{zero}
	case abi.SliceTy:
		return simplifySlice(t, value, dict)
	case abi.ArrayTy:
		return simplifyElements(t, value, dict, func(i int) *abi.Type { return t.Elem })
	case abi.TupleTy:
		return simplifyElements(t, value, dict, func(i int) *abi.Type { return t.TupleElems[i] })
	}
	return nil
}

// simplifyInteger returns simpler integer candidates for v within the bounds of the integer type.
func simplifyInteger(t *abi.Type, v *big.Int, dict *ValueSet) []*big.Int {
	if v.Sign() == 0 {
		return nil
	}

	candidates := []*big.Int{big.NewInt(0)}
	half := new(big.Int).Quo(v, big.NewInt(2))
	if half.Sign() != 0 {
		candidates = append(candidates, half)
	}

	// Find the dictionary value with the largest magnitude which is still smaller than that of v.
	if dict != nil {
		min, max := utils.GetIntegerConstraints(t.T == abi.IntTy, t.Size)
		magnitude := new(big.Int).Abs(v)
		var nearest *big.Int
		for _, d := range dict.integers {
			if d.Cmp(min) < 0 || d.Cmp(max) > 0 || d.Sign() == 0 {
				continue
			}
			dMagnitude := new(big.Int).Abs(d)
			if dMagnitude.Cmp(magnitude) >= 0 {
				continue
			}
			if nearest == nil || dMagnitude.Cmp(new(big.Int).Abs(nearest)) > 0 {
				nearest = d
			}
		}
		if nearest != nil && nearest.Cmp(half) != 0 {
			candidates = append(candidates, new(big.Int).Set(nearest))
		}
	}
	return candidates
}

// simplifySlice returns simpler candidates for a dynamic array: the empty array, its first half, then element-wise
// simplifications.
func simplifySlice(t *abi.Type, value any, dict *ValueSet) []any {
	slice := reflect.ValueOf(value)
	if slice.Kind() != reflect.Slice || slice.Len() == 0 {
		return nil
	}

	res := []any{reflect.MakeSlice(t.GetType(), 0, 0).Interface()}
	if slice.Len() > 1 {
		half := reflect.MakeSlice(t.GetType(), slice.Len()/2, slice.Len()/2)
		reflect.Copy(half, slice)
		res = append(res, half.Interface())
	}
	return append(res, simplifyElements(t, value, dict, func(i int) *abi.Type { return t.Elem })...)
}

// simplifyElements returns copies of a composite value (array, slice or tuple) where a single element was replaced
// by one of its own simplification candidates.
func simplifyElements(t *abi.Type, value any, dict *ValueSet, elemType func(i int) *abi.Type) []any {
	composite := reflect.ValueOf(value)
	var count int
	switch composite.Kind() {
	case reflect.Array, reflect.Slice:
		count = composite.Len()
	case reflect.Struct:
		count = composite.NumField()
	default:
		return nil
	}

	res := make([]any, 0)
	for i := 0; i < count; i++ {
		var elem reflect.Value
		if composite.Kind() == reflect.Struct {
			elem = composite.Field(i)
		} else {
			elem = composite.Index(i)
		}

		for _, candidate := range SimplifyCandidates(elemType(i), elem.Interface(), dict) {
			clone := cloneComposite(composite)
			if clone.Kind() == reflect.Struct {
				clone.Field(i).Set(reflect.ValueOf(candidate))
			} else {
				clone.Index(i).Set(reflect.ValueOf(candidate))
			}
			res = append(res, clone.Interface())
		}
	}
	return res
}

// cloneComposite returns a settable shallow copy of an array, slice or struct value.
func cloneComposite(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Slice {
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(clone, v)
		return clone
	}
	clone := reflect.New(v.Type()).Elem()
	clone.Set(v)
	return clone
}
