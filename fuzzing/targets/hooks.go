package targets

import (
	"fmt"
	"reflect"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/pkg/errors"
)

// FuzzSelector pairs an address with a set of function selectors, as returned by the targetSelectors and
// excludeSelectors hooks.
type FuzzSelector struct {
	Address   common.Address
	Selectors [][4]byte
}

// FuzzInterface pairs an address with the names of artifacts whose ABI describe the functions reachable at it, as
// returned by the targetInterfaces hook.
type FuzzInterface struct {
	Address   common.Address
	Artifacts []string
}

// FuzzArtifactSelector pairs an artifact name with a set of function selectors, as returned by the
// targetArtifactSelectors hook.
type FuzzArtifactSelector struct {
	Artifact  string
	Selectors [][4]byte
}

// TargetHooks describes the decoded return values of the target hooks declared by a test contract. A hook which is
// not declared leaves its field empty.
type TargetHooks struct {
	TargetContracts         []common.Address
	ExcludeContracts        []common.Address
	TargetSenders           []common.Address
	ExcludeSenders          []common.Address
	TargetSelectors         []FuzzSelector
	ExcludeSelectors        []FuzzSelector
	TargetArtifacts         []string
	ExcludeArtifacts        []string
	TargetArtifactSelectors []FuzzArtifactSelector
	TargetInterfaces        []FuzzInterface
}

// HookFunctionNames lists the names of the target hook functions a test contract may declare.
var HookFunctionNames = []string{
	"targetContracts",
	"excludeContracts",
	"targetSenders",
	"excludeSenders",
	"targetSelectors",
	"excludeSelectors",
	"targetArtifacts",
	"excludeArtifacts",
	"targetArtifactSelectors",
	"targetInterfaces",
}

// HasInclusions indicates whether targetContracts or targetArtifacts restrict the target set to an explicit inclusion
// set. Selector and interface hooks only add the addresses they name and narrow their functions.
func (h *TargetHooks) HasInclusions() bool {
	return len(h.TargetContracts) > 0 || len(h.TargetArtifacts) > 0
}

// HookCaller executes a read-only call against the test contract with the provided calldata.
// Returns the return data, or an error if the call did not complete.
type HookCaller func(data []byte) ([]byte, error)

// DecodeTargetHooks calls every target hook declared in the test contract ABI and decodes its return value.
// Returns the decoded hooks, or an error if a declared hook reverted or returned a value of an unexpected shape.
func DecodeTargetHooks(caller HookCaller, testAbi *abi.ABI) (*TargetHooks, error) {
	hooks := &TargetHooks{}
	var err error
	for _, name := range HookFunctionNames {
		method, declared := testAbi.Methods[name]
		if !declared || len(method.Inputs) != 0 || len(method.Outputs) != 1 {
			continue
		}

		returnData, callErr := caller(method.ID)
		if callErr != nil {
			return nil, errors.Wrapf(callErr, "target hook %v failed", name)
		}
		values, unpackErr := method.Outputs.Unpack(returnData)
		if unpackErr != nil {
			return nil, errors.Wrapf(unpackErr, "could not decode the return value of target hook %v", name)
		}
		value := values[0]

		switch name {
		case "targetContracts":
			hooks.TargetContracts, err = decodeAddresses(value)
		case "excludeContracts":
			hooks.ExcludeContracts, err = decodeAddresses(value)
		case "targetSenders":
			hooks.TargetSenders, err = decodeAddresses(value)
		case "excludeSenders":
			hooks.ExcludeSenders, err = decodeAddresses(value)
		case "targetSelectors":
			hooks.TargetSelectors, err = decodeFuzzSelectors(value)
		case "excludeSelectors":
			hooks.ExcludeSelectors, err = decodeFuzzSelectors(value)
		case "targetArtifacts":
			hooks.TargetArtifacts, err = decodeStrings(value)
		case "excludeArtifacts":
			hooks.ExcludeArtifacts, err = decodeStrings(value)
		case "targetArtifactSelectors":
			hooks.TargetArtifactSelectors, err = decodeFuzzArtifactSelectors(value)
		case "targetInterfaces":
			hooks.TargetInterfaces, err = decodeFuzzInterfaces(value)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "target hook %v returned an unexpected type", name)
		}
	}
	return hooks, nil
}

// decodeAddresses converts an unpacked address[] value.
func decodeAddresses(value any) ([]common.Address, error) {
	addresses, ok := value.([]common.Address)
	if !ok {
		return nil, fmt.Errorf("expected address[], got %T", value)
	}
	return addresses, nil
}

// decodeStrings converts an unpacked string[] value.
func decodeStrings(value any) ([]string, error) {
	strs, ok := value.([]string)
	if !ok {
		return nil, fmt.Errorf("expected string[], got %T", value)
	}
	return strs, nil
}

// tupleFields returns the fields of every element of an unpacked tuple array, verifying each element is a tuple with
// the expected number of fields. Tuple structs are generated at runtime, so fields are read by position.
func tupleFields(value any, fieldCount int) ([][]any, error) {
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected a tuple array, got %T", value)
	}
	elements := make([][]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem := v.Index(i)
		if elem.Kind() != reflect.Struct || elem.NumField() != fieldCount {
			return nil, fmt.Errorf("expected a tuple of %d fields, got %v", fieldCount, elem.Type())
		}
		fields := make([]any, fieldCount)
		for j := 0; j < fieldCount; j++ {
			fields[j] = elem.Field(j).Interface()
		}
		elements[i] = fields
	}
	return elements, nil
}

// decodeFuzzSelectors converts an unpacked (address,bytes4[])[] value.
func decodeFuzzSelectors(value any) ([]FuzzSelector, error) {
	elements, err := tupleFields(value, 2)
	if err != nil {
		return nil, err
	}
	result := make([]FuzzSelector, 0, len(elements))
	for _, fields := range elements {
		address, ok := fields[0].(common.Address)
		selectors, ok2 := fields[1].([][4]byte)
		if !ok || !ok2 {
			return nil, fmt.Errorf("expected (address,bytes4[]), got (%T,%T)", fields[0], fields[1])
		}
		result = append(result, FuzzSelector{Address: address, Selectors: selectors})
	}
	return result, nil
}

// decodeFuzzInterfaces converts an unpacked (address,string[])[] value.
func decodeFuzzInterfaces(value any) ([]FuzzInterface, error) {
	elements, err := tupleFields(value, 2)
	if err != nil {
		return nil, err
	}
	result := make([]FuzzInterface, 0, len(elements))
	for _, fields := range elements {
		address, ok := fields[0].(common.Address)
		artifacts, ok2 := fields[1].([]string)
		if !ok || !ok2 {
			return nil, fmt.Errorf("expected (address,string[]), got (%T,%T)", fields[0], fields[1])
		}
		result = append(result, FuzzInterface{Address: address, Artifacts: artifacts})
	}
	return result, nil
}

// decodeFuzzArtifactSelectors converts an unpacked (string,bytes4[])[] value.
func decodeFuzzArtifactSelectors(value any) ([]FuzzArtifactSelector, error) {
	elements, err := tupleFields(value, 2)
	if err != nil {
		return nil, err
	}
	result := make([]FuzzArtifactSelector, 0, len(elements))
	for _, fields := range elements {
		artifact, ok := fields[0].(string)
		selectors, ok2 := fields[1].([][4]byte)
		if !ok || !ok2 {
			return nil, fmt.Errorf("expected (string,bytes4[]), got (%T,%T)", fields[0], fields[1])
		}
		result = append(result, FuzzArtifactSelector{Artifact: artifact, Selectors: selectors})
	}
	return result, nil
}
