package contracts

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/crytic/medusa-geth/accounts/abi"
)

// DecodeCustomError resolves revert data against the custom errors declared in the contract's ABI.
// Returns the error definition and its unpacked arguments, or nil outputs if the data matches no declared error.
func (c *Contract) DecodeCustomError(revertData []byte) (*abi.Error, []any) {
	if len(revertData) < 4 {
		return nil, nil
	}
	for name := range c.abi.Errors {
		abiError := c.abi.Errors[name]
		if !bytes.Equal(abiError.ID.Bytes()[:4], revertData[:4]) {
			continue
		}
		args, err := abiError.Inputs.Unpack(revertData[4:])
		if err == nil {
			return &abiError, args
		}
	}
	return nil, nil
}

// FormatCustomError describes a custom error and its arguments as "Name(arg0, arg1)".
func FormatCustomError(abiError *abi.Error, args []any) string {
	values := make([]string, len(args))
	for i, arg := range args {
		values[i] = fmt.Sprintf("%v", arg)
	}
	return fmt.Sprintf("%s(%s)", abiError.Name, strings.Join(values, ", "))
}
