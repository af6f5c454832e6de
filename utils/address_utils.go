package utils

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/crytic/medusa-geth/common"
)

// HexStringToAddress converts a hex string (with or without the "0x" prefix) to a common.Address. Returns the parsed
// address, or an error if one occurs during conversion.
func HexStringToAddress(s string) (common.Address, error) {
	// Remove the 0x prefix and decode the hex string into a byte array. Odd-length strings are left-padded.
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return common.Address{}, err
	}
	if len(b) > common.AddressLength {
		return common.Address{}, fmt.Errorf("address %v is longer than %d bytes", s, common.AddressLength)
	}

	// Parse the bytes as an address and return them.
	return common.BytesToAddress(b), nil
}

// HexStringsToAddresses converts hex strings to a list of common.Address. Returns the parsed addresses, or an error
// if any string could not be converted.
func HexStringsToAddresses(addressHexStrings []string) ([]common.Address, error) {
	addresses := make([]common.Address, len(addressHexStrings))
	for i, s := range addressHexStrings {
		address, err := HexStringToAddress(s)
		if err != nil {
			return nil, err
		}
		addresses[i] = address
	}
	return addresses, nil
}
