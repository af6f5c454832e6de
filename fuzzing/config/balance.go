package config

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Balance describes an amount of wei. It is serialized as a decimal string and accepts decimal (with an optional
// exponent, e.g. "1e18") or hexadecimal input.
type Balance struct {
	big.Int
}

// NewBalance creates a Balance of the provided amount of wei.
func NewBalance(wei *big.Int) *Balance {
	b := &Balance{}
	b.Set(wei)
	return b
}

// ParseBalance parses a decimal or hexadecimal amount of wei. An empty string is zero. Decimal amounts with a
// fractional part are truncated.
func ParseBalance(s string) (*Balance, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NewBalance(big.NewInt(0)), nil
	}

	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "0x") {
		value, ok := new(big.Int).SetString(lower[2:], 16)
		if !ok {
			return nil, errors.Errorf("invalid hexadecimal balance %q", s)
		}
		return NewBalance(value), nil
	}

	value, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid balance %q", s)
	}
	if value.IsNegative() {
		return nil, errors.Errorf("balance %q cannot be negative", s)
	}
	return NewBalance(value.BigInt()), nil
}

// MarshalJSON serializes the balance as a decimal string.
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON parses a balance from a JSON string.
func (b *Balance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.WithStack(err)
	}
	parsed, err := ParseBalance(s)
	if err != nil {
		return err
	}
	b.Set(&parsed.Int)
	return nil
}
