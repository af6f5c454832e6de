package utils

import (
	"encoding/json"

	"github.com/crytic/medusa-geth/params"
)

// CopyChainConfig takes a chain config object and creates a copy.
// Returns the copy of the chain config, or an error if one occurred.
func CopyChainConfig(config *params.ChainConfig) (*params.ChainConfig, error) {
	// Encode the chain config. Fork times are pointers, so a shallow copy would share them across chains.
	data, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}

	// Decode a new chain config from the encoded data.
	var chainConfig *params.ChainConfig
	err = json.Unmarshal(data, &chainConfig)
	if err != nil {
		return nil, err
	}
	return chainConfig, nil
}
