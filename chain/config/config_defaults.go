package config

// DefaultTestChainConfig obtains a default configuration for a chain.TestChain.
// Returns a TestChainConfig populated with default values.
func DefaultTestChainConfig() *TestChainConfig {
	return &TestChainConfig{
		CodeSizeCheckDisabled: true,
		CheatCodeConfig: CheatCodeConfig{
			CheatCodesEnabled: true,
		},
		SkipAccountChecks:     true,
		CallGasLimit:          1_000_000_000,
		InitialBlockNumber:    1,
		InitialBlockTimestamp: 1,
	}
}
