package config

import (
	"math/big"

	"github.com/crytic/invfuzz/chain/config"
	"github.com/crytic/invfuzz/fuzzing/targets"
	"github.com/rs/zerolog"
)

// GetDefaultProjectConfig obtains a default configuration for a project.
func GetDefaultProjectConfig() *ProjectConfig {
	// Obtain a default testing chain configuration.
	chainConfig := config.DefaultTestChainConfig()

	// Create a project configuration
	projectConfig := &ProjectConfig{
		Fuzzing: FuzzingConfig{
			Workers:          10,
			Timeout:          0,
			TestLimit:        0,
			Runs:             256,
			Depth:            50,
			MaxRejects:       65536,
			ShrinkLimit:      5000,
			FailOnRevert:     false,
			StopOnFailedTest: false,
			CorpusDirectory:  "corpus",
			SenderAddresses: []string{
				"0x10000",
				"0x20000",
				"0x30000",
			},
			// 2^96 wei, enough for any value transfer a fuzzer would reasonably generate.
			SenderBalance:       NewBalance(new(big.Int).Lsh(big.NewInt(1), 96)),
			DeployerAddress:     "0x30000",
			TargetContracts:     []string{},
			InvariantPrefixes:   []string{"invariant"},
			TargetInterfaceMode: string(targets.InterfaceSelectorsReplace),
			Dictionary: DictionaryConfig{
				BoundaryBias:     0.25,
				DictionaryBias:   0.40,
				MaxSize:          10000,
				MaxDynamicLength: 64,
				MaxArrayLength:   8,
				IncludePushBytes: true,
				IncludeStorage:   true,
				Persist:          true,
			},
			TestChainConfig: *chainConfig,
		},
		Logging: LoggingConfig{
			Level:        zerolog.InfoLevel,
			LogDirectory: "",
			NoColor:      false,
		},
		ArtifactsDirectory: "out",
	}

	// Return the project configuration
	return projectConfig
}
