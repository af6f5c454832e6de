package config

import (
	"encoding/json"
	"os"

	"github.com/crytic/invfuzz/chain/config"
	"github.com/crytic/invfuzz/fuzzing/targets"
	"github.com/crytic/invfuzz/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ProjectConfig describes the configuration of a project: how campaigns are fuzzed, how logs are emitted and where
// the compiled artifacts are found.
type ProjectConfig struct {
	// Fuzzing describes the configuration used in fuzzing campaigns.
	Fuzzing FuzzingConfig `json:"fuzzing"`

	// Logging describes the configuration used for logging.
	Logging LoggingConfig `json:"logging"`

	// ArtifactsDirectory describes the directory holding the Foundry build artifacts of the project.
	ArtifactsDirectory string `json:"artifactsDirectory"`
}

// FuzzingConfig describes the configuration options used by the fuzzing.Fuzzer.
type FuzzingConfig struct {
	// Workers describes the amount of invariant campaigns run concurrently.
	Workers int `json:"workers"`

	// Timeout describes a time in seconds for which the fuzzing operation should run. Providing negative or zero value
	// will result in no timeout.
	Timeout int `json:"timeout"`

	// TestLimit describes a threshold for the number of target calls to test, after which the fuzzer stops. A value
	// of zero indicates no limit.
	TestLimit uint64 `json:"testLimit"`

	// Runs describes the amount of call sequences generated per invariant campaign.
	Runs int `json:"runs"`

	// Depth describes the amount of calls in each generated call sequence.
	Depth int `json:"depth"`

	// MaxRejects describes the amount of consecutive assume rejections tolerated while generating a single call,
	// after which the run is abandoned as inconclusive.
	MaxRejects int `json:"maxRejects"`

	// ShrinkLimit describes the maximum amount of replays spent shrinking a failing call sequence.
	ShrinkLimit int `json:"shrinkLimit"`

	// FailOnRevert describes whether a reverting call to a target is a failure.
	FailOnRevert bool `json:"failOnRevert"`

	// StopOnFailedTest describes whether the fuzzer should stop every campaign after the first failure.
	StopOnFailedTest bool `json:"stopOnFailedTest"`

	// Seed describes the seed campaigns derive their run seeds from. If nil, a seed is chosen at random.
	Seed *int64 `json:"seed,omitempty"`

	// CorpusDirectory describes the directory failures and dictionaries are persisted to. If empty, nothing is
	// persisted.
	CorpusDirectory string `json:"corpusDirectory"`

	// SenderAddresses describe a set of account addresses to be used to send state-changing calls in fuzzing
	// campaigns.
	SenderAddresses []string `json:"senderAddresses"`

	// SenderBalance describes the balance each sender and the deployer is funded with.
	SenderBalance *Balance `json:"senderBalance"`

	// DeployerAddress describe the account address to be used to deploy the test contract.
	DeployerAddress string `json:"deployerAddress"`

	// TargetContracts describes the test contracts to fuzz. If empty, every artifact with invariant functions is
	// fuzzed.
	TargetContracts []string `json:"targetContracts"`

	// InvariantPrefixes describes the function name prefixes which mark test contract functions as invariants.
	InvariantPrefixes []string `json:"invariantPrefixes"`

	// TargetInterfaceMode describes how targetInterfaces selectors combine with the functions of the artifact
	// deployed at the same address: "replace" or "union".
	TargetInterfaceMode string `json:"targetInterfaceMode"`

	// IncludeViewFunctions describes whether view and pure functions of targets are called.
	IncludeViewFunctions bool `json:"includeViewFunctions"`

	// Dictionary describes the configuration of argument generation and its value dictionary.
	Dictionary DictionaryConfig `json:"dictionary"`

	// TestChainConfig represents the chain.TestChain config to use when initializing a chain.
	TestChainConfig config.TestChainConfig `json:"chainConfig"`
}

// DictionaryConfig describes the configuration of argument generation and the value dictionary it draws from.
type DictionaryConfig struct {
	// BoundaryBias describes the probability an integer is drawn from the boundary values of its type.
	BoundaryBias float64 `json:"boundaryBias"`

	// DictionaryBias describes the probability a value is drawn from the dictionary.
	DictionaryBias float64 `json:"dictionaryBias"`

	// MaxSize describes the maximum amount of values held by the dictionary.
	MaxSize int `json:"maxSize"`

	// MaxDynamicLength describes the maximum length of randomly generated bytes and strings.
	MaxDynamicLength int `json:"maxDynamicLength"`

	// MaxArrayLength describes the maximum length of randomly generated dynamic arrays.
	MaxArrayLength int `json:"maxArrayLength"`

	// IncludePushBytes describes whether the values pushed by target bytecode seed the dictionary.
	IncludePushBytes bool `json:"includePushBytes"`

	// IncludeStorage describes whether storage slots and values observed during execution are added to the dictionary.
	IncludeStorage bool `json:"includeStorage"`

	// Persist describes whether the dictionary of a completed campaign is persisted and reused by the next one.
	Persist bool `json:"persist"`
}

// LoggingConfig describes the configuration options used for logging
type LoggingConfig struct {
	// Level describes whether logs of certain severity levels (eg info, warning, etc.) will be emitted or discarded.
	// Increasing level values represent more severe logs
	Level zerolog.Level `json:"level"`

	// LogDirectory describes the directory where structured log _files_ will be outputted. If the string is empty, then
	// no log files are kept
	LogDirectory string `json:"logDirectory"`

	// NoColor indicates whether or not log messages should be displayed with colored formatting.
	NoColor bool `json:"noColor"`
}

// ReadProjectConfigFromFile reads a JSON-serialized ProjectConfig from a provided file path. Fields missing from the
// file keep their default values.
// Returns the ProjectConfig if it succeeds, or an error if one occurs.
func ReadProjectConfigFromFile(path string) (*ProjectConfig, error) {
	// Read our project configuration file data
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Parse the project configuration
	projectConfig := GetDefaultProjectConfig()
	err = json.Unmarshal(b, projectConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return projectConfig, nil
}

// WriteToFile writes the ProjectConfig to a provided file path in a JSON-serialized format.
// Returns an error if one occurs.
func (p *ProjectConfig) WriteToFile(path string) error {
	// Serialize the configuration
	b, err := json.MarshalIndent(p, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}

	// Save it to the provided output path and return the result
	err = os.WriteFile(path, b, 0644)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// Validate validates that the ProjectConfig meets certain requirements.
// Returns an error if one occurs.
func (p *ProjectConfig) Validate() error {
	// Verify the worker count is a positive number.
	if p.Fuzzing.Workers <= 0 {
		return errors.New("worker count must be a positive number")
	}

	// Verify the campaign dimensions are positive numbers
	if p.Fuzzing.Runs <= 0 {
		return errors.New("run count must be a positive number")
	}
	if p.Fuzzing.Depth <= 0 {
		return errors.New("depth must be a positive number")
	}
	if p.Fuzzing.MaxRejects <= 0 {
		return errors.New("max rejects must be a positive number")
	}
	if p.Fuzzing.ShrinkLimit < 0 {
		return errors.New("shrink limit cannot be negative")
	}

	// Verify that senders are well-formed addresses
	if len(p.Fuzzing.SenderAddresses) == 0 {
		return errors.New("at least one sender address must be provided")
	}
	if _, err := utils.HexStringsToAddresses(p.Fuzzing.SenderAddresses); err != nil {
		return errors.Wrap(err, "malformed sender address(es)")
	}

	// Verify that deployer is a well-formed address
	if _, err := utils.HexStringToAddress(p.Fuzzing.DeployerAddress); err != nil {
		return errors.Wrap(err, "malformed deployer address")
	}

	// Verify the invariant prefixes and interface mode
	if len(p.Fuzzing.InvariantPrefixes) == 0 {
		return errors.New("at least one invariant prefix must be provided")
	}
	switch targets.InterfaceSelectorMode(p.Fuzzing.TargetInterfaceMode) {
	case targets.InterfaceSelectorsReplace, targets.InterfaceSelectorsUnion:
	default:
		return errors.Errorf("unknown target interface mode %q, expected %q or %q", p.Fuzzing.TargetInterfaceMode,
			targets.InterfaceSelectorsReplace, targets.InterfaceSelectorsUnion)
	}

	// Verify the dictionary probabilities
	dictionary := p.Fuzzing.Dictionary
	if dictionary.BoundaryBias < 0 || dictionary.DictionaryBias < 0 || dictionary.BoundaryBias+dictionary.DictionaryBias > 1 {
		return errors.New("dictionary biases must be non-negative and sum to at most 1")
	}
	if dictionary.MaxSize < 0 || dictionary.MaxDynamicLength < 0 || dictionary.MaxArrayLength < 0 {
		return errors.New("dictionary size limits cannot be negative")
	}

	// Verify the gas limit
	if p.Fuzzing.TestChainConfig.CallGasLimit == 0 {
		return errors.New("call gas limit cannot be zero")
	}

	if p.ArtifactsDirectory == "" {
		return errors.New("an artifacts directory must be provided")
	}
	return nil
}
