package cmd

import (
	"fmt"

	"github.com/crytic/invfuzz/fuzzing/config"
	"github.com/spf13/cobra"
)

// addFuzzFlags adds the various flags for the fuzz command
func addFuzzFlags() error {
	defaultConfig := config.GetDefaultProjectConfig()

	// Prevent alphabetical sorting of usage message
	fuzzCmd.Flags().SortFlags = false

	// Config file
	fuzzCmd.Flags().String("config", "", "path to config file")

	// Artifacts directory
	fuzzCmd.Flags().String("artifacts-dir", "",
		fmt.Sprintf("directory holding the compiled contracts (unless a config file is provided, default is %q)", defaultConfig.ArtifactsDirectory))

	// Test contracts
	fuzzCmd.Flags().StringSlice("target-contracts", []string{},
		"test contracts whose invariants are fuzzed (default is every contract declaring an invariant)")

	// Number of workers
	fuzzCmd.Flags().Int("workers", 0,
		fmt.Sprintf("number of fuzzer workers (unless a config file is provided, default is %d)", defaultConfig.Fuzzing.Workers))

	// Timeout
	fuzzCmd.Flags().Int("timeout", 0,
		fmt.Sprintf("number of seconds to run the fuzzer for (unless a config file is provided, default is %d). 0 means that timeout is not enforced", defaultConfig.Fuzzing.Timeout))

	// Test limit
	fuzzCmd.Flags().Uint64("test-limit", 0,
		fmt.Sprintf("number of calls to execute before exiting (unless a config file is provided, default is %d). 0 means that test limit is not enforced", defaultConfig.Fuzzing.TestLimit))

	// Runs
	fuzzCmd.Flags().Int("runs", 0,
		fmt.Sprintf("number of call sequences to execute per invariant (unless a config file is provided, default is %d)", defaultConfig.Fuzzing.Runs))

	// Depth
	fuzzCmd.Flags().Int("depth", 0,
		fmt.Sprintf("number of calls per sequence (unless a config file is provided, default is %d)", defaultConfig.Fuzzing.Depth))

	// Rejects
	fuzzCmd.Flags().Int("max-rejects", 0,
		fmt.Sprintf("number of rejected inputs after which a campaign is inconclusive (unless a config file is provided, default is %d)", defaultConfig.Fuzzing.MaxRejects))

	// Shrink limit
	fuzzCmd.Flags().Int("shrink-limit", 0,
		fmt.Sprintf("maximum replays spent shrinking a failure (unless a config file is provided, default is %d)", defaultConfig.Fuzzing.ShrinkLimit))

	// Seed
	fuzzCmd.Flags().Int64("seed", 0, "seed every campaign is derived from (default is random)")

	// Corpus directory
	fuzzCmd.Flags().String("corpus-dir", "",
		fmt.Sprintf("directory path for persisted failures and dictionaries (unless a config file is provided, default is %q)", defaultConfig.Fuzzing.CorpusDirectory))

	// Senders
	fuzzCmd.Flags().StringSlice("senders", []string{},
		"account address(es) used to send state-changing calls")

	// Deployer address
	fuzzCmd.Flags().String("deployer", "",
		"account address used to deploy test contracts")

	// Fail on revert
	fuzzCmd.Flags().Bool("fail-on-revert", false,
		fmt.Sprintf("treat a reverting target call as a failure (unless a config file is provided, default is %t)", defaultConfig.Fuzzing.FailOnRevert))

	// Stop on failed test
	fuzzCmd.Flags().Bool("stop-on-failed-test", false,
		fmt.Sprintf("stop fuzzing once any invariant fails (unless a config file is provided, default is %t)", defaultConfig.Fuzzing.StopOnFailedTest))

	// No color
	fuzzCmd.Flags().Bool("no-color", false, "disable colored terminal output")
	return nil
}

// updateProjectConfigWithFuzzFlags will update the given projectConfig with any CLI arguments that were provided to the fuzz command
func updateProjectConfigWithFuzzFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error

	// Update artifacts directory
	if cmd.Flags().Changed("artifacts-dir") {
		projectConfig.ArtifactsDirectory, err = cmd.Flags().GetString("artifacts-dir")
		if err != nil {
			return err
		}
	}

	// Update test contracts
	if cmd.Flags().Changed("target-contracts") {
		projectConfig.Fuzzing.TargetContracts, err = cmd.Flags().GetStringSlice("target-contracts")
		if err != nil {
			return err
		}
	}

	// Update number of workers
	if cmd.Flags().Changed("workers") {
		projectConfig.Fuzzing.Workers, err = cmd.Flags().GetInt("workers")
		if err != nil {
			return err
		}
	}

	// Update timeout
	if cmd.Flags().Changed("timeout") {
		projectConfig.Fuzzing.Timeout, err = cmd.Flags().GetInt("timeout")
		if err != nil {
			return err
		}
	}

	// Update test limit
	if cmd.Flags().Changed("test-limit") {
		projectConfig.Fuzzing.TestLimit, err = cmd.Flags().GetUint64("test-limit")
		if err != nil {
			return err
		}
	}

	// Update runs
	if cmd.Flags().Changed("runs") {
		projectConfig.Fuzzing.Runs, err = cmd.Flags().GetInt("runs")
		if err != nil {
			return err
		}
	}

	// Update depth
	if cmd.Flags().Changed("depth") {
		projectConfig.Fuzzing.Depth, err = cmd.Flags().GetInt("depth")
		if err != nil {
			return err
		}
	}

	// Update max rejects
	if cmd.Flags().Changed("max-rejects") {
		projectConfig.Fuzzing.MaxRejects, err = cmd.Flags().GetInt("max-rejects")
		if err != nil {
			return err
		}
	}

	// Update shrink limit
	if cmd.Flags().Changed("shrink-limit") {
		projectConfig.Fuzzing.ShrinkLimit, err = cmd.Flags().GetInt("shrink-limit")
		if err != nil {
			return err
		}
	}

	// Update seed
	if cmd.Flags().Changed("seed") {
		seed, err := cmd.Flags().GetInt64("seed")
		if err != nil {
			return err
		}
		projectConfig.Fuzzing.Seed = &seed
	}

	// Update corpus directory
	if cmd.Flags().Changed("corpus-dir") {
		projectConfig.Fuzzing.CorpusDirectory, err = cmd.Flags().GetString("corpus-dir")
		if err != nil {
			return err
		}
	}

	// Update senders
	if cmd.Flags().Changed("senders") {
		projectConfig.Fuzzing.SenderAddresses, err = cmd.Flags().GetStringSlice("senders")
		if err != nil {
			return err
		}
	}

	// Update deployer address
	if cmd.Flags().Changed("deployer") {
		projectConfig.Fuzzing.DeployerAddress, err = cmd.Flags().GetString("deployer")
		if err != nil {
			return err
		}
	}

	// Update fail on revert
	if cmd.Flags().Changed("fail-on-revert") {
		projectConfig.Fuzzing.FailOnRevert, err = cmd.Flags().GetBool("fail-on-revert")
		if err != nil {
			return err
		}
	}

	// Update stop on failed test
	if cmd.Flags().Changed("stop-on-failed-test") {
		projectConfig.Fuzzing.StopOnFailedTest, err = cmd.Flags().GetBool("stop-on-failed-test")
		if err != nil {
			return err
		}
	}

	// Update color output
	if cmd.Flags().Changed("no-color") {
		projectConfig.Logging.NoColor, err = cmd.Flags().GetBool("no-color")
		if err != nil {
			return err
		}
	}
	return nil
}
