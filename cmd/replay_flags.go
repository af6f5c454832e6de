package cmd

import (
	"fmt"

	"github.com/crytic/invfuzz/fuzzing/config"
	"github.com/spf13/cobra"
)

// addReplayFlags adds the various flags for the replay command
func addReplayFlags() error {
	defaultConfig := config.GetDefaultProjectConfig()

	// Prevent alphabetical sorting of usage message
	replayCmd.Flags().SortFlags = false

	// Config file
	replayCmd.Flags().String("config", "", "path to config file")

	// Artifacts directory
	replayCmd.Flags().String("artifacts-dir", "",
		fmt.Sprintf("directory holding the compiled contracts (unless a config file is provided, default is %q)", defaultConfig.ArtifactsDirectory))

	// Corpus directory
	replayCmd.Flags().String("corpus-dir", "",
		fmt.Sprintf("directory path for persisted failures (unless a config file is provided, default is %q)", defaultConfig.Fuzzing.CorpusDirectory))

	// Fail on revert
	replayCmd.Flags().Bool("fail-on-revert", false,
		fmt.Sprintf("treat a reverting target call as a failure (unless a config file is provided, default is %t)", defaultConfig.Fuzzing.FailOnRevert))

	// No color
	replayCmd.Flags().Bool("no-color", false, "disable colored terminal output")
	return nil
}

// updateProjectConfigWithReplayFlags will update the given projectConfig with any CLI arguments that were provided to
// the replay command
func updateProjectConfigWithReplayFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error

	// Update artifacts directory
	if cmd.Flags().Changed("artifacts-dir") {
		projectConfig.ArtifactsDirectory, err = cmd.Flags().GetString("artifacts-dir")
		if err != nil {
			return err
		}
	}

	// Update corpus directory
	if cmd.Flags().Changed("corpus-dir") {
		projectConfig.Fuzzing.CorpusDirectory, err = cmd.Flags().GetString("corpus-dir")
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

	// Update color output
	if cmd.Flags().Changed("no-color") {
		projectConfig.Logging.NoColor, err = cmd.Flags().GetBool("no-color")
		if err != nil {
			return err
		}
	}
	return nil
}
