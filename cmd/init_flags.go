package cmd

import (
	"github.com/crytic/invfuzz/fuzzing/config"
	"github.com/spf13/cobra"
)

// addInitFlags adds the various flags for the init command
func addInitFlags() error {
	// Output path for configuration
	initCmd.Flags().String("out", "", "output path for the new project configuration file")

	// Overwrite without prompting
	initCmd.Flags().Bool("force", false, "overwrite an existing configuration file without prompting")

	// Artifacts directory
	initCmd.Flags().String("artifacts-dir", "", "directory holding the compiled contracts")

	// Test contracts
	initCmd.Flags().StringSlice("target-contracts", []string{}, "test contracts whose invariants are fuzzed")
	return nil
}

// updateProjectConfigWithInitFlags will update the given projectConfig with any CLI arguments that were provided to the init command
func updateProjectConfigWithInitFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
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
	return nil
}
