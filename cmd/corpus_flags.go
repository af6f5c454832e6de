package cmd

import (
	"github.com/crytic/invfuzz/fuzzing/config"
	"github.com/spf13/cobra"
)

// addCorpusFlags adds flags for the corpus subcommands
func addCorpusFlags() error {
	for _, subCmd := range []*cobra.Command{corpusListCmd, corpusCleanCmd} {
		// Prevent alphabetical sorting of usage message
		subCmd.Flags().SortFlags = false

		// Config file path
		subCmd.Flags().String("config", "",
			"path to config file (default: invfuzz.json in current directory)")

		// Corpus directory
		subCmd.Flags().String("corpus-dir", "", "directory path for persisted failures and dictionaries")
	}

	corpusCleanCmd.Flags().Bool("invalid-only", false,
		"only remove failures which are stale or no longer reproduce")
	return nil
}

// updateProjectConfigWithCorpusFlags will update the given projectConfig with any CLI arguments that were provided to
// a corpus subcommand
func updateProjectConfigWithCorpusFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error
	if cmd.Flags().Changed("corpus-dir") {
		projectConfig.Fuzzing.CorpusDirectory, err = cmd.Flags().GetString("corpus-dir")
	}
	return err
}
