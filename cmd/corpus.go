package cmd

import (
	"fmt"
	"os"

	"github.com/crytic/invfuzz/cmd/exitcodes"
	"github.com/crytic/invfuzz/fuzzing"
	"github.com/crytic/invfuzz/fuzzing/config"
	"github.com/crytic/invfuzz/fuzzing/corpus"
	"github.com/crytic/invfuzz/logging/colors"
	"github.com/spf13/cobra"
)

// corpusCmd represents the corpus command group
var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the fuzzing corpus",
	Long:  `Commands for inspecting and cleaning the persisted failures and dictionaries of the corpus.`,
}

// corpusListCmd represents the corpus list subcommand
var corpusListCmd = &cobra.Command{
	Use:               "list",
	Short:             "List the persisted failures",
	Long:              `Lists every persisted failure of the corpus, along with the tests which have a persisted dictionary.`,
	Args:              cmdValidateNoArgs,
	ValidArgsFunction: cmdValidFlags,
	RunE:              cmdRunCorpusList,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// corpusCleanCmd represents the corpus clean subcommand
var corpusCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove persisted failures and dictionaries from the corpus",
	Long: `Removes every persisted failure and dictionary from the corpus.

With --invalid-only, each persisted failure is replayed against freshly set up test contracts first, and only the
failures which are stale (the targets changed) or no longer reproduce are removed.`,
	Args:              cmdValidateNoArgs,
	ValidArgsFunction: cmdValidFlags,
	RunE:              cmdRunCorpusClean,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	// Add flags
	err := addCorpusFlags()
	if err != nil {
		cmdLogger.Panic("Failed to initialize the corpus command", err)
	}

	// Add subcommands to corpus command
	corpusCmd.AddCommand(corpusListCmd)
	corpusCmd.AddCommand(corpusCleanCmd)

	// Add corpus command to root
	rootCmd.AddCommand(corpusCmd)
}

// loadCorpusProjectConfig reads the project configuration of a corpus subcommand and enters its directory.
// Returns the project configuration, or an error if the corpus directory is not configured or does not exist.
func loadCorpusProjectConfig(cmd *cobra.Command) (*config.ProjectConfig, error) {
	projectConfig, configPath, err := loadProjectConfig(cmd)
	if err != nil {
		return nil, err
	}
	err = updateProjectConfigWithCorpusFlags(cmd, projectConfig)
	if err != nil {
		return nil, exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeInvalidArguments)
	}
	if err = enterProjectDirectory(configPath); err != nil {
		return nil, err
	}

	// Check if corpus directory is configured
	corpusDir := projectConfig.Fuzzing.CorpusDirectory
	if corpusDir == "" {
		return nil, fmt.Errorf("no corpus directory configured in %s", configPath)
	}

	// Check if corpus directory exists
	if _, err := os.Stat(corpusDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("corpus directory does not exist: %s", corpusDir)
	}
	return projectConfig, nil
}

// cmdRunCorpusList executes the corpus list command
func cmdRunCorpusList(cmd *cobra.Command, args []string) error {
	projectConfig, err := loadCorpusProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the corpus list command", err)
		return err
	}

	store, err := corpus.NewStore(projectConfig.Fuzzing.CorpusDirectory)
	if err != nil {
		cmdLogger.Error("Failed to open the corpus", err)
		return err
	}
	entries, err := store.Entries()
	if err != nil {
		cmdLogger.Error("Failed to read the corpus", err)
		return err
	}

	cmdLogger.Info(colors.Bold(len(entries)), " persisted failure(s) in ", colors.Bold(store.Directory()))
	for _, entry := range entries {
		cmdLogger.Info("  ", colors.Bold(entry.TestID.String()), ": ", len(entry.Sequence.Steps), " call(s), ",
			entry.Kind, " (", entry.Reason, "), found ", entry.CreatedAt.Format("2006-01-02 15:04:05"),
			" by run ", entry.RunID.String())
	}

	dictionaries, err := corpus.OpenDictionaryStore(projectConfig.Fuzzing.CorpusDirectory)
	if err != nil {
		cmdLogger.Error("Failed to open the dictionary store", err)
		return err
	}
	defer dictionaries.Close()
	testIDs := dictionaries.TestIDs()
	cmdLogger.Info(colors.Bold(len(testIDs)), " persisted dictionary(ies)")
	for _, testID := range testIDs {
		cmdLogger.Info("  ", colors.Bold(testID.String()))
	}
	return nil
}

// cmdRunCorpusClean executes the corpus clean command
func cmdRunCorpusClean(cmd *cobra.Command, args []string) error {
	projectConfig, err := loadCorpusProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the corpus clean command", err)
		return err
	}
	invalidOnly, err := cmd.Flags().GetBool("invalid-only")
	if err != nil {
		return err
	}

	store, err := corpus.NewStore(projectConfig.Fuzzing.CorpusDirectory)
	if err != nil {
		cmdLogger.Error("Failed to open the corpus", err)
		return err
	}

	if invalidOnly {
		return cleanInvalidEntries(projectConfig, store)
	}

	// Remove everything: the failures, then the dictionaries.
	if err = store.Clean(); err != nil {
		cmdLogger.Error("Failed to remove the persisted failures", err)
		return err
	}
	dictionaries, err := corpus.OpenDictionaryStore(projectConfig.Fuzzing.CorpusDirectory)
	if err != nil {
		cmdLogger.Error("Failed to open the dictionary store", err)
		return err
	}
	defer dictionaries.Close()
	for _, testID := range dictionaries.TestIDs() {
		if err = dictionaries.Delete(testID); err != nil {
			cmdLogger.Error("Failed to remove the persisted dictionary of "+testID.String(), err)
			return err
		}
	}
	cmdLogger.Info("Cleaned the corpus at ", colors.Bold(store.Directory()))
	return nil
}

// cleanInvalidEntries replays every persisted failure and deletes those which are stale or no longer reproduce.
func cleanInvalidEntries(projectConfig *config.ProjectConfig, store *corpus.Store) error {
	closeLogs, err := setupLogging(projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to set up logging", err)
		return err
	}
	defer closeLogs()

	fuzzer, err := fuzzing.NewFuzzer(*projectConfig)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeFuzzerError)
	}
	results, err := fuzzer.ReplayCorpus()
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeFuzzerError)
	}

	removed := 0
	for _, result := range results {
		// Entries we could not replay are kept, as we cannot tell whether they are invalid.
		if result.Err != nil || result.Reproduced() {
			continue
		}
		if err = store.Delete(result.Entry.TestID); err != nil {
			cmdLogger.Error("Failed to remove the persisted failure of "+result.Entry.TestID.String(), err)
			return err
		}
		removed++
	}
	cmdLogger.Info("Removed ", colors.Bold(removed), " of ", colors.Bold(len(results)), " persisted failure(s)")
	return nil
}
