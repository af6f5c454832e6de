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

// replayCmd represents the command provider for replaying persisted failures
var replayCmd = &cobra.Command{
	Use:   "replay [Contract.invariant...]",
	Short: "Replays the failures persisted in the corpus",
	Long: "Replays the persisted failures of the provided tests, or of every test if none are provided, against " +
		"freshly set up test contracts. Nothing is generated and the corpus is left untouched",
	Args:              cmdValidateReplayArgs,
	ValidArgsFunction: cmdValidReplayArgs,
	RunE:              cmdRunReplay,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	// Add all the flags allowed for the replay command
	err := addReplayFlags()
	if err != nil {
		cmdLogger.Panic("Failed to initialize the replay command", err)
	}

	// Add the replay command and its associated flags to the root command
	rootCmd.AddCommand(replayCmd)
}

// cmdValidateReplayArgs makes sure every positional argument names a test.
func cmdValidateReplayArgs(cmd *cobra.Command, args []string) error {
	if _, err := parseTestIDArgs(args); err != nil {
		cmdLogger.Error("Failed to validate args to the replay command", err)
		return err
	}
	return nil
}

// cmdRunReplay executes the CLI replay command.
func cmdRunReplay(cmd *cobra.Command, args []string) error {
	testIDs, err := parseTestIDArgs(args)
	if err != nil {
		return err
	}

	projectConfig, configPath, err := loadProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return err
	}
	err = updateProjectConfigWithReplayFlags(cmd, projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeInvalidArguments)
	}
	err = enterProjectDirectory(configPath)
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return err
	}

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
	results, err := fuzzer.ReplayCorpus(testIDs...)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeFuzzerError)
	}

	return replayExitError(results)
}

// replayExitError summarizes the replayed entries and maps them to the exit code of the command: a harness fault
// outranks a reproduced failure.
func replayExitError(results []*fuzzing.ReplayResult) error {
	var reproduced, fixed, stale, errored int
	for _, result := range results {
		switch {
		case result.Err != nil:
			errored++
		case result.Stale:
			stale++
		case result.Reproduced():
			reproduced++
		default:
			fixed++
		}
	}
	cmdLogger.Info("Replayed ", colors.Bold(len(results)), " persisted failure(s): ",
		fmt.Sprintf("%d reproduced, %d fixed, %d stale, %d errored", reproduced, fixed, stale, errored))

	if errored > 0 {
		return exitcodes.NewErrorWithExitCode(nil, exitcodes.ExitCodeFuzzerError)
	}
	if reproduced > 0 {
		return exitcodes.NewErrorWithExitCode(nil, exitcodes.ExitCodeTestFailed)
	}
	return nil
}

// cmdValidReplayArgs completes the tests which have a persisted failure in the default corpus directory, along with
// the unused flags.
func cmdValidReplayArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	completions, directive := cmdValidFlags(cmd, args, toComplete)
	corpusDirectory := config.GetDefaultProjectConfig().Fuzzing.CorpusDirectory
	if cmd.Flags().Changed("corpus-dir") {
		corpusDirectory, _ = cmd.Flags().GetString("corpus-dir")
	}
	return append(replayTestIDs(corpusDirectory), completions...), directive
}

// replayTestIDs returns the names of the tests with a persisted failure in the corpus directory.
func replayTestIDs(corpusDirectory string) []string {
	if _, err := os.Stat(corpusDirectory); err != nil {
		return nil
	}
	store, err := corpus.NewStore(corpusDirectory)
	if err != nil {
		return nil
	}
	entries, err := store.Entries()
	if err != nil {
		return nil
	}
	testIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		testIDs = append(testIDs, entry.TestID.String())
	}
	return testIDs
}
