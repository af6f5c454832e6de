package cmd

import (
	"os"
	"os/signal"

	"github.com/crytic/invfuzz/cmd/exitcodes"
	"github.com/crytic/invfuzz/fuzzing"
	"github.com/spf13/cobra"
)

// fuzzCmd represents the command provider for fuzzing
var fuzzCmd = &cobra.Command{
	Use:   "fuzz",
	Short: "Fuzzes the invariants of the project's test contracts",
	Long: "Sets up every test contract, generates call sequences against the contracts it targets and checks its " +
		"invariants after every call. Failures are shrunk and persisted to the corpus directory",
	Args:              cmdValidateNoArgs,
	ValidArgsFunction: cmdValidFlags,
	RunE:              cmdRunFuzz,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	// Add all the flags allowed for the fuzz command
	err := addFuzzFlags()
	if err != nil {
		cmdLogger.Panic("Failed to initialize the fuzz command", err)
	}

	// Add the fuzz command and its associated flags to the root command
	rootCmd.AddCommand(fuzzCmd)
}

// cmdRunFuzz executes the CLI fuzz command.
func cmdRunFuzz(cmd *cobra.Command, args []string) error {
	projectConfig, configPath, err := loadProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the fuzz command", err)
		return err
	}

	// Update the project configuration given whatever flags were set using the CLI
	err = updateProjectConfigWithFuzzFlags(cmd, projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to run the fuzz command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeInvalidArguments)
	}

	// Paths in the project configuration are relative to the directory it lives in.
	err = enterProjectDirectory(configPath)
	if err != nil {
		cmdLogger.Error("Failed to run the fuzz command", err)
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

	// Stop our fuzzing on keyboard interrupts
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer signal.Stop(c)
	go func() {
		<-c
		fuzzer.Stop()
	}()

	err = fuzzer.Start()
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeFuzzerError)
	}

	// Harness faults outrank failed tests, as they leave results we cannot trust.
	results := fuzzer.Results()
	if results.Errored() > 0 {
		return exitcodes.NewErrorWithExitCode(nil, exitcodes.ExitCodeFuzzerError)
	}
	if results.Failed() > 0 {
		return exitcodes.NewErrorWithExitCode(nil, exitcodes.ExitCodeTestFailed)
	}
	return nil
}
