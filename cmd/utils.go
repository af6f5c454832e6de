package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crytic/invfuzz/cmd/exitcodes"
	"github.com/crytic/invfuzz/fuzzing/config"
	"github.com/crytic/invfuzz/fuzzing/corpus"
	"github.com/crytic/invfuzz/logging"
	"github.com/crytic/invfuzz/logging/colors"
	"github.com/crytic/invfuzz/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// loadProjectConfig resolves the project configuration of a command and navigates through the following
// possibilities:
// #1: We will search for either a custom config file (via --config) or the default (invfuzz.json).
// If we find it, read it. If we can't read it, throw an error.
// #2: If a custom file was provided (--config was used), and we can't find the file, throw an error.
// #3: If invfuzz.json can't be found, use the default project configuration.
// Returns the project configuration and the path it was (or would have been) read from.
func loadProjectConfig(cmd *cobra.Command) (*config.ProjectConfig, string, error) {
	// Check to see if --config flag was used and store the value of --config flag
	configFlagUsed := cmd.Flags().Changed("config")
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}

	// If --config was not used, look for `invfuzz.json` in the current work directory
	if !configFlagUsed {
		workingDirectory, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		configPath = filepath.Join(workingDirectory, DefaultProjectConfigFilename)
	}

	// Check to see if the file exists at configPath
	_, existenceError := os.Stat(configPath)

	// Possibility #1: File was found
	if existenceError == nil {
		cmdLogger.Info("Reading the configuration file at: ", colors.Bold(configPath))
		projectConfig, err := config.ReadProjectConfigFromFile(configPath)
		if err != nil {
			return nil, "", err
		}
		return projectConfig, configPath, nil
	}

	// Possibility #2: If the --config flag was used, and we couldn't find the file, we'll throw an error
	if configFlagUsed {
		return nil, "", errors.Wrapf(existenceError, "could not find the config file at %v", configPath)
	}

	// Possibility #3: --config flag was not used and invfuzz.json was not found, so use the default project config
	cmdLogger.Warn(fmt.Sprintf("Unable to find the config file at %v, will use the default project configuration instead", configPath))
	return config.GetDefaultProjectConfig(), configPath, nil
}

// enterProjectDirectory changes the working directory to the directory holding the project configuration, so the
// relative paths it contains resolve against it.
func enterProjectDirectory(configPath string) error {
	return os.Chdir(filepath.Dir(configPath))
}

// setupLogging creates the GlobalLogger from the project's logging configuration: colorized console output, plus a
// structured log file if a log directory is configured.
// Returns a function which closes the log file, or an error if it could not be created.
func setupLogging(projectConfig *config.ProjectConfig) (func(), error) {
	if projectConfig.Logging.NoColor {
		colors.DisableColor()
	}
	logging.GlobalLogger = logging.NewLogger(projectConfig.Logging.Level)
	logging.GlobalLogger.AddWriter(os.Stdout, logging.UNSTRUCTURED, !projectConfig.Logging.NoColor)

	if projectConfig.Logging.LogDirectory == "" {
		return func() {}, nil
	}
	if err := utils.MakeDirectory(projectConfig.Logging.LogDirectory); err != nil {
		return nil, err
	}
	logPath := filepath.Join(projectConfig.Logging.LogDirectory, time.Now().Format("2006-01-02-15-04-05")+".log")
	file, err := os.Create(logPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	logging.GlobalLogger.AddWriter(file, logging.STRUCTURED, false)
	return func() {
		logging.GlobalLogger.RemoveWriter(file, logging.STRUCTURED, false)
		_ = file.Close()
	}, nil
}

// parseTestIDArgs parses positional "Contract.invariant" arguments.
func parseTestIDArgs(args []string) ([]corpus.TestID, error) {
	testIDs := make([]corpus.TestID, 0, len(args))
	for _, arg := range args {
		testID, err := corpus.ParseTestID(arg)
		if err != nil {
			return nil, exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeInvalidArguments)
		}
		testIDs = append(testIDs, testID)
	}
	return testIDs, nil
}

// cmdValidFlags will return the flags which have not been set yet, for dynamic completion of a command
func cmdValidFlags(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	// Gather a list of flags that are available to be used in the current command but have not been used yet
	var unusedFlags []string

	// When adding a flag to a command, include the "--" prefix to indicate that it is a flag and not a positional
	// argument.
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			unusedFlags = append(unusedFlags, "--"+flag.Name)
		}
	})
	return unusedFlags, cobra.ShellCompDirectiveNoFileComp
}

// cmdValidateNoArgs makes sure that there are no positional arguments provided to a command
func cmdValidateNoArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		err = fmt.Errorf("%v does not accept any positional arguments, only flags and their associated values", cmd.Name())
		cmdLogger.Error("Failed to validate args to the "+cmd.Name()+" command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeInvalidArguments)
	}
	return nil
}
