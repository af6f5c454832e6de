package cmd

import (
	"os"

	"github.com/crytic/invfuzz/cmd/exitcodes"
	"github.com/crytic/invfuzz/logging"
	"github.com/crytic/invfuzz/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// cmdLogger is the logger used by the cmd package to report command line errors before the project's logging
// configuration is known.
var cmdLogger = logging.NewLogger(zerolog.InfoLevel)

var rootCmd = &cobra.Command{
	Use:     "invfuzz",
	Version: version.GetInfo().Short(),
	Short:   "A stateful invariant fuzzer for EVM smart contracts",
	Long: "invfuzz generates sequences of calls against the contracts a test contract deploys, and checks the test " +
		"contract's invariants after every call",
}

func init() {
	cmdLogger.AddWriter(os.Stdout, logging.UNSTRUCTURED, true)

	// Malformed flags are reported with their own exit code.
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeInvalidArguments)
	})
}

// Execute runs the root command, which parses the command line and dispatches to the sub-commands.
func Execute() error {
	return rootCmd.Execute()
}
