package cmd

import (
	"fmt"

	"github.com/crytic/invfuzz/version"
	"github.com/spf13/cobra"
)

// versionCmd represents the version command that displays build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and build information",
	Long: `Print detailed version and build information for invfuzz.

This includes the semantic version, git commit hash, build timestamp,
and Go version used to compile the binary.`,
	Args:              cmdValidateNoArgs,
	ValidArgsFunction: cmdValidFlags,
	RunE:              cmdRunVersion,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	versionCmd.Flags().Bool("short", false, "print the version on a single line")
	rootCmd.AddCommand(versionCmd)
}

// cmdRunVersion executes the version command.
func cmdRunVersion(cmd *cobra.Command, args []string) error {
	short, err := cmd.Flags().GetBool("short")
	if err != nil {
		return err
	}

	info := version.GetInfo()
	if _, err := info.Semver(); err != nil {
		cmdLogger.Warn("The build version ", info.Version, " is not a semantic version")
	}
	if short {
		fmt.Fprintln(cmd.OutOrStdout(), info.Short())
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), info.String())
	return nil
}
