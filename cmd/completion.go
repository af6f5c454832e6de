package cmd

import (
	"fmt"

	"github.com/crytic/invfuzz/cmd/exitcodes"
	"github.com/spf13/cobra"
)

// supportedShells lists the shells completion scripts can be generated for.
var supportedShells = []string{"bash", "zsh", "fish", "powershell"}

// completionCmd represents the completion command
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate the shell completion script for the specified shell",
	Long: `To load completions:

Bash:

  $ source <(%[1]s completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ %[1]s completion bash > /etc/bash_completion.d/%[1]s
  # macOS:
  $ %[1]s completion bash > $(brew --prefix)/etc/bash_completion.d/%[1]s

Zsh:

  $ %[1]s completion zsh > "${fpath[1]}/_%[1]s"

Fish:

  $ %[1]s completion fish > ~/.config/fish/completions/%[1]s.fish

PowerShell:

  PS> %[1]s completion powershell | Out-String | Invoke-Expression`,
	ValidArgs:     supportedShells,
	Args:          cmdValidateCompletionArgs,
	RunE:          cmdRunCompletion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	completionCmd.Long = fmt.Sprintf(completionCmd.Long, rootCmd.Name())
	rootCmd.AddCommand(completionCmd)
}

// cmdValidateCompletionArgs makes sure exactly one supported shell is provided.
func cmdValidateCompletionArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs)(cmd, args); err != nil {
		err = fmt.Errorf("completion requires exactly one shell argument (options: %v)", supportedShells)
		cmdLogger.Error("Failed to validate args to the completion command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeInvalidArguments)
	}
	return nil
}

// cmdRunCompletion writes the completion script of the requested shell to stdout.
func cmdRunCompletion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	switch args[0] {
	case "bash":
		return cmd.Root().GenBashCompletionV2(out, true)
	case "zsh":
		return cmd.Root().GenZshCompletion(out)
	case "fish":
		return cmd.Root().GenFishCompletion(out, true)
	default:
		return cmd.Root().GenPowerShellCompletionWithDesc(out)
	}
}
