package main

import (
	"fmt"
	"os"

	"github.com/crytic/invfuzz/cmd"
	"github.com/crytic/invfuzz/cmd/exitcodes"
)

func main() {
	// Run our root CLI command, which contains all underlying command logic and will handle parsing/invocation.
	err := cmd.Execute()

	// Obtain the actual error and exit code from the error, if any.
	var exitCode int
	err, exitCode = exitcodes.GetInnerErrorAndExitCode(err)

	// Fuzzer errors and failed tests were already reported by the fuzzer's logger.
	if err != nil && (exitCode == exitcodes.ExitCodeGeneralError || exitCode == exitcodes.ExitCodeInvalidArguments) {
		fmt.Println(err)
	}

	// If we have a non-success exit code, exit with it.
	if exitCode != exitcodes.ExitCodeSuccess {
		os.Exit(exitCode)
	}
}
