// Command adrecon reconciles streamed automation status lines into
// persisted, encrypted ad-operation tables.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/adrecon/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands report their own ExitErrors.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
