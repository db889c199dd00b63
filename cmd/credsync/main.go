// Command credsync consolidates staff and guardian accounts into the shared
// credential dataset.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/credsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
